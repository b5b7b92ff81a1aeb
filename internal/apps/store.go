// Copyright 2025 CruxStack
// SPDX-License-Identifier: MIT

package apps

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/chainguard-dev/clog"
	"gocloud.dev/docstore"
	"gocloud.dev/gcerrors"

	// Collection drivers selectable through STORAGE_URL (mem://, dynamodb://).
	_ "gocloud.dev/docstore/awsdynamodb"
	_ "gocloud.dev/docstore/memdocstore"

	"github.com/cruxstack/platform-api/internal/shared"
)

// Store reads and writes application records in a docstore collection.
type Store struct {
	coll *docstore.Collection
}

// Open opens the collection at url, for example
// "mem://applications/key" or
// "dynamodb://applications?partition_key=partition&sort_key=key".
func Open(ctx context.Context, url string) (*Store, error) {
	if url == "" {
		return nil, fmt.Errorf("%w: storage url is required", shared.ErrConfiguration)
	}
	coll, err := docstore.OpenCollection(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("%w: opening collection %s: %w", shared.ErrConfiguration, url, err)
	}
	return NewStore(coll), nil
}

// NewStore wraps an already opened collection.
func NewStore(coll *docstore.Collection) *Store {
	return &Store{coll: coll}
}

// Close releases the collection.
func (s *Store) Close() error {
	return s.coll.Close()
}

// Create inserts r. A record with the same key yields shared.ErrAlreadyExists.
func (s *Store) Create(ctx context.Context, r *Record) error {
	if r.Key == "" {
		return fmt.Errorf("%w: record key is empty", shared.ErrInvalidRequest)
	}
	r.Partition = Partition
	if err := s.coll.Create(ctx, r); err != nil {
		return classify(err, r.Key)
	}
	clog.DebugContextf(ctx, "stored record %s", r.Key)
	return nil
}

// Get returns the record stored under key, with its current revision.
func (s *Store) Get(ctx context.Context, key string) (*Record, error) {
	r := &Record{Key: key, Partition: Partition}
	if err := s.coll.Get(ctx, r); err != nil {
		return nil, classify(err, key)
	}
	return r, nil
}

// Update replaces the stored record if r still carries the stored revision.
// A stale revision yields shared.ErrConcurrencyConflict and the stored record
// is left untouched. On success r carries the new revision.
func (s *Store) Update(ctx context.Context, r *Record) error {
	if r.DocstoreRevision == nil {
		return fmt.Errorf("%w: record %s was not read before update", shared.ErrInvalidRequest, r.Key)
	}
	r.Partition = Partition
	if err := s.coll.Replace(ctx, r); err != nil {
		return classify(err, r.Key)
	}
	return nil
}

// List returns every record in the partition, in no particular order.
func (s *Store) List(ctx context.Context) ([]*Record, error) {
	iter := s.coll.Query().Where("partition", "=", Partition).Get(ctx)
	defer iter.Stop()

	var out []*Record
	for {
		r := &Record{}
		err := iter.Next(ctx, r)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("listing records: %w", err)
		}
		out = append(out, r)
	}
	return out, nil
}

// Delete removes the record stored under key.
func (s *Store) Delete(ctx context.Context, key string) error {
	r, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := s.coll.Delete(ctx, r); err != nil {
		return classify(err, key)
	}
	clog.InfoContextf(ctx, "deleted record %s", key)
	return nil
}

func classify(err error, key string) error {
	switch gcerrors.Code(err) {
	case gcerrors.NotFound:
		return fmt.Errorf("%w: application %s: %w", shared.ErrNotFound, key, err)
	case gcerrors.AlreadyExists:
		return fmt.Errorf("%w: application %s: %w", shared.ErrAlreadyExists, key, err)
	case gcerrors.FailedPrecondition:
		return fmt.Errorf("%w: application %s changed since it was read: %w", shared.ErrConcurrencyConflict, key, err)
	default:
		return fmt.Errorf("application %s: %w", key, err)
	}
}
