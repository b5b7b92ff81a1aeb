// Copyright 2025 CruxStack
// SPDX-License-Identifier: MIT

package repos

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/chainguard-dev/clog"
	"github.com/google/go-github/v75/github"
	"golang.org/x/crypto/nacl/box"

	"github.com/cruxstack/platform-api/internal/shared"
)

// KeySize is the length of a repository's Curve25519 public key.
const KeySize = 32

// SecretWriter stores GitHub Actions secrets in repositories of one
// organization.
type SecretWriter struct {
	client *github.Client
	org    string
}

// NewSecretWriter returns a SecretWriter for org.
func NewSecretWriter(client *github.Client, org string) (*SecretWriter, error) {
	if client == nil {
		return nil, errors.New("client is required")
	}
	if org == "" {
		return nil, fmt.Errorf("%w: org is required", shared.ErrConfiguration)
	}
	return &SecretWriter{client: client, org: org}, nil
}

// SetSecret encrypts plaintext with the repository's current public key and
// creates or replaces the secret name. The key is fetched on every call
// since each repository has its own and keys rotate.
func (s *SecretWriter) SetSecret(ctx context.Context, repo, name, plaintext string) error {
	log := clog.FromContext(ctx).With("repo", repo, "secret", name)

	pk, _, err := s.client.Actions.GetRepoPublicKey(ctx, s.org, repo)
	if err != nil {
		return fmt.Errorf("%w: fetching public key for %s/%s: %w", shared.ErrSecretUpload, s.org, repo, err)
	}
	if pk.GetKey() == "" || pk.GetKeyID() == "" {
		return fmt.Errorf("%w: repository %s/%s returned no public key", shared.ErrSecretUpload, s.org, repo)
	}

	sealed, err := Encrypt(pk.GetKey(), []byte(plaintext))
	if err != nil {
		return err
	}

	if _, err := s.client.Actions.CreateOrUpdateRepoSecret(ctx, s.org, repo, &github.EncryptedSecret{
		Name:           name,
		KeyID:          pk.GetKeyID(),
		EncryptedValue: sealed,
	}); err != nil {
		log.Warnf("secret upload rejected: %v", err)
		return fmt.Errorf("%w: uploading %s to %s/%s: %w", shared.ErrSecretUpload, name, s.org, repo, err)
	}

	log.Infof("stored secret with key %s", pk.GetKeyID())
	return nil
}

// Encrypt seals plaintext for the base64 encoded Curve25519 public key with
// an anonymous sender and returns the base64 ciphertext.
func Encrypt(publicKey string, plaintext []byte) (string, error) {
	recipient, err := decodeKey(publicKey)
	if err != nil {
		return "", err
	}
	sealed, err := box.SealAnonymous(nil, plaintext, recipient, rand.Reader)
	if err != nil {
		return "", fmt.Errorf("%w: sealing secret: %w", shared.ErrSecretUpload, err)
	}
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a base64 ciphertext produced by Encrypt with the matching
// key pair.
func Decrypt(publicKey, privateKey *[KeySize]byte, ciphertext string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("decoding ciphertext: %w", err)
	}
	out, ok := box.OpenAnonymous(nil, raw, publicKey, privateKey)
	if !ok {
		return nil, errors.New("ciphertext could not be opened")
	}
	return out, nil
}

func decodeKey(publicKey string) (*[KeySize]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(publicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: decoding public key: %w", shared.ErrSecretUpload, err)
	}
	if len(raw) != KeySize {
		return nil, fmt.Errorf("%w: public key is %d bytes, want %d", shared.ErrSecretUpload, len(raw), KeySize)
	}
	var key [KeySize]byte
	copy(key[:], raw)
	return &key, nil
}
