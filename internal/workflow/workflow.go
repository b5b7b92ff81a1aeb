// Copyright 2025 CruxStack
// SPDX-License-Identifier: MIT

// Package workflow onboards applications: repository creation, identity
// registration and secret distribution, recording progress per application.
//
// Steps are not compensated. When a step fails after earlier side effects
// succeeded, those effects remain and the step markers in the logs identify
// what must be cleaned up.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/chainguard-dev/clog"
	"github.com/jonboulle/clockwork"

	"github.com/cruxstack/platform-api/internal/apps"
	"github.com/cruxstack/platform-api/internal/identity"
	"github.com/cruxstack/platform-api/internal/shared"
)

// Secret names written into every application repository.
const (
	SecretTenantID       = "AZURE_TENANT_ID"
	SecretSubscriptionID = "AZURE_SUBSCRIPTION_ID"
	SecretClientID       = "AZURE_CLIENT_ID"
)

const (
	StatusCreated      = "created"
	StatusSecretsAdded = "secrets added"

	maxUpdateAttempts = 3
)

type RepositoryProvisioner interface {
	CreateFromTemplate(ctx context.Context, name string) (string, error)
}

type SecretSetter interface {
	SetSecret(ctx context.Context, repo, name, plaintext string) error
}

type Registrar interface {
	RegisterApplication(ctx context.Context, displayName string) (identity.Application, error)
	AddFederatedCredential(ctx context.Context, objectID, org, repo string) error
}

type RecordStore interface {
	Create(ctx context.Context, r *apps.Record) error
	Get(ctx context.Context, key string) (*apps.Record, error)
	Update(ctx context.Context, r *apps.Record) error
	List(ctx context.Context) ([]*apps.Record, error)
	Delete(ctx context.Context, key string) error
}

// Config carries the collaborators and the fixed identifiers of the
// platform's organization, tenant and subscription.
type Config struct {
	Org            string
	TenantID       string
	SubscriptionID string

	Repos     RepositoryProvisioner
	Secrets   SecretSetter
	Registrar Registrar
	Store     RecordStore

	// Clock stamps record creation. Defaults to the real clock.
	Clock clockwork.Clock
}

type Service struct {
	cfg Config
}

func New(cfg Config) (*Service, error) {
	var missing []string
	if cfg.Org == "" {
		missing = append(missing, "org")
	}
	if cfg.TenantID == "" {
		missing = append(missing, "tenant id")
	}
	if cfg.SubscriptionID == "" {
		missing = append(missing, "subscription id")
	}
	if cfg.Repos == nil || cfg.Secrets == nil || cfg.Registrar == nil || cfg.Store == nil {
		missing = append(missing, "collaborators")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: workflow %s required", shared.ErrConfiguration, strings.Join(missing, ", "))
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return &Service{cfg: cfg}, nil
}

type CreateRequest struct {
	AppName string
	// Stack is recorded in the logs only; every application uses the same
	// template.
	Stack string
}

type CreateResult struct {
	RepositoryURL    string
	Status           string
	AzureAppClientID *string
}

type RegisterResult struct {
	AppID          string
	TenantID       string
	SubscriptionID string
	ClientID       string
}

type SecretsRequest struct {
	TenantID       string
	SubscriptionID string
	ClientID       string
}

type SecretsResult struct {
	Status string
}

// Create provisions the application repository and stores a new record.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	key, err := sanitize(req.AppName)
	if err != nil {
		return nil, err
	}
	log := clog.FromContext(ctx).With("app", key)
	log.Infof("creating application (stack %q)", req.Stack)

	log.With("step", "provision_repository").Infof("creating repository")
	url, err := s.cfg.Repos.CreateFromTemplate(ctx, key)
	if err != nil {
		return nil, err
	}

	log.With("step", "store_record", "repository_url", url).Infof("storing record")
	if err := s.cfg.Store.Create(ctx, apps.NewRecord(req.AppName, url, s.cfg.Clock.Now())); err != nil {
		log.Errorf("repository %s created but record not stored: %v", url, err)
		return nil, err
	}

	return &CreateResult{RepositoryURL: url, Status: StatusCreated}, nil
}

// Register creates the identity provider application, trusts the
// repository's main branch and records the identifiers.
func (s *Service) Register(ctx context.Context, appName string) (*RegisterResult, error) {
	key, err := sanitize(appName)
	if err != nil {
		return nil, err
	}
	log := clog.FromContext(ctx).With("app", key)

	if _, err := s.cfg.Store.Get(ctx, key); err != nil {
		return nil, err
	}

	log.With("step", "register_application").Infof("registering application")
	app, err := s.cfg.Registrar.RegisterApplication(ctx, key)
	if err != nil {
		return nil, err
	}

	log = log.With("object_id", app.ObjectID, "client_id", app.ClientID)
	log.With("step", "add_federated_credential").Infof("adding federated credential")
	if err := s.cfg.Registrar.AddFederatedCredential(ctx, app.ObjectID, s.cfg.Org, key); err != nil {
		log.Errorf("application registered without federated credential: %v", err)
		return nil, err
	}

	log.With("step", "record_registration").Infof("recording registration")
	if _, err := s.update(ctx, key, func(r *apps.Record) {
		r.ClientID = app.ClientID
		r.ObjectID = app.ObjectID
		r.TenantID = s.cfg.TenantID
		r.SubscriptionID = s.cfg.SubscriptionID
		r.IsRegistered = true
	}); err != nil {
		log.Errorf("application registered but record not updated: %v", err)
		return nil, err
	}

	return &RegisterResult{
		AppID:          app.ObjectID,
		TenantID:       s.cfg.TenantID,
		SubscriptionID: s.cfg.SubscriptionID,
		ClientID:       app.ClientID,
	}, nil
}

// AddSecrets writes the identifiers as Actions secrets into the application
// repository and marks the record.
func (s *Service) AddSecrets(ctx context.Context, appName string, req SecretsRequest) (*SecretsResult, error) {
	key, err := sanitize(appName)
	if err != nil {
		return nil, err
	}
	secrets := []struct{ name, value string }{
		{SecretTenantID, req.TenantID},
		{SecretSubscriptionID, req.SubscriptionID},
		{SecretClientID, req.ClientID},
	}
	for _, sec := range secrets {
		if strings.TrimSpace(sec.value) == "" {
			return nil, fmt.Errorf("%w: value for %s is required", shared.ErrInvalidRequest, sec.name)
		}
	}
	log := clog.FromContext(ctx).With("app", key)

	if _, err := s.cfg.Store.Get(ctx, key); err != nil {
		return nil, err
	}

	for _, sec := range secrets {
		log.With("step", "set_secret", "secret", sec.name).Infof("writing secret")
		if err := s.cfg.Secrets.SetSecret(ctx, key, sec.name, sec.value); err != nil {
			return nil, err
		}
	}

	log.With("step", "record_secrets").Infof("recording secrets")
	if _, err := s.update(ctx, key, func(r *apps.Record) { r.SecretsAdded = true }); err != nil {
		log.Errorf("secrets written but record not updated: %v", err)
		return nil, err
	}

	return &SecretsResult{Status: StatusSecretsAdded}, nil
}

func (s *Service) Get(ctx context.Context, appName string) (*apps.Record, error) {
	key, err := sanitize(appName)
	if err != nil {
		return nil, err
	}
	return s.cfg.Store.Get(ctx, key)
}

func (s *Service) List(ctx context.Context) ([]*apps.Record, error) {
	return s.cfg.Store.List(ctx)
}

// Delete removes the record only; the repository and the identity
// provider application are left in place.
func (s *Service) Delete(ctx context.Context, appName string) error {
	key, err := sanitize(appName)
	if err != nil {
		return err
	}
	return s.cfg.Store.Delete(ctx, key)
}

// update applies mutate to a fresh read of key and writes it back,
// rereading when another writer won the race.
func (s *Service) update(ctx context.Context, key string, mutate func(*apps.Record)) (*apps.Record, error) {
	var err error
	for attempt := 1; attempt <= maxUpdateAttempts; attempt++ {
		var r *apps.Record
		if r, err = s.cfg.Store.Get(ctx, key); err != nil {
			return nil, err
		}
		mutate(r)
		if err = s.cfg.Store.Update(ctx, r); err == nil {
			return r, nil
		}
		if !errors.Is(err, shared.ErrConcurrencyConflict) {
			return nil, err
		}
		clog.WarnContextf(ctx, "update of %s conflicted (attempt %d/%d)", key, attempt, maxUpdateAttempts)
	}
	return nil, err
}

func sanitize(appName string) (string, error) {
	key := apps.Sanitize(appName)
	if key == "" {
		return "", fmt.Errorf("%w: appName is required", shared.ErrInvalidRequest)
	}
	return key, nil
}
