// Copyright 2025 CruxStack
// SPDX-License-Identifier: MIT

// Package platform assembles the API from configuration. Both binaries use
// it so the HTTP server and the Lambda function serve identical routes.
package platform

import (
	"context"
	"fmt"
	"net/http"

	"github.com/chainguard-dev/clog"

	"github.com/cruxstack/platform-api/internal/api"
	"github.com/cruxstack/platform-api/internal/apps"
	"github.com/cruxstack/platform-api/internal/config"
	"github.com/cruxstack/platform-api/internal/ghapp"
	"github.com/cruxstack/platform-api/internal/identity"
	"github.com/cruxstack/platform-api/internal/repos"
	"github.com/cruxstack/platform-api/internal/workflow"
)

// Platform is the assembled API and the resources it holds.
type Platform struct {
	Handler http.Handler
	store   *apps.Store
}

// New builds every component from cfg. Nothing outbound happens until the
// first request except opening the record collection.
func New(ctx context.Context, cfg *config.Config) (*Platform, error) {
	log := clog.FromContext(ctx)

	key, err := cfg.GitHub.PrivateKeyBytes()
	if err != nil {
		return nil, err
	}
	tokens, err := ghapp.NewTokenCache(ghapp.Config{
		AppID:          cfg.GitHub.AppID,
		PrivateKey:     key,
		Org:            cfg.GitHub.Org,
		InstallationID: cfg.GitHub.InstallationID,
		BaseURL:        cfg.GitHub.APIURL,
	})
	if err != nil {
		return nil, fmt.Errorf("github app: %w", err)
	}
	gh, err := ghapp.NewInstallationClient(cfg.GitHub.APIURL, tokens)
	if err != nil {
		return nil, err
	}

	provisioner, err := repos.NewProvisioner(gh, cfg.GitHub.Org, cfg.GitHub.TemplateRepo)
	if err != nil {
		return nil, err
	}
	secrets, err := repos.NewSecretWriter(gh, cfg.GitHub.Org)
	if err != nil {
		return nil, err
	}

	registrar, err := identity.New(ctx, identity.Config{
		Authority:    cfg.Graph.Authority,
		TenantID:     cfg.Azure.TenantID,
		ClientID:     cfg.Graph.ClientID,
		ClientSecret: cfg.Graph.ClientSecret,
		GraphURL:     cfg.Graph.APIURL,
	})
	if err != nil {
		return nil, err
	}

	store, err := apps.Open(ctx, cfg.Storage.URL)
	if err != nil {
		return nil, err
	}

	svc, err := workflow.New(workflow.Config{
		Org:            cfg.GitHub.Org,
		TenantID:       cfg.Azure.TenantID,
		SubscriptionID: cfg.Azure.SubscriptionID,
		Repos:          provisioner,
		Secrets:        secrets,
		Registrar:      registrar,
		Store:          store,
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	log.Infof("platform configured for org %s with template %s", cfg.GitHub.Org, cfg.GitHub.TemplateRepo)
	return &Platform{Handler: api.NewRouter(ctx, svc), store: store}, nil
}

// Close releases the record collection.
func (p *Platform) Close() error {
	return p.store.Close()
}
