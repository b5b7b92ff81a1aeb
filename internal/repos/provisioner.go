// Copyright 2025 CruxStack
// SPDX-License-Identifier: MIT

// Package repos creates application repositories from a template and writes
// GitHub Actions secrets into them.
package repos

import (
	"context"
	"errors"
	"fmt"

	"github.com/chainguard-dev/clog"
	"github.com/google/go-github/v75/github"

	"github.com/cruxstack/platform-api/internal/shared"
)

const repoDescription = "This is a new repository created from a template"

// Provisioner generates repositories in a fixed organization from a fixed
// template repository.
type Provisioner struct {
	client       *github.Client
	org          string
	templateRepo string
}

// NewProvisioner returns a Provisioner. The client must carry installation
// credentials (see ghapp.NewInstallationClient).
func NewProvisioner(client *github.Client, org, templateRepo string) (*Provisioner, error) {
	if client == nil {
		return nil, errors.New("client is required")
	}
	if org == "" || templateRepo == "" {
		return nil, fmt.Errorf("%w: org and template repository are required", shared.ErrConfiguration)
	}
	return &Provisioner{client: client, org: org, templateRepo: templateRepo}, nil
}

// CreateFromTemplate creates the public repository org/name without copying
// branch history and returns its HTML URL. name must already be sanitized.
//
// The call is not idempotent: a second call with the same name fails with
// shared.ErrProvisioning carrying GitHub's name-collision message.
func (p *Provisioner) CreateFromTemplate(ctx context.Context, name string) (string, error) {
	log := clog.FromContext(ctx).With("repo", name, "template", p.templateRepo)

	repo, _, err := p.client.Repositories.CreateFromTemplate(ctx, p.org, p.templateRepo, &github.TemplateRepoRequest{
		Name:               github.Ptr(name),
		Owner:              github.Ptr(p.org),
		Description:        github.Ptr(repoDescription),
		IncludeAllBranches: github.Ptr(false),
		Private:            github.Ptr(false),
	})
	if err != nil {
		log.Warnf("failed to create repository from template: %v", err)
		return "", fmt.Errorf("%w: creating repository %s/%s from template: %w", shared.ErrProvisioning, p.org, name, err)
	}

	url := repo.GetHTMLURL()
	if url == "" {
		return "", fmt.Errorf("%w: repository %s/%s created without an html_url", shared.ErrProvisioning, p.org, name)
	}
	log.Infof("created repository %s", url)
	return url, nil
}
