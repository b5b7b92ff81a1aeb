// Copyright 2025 CruxStack
// SPDX-License-Identifier: MIT

// Package config loads the platform API configuration from the environment.
//
// Configuration is split into groups (GitHub, Azure, Graph, Storage). A group
// with any required key missing fails the whole load with
// shared.ErrConfiguration so that the process never starts half-configured.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/sethvargo/go-envconfig"

	"github.com/cruxstack/platform-api/internal/shared"
)

// Environment variable names that are read outside of envconfig or referenced
// in error messages.
const (
	EnvGitHubAppPrivateKey     = "GITHUB_APP_PRIVATE_KEY"
	EnvGitHubAppPrivateKeyPath = "GITHUB_APP_PRIVATE_KEY_PATH"
)

// Config is the complete service configuration.
type Config struct {
	Port int `env:"PORT, default=8080"`

	GitHub  GitHub  `env:", prefix=GITHUB_"`
	Azure   Azure   `env:", prefix=AZURE_"`
	Graph   Graph   `env:", prefix=GRAPH_"`
	Storage Storage `env:", prefix=STORAGE_"`
}

// GitHub configures the GitHub App used for repository operations.
type GitHub struct {
	// Org owns both the template and the generated repositories.
	Org string `env:"ORG"`

	// TemplateRepo is the repository name (within Org) used as template.
	TemplateRepo string `env:"TEMPLATE_REPO"`

	// AppID is the GitHub App id (or client id) used as JWT issuer.
	AppID string `env:"APP_ID"`

	// PrivateKeyPath points at the App's PEM private key. Takes precedence
	// over PrivateKey.
	PrivateKeyPath string `env:"APP_PRIVATE_KEY_PATH"`

	// PrivateKey is the inline PEM (or base64 DER) private key.
	PrivateKey string `env:"APP_PRIVATE_KEY"`

	// InstallationID pins the installation; when zero it is looked up for Org.
	InstallationID int64 `env:"APP_INSTALLATION_ID"`

	// APIURL is the GitHub REST base URL.
	APIURL string `env:"API_URL, default=https://api.github.com/"`
}

// Azure identifies where registered applications live.
type Azure struct {
	TenantID       string `env:"TENANT_ID"`
	SubscriptionID string `env:"SUBSCRIPTION_ID"`
}

// Graph configures the Microsoft Graph client-credentials principal.
type Graph struct {
	Authority    string `env:"AUTHORITY, default=https://login.microsoftonline.com"`
	ClientID     string `env:"CLIENT_ID"`
	ClientSecret string `env:"CLIENT_SECRET"`
	APIURL       string `env:"API_URL, default=https://graph.microsoft.com/v1.0"`
}

// Storage selects the application record collection.
type Storage struct {
	// URL is a gocloud.dev docstore collection URL, for example
	// "dynamodb://platform-apps?partition_key=partition&sort_key=key" or
	// "mem://apps/key".
	URL string `env:"URL"`
}

// Load reads the configuration from the process environment.
func Load(ctx context.Context) (*Config, error) {
	return LoadWith(ctx, envconfig.OsLookuper())
}

// LoadWith reads the configuration using the given lookuper and validates
// every required group.
func LoadWith(ctx context.Context, l envconfig.Lookuper) (*Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: l,
	}); err != nil {
		return nil, fmt.Errorf("%w: %w", shared.ErrConfiguration, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every group with missing keys.
func (c *Config) Validate() error {
	var errs []error

	if err := requireGroup("GitHub", map[string]string{
		"GITHUB_ORG":           c.GitHub.Org,
		"GITHUB_TEMPLATE_REPO": c.GitHub.TemplateRepo,
		"GITHUB_APP_ID":        c.GitHub.AppID,
		EnvGitHubAppPrivateKey: c.GitHub.PrivateKey + c.GitHub.PrivateKeyPath,
	}); err != nil {
		errs = append(errs, err)
	}
	if err := requireGroup("Azure", map[string]string{
		"AZURE_TENANT_ID":       c.Azure.TenantID,
		"AZURE_SUBSCRIPTION_ID": c.Azure.SubscriptionID,
	}); err != nil {
		errs = append(errs, err)
	}
	if err := requireGroup("Graph", map[string]string{
		"GRAPH_AUTHORITY":     c.Graph.Authority,
		"GRAPH_CLIENT_ID":     c.Graph.ClientID,
		"GRAPH_CLIENT_SECRET": c.Graph.ClientSecret,
	}); err != nil {
		errs = append(errs, err)
	}
	if err := requireGroup("Storage", map[string]string{
		"STORAGE_URL": c.Storage.URL,
	}); err != nil {
		errs = append(errs, err)
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", shared.ErrConfiguration, errors.Join(errs...))
}

// requireGroup returns an error naming the group and its missing keys.
func requireGroup(group string, values map[string]string) error {
	var missing []string
	for key, v := range values {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	slices.Sort(missing)
	return fmt.Errorf("%s configuration is missing: %s", group, strings.Join(missing, ", "))
}

// PrivateKeyBytes returns the configured private key material, reading
// PrivateKeyPath when set.
func (g GitHub) PrivateKeyBytes() ([]byte, error) {
	if g.PrivateKeyPath != "" {
		b, err := os.ReadFile(g.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("%w: reading %s: %w", shared.ErrConfiguration, EnvGitHubAppPrivateKeyPath, err)
		}
		return b, nil
	}
	if g.PrivateKey == "" {
		return nil, fmt.Errorf("%w: %s is empty", shared.ErrConfiguration, EnvGitHubAppPrivateKey)
	}
	return []byte(g.PrivateKey), nil
}
