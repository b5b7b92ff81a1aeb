// Copyright 2025 CruxStack
// SPDX-License-Identifier: MIT

package ghapp

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/google/go-github/v75/github"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jonboulle/clockwork"

	"github.com/cruxstack/platform-api/internal/shared"
)

// Config configures the GitHub App credentials.
type Config struct {
	// AppID is the JWT issuer (numeric app id or client id).
	AppID string

	// PrivateKey is the PEM (or base64 DER) App private key.
	PrivateKey []byte

	// Org is the organization the App is installed on.
	Org string

	// InstallationID pins the installation. When zero, the installation
	// for Org is looked up with the App JWT.
	InstallationID int64

	// BaseURL is the GitHub REST base URL. Defaults to api.github.com.
	BaseURL string

	// HTTPClient overrides the client used for App-authenticated calls.
	HTTPClient *http.Client

	// Clock overrides the wall clock.
	Clock clockwork.Clock
}

// appClient performs the calls authenticated with the App JWT itself.
type appClient struct {
	baseURL        *url.URL
	httpClient     *http.Client
	org            string
	installationID int64

	// installationIDs caches installation lookups by owner.
	installationIDs *lru.TwoQueueCache[string, int64]
}

// NewTokenCache builds the Signer and the App client and wires them into a
// TokenCache.
func NewTokenCache(cfg Config) (*TokenCache, error) {
	key, err := ParsePrivateKey(cfg.PrivateKey)
	if err != nil {
		return nil, err
	}
	signer, err := NewSigner(cfg.AppID, key)
	if err != nil {
		return nil, err
	}
	ac, err := newAppClient(cfg)
	if err != nil {
		return nil, err
	}
	return newTokenCache(signer, ac.exchange, cfg.Clock), nil
}

func newAppClient(cfg Config) (*appClient, error) {
	if cfg.Org == "" && cfg.InstallationID == 0 {
		return nil, fmt.Errorf("%w: org or installation id is required", shared.ErrConfiguration)
	}
	base, err := parseBaseURL(cfg.BaseURL)
	if err != nil {
		return nil, err
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: shared.DefaultExternalCallTimeout}
	}
	ids, err := lru.New2Q[string, int64](shared.DefaultCacheSize)
	if err != nil {
		return nil, err
	}
	return &appClient{
		baseURL:         base,
		httpClient:      hc,
		org:             cfg.Org,
		installationID:  cfg.InstallationID,
		installationIDs: ids,
	}, nil
}

// client returns a go-github client authenticated with the App JWT.
func (a *appClient) client(jwt string) *github.Client {
	c := github.NewClient(a.httpClient).WithAuthToken(jwt)
	c.BaseURL = a.baseURL
	c.UserAgent = shared.DefaultUserAgent
	return c
}

// exchange creates an installation access token.
func (a *appClient) exchange(ctx context.Context, jwt string) (string, time.Time, error) {
	id, err := a.lookupInstall(ctx, jwt)
	if err != nil {
		return "", time.Time{}, err
	}

	tok, _, err := a.client(jwt).Apps.CreateInstallationToken(ctx, id, nil)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("%w: creating token for installation %d: %w", shared.ErrAuthentication, id, err)
	}
	return tok.GetToken(), tok.GetExpiresAt().Time, nil
}

// lookupInstall returns the configured installation id or finds the one for
// the organization.
func (a *appClient) lookupInstall(ctx context.Context, jwt string) (int64, error) {
	if a.installationID != 0 {
		return a.installationID, nil
	}
	if v, ok := a.installationIDs.Get(a.org); ok {
		return v, nil
	}

	install, _, err := a.client(jwt).Apps.FindOrganizationInstallation(ctx, a.org)
	if err != nil {
		return 0, fmt.Errorf("%w: no installation found for %q: %w", shared.ErrAuthentication, a.org, err)
	}
	id := install.GetID()
	a.installationIDs.Add(a.org, id)
	clog.InfoContextf(ctx, "found installation %d for %s", id, a.org)
	return id, nil
}

func parseBaseURL(raw string) (*url.URL, error) {
	if raw == "" {
		raw = "https://api.github.com/"
	}
	if !strings.HasSuffix(raw, "/") {
		raw += "/"
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid GitHub API URL %q: %w", shared.ErrConfiguration, raw, err)
	}
	return u, nil
}
