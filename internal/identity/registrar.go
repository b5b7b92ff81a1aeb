// Copyright 2025 CruxStack
// SPDX-License-Identifier: MIT

// Package identity registers applications in Microsoft Entra ID through the
// Microsoft Graph API and binds them to GitHub Actions workflows with a
// federated credential.
package identity

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/chainguard-dev/clog"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/cruxstack/platform-api/internal/shared"
)

const (
	DefaultAuthority = "https://login.microsoftonline.com"
	DefaultGraphURL  = "https://graph.microsoft.com/v1.0"
	graphScope       = "https://graph.microsoft.com/.default"

	// maxErrorBody bounds how much of a failed Graph response is read.
	maxErrorBody = 64 << 10
)

// Application identifies a registered application.
type Application struct {
	// ObjectID is the Graph object id, used to address the application.
	ObjectID string `json:"id"`
	// ClientID is the application (client) id used by workloads to sign in.
	ClientID string `json:"appId"`
}

// Config holds the Graph credentials of the platform itself.
type Config struct {
	Authority    string
	TenantID     string
	ClientID     string
	ClientSecret string
	GraphURL     string

	// HTTPClient is used for both the token endpoint and Graph calls. It
	// defaults to a client with shared.DefaultExternalCallTimeout.
	HTTPClient *http.Client
}

// Registrar creates application registrations and federated credentials.
type Registrar struct {
	client   *http.Client
	graphURL string
}

// New returns a Registrar authenticated with the OAuth2 client credentials
// grant against {Authority}/{TenantID}/oauth2/v2.0/token.
func New(ctx context.Context, cfg Config) (*Registrar, error) {
	var missing []string
	if cfg.TenantID == "" {
		missing = append(missing, "tenant id")
	}
	if cfg.ClientID == "" {
		missing = append(missing, "client id")
	}
	if cfg.ClientSecret == "" {
		missing = append(missing, "client secret")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: graph %s required", shared.ErrConfiguration, strings.Join(missing, ", "))
	}

	authority := strings.TrimSuffix(cmp.Or(cfg.Authority, DefaultAuthority), "/")
	graphURL := strings.TrimSuffix(cmp.Or(cfg.GraphURL, DefaultGraphURL), "/")
	if _, err := url.Parse(graphURL); err != nil {
		return nil, fmt.Errorf("%w: invalid graph url %q: %w", shared.ErrConfiguration, graphURL, err)
	}

	base := cfg.HTTPClient
	if base == nil {
		base = &http.Client{Timeout: shared.DefaultExternalCallTimeout}
	}

	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     fmt.Sprintf("%s/%s/oauth2/v2.0/token", authority, url.PathEscape(cfg.TenantID)),
		Scopes:       []string{graphScope},
	}

	// The token source outlives the caller's context; it refreshes lazily.
	tokenCtx := context.WithValue(context.WithoutCancel(ctx), oauth2.HTTPClient, base)
	client := cc.Client(tokenCtx)
	client.Timeout = base.Timeout
	if client.Timeout == 0 {
		client.Timeout = shared.DefaultExternalCallTimeout
	}

	return &Registrar{client: client, graphURL: graphURL}, nil
}

// RegisterApplication creates an application registration named
// displayName.
func (r *Registrar) RegisterApplication(ctx context.Context, displayName string) (Application, error) {
	log := clog.FromContext(ctx).With("display_name", displayName)

	var app Application
	if err := r.post(ctx, "/applications", map[string]string{"displayName": displayName}, &app); err != nil {
		log.Warnf("application registration failed: %v", err)
		return Application{}, fmt.Errorf("%w: registering %q: %w", shared.ErrRegistration, displayName, err)
	}
	if app.ObjectID == "" || app.ClientID == "" {
		return Application{}, fmt.Errorf("%w: registering %q: response carried no identifiers", shared.ErrRegistration, displayName)
	}

	log.Infof("registered application %s (client %s)", app.ObjectID, app.ClientID)
	return app, nil
}

// AddFederatedCredential trusts GitHub Actions runs on the main branch of
// org/repo to sign in as the application objectID. Adding the credential
// twice fails since its name is fixed.
func (r *Registrar) AddFederatedCredential(ctx context.Context, objectID, org, repo string) error {
	fc := NewFederatedCredential(org, repo)
	log := clog.FromContext(ctx).With("object_id", objectID, "subject", fc.Subject)

	path := "/applications/" + url.PathEscape(objectID) + "/federatedIdentityCredentials"
	if err := r.post(ctx, path, fc, nil); err != nil {
		log.Warnf("federated credential rejected: %v", err)
		return fmt.Errorf("%w: adding %s to %s: %w", shared.ErrFederatedCredential, fc.Name, objectID, err)
	}

	log.Infof("added federated credential %s", fc.Name)
	return nil
}

// graphError is the error envelope returned by Microsoft Graph.
type graphError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// StatusError is a non-2xx Graph response.
type StatusError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *StatusError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("graph returned %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("graph returned %d (%s): %s", e.StatusCode, e.Code, e.Message)
}

func (r *Registrar) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.graphURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", shared.DefaultUserAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		se := &StatusError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
		var ge graphError
		if json.Unmarshal(raw, &ge) == nil && ge.Error.Message != "" {
			se.Code, se.Message = ge.Error.Code, ge.Error.Message
		}
		return se
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// IsStatus reports whether err carries a Graph response with code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == code
}
