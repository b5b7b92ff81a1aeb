// Copyright 2025 CruxStack
// SPDX-License-Identifier: MIT

package ghapp

import (
	"context"
	"net/http"

	"github.com/google/go-github/v75/github"

	"github.com/cruxstack/platform-api/internal/shared"
)

// TokenSource yields installation tokens.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Transport authenticates each request with the current installation token.
type Transport struct {
	Base   http.RoundTripper
	Tokens TokenSource
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	tok, err := t.Tokens.Token(req.Context())
	if err != nil {
		if req.Body != nil {
			req.Body.Close()
		}
		return nil, err
	}

	r := req.Clone(req.Context())
	r.Header.Set("Authorization", "Bearer "+tok)

	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(r)
}

// NewInstallationClient returns a go-github client whose requests carry the
// installation token from tokens.
func NewInstallationClient(baseURL string, tokens TokenSource) (*github.Client, error) {
	base, err := parseBaseURL(baseURL)
	if err != nil {
		return nil, err
	}
	c := github.NewClient(&http.Client{
		Transport: &Transport{Tokens: tokens},
		Timeout:   shared.DefaultExternalCallTimeout,
	})
	c.BaseURL = base
	c.UserAgent = shared.DefaultUserAgent
	return c, nil
}
