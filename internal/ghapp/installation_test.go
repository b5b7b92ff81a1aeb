// Copyright 2025 CruxStack
// SPDX-License-Identifier: MIT

package ghapp

import (
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chainguard-dev/clog/slogtest"
	jwt "github.com/golang-jwt/jwt/v4"
	"github.com/jonboulle/clockwork"

	"github.com/cruxstack/platform-api/internal/shared"
)

// fakeGitHub serves the App endpoints used by the token cache and a repo
// endpoint used to check the installation token is forwarded.
type fakeGitHub struct {
	t         *testing.T
	publicKey any
	expiresAt time.Time
	// rejecting servers expect invalid JWTs and do not fail the test.
	rejecting bool

	lookups   atomic.Int32
	exchanges atomic.Int32
	lastAuth  atomic.Value
}

func (f *fakeGitHub) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /orgs/acme/installation", func(w http.ResponseWriter, r *http.Request) {
		f.lookups.Add(1)
		f.checkAppJWT(w, r)
		json.NewEncoder(w).Encode(map[string]any{"id": 777})
	})
	mux.HandleFunc("POST /app/installations/777/access_tokens", func(w http.ResponseWriter, r *http.Request) {
		f.exchanges.Add(1)
		if !f.checkAppJWT(w, r) {
			return
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{
			"token":      "ghs_installation",
			"expires_at": f.expiresAt.Format(time.RFC3339),
		})
	})
	mux.HandleFunc("GET /repos/acme/my-app", func(w http.ResponseWriter, r *http.Request) {
		f.lastAuth.Store(r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(map[string]any{"name": "my-app"})
	})
	return mux
}

func (f *fakeGitHub) checkAppJWT(w http.ResponseWriter, r *http.Request) bool {
	raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	claims := &jwt.RegisteredClaims{}
	if _, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return f.publicKey, nil
	}); err != nil {
		if !f.rejecting {
			f.t.Errorf("invalid app jwt: %v", err)
		}
		http.Error(w, `{"message":"A JSON web token could not be decoded"}`, http.StatusUnauthorized)
		return false
	}
	if claims.Issuer != "12345" {
		f.t.Errorf("iss = %q, want %q", claims.Issuer, "12345")
	}
	return true
}

func TestNewTokenCache_LookupAndExchange(t *testing.T) {
	ctx := slogtest.Context(t)
	key := testKey(t)
	pemKey := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})

	now := time.Now()
	gh := &fakeGitHub{t: t, publicKey: &key.PublicKey, expiresAt: now.Add(time.Hour)}
	srv := httptest.NewServer(gh.handler())
	defer srv.Close()

	cache, err := NewTokenCache(Config{
		AppID:      "12345",
		PrivateKey: pemKey,
		Org:        "acme",
		BaseURL:    srv.URL,
		Clock:      clockwork.NewFakeClockAt(now),
	})
	if err != nil {
		t.Fatalf("NewTokenCache() error = %v", err)
	}

	for range 3 {
		tok, err := cache.Token(ctx)
		if err != nil {
			t.Fatalf("Token() error = %v", err)
		}
		if tok != "ghs_installation" {
			t.Errorf("Token() = %q, want %q", tok, "ghs_installation")
		}
	}
	if got := gh.lookups.Load(); got != 1 {
		t.Errorf("installation lookups = %d, want 1", got)
	}
	if got := gh.exchanges.Load(); got != 1 {
		t.Errorf("exchanges = %d, want 1", got)
	}

	client, err := NewInstallationClient(srv.URL, cache)
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := client.Repositories.Get(ctx, "acme", "my-app"); err != nil {
		t.Fatalf("Repositories.Get() error = %v", err)
	}
	if got := gh.lastAuth.Load(); got != "Bearer ghs_installation" {
		t.Errorf("Authorization = %v, want %q", got, "Bearer ghs_installation")
	}
}

func TestNewTokenCache_PinnedInstallationSkipsLookup(t *testing.T) {
	ctx := slogtest.Context(t)
	key := testKey(t)
	pemKey := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})

	gh := &fakeGitHub{t: t, publicKey: &key.PublicKey, expiresAt: time.Now().Add(time.Hour)}
	srv := httptest.NewServer(gh.handler())
	defer srv.Close()

	cache, err := NewTokenCache(Config{
		AppID:          "12345",
		PrivateKey:     pemKey,
		InstallationID: 777,
		BaseURL:        srv.URL + "/",
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := cache.Token(ctx); err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	if got := gh.lookups.Load(); got != 0 {
		t.Errorf("installation lookups = %d, want 0", got)
	}
}

func TestNewTokenCache_ExchangeRejected(t *testing.T) {
	ctx := slogtest.Context(t)
	key := testKey(t)
	other := testKey(t)
	pemKey := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})

	// The server verifies against a different key, so every JWT is rejected.
	gh := &fakeGitHub{t: t, publicKey: &other.PublicKey, rejecting: true}
	srv := httptest.NewServer(gh.handler())
	defer srv.Close()

	cache, err := NewTokenCache(Config{
		AppID:          "12345",
		PrivateKey:     pemKey,
		InstallationID: 777,
		BaseURL:        srv.URL,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := cache.Token(ctx); !errors.Is(err, shared.ErrAuthentication) {
		t.Errorf("Token() error = %v, want ErrAuthentication", err)
	}
}

func TestNewTokenCache_InvalidConfig(t *testing.T) {
	key := testKey(t)
	pemKey := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})

	tests := []struct {
		name    string
		cfg     Config
		wantErr error
	}{
		{name: "bad key", cfg: Config{AppID: "1", PrivateKey: []byte("nope"), Org: "acme"}, wantErr: ErrKeyParse},
		{name: "no app id", cfg: Config{PrivateKey: pemKey, Org: "acme"}, wantErr: shared.ErrConfiguration},
		{name: "no org or installation", cfg: Config{AppID: "1", PrivateKey: pemKey}, wantErr: shared.ErrConfiguration},
		{name: "bad url", cfg: Config{AppID: "1", PrivateKey: pemKey, Org: "acme", BaseURL: "http://[::1"}, wantErr: shared.ErrConfiguration},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewTokenCache(tt.cfg); !errors.Is(err, tt.wantErr) {
				t.Errorf("NewTokenCache() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
