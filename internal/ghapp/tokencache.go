// Copyright 2025 CruxStack
// SPDX-License-Identifier: MIT

package ghapp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/singleflight"

	"github.com/cruxstack/platform-api/internal/shared"
)

const (
	// SafetyMargin is subtracted from the provider-stated expiry, so a
	// 60 minute installation token is served for 50 minutes.
	SafetyMargin = 10 * time.Minute

	// defaultTokenLifetime is assumed when GitHub omits expires_at.
	defaultTokenLifetime = time.Hour

	flightKey = "installation-token"
)

var mExchanges = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "platform_github_installation_token_exchanges_total",
		Help: "The number of installation token exchanges with GitHub",
	},
	[]string{"result"},
)

// exchangeFunc trades an App JWT for an installation token and its expiry.
type exchangeFunc func(ctx context.Context, jwt string) (string, time.Time, error)

// TokenCache holds the single installation token shared by every caller.
//
// The "check expiry, else exchange" section runs through a singleflight
// group, so at most one exchange is in flight and every waiter observes the
// token it produced.
type TokenCache struct {
	signer   *Signer
	exchange exchangeFunc
	clock    clockwork.Clock

	group singleflight.Group

	mu     sync.Mutex
	token  string
	expiry time.Time
}

func newTokenCache(signer *Signer, exchange exchangeFunc, clock clockwork.Clock) *TokenCache {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &TokenCache{
		signer:   signer,
		exchange: exchange,
		clock:    clock,
	}
}

// Token returns a valid installation token, exchanging a fresh App JWT when
// the cached one is missing or inside the safety margin.
//
// A caller whose context ends while an exchange is running gets ctx.Err();
// the exchange itself continues for the remaining waiters under its own
// timeout.
func (c *TokenCache) Token(ctx context.Context) (string, error) {
	if tok, ok := c.cached(); ok {
		return tok, nil
	}

	ch := c.group.DoChan(flightKey, func() (any, error) {
		// Another flight may have finished between cached() and DoChan.
		if tok, ok := c.cached(); ok {
			return tok, nil
		}
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shared.DefaultExternalCallTimeout)
		defer cancel()
		return c.refresh(ctx)
	})

	select {
	case <-ctx.Done():
		return "", fmt.Errorf("%w: waiting for installation token: %w", shared.ErrAuthentication, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// Expiry returns the instant after which the cached token is no longer
// served. The zero time means the cache is empty.
func (c *TokenCache) Expiry() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == "" {
		return time.Time{}
	}
	return c.expiry.Add(-SafetyMargin)
}

func (c *TokenCache) cached() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && c.clock.Now().Before(c.expiry.Add(-SafetyMargin)) {
		return c.token, true
	}
	return "", false
}

func (c *TokenCache) refresh(ctx context.Context) (string, error) {
	log := clog.FromContext(ctx)

	jwt, err := c.signer.Sign(c.clock.Now())
	if err != nil {
		mExchanges.WithLabelValues("sign_error").Inc()
		return "", err
	}

	token, expiresAt, err := c.exchange(ctx, jwt)
	if err != nil {
		mExchanges.WithLabelValues("error").Inc()
		if errors.Is(err, shared.ErrAuthentication) {
			return "", err
		}
		return "", fmt.Errorf("%w: exchanging installation token: %w", shared.ErrAuthentication, err)
	}
	if token == "" {
		mExchanges.WithLabelValues("error").Inc()
		return "", fmt.Errorf("%w: exchange returned an empty token", shared.ErrAuthentication)
	}
	if expiresAt.IsZero() {
		expiresAt = c.clock.Now().Add(defaultTokenLifetime)
	}

	c.mu.Lock()
	c.token = token
	c.expiry = expiresAt
	c.mu.Unlock()

	mExchanges.WithLabelValues("ok").Inc()
	log.Infof("issued installation token valid until %s", expiresAt.Add(-SafetyMargin).Format(time.RFC3339))
	return token, nil
}
