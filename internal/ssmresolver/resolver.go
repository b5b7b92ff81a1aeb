// Copyright 2025 CruxStack
// SPDX-License-Identifier: MIT

// Package ssmresolver replaces environment variables whose value is an AWS
// SSM Parameter Store ARN with the decrypted parameter value. It runs before
// configuration is loaded so that secrets such as GRAPH_CLIENT_SECRET or
// GITHUB_APP_PRIVATE_KEY can be supplied by reference.
package ssmresolver

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/chainguard-dev/clog"

	"github.com/cruxstack/platform-api/internal/shared"
)

// Environment variable names for retry configuration.
const (
	EnvMaxRetries    = "SSM_RESOLVE_MAX_RETRIES"
	EnvRetryInterval = "SSM_RESOLVE_RETRY_INTERVAL"
)

// Default retry configuration values.
const (
	DefaultMaxRetries    = 5
	DefaultRetryInterval = 1 * time.Second
)

// ssmARNPattern matches arn:aws:ssm:<region>:<account>:parameter/<path>.
var ssmARNPattern = regexp.MustCompile(`^arn:aws:ssm:[^:]+:[^:]+:parameter/(.+)$`)

// Client is the subset of the SSM API used here.
type Client interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Resolver resolves SSM parameter references.
type Resolver struct {
	client Client
}

// New creates a Resolver with the default AWS configuration chain.
func New(ctx context.Context) (*Resolver, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return &Resolver{client: ssm.NewFromConfig(cfg)}, nil
}

// NewWithClient creates a Resolver with a custom SSM client.
func NewWithClient(client Client) *Resolver {
	return &Resolver{client: client}
}

// IsSSMARN checks if the given value is an SSM Parameter Store ARN.
func IsSSMARN(value string) bool {
	return ssmARNPattern.MatchString(value)
}

// ExtractParameterName returns the parameter name, with a leading slash,
// from an SSM ARN.
func ExtractParameterName(arn string) (string, bool) {
	matches := ssmARNPattern.FindStringSubmatch(arn)
	if len(matches) != 2 {
		return "", false
	}
	name := matches[1]
	if !strings.HasPrefix(name, "/") {
		name = "/" + name
	}
	return name, true
}

// ResolveValue returns value unchanged unless it is an SSM ARN, in which case
// the decrypted parameter value is returned.
func (r *Resolver) ResolveValue(ctx context.Context, value string) (string, error) {
	if !IsSSMARN(value) {
		return value, nil
	}

	name, ok := ExtractParameterName(value)
	if !ok {
		return "", fmt.Errorf("invalid SSM ARN format: %s", value)
	}

	resp, err := r.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("failed to get SSM parameter %s: %w", name, err)
	}
	if resp.Parameter == nil || resp.Parameter.Value == nil {
		return "", fmt.Errorf("SSM parameter %s has no value", name)
	}
	return *resp.Parameter.Value, nil
}

// ResolveEnvironment resolves every SSM ARN found in environ and applies the
// results with setenv. Parameter values are never logged.
func (r *Resolver) ResolveEnvironment(ctx context.Context, environ []string, setenv func(key, value string) error) error {
	for _, key := range referencedKeys(environ) {
		value := lookup(environ, key)
		resolved, err := r.ResolveValue(ctx, value)
		if err != nil {
			return fmt.Errorf("failed to resolve %s: %w", key, err)
		}
		if err := setenv(key, resolved); err != nil {
			return fmt.Errorf("failed to set %s: %w", key, err)
		}
		clog.DebugContextf(ctx, "resolved %s from SSM", key)
	}
	return nil
}

// referencedKeys returns the keys in environ whose value is an SSM ARN.
func referencedKeys(environ []string) []string {
	var keys []string
	for _, env := range environ {
		key, value, ok := strings.Cut(env, "=")
		if ok && IsSSMARN(value) {
			keys = append(keys, key)
		}
	}
	return keys
}

func lookup(environ []string, key string) string {
	for _, env := range environ {
		if k, v, ok := strings.Cut(env, "="); ok && k == key {
			return v
		}
	}
	return ""
}

// RetryConfig configures retry behavior for SSM resolution.
type RetryConfig struct {
	MaxRetries    int
	RetryInterval time.Duration
}

// NewRetryConfigFromEnv creates a RetryConfig from environment variables,
// falling back to the defaults.
func NewRetryConfigFromEnv() RetryConfig {
	return RetryConfig{
		MaxRetries:    shared.GetEnvPositiveInt(EnvMaxRetries, DefaultMaxRetries),
		RetryInterval: shared.GetEnvPositiveDuration(EnvRetryInterval, DefaultRetryInterval),
	}
}

// ResolveProcessEnvironment resolves SSM references in the process
// environment. When no variable holds an SSM ARN it returns immediately
// without loading AWS credentials, so local runs need no AWS setup.
func ResolveProcessEnvironment(ctx context.Context, cfg RetryConfig) error {
	if len(referencedKeys(os.Environ())) == 0 {
		return nil
	}
	return resolveWithRetry(ctx, cfg, func(ctx context.Context) error {
		r, err := New(ctx)
		if err != nil {
			return err
		}
		return r.ResolveEnvironment(ctx, os.Environ(), os.Setenv)
	})
}

func resolveWithRetry(ctx context.Context, cfg RetryConfig, attemptFn func(context.Context) error) error {
	log := clog.FromContext(ctx)
	var lastErr error

	for attempt := 1; attempt <= cfg.MaxRetries; attempt++ {
		err := attemptFn(ctx)
		if err == nil {
			if attempt > 1 {
				log.Infof("[ssmresolver] SSM parameters resolved after %d attempts", attempt)
			}
			return nil
		}

		lastErr = err
		log.Warnf("[ssmresolver] attempt %d/%d failed: %v", attempt, cfg.MaxRetries, err)

		if attempt < cfg.MaxRetries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(cfg.RetryInterval):
			}
		}
	}

	return fmt.Errorf("%w: %w", shared.ErrConfiguration, lastErr)
}
