// Copyright 2025 CruxStack
// SPDX-License-Identifier: MIT

package main

import (
	"context"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/awslabs/aws-lambda-go-api-proxy/httpadapter"
	"github.com/chainguard-dev/clog"

	"github.com/cruxstack/platform-api/internal/config"
	"github.com/cruxstack/platform-api/internal/platform"
	"github.com/cruxstack/platform-api/internal/shared"
	"github.com/cruxstack/platform-api/internal/ssmresolver"
)

var handler *httpadapter.HandlerAdapterV2

func init() {
	ctx := clog.WithLogger(context.Background(), clog.New(shared.NewSlogHandler()))
	log := clog.FromContext(ctx)

	// Resolve SSM ARNs in environment variables before loading config
	if err := ssmresolver.ResolveProcessEnvironment(ctx, ssmresolver.NewRetryConfigFromEnv()); err != nil {
		log.Fatalf("failed to resolve SSM parameters: %v", err)
	}

	cfg, err := config.Load(ctx)
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	// The collection stays open for the lifetime of the execution environment.
	p, err := platform.New(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to build platform: %v", err)
	}

	// API Gateway v2 payload format
	handler = httpadapter.NewV2(p.Handler)
}

func main() {
	lambda.Start(handler.ProxyWithContext)
}
