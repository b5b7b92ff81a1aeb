// Copyright 2025 CruxStack
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/chainguard-dev/clog"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cruxstack/platform-api/internal/config"
	"github.com/cruxstack/platform-api/internal/platform"
	"github.com/cruxstack/platform-api/internal/shared"
	"github.com/cruxstack/platform-api/internal/ssmresolver"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	ctx = clog.WithLogger(ctx, clog.New(shared.NewSlogHandler()))
	log := clog.FromContext(ctx)

	if err := ssmresolver.ResolveProcessEnvironment(ctx, ssmresolver.NewRetryConfigFromEnv()); err != nil {
		log.Fatalf("failed to resolve SSM parameters: %v", err)
	}

	cfg, err := config.Load(ctx)
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	p, err := platform.New(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to build platform: %v", err)
	}
	defer p.Close()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", p.Handler)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		ReadHeaderTimeout: shared.DefaultReadHeaderTimeout,
		Handler:           mux,
	}

	go func() {
		log.Infof("Starting HTTP server on port %d", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("server error: %v", err)
			cancel()
		}
	}()

	<-ctx.Done()
	log.Infof("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.WithoutCancel(ctx), shared.DefaultShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("server shutdown error: %v", err)
	}
}
