// Copyright 2025 CruxStack
// SPDX-License-Identifier: MIT

// Package api exposes the onboarding workflow over HTTP.
package api

import (
	"context"
	"net/http"

	"github.com/chainguard-dev/clog"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/cruxstack/platform-api/internal/apps"
	"github.com/cruxstack/platform-api/internal/workflow"
)

// Workflow is the onboarding service behind the API.
type Workflow interface {
	Create(ctx context.Context, req workflow.CreateRequest) (*workflow.CreateResult, error)
	Register(ctx context.Context, appName string) (*workflow.RegisterResult, error)
	AddSecrets(ctx context.Context, appName string, req workflow.SecretsRequest) (*workflow.SecretsResult, error)
	Get(ctx context.Context, appName string) (*apps.Record, error)
	List(ctx context.Context) ([]*apps.Record, error)
	Delete(ctx context.Context, appName string) error
}

type handler struct {
	wf Workflow
}

// NewRouter returns the API routes. The same router serves the HTTP server
// and the Lambda adapter.
func NewRouter(ctx context.Context, wf Workflow) http.Handler {
	h := &handler{wf: wf}
	base := clog.FromContext(ctx)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(withLogger(base))
	r.Use(middleware.Recoverer)
	r.Use(allowAllOrigins)
	r.Use(instrument)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("ok")); err != nil {
			clog.FromContext(r.Context()).Errorf("failed to write health response: %v", err)
		}
	})

	r.Route("/api/apps", func(r chi.Router) {
		r.Get("/", h.listApps)
		r.Post("/", h.createApp)
		r.Get("/{appName}", h.getApp)
		r.Delete("/{appName}", h.deleteApp)
		r.Post("/{appName}/register", h.registerApp)
		r.Post("/{appName}/secrets", h.addSecrets)
	})

	return r
}

func (h *handler) createApp(w http.ResponseWriter, r *http.Request) {
	var req CreateAppRequest
	if err := decodeBody(r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.wf.Create(r.Context(), workflow.CreateRequest{AppName: req.AppName, Stack: req.Stack})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, CreateAppResponse{
		RepositoryURL:    res.RepositoryURL,
		Status:           res.Status,
		AzureAppClientID: res.AzureAppClientID,
	})
}

func (h *handler) registerApp(w http.ResponseWriter, r *http.Request) {
	var req RegisterAppRequest
	if err := decodeBody(r, &req, true); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.wf.Register(r.Context(), chi.URLParam(r, "appName"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, RegisterAppResponse{
		AppID:          res.AppID,
		TenantID:       res.TenantID,
		SubscriptionID: res.SubscriptionID,
		ClientID:       res.ClientID,
	})
}

func (h *handler) addSecrets(w http.ResponseWriter, r *http.Request) {
	var req AddSecretsRequest
	if err := decodeBody(r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.wf.AddSecrets(r.Context(), chi.URLParam(r, "appName"), workflow.SecretsRequest{
		TenantID:       req.TenantID,
		SubscriptionID: req.SubscriptionID,
		ClientID:       req.ClientID,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, StatusResponse{Status: res.Status})
}

func (h *handler) listApps(w http.ResponseWriter, r *http.Request) {
	records, err := h.wf.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if records == nil {
		records = []*apps.Record{}
	}
	writeJSON(w, r, http.StatusOK, records)
}

func (h *handler) getApp(w http.ResponseWriter, r *http.Request) {
	rec, err := h.wf.Get(r.Context(), chi.URLParam(r, "appName"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, rec)
}

func (h *handler) deleteApp(w http.ResponseWriter, r *http.Request) {
	if err := h.wf.Delete(r.Context(), chi.URLParam(r, "appName")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// withLogger scopes the base logger to the request.
func withLogger(base *clog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log := base.With("method", r.Method, "path", r.URL.Path, "request_id", middleware.GetReqID(r.Context()))
			next.ServeHTTP(w, r.WithContext(clog.WithLogger(r.Context(), log)))
		})
	}
}

// allowAllOrigins answers CORS preflights and permits any origin, method
// and header.
func allowAllOrigins(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hdr := w.Header()
		hdr.Set("Access-Control-Allow-Origin", "*")
		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			hdr.Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			if reqHeaders := r.Header.Get("Access-Control-Request-Headers"); reqHeaders != "" {
				hdr.Set("Access-Control-Allow-Headers", reqHeaders)
			} else {
				hdr.Set("Access-Control-Allow-Headers", "*")
			}
			hdr.Set("Access-Control-Max-Age", "600")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
