// Copyright 2025 CruxStack
// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/chainguard-dev/clog"

	"github.com/cruxstack/platform-api/internal/shared"
)

const (
	HeaderContentType = "Content-Type"
	ContentTypeJSON   = "application/json"

	// maxBodyBytes bounds request bodies; every request here is a handful of
	// short strings.
	maxBodyBytes = 64 << 10
)

// CreateAppRequest is the body of POST /api/apps.
type CreateAppRequest struct {
	AppName string `json:"appName"`
	Stack   string `json:"stack"`
}

// CreateAppResponse is returned once the repository exists.
type CreateAppResponse struct {
	RepositoryURL    string  `json:"repositoryUrl"`
	Status           string  `json:"status"`
	AzureAppClientID *string `json:"azureAppClientId"`
}

// RegisterAppRequest is the body of POST /api/apps/{appName}/register. The
// path names the application; the body is accepted for compatibility.
type RegisterAppRequest struct {
	AppName       string `json:"appName"`
	RepositoryURL string `json:"repositoryUrl"`
}

// RegisterAppResponse carries the identifiers of the registered application.
type RegisterAppResponse struct {
	AppID          string `json:"appId"`
	TenantID       string `json:"tenantId"`
	SubscriptionID string `json:"subscriptionId"`
	ClientID       string `json:"clientId"`
}

// AddSecretsRequest is the body of POST /api/apps/{appName}/secrets.
type AddSecretsRequest struct {
	AppName        string `json:"appName"`
	TenantID       string `json:"tenantId"`
	SubscriptionID string `json:"subscriptionId"`
	ClientID       string `json:"clientId"`
}

// StatusResponse is a bare status acknowledgement.
type StatusResponse struct {
	Status string `json:"status"`
}

// ErrorResponseBody represents an error response body.
type ErrorResponseBody struct {
	Error string `json:"error"`
	// Retryable is set when the failure was a timeout talking to an
	// upstream service.
	Retryable bool `json:"retryable"`
}

// decodeBody reads a JSON body into dst. An empty body leaves dst untouched
// when optional is set.
func decodeBody(r *http.Request, dst any, optional bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("%w: malformed request body: %w", shared.ErrInvalidRequest, err)
	}
	return nil
}

// statusFor maps the error taxonomy onto the API's status codes: missing
// applications are 404, every other failure is 400.
func statusFor(err error) int {
	if errors.Is(err, shared.ErrNotFound) {
		return http.StatusNotFound
	}
	return http.StatusBadRequest
}

// writeError logs err and writes it as a JSON error body.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	clog.FromContext(r.Context()).Warnf("request failed with %d: %v", status, err)
	writeJSON(w, r, status, ErrorResponseBody{Error: err.Error(), Retryable: shared.IsRetryable(err)})
}

// writeJSON writes data as a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	body, err := json.Marshal(data)
	if err != nil {
		clog.FromContext(r.Context()).Errorf("failed to encode response: %v", err)
		w.Header().Set(HeaderContentType, ContentTypeJSON)
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"failed to encode response","retryable":false}`))
		return
	}
	w.Header().Set(HeaderContentType, ContentTypeJSON)
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		clog.FromContext(r.Context()).Errorf("failed to write response body: %v", err)
	}
}
