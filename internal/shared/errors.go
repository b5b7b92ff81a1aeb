// Copyright 2025 CruxStack
// SPDX-License-Identifier: MIT

package shared

import (
	"context"
	"errors"
	"net"
)

// Error kinds. Components wrap these with fmt.Errorf so that callers can
// classify failures with errors.Is regardless of the underlying cause.
var (
	// ErrConfiguration is fatal and prevents startup.
	ErrConfiguration = errors.New("configuration error")

	// ErrAuthentication covers GitHub App JWT signing and installation token exchange.
	ErrAuthentication = errors.New("authentication error")

	// ErrProvisioning covers repository creation, including name collisions.
	ErrProvisioning = errors.New("provisioning error")

	// ErrRegistration covers identity-provider application registration.
	ErrRegistration = errors.New("registration error")

	// ErrFederatedCredential covers federated credential creation.
	ErrFederatedCredential = errors.New("federated credential error")

	// ErrSecretUpload covers public key retrieval and secret upload.
	ErrSecretUpload = errors.New("secret upload error")

	// ErrConcurrencyConflict is returned when an update presents a stale revision.
	ErrConcurrencyConflict = errors.New("concurrency conflict")

	// ErrNotFound is returned for unknown application keys.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned when creating a record whose key is taken.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidRequest is returned for caller input that fails validation.
	ErrInvalidRequest = errors.New("invalid request")
)

// IsRetryable reports whether err stems from a timeout or cancellation of an
// outbound call. Nothing in this service retries such errors itself; the
// classification is surfaced to API callers.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}
