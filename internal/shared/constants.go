// Copyright 2025 CruxStack
// SPDX-License-Identifier: MIT

// Package shared holds the error taxonomy, defaults and logging setup used
// across the platform API packages.
package shared

import "time"

// Server configuration defaults.
const (
	// DefaultPort is the default HTTP server port.
	DefaultPort = 8080

	// DefaultReadHeaderTimeout is the default timeout for reading request headers.
	DefaultReadHeaderTimeout = 10 * time.Second

	// DefaultShutdownTimeout is the default timeout for graceful server shutdown.
	DefaultShutdownTimeout = 30 * time.Second
)

// Outbound call defaults.
const (
	// DefaultExternalCallTimeout bounds every call to GitHub, Microsoft Graph
	// and the OAuth token endpoint.
	DefaultExternalCallTimeout = 30 * time.Second

	// DefaultUserAgent is sent on all GitHub API calls.
	DefaultUserAgent = "platform-api"
)

// Cache configuration defaults.
const (
	// DefaultCacheSize is the default size for LRU caches.
	DefaultCacheSize = 200
)
