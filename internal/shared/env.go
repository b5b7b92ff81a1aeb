// Copyright 2025 CruxStack
// SPDX-License-Identifier: MIT

package shared

import (
	"os"
	"strconv"
	"time"
)

// These helpers cover the few settings read before envconfig runs
// (logging and SSM resolution). Everything else lives in internal/config.

// GetEnvDefault returns the value of an environment variable,
// or the default value if the variable is not set or empty.
func GetEnvDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

// GetEnvPositiveInt returns the integer value of key, or defaultValue when
// the variable is unset, malformed or not positive.
func GetEnvPositiveInt(key string, defaultValue int) int {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil || n <= 0 {
		return defaultValue
	}
	return n
}

// GetEnvPositiveDuration returns the duration value of key, or defaultValue
// when the variable is unset, malformed or not positive.
func GetEnvPositiveDuration(key string, defaultValue time.Duration) time.Duration {
	d, err := time.ParseDuration(os.Getenv(key))
	if err != nil || d <= 0 {
		return defaultValue
	}
	return d
}
