// Copyright 2025 CruxStack
// SPDX-License-Identifier: MIT

package shared

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Log format constants.
const (
	// LogFormatJSON outputs logs in JSON format (default).
	LogFormatJSON = "json"

	// LogFormatText outputs logs in human-readable text format.
	LogFormatText = "text"
)

// Environment variable names for logging configuration.
const (
	EnvLogFormat = "LOG_FORMAT"
	EnvLogLevel  = "LOG_LEVEL"
)

// NewSlogHandler creates a slog.Handler writing to stderr, configured by the
// LOG_FORMAT and LOG_LEVEL environment variables.
func NewSlogHandler() slog.Handler {
	return newSlogHandler(os.Stderr,
		GetEnvDefault(EnvLogFormat, LogFormatJSON),
		GetEnvDefault(EnvLogLevel, "info"))
}

func newSlogHandler(w io.Writer, format, level string) slog.Handler {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}

	switch strings.ToLower(format) {
	case LogFormatText:
		return slog.NewTextHandler(w, opts)
	default:
		return slog.NewJSONHandler(w, opts)
	}
}

func parseLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return l
}
