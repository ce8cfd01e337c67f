// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package logging provides structured logging for patchwork components.
//
// The package is a thin constructor over Go's standard library slog:
// it parses a level name, picks a text or JSON handler, and stamps
// every record with the originating service. Components derive their
// own loggers from the result:
//
//	logger, err := logging.New(logging.Config{Level: "debug", Service: "patchctl"})
//	if err != nil {
//	    return err
//	}
//	logger.Info("manifest loaded", "nodes", g.NodeCount())
//
// # Log Levels
//
// Four levels are supported, matching slog conventions:
//
//   - debug: Development troubleshooting, verbose output
//   - info: Normal operations (request start/end, state changes)
//   - warn: Recoverable issues (retry attempts, degraded mode)
//   - error: Operation failures (but system continues)
//
// # Thread Safety
//
// The returned *slog.Logger is safe for concurrent use.
//
// # Security Considerations
//
// This package does NOT automatically redact sensitive data.
// Callers must ensure PII, tokens, and secrets are not logged.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// =============================================================================
// Configuration
// =============================================================================

// Config configures the logger.
//
// All fields have sensible defaults. A zero-value Config creates a
// logger that writes info+ messages to stderr in text format.
type Config struct {
	// Level sets the minimum log level: "debug", "info", "warn",
	// or "error" (case-insensitive).
	// Default: "info"
	Level string

	// Format selects the output encoding: "text" or "json".
	// Default: "text"
	Format string

	// Service identifies the component generating logs.
	//
	// When set, it is included in every record as the "service"
	// attribute, making it easy to filter aggregated logs.
	// Default: "" (no service attribute)
	Service string

	// Writer receives the log output.
	// Default: os.Stderr
	Writer io.Writer
}

// =============================================================================
// Construction
// =============================================================================

// New creates a slog.Logger from the config.
//
// # Outputs
//
//   - *slog.Logger: The configured logger. Never nil on success.
//   - error: Non-nil when the level or format name is unknown.
func New(cfg Config) (*slog.Logger, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	writer := cfg.Writer
	if writer == nil {
		writer = os.Stderr
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "", "text":
		handler = slog.NewTextHandler(writer, opts)
	case "json":
		handler = slog.NewJSONHandler(writer, opts)
	default:
		return nil, fmt.Errorf("unknown log format: %q", cfg.Format)
	}

	logger := slog.New(handler)
	if cfg.Service != "" {
		logger = logger.With("service", cfg.Service)
	}
	return logger, nil
}

// Default returns a stderr text logger at info level.
//
// Use this when no configuration is available, such as before flag
// parsing; it mirrors slog.Default without touching global state.
func Default() *slog.Logger {
	logger, err := New(Config{})
	if err != nil {
		// A zero config never fails to parse.
		return slog.Default()
	}
	return logger
}

// parseLevel maps a level name to its slog.Level.
func parseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level: %q", name)
	}
}
