// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package logging provides structured logging for AleutianLineage
// components.
//
// Built on slog with two destinations:
//
//   - stderr, text format when attached to a terminal and JSON otherwise
//   - an optional JSON log file under Config.LogDir, one file per
//     service per day
//
// # Basic Usage
//
//	logger, closeFn := logging.New(logging.Config{Service: "orchestrator"})
//	defer closeFn()
//	logger.Info("starting", "port", 8080)
//
// This package does NOT redact sensitive data; callers must keep tokens
// and PII out of log attributes.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
)

// Config configures logger construction. The zero value logs Info and
// above to stderr only.
type Config struct {
	// Level sets the minimum level. One of "debug", "info", "warn",
	// "error"; anything else means info.
	Level string

	// Service is attached to every record as the "service" attribute and
	// names the log file. Default: "lineage"
	Service string

	// LogDir enables file logging when set. Files are named
	// {service}_{YYYY-MM-DD}.log and always JSON. Supports a leading ~.
	LogDir string

	// ForceJSON writes JSON to stderr even on a terminal. Useful when the
	// process runs under a supervisor that parses stderr.
	ForceJSON bool

	// Quiet disables stderr output; logs go only to the file.
	Quiet bool
}

// ParseLevel maps a config string onto a slog level.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New builds a logger per config. The returned close function syncs and
// closes the log file; call it on shutdown. It is safe to call when file
// logging is disabled.
func New(config Config) (*slog.Logger, func() error) {
	if config.Service == "" {
		config.Service = "lineage"
	}
	opts := &slog.HandlerOptions{Level: ParseLevel(config.Level)}

	var handlers []slog.Handler
	if !config.Quiet {
		handlers = append(handlers, stderrHandler(config.ForceJSON, opts))
	}

	closeFn := func() error { return nil }
	if config.LogDir != "" {
		if file, err := openLogFile(config.LogDir, config.Service); err == nil {
			handlers = append(handlers, slog.NewJSONHandler(file, opts))
			closeFn = func() error {
				if err := file.Sync(); err != nil {
					return fmt.Errorf("sync log file: %w", err)
				}
				return file.Close()
			}
		} else {
			fmt.Fprintf(os.Stderr, "logging: file logging disabled: %v\n", err)
		}
	}

	var handler slog.Handler
	switch len(handlers) {
	case 0:
		handler = slog.NewTextHandler(io.Discard, opts)
	case 1:
		handler = handlers[0]
	default:
		handler = &multiHandler{handlers: handlers}
	}
	handler = handler.WithAttrs([]slog.Attr{slog.String("service", config.Service)})

	return slog.New(handler), closeFn
}

// stderrHandler picks text for humans at a terminal, JSON for pipes.
func stderrHandler(forceJSON bool, opts *slog.HandlerOptions) slog.Handler {
	if forceJSON || !isatty.IsTerminal(os.Stderr.Fd()) {
		return slog.NewJSONHandler(os.Stderr, opts)
	}
	return slog.NewTextHandler(os.Stderr, opts)
}

// openLogFile creates the log directory if needed and opens the day's
// file in append mode.
func openLogFile(dir, service string) (*os.File, error) {
	dir = expandPath(dir)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	name := fmt.Sprintf("%s_%s.log", service, time.Now().Format("2006-01-02"))
	file, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return file, nil
}

// expandPath expands a leading ~ to the user's home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
