// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package configstore persists inference routing configuration.
//
// Fallback chains live in an embedded BadgerDB so edits made through the
// admin API survive restarts, and an optional seed file watched with
// fsnotify lets deployments ship chain definitions as plain JSON.
package configstore

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// BadgerConfig holds configuration for the embedded database.
type BadgerConfig struct {
	// Path is the directory for database files. Required unless InMemory.
	Path string

	// InMemory disables disk persistence. Used by tests.
	InMemory bool

	// SyncWrites makes every write durable before returning. Chain edits
	// are rare, so the cost is negligible.
	SyncWrites bool

	// Logger receives BadgerDB's internal messages. Nil silences them.
	Logger *slog.Logger

	// GCInterval is how often value-log garbage collection runs. Zero
	// disables it.
	GCInterval time.Duration
}

// DefaultBadgerConfig returns production defaults.
func DefaultBadgerConfig(path string) BadgerConfig {
	return BadgerConfig{
		Path:       path,
		SyncWrites: true,
		GCInterval: 10 * time.Minute,
	}
}

// badgerLogger adapts slog to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// openBadger opens the database, creating the directory when needed.
func openBadger(cfg BadgerConfig) (*badger.DB, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return db, nil
}

// runGC triggers value-log garbage collection until there is nothing left
// to collect. Called on a timer by the store.
func runGC(db *badger.DB, logger *slog.Logger) {
	for {
		err := db.RunValueLogGC(0.5)
		if err != nil {
			if !errors.Is(err, badger.ErrNoRewrite) {
				logger.Debug("badger gc", "error", err)
			}
			return
		}
	}
}
