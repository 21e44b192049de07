// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package configstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/AleutianAI/AleutianLineage/services/orchestrator/datatypes"
)

// seedFile is the on-disk seed format: a list of fallback chains.
type seedFile struct {
	Chains []datatypes.FallbackChain `json:"chains"`
}

// SeedWatcher hot-reloads fallback chains from a JSON seed file.
//
// # Description
//
// On Start the file is loaded once with Seed semantics (existing chains
// win), then fsnotify watches the file's directory and re-applies the
// file with Replace semantics on every change. Editors write files with
// rename-and-replace, so the directory is watched rather than the file
// itself. Writes are debounced to survive editors that emit several
// events per save.
//
// A file that fails to parse leaves the store untouched.
type SeedWatcher struct {
	path     string
	store    *ChainStore
	logger   *slog.Logger
	debounce time.Duration

	watcher  *fsnotify.Watcher
	stopOnce sync.Once
	done     chan struct{}
}

// NewSeedWatcher creates a watcher for the given seed file path.
func NewSeedWatcher(path string, store *ChainStore, logger *slog.Logger) *SeedWatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &SeedWatcher{
		path:     filepath.Clean(path),
		store:    store,
		logger:   logger,
		debounce: 200 * time.Millisecond,
		done:     make(chan struct{}),
	}
}

// Start performs the initial load and begins watching. Returns an error
// only when the watcher itself cannot be created; a missing seed file is
// tolerated and picked up when it appears.
func (w *SeedWatcher) Start(ctx context.Context) error {
	if chains, err := loadSeedFile(w.path); err != nil {
		w.logger.Warn("seed file not loaded", "path", w.path, "error", err)
	} else if err := w.store.Seed(ctx, chains); err != nil {
		return fmt.Errorf("apply seed file: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}
	w.watcher = watcher

	go w.loop(ctx)
	return nil
}

// Stop halts the watcher. Safe to call more than once.
func (w *SeedWatcher) Stop() {
	w.stopOnce.Do(func() {
		if w.watcher != nil {
			_ = w.watcher.Close()
		}
		close(w.done)
	})
}

func (w *SeedWatcher) loop(ctx context.Context) {
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-w.done:
			return
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			timerC = timer.C
		case <-timerC:
			timerC = nil
			w.reload(ctx)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("seed watcher error", "error", err)
		}
	}
}

func (w *SeedWatcher) reload(ctx context.Context) {
	chains, err := loadSeedFile(w.path)
	if err != nil {
		w.logger.Warn("seed reload skipped", "path", w.path, "error", err)
		return
	}
	if err := w.store.Replace(ctx, chains); err != nil {
		w.logger.Error("seed reload partially applied", "error", err)
		return
	}
	w.logger.Info("fallback chains reloaded from seed file",
		"path", w.path, "chains", len(chains))
}

// loadSeedFile reads and validates the seed file.
func loadSeedFile(path string) ([]datatypes.FallbackChain, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var seed seedFile
	if err := json.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}
	for i := range seed.Chains {
		if err := seed.Chains[i].Validate(); err != nil {
			return nil, fmt.Errorf("seed chain %d: %w", i, err)
		}
	}
	return seed.Chains, nil
}
