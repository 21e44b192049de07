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
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/AleutianLineage/services/orchestrator/datatypes"
)

var tracer = otel.Tracer("lineage.configstore")

const chainKeyPrefix = "chain/"

// ChainStore persists fallback chains in BadgerDB.
//
// # Description
//
// One chain is stored per usage type under "chain/{usage_type}" as JSON.
// Reads are served from an in-memory cache that is rebuilt on every write,
// so the request hot path never touches disk.
//
// Implements the inference router's ChainSource contract: a missing chain
// is (nil, nil), which the router surfaces as NotConfigured.
//
// # Thread Safety
//
// Safe for concurrent use.
type ChainStore struct {
	db     *badger.DB
	logger *slog.Logger

	mu    sync.RWMutex
	cache map[datatypes.UsageType]*datatypes.FallbackChain

	gcStop chan struct{}
	gcDone chan struct{}
}

// NewChainStore opens the database and warms the cache. Callers must
// Close the store on shutdown.
func NewChainStore(cfg BadgerConfig, logger *slog.Logger) (*ChainStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := openBadger(cfg)
	if err != nil {
		return nil, err
	}
	s := &ChainStore{
		db:     db,
		logger: logger,
		cache:  make(map[datatypes.UsageType]*datatypes.FallbackChain),
		gcStop: make(chan struct{}),
		gcDone: make(chan struct{}),
	}
	if err := s.reloadCache(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("warm chain cache: %w", err)
	}
	go s.gcLoop(cfg.GCInterval)
	return s, nil
}

// Close stops background GC and closes the database.
func (s *ChainStore) Close() error {
	close(s.gcStop)
	<-s.gcDone
	return s.db.Close()
}

// GetFallbackChain returns the chain for a usage type, or (nil, nil) when
// none is configured.
func (s *ChainStore) GetFallbackChain(ctx context.Context, usage datatypes.UsageType) (*datatypes.FallbackChain, error) {
	_, span := tracer.Start(ctx, "ChainStore.GetFallbackChain")
	defer span.End()
	span.SetAttributes(attribute.String("usage_type", string(usage)))

	s.mu.RLock()
	defer s.mu.RUnlock()
	chain, ok := s.cache[usage]
	if !ok {
		return nil, nil
	}
	// Callers get a copy: the cached chain is shared across requests.
	cp := *chain
	cp.Backends = append([]datatypes.BackendDescriptor(nil), chain.Backends...)
	return &cp, nil
}

// PutFallbackChain validates and stores a chain, replacing any existing
// chain for the same usage type.
func (s *ChainStore) PutFallbackChain(ctx context.Context, chain *datatypes.FallbackChain) error {
	_, span := tracer.Start(ctx, "ChainStore.PutFallbackChain")
	defer span.End()
	span.SetAttributes(attribute.String("usage_type", string(chain.UsageType)))

	if err := chain.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(chain)
	if err != nil {
		return fmt.Errorf("marshal chain: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(chainKeyPrefix+string(chain.UsageType)), data)
	})
	if err != nil {
		return fmt.Errorf("store chain %s: %w", chain.UsageType, err)
	}

	s.mu.Lock()
	cp := *chain
	cp.Backends = append([]datatypes.BackendDescriptor(nil), chain.Backends...)
	s.cache[chain.UsageType] = &cp
	s.mu.Unlock()

	s.logger.Info("fallback chain updated",
		"usage_type", chain.UsageType, "backends", len(chain.Backends))
	return nil
}

// DeleteFallbackChain removes a chain. Deleting a missing chain is a
// no-op.
func (s *ChainStore) DeleteFallbackChain(ctx context.Context, usage datatypes.UsageType) error {
	_, span := tracer.Start(ctx, "ChainStore.DeleteFallbackChain")
	defer span.End()

	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(chainKeyPrefix + string(usage)))
	})
	if err != nil {
		return fmt.Errorf("delete chain %s: %w", usage, err)
	}

	s.mu.Lock()
	delete(s.cache, usage)
	s.mu.Unlock()

	s.logger.Info("fallback chain deleted", "usage_type", usage)
	return nil
}

// ListFallbackChains returns every stored chain, ordered by usage type.
func (s *ChainStore) ListFallbackChains(ctx context.Context) ([]datatypes.FallbackChain, error) {
	_, span := tracer.Start(ctx, "ChainStore.ListFallbackChains")
	defer span.End()

	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]datatypes.FallbackChain, 0, len(s.cache))
	for _, chain := range s.cache {
		cp := *chain
		cp.Backends = append([]datatypes.BackendDescriptor(nil), chain.Backends...)
		out = append(out, cp)
	}
	sortChains(out)
	return out, nil
}

// Seed loads chains into the store without overwriting ones already
// present. Used at startup so a seed file cannot clobber admin edits.
func (s *ChainStore) Seed(ctx context.Context, chains []datatypes.FallbackChain) error {
	for i := range chains {
		s.mu.RLock()
		_, exists := s.cache[chains[i].UsageType]
		s.mu.RUnlock()
		if exists {
			continue
		}
		if err := s.PutFallbackChain(ctx, &chains[i]); err != nil {
			return err
		}
	}
	return nil
}

// Replace overwrites every chain named in the input. Used by the seed-file
// watcher, where the file is the source of truth.
func (s *ChainStore) Replace(ctx context.Context, chains []datatypes.FallbackChain) error {
	var errs []error
	for i := range chains {
		if err := s.PutFallbackChain(ctx, &chains[i]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// reloadCache rebuilds the in-memory cache from disk.
func (s *ChainStore) reloadCache() error {
	fresh := make(map[datatypes.UsageType]*datatypes.FallbackChain)
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(chainKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			err := item.Value(func(val []byte) error {
				var chain datatypes.FallbackChain
				if err := json.Unmarshal(val, &chain); err != nil {
					s.logger.Warn("skipping unparseable chain record",
						"key", string(item.Key()), "error", err)
					return nil
				}
				fresh[chain.UsageType] = &chain
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.cache = fresh
	s.mu.Unlock()
	return nil
}

// gcLoop runs value-log GC on a timer until Close.
func (s *ChainStore) gcLoop(interval time.Duration) {
	defer close(s.gcDone)
	if interval <= 0 {
		<-s.gcStop
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.gcStop:
			return
		case <-ticker.C:
			runGC(s.db, s.logger)
		}
	}
}

func sortChains(chains []datatypes.FallbackChain) {
	sort.Slice(chains, func(i, j int) bool {
		return chains[i].UsageType < chains[j].UsageType
	})
}
