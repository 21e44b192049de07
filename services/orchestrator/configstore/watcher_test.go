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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianLineage/services/orchestrator/datatypes"
)

func writeSeed(t *testing.T, path string, chains ...*datatypes.FallbackChain) {
	t.Helper()
	seed := seedFile{}
	for _, c := range chains {
		seed.Chains = append(seed.Chains, *c)
	}
	data, err := json.Marshal(seed)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func TestSeedWatcher_InitialLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chains.json")
	writeSeed(t, path, qaChain("seeded"))

	store := memStore(t)
	w := NewSeedWatcher(path, store, nil)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	got, err := store.GetFallbackChain(context.Background(), datatypes.UsageLineageQA)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "seeded", got.Backends[0].ID)
}

func TestSeedWatcher_MissingFileTolerated(t *testing.T) {
	dir := t.TempDir()
	store := memStore(t)

	w := NewSeedWatcher(filepath.Join(dir, "absent.json"), store, nil)
	require.NoError(t, w.Start(context.Background()))
	w.Stop()
}

func TestSeedWatcher_HotReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chains.json")
	writeSeed(t, path, qaChain("v1"))

	store := memStore(t)
	w := NewSeedWatcher(path, store, nil)
	w.debounce = 20 * time.Millisecond
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	writeSeed(t, path, qaChain("v2"))

	require.Eventually(t, func() bool {
		got, err := store.GetFallbackChain(context.Background(), datatypes.UsageLineageQA)
		return err == nil && got != nil && got.Backends[0].ID == "v2"
	}, 3*time.Second, 25*time.Millisecond, "seed file change was not applied")
}

func TestSeedWatcher_BadFileLeavesStoreUntouched(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chains.json")
	writeSeed(t, path, qaChain("good"))

	store := memStore(t)
	w := NewSeedWatcher(path, store, nil)
	w.debounce = 20 * time.Millisecond
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	// Give the reload a chance to fire, then confirm nothing changed.
	time.Sleep(200 * time.Millisecond)
	got, err := store.GetFallbackChain(context.Background(), datatypes.UsageLineageQA)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "good", got.Backends[0].ID)
}
