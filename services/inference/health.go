// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package inference

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// HealthSnapshot is a point-in-time view of the local inference runtime.
type HealthSnapshot struct {
	// Healthy is true when the runtime answered the probe.
	Healthy bool `json:"healthy"`

	// LoadedModels lists the model ids currently resident in memory.
	LoadedModels []string `json:"loadedModels,omitempty"`

	// UsedMemoryBytes is the total VRAM/RAM claimed by loaded models.
	UsedMemoryBytes uint64 `json:"usedMemoryBytes"`

	// FreeMemoryBytes is the estimated headroom, derived from the
	// configured total capacity minus UsedMemoryBytes. Zero when the
	// capacity is unknown.
	FreeMemoryBytes uint64 `json:"freeMemoryBytes"`

	// CheckedAt is when the probe completed.
	CheckedAt time.Time `json:"checkedAt"`
}

// ModelLoaded reports whether the given model id is resident.
func (s *HealthSnapshot) ModelLoaded(model string) bool {
	for _, m := range s.LoadedModels {
		if m == model {
			return true
		}
	}
	return false
}

// HealthMonitorConfig configures the local runtime probe.
type HealthMonitorConfig struct {
	// BaseURL is the Ollama API root. Default: http://localhost:11434
	BaseURL string

	// CacheTTL is how long a snapshot stays fresh. Concurrent callers
	// inside the window share one cached result. Default: 5s
	CacheTTL time.Duration

	// ProbeTimeout bounds a single probe round trip. Default: 2s
	ProbeTimeout time.Duration

	// TotalMemoryBytes is the accelerator (or shared RAM) capacity used to
	// estimate free headroom. Zero disables the free-memory estimate.
	TotalMemoryBytes uint64
}

// HealthMonitor tracks whether the local Ollama runtime is reachable and
// what it has loaded.
//
// # Description
//
// Probes GET /api/ps and caches the result for CacheTTL. A probe failure
// yields an unhealthy snapshot, never an error: the router treats an
// unreachable local runtime as a routing signal, not a request failure.
//
// # Thread Safety
//
// Reads are lock-free (atomic snapshot pointer). When the cache is stale a
// mutex collapses concurrent refreshes into a single probe.
type HealthMonitor struct {
	config HealthMonitorConfig
	client *http.Client
	logger *slog.Logger

	snapshot atomic.Pointer[HealthSnapshot]
	refresh  sync.Mutex

	// now is the clock, replaceable in tests.
	now func() time.Time
}

// NewHealthMonitor creates a monitor. Nil logger falls back to slog.Default.
func NewHealthMonitor(config HealthMonitorConfig, logger *slog.Logger) *HealthMonitor {
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434"
	}
	if config.CacheTTL <= 0 {
		config.CacheTTL = 5 * time.Second
	}
	if config.ProbeTimeout <= 0 {
		config.ProbeTimeout = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthMonitor{
		config: config,
		client: &http.Client{Timeout: config.ProbeTimeout},
		logger: logger,
		now:    time.Now,
	}
}

// Snapshot returns the current health view, probing the runtime when the
// cached snapshot is older than CacheTTL.
func (m *HealthMonitor) Snapshot(ctx context.Context) *HealthSnapshot {
	if snap := m.snapshot.Load(); snap != nil && m.now().Sub(snap.CheckedAt) < m.config.CacheTTL {
		return snap
	}

	m.refresh.Lock()
	defer m.refresh.Unlock()

	// Another caller may have refreshed while we waited for the lock.
	if snap := m.snapshot.Load(); snap != nil && m.now().Sub(snap.CheckedAt) < m.config.CacheTTL {
		return snap
	}

	snap := m.probe(ctx)
	m.snapshot.Store(snap)
	return snap
}

// psResponse mirrors the subset of Ollama's /api/ps payload we consume.
type psResponse struct {
	Models []struct {
		Name     string `json:"name"`
		Model    string `json:"model"`
		Size     uint64 `json:"size"`
		SizeVRAM uint64 `json:"size_vram"`
	} `json:"models"`
}

func (m *HealthMonitor) probe(ctx context.Context) *HealthSnapshot {
	snap := &HealthSnapshot{CheckedAt: m.now()}

	// The snapshot is shared by every request for the next CacheTTL, so
	// the probe must not inherit one caller's cancellation: a cancelled
	// request would store an unhealthy snapshot and poison local routing
	// for everyone else. Trace values still flow through.
	probeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.config.ProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, m.config.BaseURL+"/api/ps", nil)
	if err != nil {
		m.logger.Warn("health probe request build failed", "error", err)
		return snap
	}

	resp, err := m.client.Do(req)
	if err != nil {
		m.logger.Debug("local runtime unreachable", "error", err)
		return snap
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		m.logger.Debug("local runtime probe rejected",
			"status", resp.StatusCode)
		return snap
	}

	var ps psResponse
	if err := json.NewDecoder(resp.Body).Decode(&ps); err != nil {
		m.logger.Warn("health probe decode failed", "error", err)
		return snap
	}

	snap.Healthy = true
	for _, model := range ps.Models {
		name := model.Name
		if name == "" {
			name = model.Model
		}
		snap.LoadedModels = append(snap.LoadedModels, name)
		used := model.SizeVRAM
		if used == 0 {
			used = model.Size
		}
		snap.UsedMemoryBytes += used
	}
	if m.config.TotalMemoryBytes > snap.UsedMemoryBytes {
		snap.FreeMemoryBytes = m.config.TotalMemoryBytes - snap.UsedMemoryBytes
	}
	return snap
}

// Describe returns a one-line summary for logs and the health endpoint.
func (s *HealthSnapshot) Describe() string {
	if !s.Healthy {
		return "local runtime unreachable"
	}
	return fmt.Sprintf("local runtime healthy, %d model(s) loaded, %d MiB in use",
		len(s.LoadedModels), s.UsedMemoryBytes/(1024*1024))
}
