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
	"os"
	"strconv"
	"time"
)

// Mode controls which backend tiers a request may be routed to.
type Mode string

const (
	// ModeLocalFirst prefers the local engine for small queries when
	// healthy, falling back to the remote chain. Default.
	ModeLocalFirst Mode = "local-first"

	// ModeCloudOnly skips local tiers entirely.
	ModeCloudOnly Mode = "cloud-only"

	// ModeLocalOnly uses only local tiers and never falls back to remote
	// backends.
	ModeLocalOnly Mode = "local-only"
)

// IsValid reports whether the mode is one of the three known values.
func (m Mode) IsValid() bool {
	switch m {
	case ModeLocalFirst, ModeCloudOnly, ModeLocalOnly:
		return true
	}
	return false
}

// RouterConfig carries every tuning knob of the inference router.
type RouterConfig struct {
	// Mode selects local-first, cloud-only, or local-only routing.
	Mode Mode

	// SmallQueryThreshold is the estimated prompt token count below which
	// a healthy local engine is tried first in local-first mode.
	SmallQueryThreshold int

	// MaxPromptTokens is the total context window the budget splits
	// divide up.
	MaxPromptTokens int

	// BudgetSplits are the percentage allocations of MaxPromptTokens.
	BudgetSplits BudgetSplits

	// MinContextItems is the trimming floor: trimming never drops the
	// kept context below this count.
	MinContextItems int

	// HierarchicalThreshold is the kept-item count at which the
	// recommended response mode switches from direct to hierarchical.
	HierarchicalThreshold int

	// LocalTimeout bounds one attempt against a local tier. Local engines
	// tolerate long generations, so this is generous.
	LocalTimeout time.Duration

	// RemoteTimeout bounds one attempt against a remote tier.
	RemoteTimeout time.Duration

	// LocalRetries is how many extra same-tier attempts a transient local
	// failure gets before falling back. Zero (the default) falls back
	// immediately.
	LocalRetries int

	// Breaker configures every per-backend circuit breaker.
	Breaker BreakerConfig

	// BackoffBase is the delay before advancing past the first classified
	// failure; each subsequent fallback multiplies it by BackoffMultiplier
	// up to BackoffMax. A backend-supplied retry-after hint overrides the
	// computed delay when larger.
	BackoffBase       time.Duration
	BackoffMultiplier float64
	BackoffMax        time.Duration
}

// DefaultRouterConfig returns the stock configuration.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		Mode:                  ModeLocalFirst,
		SmallQueryThreshold:   2048,
		MaxPromptTokens:       8192,
		BudgetSplits:          DefaultBudgetSplits(),
		MinContextItems:       1,
		HierarchicalThreshold: 5,
		LocalTimeout:          120 * time.Second,
		RemoteTimeout:         45 * time.Second,
		LocalRetries:          0,
		Breaker:               DefaultBreakerConfig(),
		BackoffBase:           500 * time.Millisecond,
		BackoffMultiplier:     2.0,
		BackoffMax:            10 * time.Second,
	}
}

// RouterConfigFromEnv builds a config from LINEAGE_ROUTER_* environment
// variables, falling back to defaults for anything unset or unparseable.
func RouterConfigFromEnv() RouterConfig {
	cfg := DefaultRouterConfig()

	if mode := Mode(os.Getenv("LINEAGE_ROUTER_MODE")); mode.IsValid() {
		cfg.Mode = mode
	}
	cfg.SmallQueryThreshold = getEnvInt("LINEAGE_ROUTER_SMALL_QUERY_THRESHOLD", cfg.SmallQueryThreshold)
	cfg.MaxPromptTokens = getEnvInt("LINEAGE_ROUTER_MAX_PROMPT_TOKENS", cfg.MaxPromptTokens)
	cfg.MinContextItems = getEnvInt("LINEAGE_ROUTER_MIN_CONTEXT_ITEMS", cfg.MinContextItems)
	cfg.HierarchicalThreshold = getEnvInt("LINEAGE_ROUTER_HIERARCHICAL_THRESHOLD", cfg.HierarchicalThreshold)
	cfg.LocalRetries = getEnvInt("LINEAGE_ROUTER_LOCAL_RETRIES", cfg.LocalRetries)
	cfg.LocalTimeout = getEnvSeconds("LINEAGE_ROUTER_LOCAL_TIMEOUT_SECONDS", cfg.LocalTimeout)
	cfg.RemoteTimeout = getEnvSeconds("LINEAGE_ROUTER_REMOTE_TIMEOUT_SECONDS", cfg.RemoteTimeout)
	cfg.Breaker.FailureThreshold = getEnvInt("LINEAGE_ROUTER_BREAKER_FAILURES", cfg.Breaker.FailureThreshold)
	cfg.Breaker.Cooldown = getEnvSeconds("LINEAGE_ROUTER_BREAKER_COOLDOWN_SECONDS", cfg.Breaker.Cooldown)

	return cfg
}

// getEnvInt returns an environment variable as int, or defaultVal if not
// set or invalid.
func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

// getEnvSeconds returns an environment variable interpreted as a second
// count, or defaultVal if not set or invalid.
func getEnvSeconds(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if secs, err := strconv.Atoi(val); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultVal
}
