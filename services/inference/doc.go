// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package inference implements the resilient multi-provider inference
// router.
//
// For every text-generation request the router decides which backend
// executes it, isolates failures per backend with circuit breakers, shapes
// the request to fit a token budget, and walks an ordered fallback chain
// with classified-error backoff and cancellation support.
//
// Components, leaves first:
//
//   - TokenEstimator: conservative token-count approximation
//   - HealthMonitor: TTL-cached probe of the local engine
//   - CircuitBreaker / BreakerRegistry: per-backend failure isolation
//   - AdaptiveContextManager: budget trimming and response-mode selection
//   - Router: the orchestrator tying the above together
//
// Shared-state model: the per-backend circuit state in BreakerRegistry is
// the only mutable state shared across concurrent requests; each breaker
// carries its own lock so unrelated backends never contend. Health
// snapshots are replaced atomically and read lock-free. Budgets, attempt
// trails, and results are request-local.
package inference
