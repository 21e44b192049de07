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
	"sync"
	"time"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// CircuitClosed allows requests through normally.
	CircuitClosed CircuitState = iota

	// CircuitOpen rejects all requests until the cooldown elapses.
	CircuitOpen

	// CircuitHalfOpen admits exactly one probe request at a time.
	CircuitHalfOpen
)

// String returns the human-readable name for the circuit state.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures circuit breaker behavior.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive classified failures
	// before the circuit opens. A rate-limit failure opens the circuit
	// immediately regardless of this threshold.
	// Default: 3
	FailureThreshold int

	// Cooldown is how long the circuit stays open before the next call is
	// admitted as the half-open probe.
	// Default: 30s
	Cooldown time.Duration
}

// DefaultBreakerConfig returns sensible defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 3,
		Cooldown:         30 * time.Second,
	}
}

// CircuitBreaker isolates one backend's failures from the rest of the
// chain.
//
// # States
//
//   - closed: calls pass through; consecutive failures count toward the
//     threshold.
//   - open: calls fail fast with *CircuitOpenError until the cooldown
//     elapses; the first call after cooldown becomes the half-open probe.
//   - half-open: exactly one probe is in flight; all other callers fail
//     fast. Probe success closes the circuit, probe failure re-opens it
//     and restarts the cooldown.
//
// # Thread Safety
//
// One breaker instance is shared by every concurrent request addressing
// the same backend id; all transitions happen under the breaker's lock, so
// two requests can never both believe they hold the probe slot.
//
// Callers must pass the probe flag they got from Allow back into
// OnSuccess/OnFailure/OnCancel. Half-open transitions act only on reports
// from the probe holder: a call admitted while the circuit was still
// closed can outlive a trip-plus-cooldown window (the remote timeout is
// longer than the cooldown by default), and its late report must not
// close the circuit or free the probe slot under the live probe.
//
// # Usage
//
//	probe, err := cb.Allow()
//	if err != nil {
//	    // skip this tier at zero cost
//	}
//	result, err := client.Generate(ctx, ...)
//	switch {
//	case err == nil:
//	    cb.OnSuccess(probe)
//	case errors.Is(err, context.Canceled):
//	    cb.OnCancel(probe) // caller-initiated, not backend-attributable
//	default:
//	    cb.OnFailure(rateLimited, probe)
//	}
type CircuitBreaker struct {
	mu sync.Mutex

	backendID     string
	config        BreakerConfig
	state         CircuitState
	failureCount  int
	lastFailureAt time.Time
	probeInFlight bool

	// now is the clock, replaceable in tests.
	now func() time.Time
}

// NewCircuitBreaker creates a breaker in the closed state for one backend.
func NewCircuitBreaker(backendID string, config BreakerConfig) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = DefaultBreakerConfig().FailureThreshold
	}
	if config.Cooldown <= 0 {
		config.Cooldown = DefaultBreakerConfig().Cooldown
	}
	return &CircuitBreaker{
		backendID: backendID,
		config:    config,
		state:     CircuitClosed,
		now:       time.Now,
	}
}

// Allow reports whether a call may proceed.
//
// Returns (probe=true, nil) when this caller has been admitted as the
// half-open probe, (false, nil) for a normal closed-state pass, and
// (false, *CircuitOpenError) when the call must be skipped.
func (cb *CircuitBreaker) Allow() (bool, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()
	switch cb.state {
	case CircuitClosed:
		return false, nil

	case CircuitOpen:
		remaining := cb.config.Cooldown - now.Sub(cb.lastFailureAt)
		if remaining > 0 {
			return false, &CircuitOpenError{BackendID: cb.backendID, RetryIn: remaining}
		}
		// Cooldown elapsed: this caller becomes the probe.
		cb.state = CircuitHalfOpen
		cb.probeInFlight = true
		return true, nil

	case CircuitHalfOpen:
		if cb.probeInFlight {
			return false, &CircuitOpenError{BackendID: cb.backendID}
		}
		cb.probeInFlight = true
		return true, nil

	default:
		return false, &CircuitOpenError{BackendID: cb.backendID}
	}
}

// OnSuccess records a successful call. probe is the flag the caller got
// from Allow; only the probe holder's success closes a half-open circuit.
func (cb *CircuitBreaker) OnSuccess(probe bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		cb.failureCount = 0
	case CircuitHalfOpen:
		if !probe {
			// Late success from a call admitted before the trip. The live
			// probe decides the circuit's fate, not this straggler.
			return
		}
		cb.state = CircuitClosed
		cb.failureCount = 0
		cb.probeInFlight = false
	}
}

// OnFailure records a classified failure. tripNow forces an immediate open
// regardless of the failure threshold; the router sets it for rate-limit
// responses. probe is the flag the caller got from Allow.
func (cb *CircuitBreaker) OnFailure(tripNow, probe bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()
	cb.lastFailureAt = now

	switch cb.state {
	case CircuitClosed:
		cb.failureCount++
		if tripNow || cb.failureCount >= cb.config.FailureThreshold {
			cb.state = CircuitOpen
		}
	case CircuitHalfOpen:
		if !probe {
			// Stale report from before the trip. Freeing the slot here
			// would admit a second probe alongside the live one.
			return
		}
		// Probe failed: back to open, cooldown restarts from now.
		cb.state = CircuitOpen
		cb.probeInFlight = false
	case CircuitOpen:
		// Late failure from a call admitted before the trip. The cooldown
		// timestamp above already moved forward; nothing else to do.
	}
}

// OnCancel releases the probe slot without recording success or failure.
// Cancellation is caller-initiated and must not affect the backend's
// failure bookkeeping.
func (cb *CircuitBreaker) OnCancel(probe bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitHalfOpen && probe {
		cb.probeInFlight = false
	}
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// FailureCount returns the consecutive failure count.
func (cb *CircuitBreaker) FailureCount() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failureCount
}

// =============================================================================
// Registry
// =============================================================================

// BreakerRegistry holds one CircuitBreaker per backend id.
//
// Entries are created lazily on first use and live for the process
// lifetime. The registry lock guards only map access; each breaker carries
// its own lock, so requests to unrelated backends never contend.
type BreakerRegistry struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
	config   BreakerConfig
}

// NewBreakerRegistry creates an empty registry. All breakers share config.
func NewBreakerRegistry(config BreakerConfig) *BreakerRegistry {
	return &BreakerRegistry{
		breakers: make(map[string]*CircuitBreaker),
		config:   config,
	}
}

// Get returns the breaker for a backend id, creating it when absent.
func (r *BreakerRegistry) Get(backendID string) *CircuitBreaker {
	r.mu.RLock()
	cb, ok := r.breakers[backendID]
	r.mu.RUnlock()
	if ok {
		return cb
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok := r.breakers[backendID]; ok {
		return cb
	}
	cb = NewCircuitBreaker(backendID, r.config)
	r.breakers[backendID] = cb
	return cb
}

// States returns a snapshot of every known backend's circuit state, keyed
// by backend id. Used by the health endpoint and the metrics gauge.
func (r *BreakerRegistry) States() map[string]CircuitState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]CircuitState, len(r.breakers))
	for id, cb := range r.breakers {
		out[id] = cb.State()
	}
	return out
}
