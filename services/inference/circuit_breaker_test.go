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
	"testing"
	"time"
)

func newTestBreaker(threshold int, cooldown time.Duration) (*CircuitBreaker, *time.Time) {
	cb := NewCircuitBreaker("test-backend", BreakerConfig{
		FailureThreshold: threshold,
		Cooldown:         cooldown,
	})
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	cb.now = func() time.Time { return now }
	return cb, &now
}

func TestCircuitBreaker_InitialState(t *testing.T) {
	cb, _ := newTestBreaker(3, 10*time.Second)

	if cb.State() != CircuitClosed {
		t.Errorf("expected initial state closed, got %v", cb.State())
	}
	probe, err := cb.Allow()
	if err != nil {
		t.Errorf("expected Allow to pass in closed state, got %v", err)
	}
	if probe {
		t.Error("closed-state pass must not be a probe")
	}
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb, _ := newTestBreaker(3, 10*time.Second)

	for i := 0; i < 3; i++ {
		if cb.State() != CircuitClosed {
			t.Fatalf("expected closed before threshold, got %v at failure %d", cb.State(), i)
		}
		cb.OnFailure(false, false)
	}

	if cb.State() != CircuitOpen {
		t.Errorf("expected open after threshold, got %v", cb.State())
	}
	if _, err := cb.Allow(); !IsCircuitOpen(err) {
		t.Errorf("expected CircuitOpenError in open state, got %v", err)
	}
}

func TestCircuitBreaker_RateLimitTripsImmediately(t *testing.T) {
	cb, _ := newTestBreaker(5, 10*time.Second)

	cb.OnFailure(true, false)

	if cb.State() != CircuitOpen {
		t.Errorf("expected open after rate-limit trip, got %v", cb.State())
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb, _ := newTestBreaker(3, 10*time.Second)

	cb.OnFailure(false, false)
	cb.OnFailure(false, false)
	cb.OnSuccess(false)

	if got := cb.FailureCount(); got != 0 {
		t.Errorf("expected failure count reset to 0, got %d", got)
	}
	if cb.State() != CircuitClosed {
		t.Errorf("expected closed after success, got %v", cb.State())
	}
}

func TestCircuitBreaker_CooldownGatesHalfOpen(t *testing.T) {
	cb, now := newTestBreaker(1, 10*time.Second)

	cb.OnFailure(false, false)
	if cb.State() != CircuitOpen {
		t.Fatalf("expected open, got %v", cb.State())
	}

	// Before cooldown: fail fast with a retry hint.
	*now = now.Add(5 * time.Second)
	if _, err := cb.Allow(); !IsCircuitOpen(err) {
		t.Fatalf("expected CircuitOpenError before cooldown, got %v", err)
	}

	// After cooldown: the first caller becomes the probe.
	*now = now.Add(6 * time.Second)
	probe, err := cb.Allow()
	if err != nil {
		t.Fatalf("expected probe admission after cooldown, got %v", err)
	}
	if !probe {
		t.Error("caller admitted after cooldown must be the probe")
	}
	if cb.State() != CircuitHalfOpen {
		t.Errorf("expected half-open, got %v", cb.State())
	}
}

func TestCircuitBreaker_ProbeSuccessCloses(t *testing.T) {
	cb, now := newTestBreaker(1, 10*time.Second)

	cb.OnFailure(false, false)
	*now = now.Add(11 * time.Second)
	probe, err := cb.Allow()
	if err != nil {
		t.Fatalf("probe admission failed: %v", err)
	}

	cb.OnSuccess(probe)

	if cb.State() != CircuitClosed {
		t.Errorf("expected closed after probe success, got %v", cb.State())
	}
	if cb.FailureCount() != 0 {
		t.Errorf("expected failure count 0, got %d", cb.FailureCount())
	}
}

func TestCircuitBreaker_ProbeFailureReopensAndRestartsCooldown(t *testing.T) {
	cb, now := newTestBreaker(1, 10*time.Second)

	cb.OnFailure(false, false)
	*now = now.Add(11 * time.Second)
	probe, err := cb.Allow()
	if err != nil {
		t.Fatalf("probe admission failed: %v", err)
	}

	cb.OnFailure(false, probe)
	if cb.State() != CircuitOpen {
		t.Fatalf("expected open after probe failure, got %v", cb.State())
	}

	// Cooldown restarts from the probe failure, not the original trip.
	*now = now.Add(9 * time.Second)
	if _, err := cb.Allow(); !IsCircuitOpen(err) {
		t.Errorf("expected CircuitOpenError inside restarted cooldown, got %v", err)
	}
	*now = now.Add(2 * time.Second)
	if probe, err := cb.Allow(); err != nil || !probe {
		t.Errorf("expected probe admission after restarted cooldown, got probe=%v err=%v", probe, err)
	}
}

func TestCircuitBreaker_SingleProbeUnderConcurrency(t *testing.T) {
	cb, now := newTestBreaker(1, 10*time.Second)
	cb.OnFailure(false, false)
	*now = now.Add(11 * time.Second)

	const goroutines = 50
	var wg sync.WaitGroup
	var mu sync.Mutex
	probes := 0

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			probe, err := cb.Allow()
			if err == nil && probe {
				mu.Lock()
				probes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if probes != 1 {
		t.Errorf("expected exactly one half-open probe, got %d", probes)
	}
}

func TestCircuitBreaker_CancelReleasesProbeWithoutBookkeeping(t *testing.T) {
	cb, now := newTestBreaker(1, 10*time.Second)
	cb.OnFailure(false, false)
	*now = now.Add(11 * time.Second)

	if _, err := cb.Allow(); err != nil {
		t.Fatalf("probe admission failed: %v", err)
	}
	if _, err := cb.Allow(); !IsCircuitOpen(err) {
		t.Fatal("expected second caller rejected while probe in flight")
	}

	cb.OnCancel(true)

	// Slot released: the next caller becomes the probe again.
	probe, err := cb.Allow()
	if err != nil || !probe {
		t.Errorf("expected probe slot reusable after cancel, got probe=%v err=%v", probe, err)
	}
	if cb.State() != CircuitHalfOpen {
		t.Errorf("expected half-open preserved across cancel, got %v", cb.State())
	}
}

func TestCircuitBreaker_StaleSuccessDoesNotCloseHalfOpen(t *testing.T) {
	cb, now := newTestBreaker(1, 10*time.Second)

	// A is admitted while closed, then the circuit trips and a cooldown
	// later B holds the probe slot.
	aProbe, err := cb.Allow()
	if err != nil || aProbe {
		t.Fatalf("expected closed-state pass, got probe=%v err=%v", aProbe, err)
	}
	cb.OnFailure(false, false)
	*now = now.Add(11 * time.Second)
	if probe, err := cb.Allow(); err != nil || !probe {
		t.Fatalf("probe admission failed: probe=%v err=%v", probe, err)
	}

	// A completes late and reports success.
	cb.OnSuccess(aProbe)

	if cb.State() != CircuitHalfOpen {
		t.Errorf("stale success must not close the circuit, got %v", cb.State())
	}
	if _, err := cb.Allow(); !IsCircuitOpen(err) {
		t.Error("probe slot must still be held after a stale success")
	}
}

func TestCircuitBreaker_StaleFailureDoesNotFreeProbeSlot(t *testing.T) {
	cb, now := newTestBreaker(1, 10*time.Second)

	aProbe, err := cb.Allow()
	if err != nil || aProbe {
		t.Fatalf("expected closed-state pass, got probe=%v err=%v", aProbe, err)
	}
	cb.OnFailure(false, false)
	*now = now.Add(11 * time.Second)
	if probe, err := cb.Allow(); err != nil || !probe {
		t.Fatalf("probe admission failed: probe=%v err=%v", probe, err)
	}

	// A completes late and reports failure while B's probe is in flight.
	cb.OnFailure(false, aProbe)

	if cb.State() != CircuitHalfOpen {
		t.Errorf("stale failure must not re-open under the live probe, got %v", cb.State())
	}

	// Even after another cooldown no second probe may slip in.
	*now = now.Add(11 * time.Second)
	if _, err := cb.Allow(); !IsCircuitOpen(err) {
		t.Error("expected exactly one probe in flight, second admission allowed")
	}
}

func TestBreakerRegistry_PerBackendIsolation(t *testing.T) {
	reg := NewBreakerRegistry(BreakerConfig{FailureThreshold: 1, Cooldown: time.Minute})

	reg.Get("tier-a").OnFailure(false, false)

	if got := reg.Get("tier-a").State(); got != CircuitOpen {
		t.Errorf("expected tier-a open, got %v", got)
	}
	if got := reg.Get("tier-b").State(); got != CircuitClosed {
		t.Errorf("expected tier-b unaffected, got %v", got)
	}

	states := reg.States()
	if len(states) != 2 {
		t.Fatalf("expected 2 tracked backends, got %d", len(states))
	}
}

func TestBreakerRegistry_SameInstancePerID(t *testing.T) {
	reg := NewBreakerRegistry(DefaultBreakerConfig())

	var wg sync.WaitGroup
	results := make([]*CircuitBreaker, 20)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = reg.Get("shared")
		}(i)
	}
	wg.Wait()

	for i := 1; i < len(results); i++ {
		if results[i] != results[0] {
			t.Fatal("Get returned distinct breakers for the same backend id")
		}
	}
}
