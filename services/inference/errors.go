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
	"errors"
	"fmt"
	"time"

	"github.com/AleutianAI/AleutianLineage/services/orchestrator/datatypes"
)

// ErrKindCircuitOpen labels attempts skipped because a tier's breaker was
// open. It is synthetic: no network call was made, so it is not part of the
// llm error taxonomy.
const ErrKindCircuitOpen = "circuit_open"

// CircuitOpenError is returned by a breaker while its cooldown is in
// progress, or while another request holds the half-open probe slot.
type CircuitOpenError struct {
	// BackendID is the backend whose circuit is open.
	BackendID string

	// RetryIn is how long until the breaker will admit a probe. Zero when
	// the breaker is half-open with a probe already in flight.
	RetryIn time.Duration
}

// Error implements the error interface.
func (e *CircuitOpenError) Error() string {
	if e.RetryIn > 0 {
		return fmt.Sprintf("backend %s: circuit open, cooldown in progress (retry in %s)", e.BackendID, e.RetryIn)
	}
	return fmt.Sprintf("backend %s: circuit half-open, probe in flight", e.BackendID)
}

// IsCircuitOpen checks if an error is a *CircuitOpenError.
func IsCircuitOpen(err error) bool {
	var ce *CircuitOpenError
	return errors.As(err, &ce)
}

// AllBackendsExhaustedError is the terminal error when every tier in the
// chain was tried or skipped without success. It carries the complete
// ordered attempt trail so callers can present a meaningful diagnostic.
type AllBackendsExhaustedError struct {
	// Attempts is the ordered trail, one entry per tier.
	Attempts []FallbackAttempt

	// RetryAfter is the suggested wait before the caller retries, derived
	// from the largest backend-supplied hint and the breaker cooldown.
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *AllBackendsExhaustedError) Error() string {
	return fmt.Sprintf("all %d backends exhausted, retry after %s", len(e.Attempts), e.RetryAfter)
}

// IsAllBackendsExhausted extracts an *AllBackendsExhaustedError.
func IsAllBackendsExhausted(err error) (*AllBackendsExhaustedError, bool) {
	var ee *AllBackendsExhaustedError
	ok := errors.As(err, &ee)
	return ee, ok
}

// NotConfiguredError is returned when the chain for a usage type is empty
// or entirely disabled. This is a configuration error, not a runtime
// failure: no attempts were made.
type NotConfiguredError struct {
	UsageType datatypes.UsageType
}

// Error implements the error interface.
func (e *NotConfiguredError) Error() string {
	return fmt.Sprintf("no enabled backends configured for usage type %q", e.UsageType)
}

// IsNotConfigured checks if an error is a *NotConfiguredError.
func IsNotConfigured(err error) bool {
	var ne *NotConfiguredError
	return errors.As(err, &ne)
}
