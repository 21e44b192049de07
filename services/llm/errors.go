// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// =============================================================================
// Error Taxonomy
// =============================================================================

// ErrorKind classifies backend failures into the categories the inference
// router acts on. Every adapter maps its native failure signals onto exactly
// one kind so the router never has to inspect provider-specific errors.
type ErrorKind string

const (
	// ErrKindOutOfMemory means the local engine could not fit the request
	// in memory. Only local backends produce this kind.
	ErrKindOutOfMemory ErrorKind = "out_of_memory"

	// ErrKindRateLimited means the backend rejected the request with a rate
	// limit (HTTP 429). May carry a server-supplied retry-after hint.
	ErrKindRateLimited ErrorKind = "rate_limited"

	// ErrKindTimeout means the call exceeded its deadline before the
	// backend produced a response.
	ErrKindTimeout ErrorKind = "timeout"

	// ErrKindServiceUnavailable means the backend is unreachable or
	// overloaded (connection refused, HTTP 502/503/504).
	ErrKindServiceUnavailable ErrorKind = "service_unavailable"

	// ErrKindMalformedResponse means the backend answered but the body was
	// not parseable or contained no text.
	ErrKindMalformedResponse ErrorKind = "malformed_response"
)

// String returns the kind as a label suitable for logs and metrics.
func (k ErrorKind) String() string { return string(k) }

// ProviderError is the classified failure returned by every adapter.
//
// # Description
//
// Wraps a backend-specific failure with the shared taxonomy kind so the
// router can decide advance-vs-stop without provider knowledge. Use
// errors.As (or AsProviderError) to recover it through wrapping.
//
// Context cancellation is deliberately NOT a ProviderError: adapters return
// ctx.Err() unchanged so the router can distinguish caller-initiated
// cancellation from backend-attributable failure.
type ProviderError struct {
	// Kind is the taxonomy classification.
	Kind ErrorKind

	// Backend is the backend id or kind that produced the failure.
	Backend string

	// StatusCode is the HTTP status when the failure came from an HTTP
	// response, zero otherwise.
	StatusCode int

	// RetryAfter is the server-supplied backoff hint (429 responses),
	// zero when absent.
	RetryAfter time.Duration

	// Message is a short human-readable description.
	Message string
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s (status %d): %s", e.Backend, e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Backend, e.Kind, e.Message)
}

// AsProviderError extracts a *ProviderError from an error chain.
func AsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	ok := errors.As(err, &pe)
	return pe, ok
}

// IsKind reports whether err is a ProviderError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	pe, ok := AsProviderError(err)
	return ok && pe.Kind == kind
}

// =============================================================================
// Classification Helpers
// =============================================================================

// oomMarkers are substrings that identify memory exhaustion in local engine
// error bodies. Ollama and llama.cpp report OOM as a 500 with one of these
// phrases rather than a dedicated status code.
var oomMarkers = []string{
	"out of memory",
	"requires more system memory",
	"cuda error",
	"failed to allocate",
}

// classifyHTTPStatus maps an HTTP error response onto the taxonomy.
//
// local selects the OOM body sniff, which only makes sense for locally
// hosted engines. retryAfter is the parsed Retry-After header value, zero
// when absent.
func classifyHTTPStatus(backend string, status int, body string, retryAfter time.Duration, local bool) *ProviderError {
	kind := ErrKindMalformedResponse
	switch {
	case status == http.StatusTooManyRequests:
		kind = ErrKindRateLimited
	case status == http.StatusBadGateway,
		status == http.StatusServiceUnavailable,
		status == http.StatusGatewayTimeout:
		kind = ErrKindServiceUnavailable
	case local && status >= 500 && containsAny(strings.ToLower(body), oomMarkers):
		kind = ErrKindOutOfMemory
	case status >= 500:
		kind = ErrKindServiceUnavailable
	}

	msg := strings.TrimSpace(body)
	if len(msg) > 240 {
		msg = msg[:240]
	}
	return &ProviderError{
		Kind:       kind,
		Backend:    backend,
		StatusCode: status,
		RetryAfter: retryAfter,
		Message:    msg,
	}
}

// classifyTransportError maps a transport-level failure onto the taxonomy.
//
// Caller cancellation passes through untouched: when ctx is done with
// context.Canceled the original context error is returned so circuit
// breaker bookkeeping can skip it.
func classifyTransportError(ctx context.Context, backend string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
		return context.Canceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &ProviderError{
			Kind:    ErrKindTimeout,
			Backend: backend,
			Message: err.Error(),
		}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &ProviderError{
			Kind:    ErrKindTimeout,
			Backend: backend,
			Message: err.Error(),
		}
	}
	// Connection refused, DNS failure, reset: the backend is unreachable.
	return &ProviderError{
		Kind:    ErrKindServiceUnavailable,
		Backend: backend,
		Message: err.Error(),
	}
}

// parseRetryAfter reads a Retry-After header expressed in seconds.
// Returns zero for absent or unparseable values.
func parseRetryAfter(h http.Header) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}
