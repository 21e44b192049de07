// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm provides a uniform client contract over heterogeneous
// inference backends (local Ollama engine, OpenAI-compatible APIs, the
// Anthropic Messages API).
//
// Each adapter maps backend-specific failure signals onto the shared error
// taxonomy in errors.go; the inference router treats all backends uniformly
// through the LLMClient interface and never branches on backend kind.
package llm

import (
	"context"
	"fmt"

	"github.com/AleutianAI/AleutianLineage/services/orchestrator/datatypes"
)

// GenerationParams carries optional generation knobs. Pointer fields
// distinguish "unset" from an explicit zero.
type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopK        *int     `json:"top_k"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`

	// StrictJSON asks the backend for structured (JSON) output when the
	// backend supports it. Used by background annotation, ignored by
	// backends without a native structured-output mode.
	StrictJSON bool `json:"strict_json"`
}

// StreamEventType discriminates streaming events.
type StreamEventType int

const (
	// StreamEventToken carries a generated text fragment.
	StreamEventToken StreamEventType = iota

	// StreamEventDone signals the end of the stream.
	StreamEventDone

	// StreamEventError carries a terminal stream failure.
	StreamEventError
)

// StreamEvent is one unit of streamed output.
type StreamEvent struct {
	Type    StreamEventType
	Content string
	Err     error
}

// StreamCallback receives streaming events in order. Returning a non-nil
// error aborts the stream.
type StreamCallback func(event StreamEvent) error

// LLMClient defines the standard interface for any inference backend.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use: one client instance is
// shared across all requests that target the same backend descriptor.
//
// # Errors
//
// Generate and GenerateStream return either a *ProviderError (classified
// backend failure) or the caller's context error when the caller cancelled.
type LLMClient interface {
	// Generate produces a completion for prompt, blocking until the
	// backend answers or ctx is done.
	Generate(ctx context.Context, prompt string, params GenerationParams) (string, error)

	// GenerateStream produces a completion incrementally, invoking
	// callback for each token event. Cancellation of ctx aborts the
	// in-flight call; partial output is discarded by the caller.
	GenerateStream(ctx context.Context, prompt string, params GenerationParams, callback StreamCallback) error
}

// NewClient constructs the adapter for a backend descriptor.
//
// # Description
//
// Factory used by the inference router when it first encounters a backend
// id. The descriptor's Kind selects the adapter; Endpoint and ModelID
// configure it. Remote adapters load their API keys from the environment or
// container secrets at construction time.
func NewClient(desc datatypes.BackendDescriptor) (LLMClient, error) {
	switch desc.Kind {
	case datatypes.BackendKindOllama:
		return NewOllamaClient(desc.Endpoint, desc.ModelID)
	case datatypes.BackendKindOpenAI:
		return NewOpenAIClient(desc.Endpoint, desc.ModelID)
	case datatypes.BackendKindAnthropic:
		return NewAnthropicClient(desc.Endpoint, desc.ModelID)
	default:
		return nil, fmt.Errorf("unknown backend kind %q", desc.Kind)
	}
}
