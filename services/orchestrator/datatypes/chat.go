// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// chatValidator validates lineage chat requests. The single instance caches
// struct metadata across requests.
var chatValidator = validator.New()

// Message is a single conversational turn.
type Message struct {
	Role    string `json:"role" validate:"required,oneof=system user assistant"`
	Content string `json:"content" validate:"required"`
}

// LineageChatRequest is the inbound payload for POST /v1/lineage/chat.
//
// # Description
//
// Carries a natural-language question about SQL/code lineage plus optional
// session continuity and routing hints. EnsureDefaults must be called before
// Validate.
type LineageChatRequest struct {
	// Id uniquely identifies this request. Generated when empty.
	Id string `json:"id"`

	// Question is the user's lineage question.
	Question string `json:"question" validate:"required,min=1"`

	// SessionId groups multi-turn conversations. Generated when empty.
	SessionId string `json:"session_id"`

	// UsageType selects which fallback chain serves the request.
	// Defaults to lineage_qa.
	UsageType UsageType `json:"usage_type"`

	// MaxChunks caps how many context chunks retrieval may return.
	// Zero means the retriever's default.
	MaxChunks int `json:"max_chunks" validate:"gte=0,lte=50"`

	// History carries prior turns for conversational continuity.
	History []Message `json:"history,omitempty" validate:"dive"`

	// CreatedAt is the request timestamp. Populated when zero.
	CreatedAt time.Time `json:"created_at"`
}

// EnsureDefaults populates Id, UsageType, and CreatedAt when unset.
func (r *LineageChatRequest) EnsureDefaults() {
	if r.Id == "" {
		r.Id = "req_" + uuid.NewString()
	}
	if r.UsageType == "" {
		r.UsageType = UsageLineageQA
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
}

// EnsureSessionId returns the session id, generating one if absent.
func (r *LineageChatRequest) EnsureSessionId() string {
	if r.SessionId == "" {
		r.SessionId = "sess_" + uuid.NewString()
	}
	return r.SessionId
}

// Validate checks the request using the struct validation tags plus the
// usage-type enum.
func (r *LineageChatRequest) Validate() error {
	if strings.TrimSpace(r.Question) == "" {
		return fmt.Errorf("question is required")
	}
	if !r.UsageType.IsValid() {
		return fmt.Errorf("unknown usage type %q", r.UsageType)
	}
	return chatValidator.Struct(r)
}

// SourceRef cites one retrieved chunk that contributed to an answer.
type SourceRef struct {
	// Source is the originating artifact, e.g. "etl/load_orders.sql".
	Source string `json:"source"`

	// Relevance is the retriever's score for this chunk, higher is better.
	Relevance float64 `json:"relevance,omitempty"`
}

// LineageChatResponse is the outbound payload for POST /v1/lineage/chat.
//
// Provenance fields (BackendUsed, FallbackCount, Trimmed) surface how the
// inference router served the request so clients can display degraded-mode
// indicators.
type LineageChatResponse struct {
	Id        string      `json:"id"`
	Answer    string      `json:"answer"`
	SessionId string      `json:"session_id"`
	Sources   []SourceRef `json:"sources,omitempty"`

	// BackendUsed is the id of the backend that produced the answer.
	BackendUsed string `json:"backend_used"`

	// FallbackCount is how many tiers failed before the answer was produced.
	FallbackCount int `json:"fallback_count"`

	// Trimmed reports whether retrieved context was cut to fit the token
	// budget.
	Trimmed bool `json:"trimmed"`

	// TurnCount is the number of turns in the session including this one.
	TurnCount int `json:"turn_count"`

	CreatedAt time.Time `json:"created_at"`
}

// NewLineageChatResponse builds a response with a fresh id and timestamp.
func NewLineageChatResponse(answer, sessionId string, sources []SourceRef, turnCount int) *LineageChatResponse {
	return &LineageChatResponse{
		Id:        "resp_" + uuid.NewString(),
		Answer:    answer,
		SessionId: sessionId,
		Sources:   sources,
		TurnCount: turnCount,
		CreatedAt: time.Now().UTC(),
	}
}
