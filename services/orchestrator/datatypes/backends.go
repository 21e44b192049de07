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
	"sort"
)

// BackendKind identifies one provider implementation.
type BackendKind string

const (
	// BackendKindOllama is the local Ollama inference engine.
	BackendKindOllama BackendKind = "ollama"

	// BackendKindOpenAI is the OpenAI chat-completions API or any
	// compatible endpoint.
	BackendKindOpenAI BackendKind = "openai"

	// BackendKindAnthropic is the Anthropic messages API.
	BackendKindAnthropic BackendKind = "anthropic"
)

// IsValid reports whether the kind names a known provider.
func (k BackendKind) IsValid() bool {
	switch k {
	case BackendKindOllama, BackendKindOpenAI, BackendKindAnthropic:
		return true
	}
	return false
}

// IsLocal reports whether the kind runs on local hardware. Local backends
// get longer timeouts and are subject to the health and size gate.
func (k BackendKind) IsLocal() bool {
	return k == BackendKindOllama
}

// UsageType names a workload that gets its own fallback chain.
type UsageType string

const (
	// UsageLineageQA answers questions about column lineage.
	UsageLineageQA UsageType = "lineage_qa"

	// UsageSummarization condenses lineage chains into prose.
	UsageSummarization UsageType = "summarization"

	// UsageScriptAnnotation annotates uploaded SQL scripts.
	UsageScriptAnnotation UsageType = "script_annotation"
)

// IsValid reports whether the usage type is known.
func (u UsageType) IsValid() bool {
	switch u {
	case UsageLineageQA, UsageSummarization, UsageScriptAnnotation:
		return true
	}
	return false
}

// BackendParameters tunes generation for one backend. Nil pointer fields
// mean "use the provider default".
type BackendParameters struct {
	Temperature *float32 `json:"temperature,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`

	// Streaming enables token streaming where the provider supports it.
	Streaming bool `json:"streaming"`

	// ReasoningMode requests extended reasoning on providers that offer
	// it. Ignored elsewhere.
	ReasoningMode bool `json:"reasoning_mode"`
}

// BackendDescriptor describes one tier of a fallback chain.
type BackendDescriptor struct {
	// ID uniquely names this backend within its chain.
	ID string `json:"id"`

	// Kind selects the provider implementation.
	Kind BackendKind `json:"kind"`

	// Endpoint is the provider base URL. Empty uses the kind's default.
	Endpoint string `json:"endpoint,omitempty"`

	// ModelID is the provider-side model name.
	ModelID string `json:"model_id"`

	// Priority orders the chain; 1 is tried first.
	Priority int `json:"priority"`

	// Enabled removes the tier from routing without deleting it.
	Enabled bool `json:"enabled"`

	Parameters BackendParameters `json:"parameters"`
}

// Validate checks the descriptor's required fields.
func (d *BackendDescriptor) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("backend descriptor missing id")
	}
	if !d.Kind.IsValid() {
		return fmt.Errorf("backend %s: unknown kind %q", d.ID, d.Kind)
	}
	if d.ModelID == "" {
		return fmt.Errorf("backend %s: missing model_id", d.ID)
	}
	if d.Priority < 1 {
		return fmt.Errorf("backend %s: priority must be >= 1, got %d", d.ID, d.Priority)
	}
	return nil
}

// FallbackChain is the priority-ordered backend list for one usage type.
type FallbackChain struct {
	UsageType UsageType           `json:"usage_type"`
	Backends  []BackendDescriptor `json:"backends"`
}

// Validate checks the chain and every descriptor in it.
func (c *FallbackChain) Validate() error {
	if !c.UsageType.IsValid() {
		return fmt.Errorf("unknown usage type %q", c.UsageType)
	}
	seen := make(map[string]struct{}, len(c.Backends))
	for i := range c.Backends {
		d := &c.Backends[i]
		if err := d.Validate(); err != nil {
			return err
		}
		if _, dup := seen[d.ID]; dup {
			return fmt.Errorf("duplicate backend id %q in chain %s", d.ID, c.UsageType)
		}
		seen[d.ID] = struct{}{}
	}
	return nil
}

// EnabledByPriority returns the enabled descriptors sorted by ascending
// priority. Ties keep their configured order. The receiver is not
// modified.
func (c *FallbackChain) EnabledByPriority() []BackendDescriptor {
	out := make([]BackendDescriptor, 0, len(c.Backends))
	for _, d := range c.Backends {
		if d.Enabled {
			out = append(out, d)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority < out[j].Priority
	})
	return out
}
