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
	"github.com/AleutianAI/AleutianLineage/services/orchestrator/datatypes"
)

// ResponseMode selects how the synthesis stage should construct an answer
// from the kept context.
type ResponseMode string

const (
	// ResponseModeDirect answers in one pass over a small context.
	ResponseModeDirect ResponseMode = "direct"

	// ResponseModeHierarchical summarizes groups of context items first,
	// then answers over the summaries. Used when many items survive
	// trimming.
	ResponseModeHierarchical ResponseMode = "hierarchical"
)

// ContextBudget allocates a bounded total prompt size across the prompt's
// constituent parts. All values are token counts, computed fresh per
// request from the configured percentage splits.
type ContextBudget struct {
	TotalTokens   int
	SystemShare   int
	ContextShare  int
	QuestionShare int
	ResponseShare int
}

// BudgetSplits holds the percentage allocations used to derive a
// ContextBudget. The four shares should sum to 100.
type BudgetSplits struct {
	SystemPct   int
	ContextPct  int
	QuestionPct int
	ResponsePct int
}

// DefaultBudgetSplits reserves most of the window for retrieved context
// while leaving a quarter for the model's answer.
func DefaultBudgetSplits() BudgetSplits {
	return BudgetSplits{
		SystemPct:   10,
		ContextPct:  55,
		QuestionPct: 10,
		ResponsePct: 25,
	}
}

// ComputeBudget derives a ContextBudget from a total window size.
func ComputeBudget(totalTokens int, splits BudgetSplits) ContextBudget {
	return ContextBudget{
		TotalTokens:   totalTokens,
		SystemShare:   totalTokens * splits.SystemPct / 100,
		ContextShare:  totalTokens * splits.ContextPct / 100,
		QuestionShare: totalTokens * splits.QuestionPct / 100,
		ResponseShare: totalTokens * splits.ResponsePct / 100,
	}
}

// TrimInfo reports what Trim did to the candidate context.
type TrimInfo struct {
	// Trimmed is true when at least one item was dropped.
	Trimmed bool

	// DroppedItems is the number of items removed.
	DroppedItems int

	// DroppedTokens is the estimated token count of the removed items.
	DroppedTokens int

	// KeptTokens is the estimated token count of the surviving items.
	KeptTokens int

	// OverBudget is true when even the minimum kept items exceed the
	// context share. The caller proceeds anyway rather than send an empty
	// context, accepting the risk of backend rejection.
	OverBudget bool
}

// AdaptiveContextManager shapes retrieved context to fit a token budget
// and recommends a response-construction strategy.
//
// # Description
//
// Trim walks items in descending relevance order, accumulating estimated
// token cost, and cuts the tail once the context share would be exceeded.
// It never drops below MinItems: when even the top MinItems overflow the
// budget they are kept and flagged OverBudget instead of producing an
// empty context.
//
// # Thread Safety
//
// Stateless apart from its configuration; safe for concurrent use.
type AdaptiveContextManager struct {
	estimator *TokenEstimator

	// minItems is the floor on kept context items. Default: 1
	minItems int

	// hierarchicalThreshold is the kept-item count at or above which
	// RecommendResponseMode switches to hierarchical. Default: 5
	hierarchicalThreshold int
}

// NewAdaptiveContextManager wires a manager to a token estimator.
// Non-positive knobs fall back to defaults.
func NewAdaptiveContextManager(estimator *TokenEstimator, minItems, hierarchicalThreshold int) *AdaptiveContextManager {
	if minItems <= 0 {
		minItems = 1
	}
	if hierarchicalThreshold <= 0 {
		hierarchicalThreshold = 5
	}
	return &AdaptiveContextManager{
		estimator:             estimator,
		minItems:              minItems,
		hierarchicalThreshold: hierarchicalThreshold,
	}
}

// Trim returns the prefix of items that fits budget.ContextShare, plus a
// report of what was cut. Items must already be sorted by descending
// relevance; Trim preserves their order.
func (m *AdaptiveContextManager) Trim(items []datatypes.ContextItem, budget ContextBudget) ([]datatypes.ContextItem, TrimInfo) {
	var info TrimInfo
	if len(items) == 0 {
		return nil, info
	}

	costs := make([]int, len(items))
	total := 0
	for i, item := range items {
		costs[i] = m.estimator.Estimate(item.Content)
		total += costs[i]
	}

	kept := 0
	running := 0
	for i := range items {
		if running+costs[i] > budget.ContextShare && kept >= m.minItems {
			break
		}
		running += costs[i]
		kept++
	}

	info.KeptTokens = running
	info.DroppedItems = len(items) - kept
	info.DroppedTokens = total - running
	info.Trimmed = info.DroppedItems > 0
	info.OverBudget = running > budget.ContextShare
	return items[:kept], info
}

// RecommendResponseMode picks the synthesis strategy for the given number
// of kept context items.
func (m *AdaptiveContextManager) RecommendResponseMode(keptItemCount int) ResponseMode {
	if keptItemCount >= m.hierarchicalThreshold {
		return ResponseModeHierarchical
	}
	return ResponseModeDirect
}
