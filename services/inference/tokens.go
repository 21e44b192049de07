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

import "unicode/utf8"

// charsPerToken is the character-to-token ratio used for estimation.
// Common tokenizers average around 4 characters per token for English
// prose; 3.5 biases the estimate high so budget checks never let an
// over-long request reach a backend. SQL and code tokenize denser than
// prose, which this margin also absorbs.
const charsPerToken = 3.5

// TokenEstimator approximates the token length of arbitrary text.
//
// # Description
//
// Deterministic and allocation-free: a single pass counts runes and
// whitespace-separated words, and the estimate is the larger of
// runes/charsPerToken and the word count (no tokenizer emits fewer tokens
// than words). The estimate may exceed the true count by roughly 15% for
// prose; it never undershoots by more than the charsPerToken margin.
//
// # Thread Safety
//
// TokenEstimator is stateless and safe for concurrent use.
type TokenEstimator struct{}

// NewTokenEstimator returns an estimator.
func NewTokenEstimator() *TokenEstimator {
	return &TokenEstimator{}
}

// Estimate returns a conservative token count for text.
func (e *TokenEstimator) Estimate(text string) int {
	if text == "" {
		return 0
	}

	runes := utf8.RuneCountInString(text)
	words := 0
	inWord := false
	for _, r := range text {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' {
			inWord = false
			continue
		}
		if !inWord {
			words++
			inWord = true
		}
	}

	est := int(float64(runes)/charsPerToken) + 1
	if words > est {
		return words
	}
	return est
}
