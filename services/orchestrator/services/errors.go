// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianLineage/services/policy_engine"
)

// ValidationError wraps a request validation failure so handlers can map
// it to a 400 without string matching.
type ValidationError struct {
	Err error
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %v", e.Err)
}

// Unwrap supports errors.Is/As chains.
func (e *ValidationError) Unwrap() error { return e.Err }

// IsValidationError reports whether err is a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// PolicyViolationError is returned when a question or script contains
// content the policy engine classifies as sensitive. The request is
// blocked before any provider tier sees it.
type PolicyViolationError struct {
	Findings []policy_engine.ScanFinding
}

// Error implements the error interface.
func (e *PolicyViolationError) Error() string {
	classes := make(map[string]struct{}, len(e.Findings))
	names := make([]string, 0, 2)
	for _, f := range e.Findings {
		if _, seen := classes[f.ClassificationName]; !seen {
			classes[f.ClassificationName] = struct{}{}
			names = append(names, f.ClassificationName)
		}
	}
	return fmt.Sprintf("input blocked by policy: %d finding(s) [%s]",
		len(e.Findings), strings.Join(names, ", "))
}

// IsPolicyViolation reports whether err is a PolicyViolationError.
func IsPolicyViolation(err error) bool {
	var pve *PolicyViolationError
	return errors.As(err, &pve)
}

// RetrievalError wraps a failure from the retrieval boundary so handlers
// can map it to a 502 distinct from inference failures.
type RetrievalError struct {
	Err error
}

// Error implements the error interface.
func (e *RetrievalError) Error() string {
	return fmt.Sprintf("retrieval failed: %v", e.Err)
}

// Unwrap supports errors.Is/As chains.
func (e *RetrievalError) Unwrap() error { return e.Err }

// IsRetrievalError reports whether err is a RetrievalError.
func IsRetrievalError(err error) bool {
	var re *RetrievalError
	return errors.As(err, &re)
}
