// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation utilities for security-critical operations.
//
// This package contains validators for user-provided inputs that end up in
// vector store filters or URL paths. Using these validators prevents filter
// injection and path traversal through script names and session ids.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// scriptNamePattern matches valid script file names.
// Allows: letters, digits, dots, underscores, hyphens. No path separators.
// Max length: 255 characters (common filesystem limit)
var scriptNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._\-]{0,254}$`)

// sessionIDPattern matches session identifiers issued by the orchestrator
// ("sess_" + UUID) as well as caller-provided opaque ids.
var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_\-]{0,63}$`)

// ValidateScriptName validates an uploaded script's file name.
//
// Valid names:
//   - 1-255 characters
//   - Letters, digits, dots, underscores, hyphens
//   - No path separators or leading dots
//
// Returns an error if the name is invalid.
//
// Example:
//
//	if err := validation.ValidateScriptName(upload.Name); err != nil {
//	    return fmt.Errorf("invalid script name: %w", err)
//	}
//	// Safe to use in a parent_source filter
func ValidateScriptName(name string) error {
	if name == "" {
		return fmt.Errorf("script name cannot be empty")
	}
	if strings.ContainsAny(name, "/\\") {
		return fmt.Errorf("script name %q must not contain path separators", name)
	}
	if !scriptNamePattern.MatchString(name) {
		return fmt.Errorf("invalid script name: %q (must be 1-255 alphanumeric chars, dots, underscores, or hyphens)", name)
	}
	return nil
}

// ValidateSessionID validates a conversation session identifier.
// An empty id is allowed; it means "no session scoping".
func ValidateSessionID(id string) error {
	if id == "" {
		return nil
	}
	if !sessionIDPattern.MatchString(id) {
		return fmt.Errorf("invalid session id: %q (must be 1-64 alphanumeric chars, underscores, or hyphens)", id)
	}
	return nil
}

// SanitizeScriptName normalizes and validates a script name.
// Returns the trimmed name if valid, or an error if invalid.
//
// Use this when you need both validation and normalization:
//
//	safeName, err := validation.SanitizeScriptName(userInput)
//	if err != nil {
//	    return err
//	}
//	// safeName is trimmed and validated
func SanitizeScriptName(name string) (string, error) {
	normalized := strings.TrimSpace(name)
	if err := ValidateScriptName(normalized); err != nil {
		return "", err
	}
	return normalized, nil
}
