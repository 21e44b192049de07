// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"os"
	"testing"
)

func TestGetOrchestratorBaseURLDefault(t *testing.T) {
	os.Unsetenv("LINEAGE_ORCHESTRATOR_URL")
	if got := getOrchestratorBaseURL(); got != "http://localhost:12210" {
		t.Errorf("Unexpected default base URL: %s", got)
	}
}

func TestGetOrchestratorBaseURLEnvOverride(t *testing.T) {
	os.Setenv("LINEAGE_ORCHESTRATOR_URL", "http://example.internal:9999")
	defer os.Unsetenv("LINEAGE_ORCHESTRATOR_URL")
	if got := getOrchestratorBaseURL(); got != "http://example.internal:9999" {
		t.Errorf("Env override not honored: %s", got)
	}
}

func TestDoJSONRejectsBadJSON(t *testing.T) {
	// Marshal failure surfaces before any network traffic.
	err := doJSON("POST", "http://localhost:1/v1/none", make(chan int), nil)
	if err == nil {
		t.Fatal("Expected an error for an unmarshalable payload")
	}
}
