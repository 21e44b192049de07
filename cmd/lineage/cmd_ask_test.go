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
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
)

func TestSendChatRequest(t *testing.T) {
	mockOrchestrator := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/lineage/chat" {
			t.Errorf("Expected path /v1/lineage/chat, got %s", r.URL.Path)
		}

		var reqBody map[string]interface{}
		json.NewDecoder(r.Body).Decode(&reqBody)
		if reqBody["question"] != "Where does revenue come from?" {
			t.Errorf("Unexpected question: %v", reqBody["question"])
		}
		if reqBody["session_id"] != "session-1" {
			t.Errorf("Unexpected session_id: %v", reqBody["session_id"])
		}

		resp := map[string]interface{}{
			"answer":     "revenue is derived from orders and refunds",
			"session_id": "session-1",
			"sources": []map[string]interface{}{
				{"source": "load_revenue.sql", "relevance": 0.91},
			},
			"backend_used": "local-ollama",
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer mockOrchestrator.Close()

	os.Setenv("LINEAGE_ORCHESTRATOR_URL", mockOrchestrator.URL)
	defer os.Unsetenv("LINEAGE_ORCHESTRATOR_URL")

	response, err := sendChatRequest("Where does revenue come from?", "session-1", 0)
	if err != nil {
		t.Fatalf("sendChatRequest returned error: %v", err)
	}
	if response.Answer != "revenue is derived from orders and refunds" {
		t.Errorf("Unexpected answer: %q", response.Answer)
	}
	if len(response.Sources) != 1 || response.Sources[0].Source != "load_revenue.sql" {
		t.Errorf("Unexpected sources: %+v", response.Sources)
	}
	if response.BackendUsed != "local-ollama" {
		t.Errorf("Unexpected backend: %q", response.BackendUsed)
	}
}

func TestSendChatRequestErrorStatus(t *testing.T) {
	mockOrchestrator := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(map[string]string{"error": "policy violation"})
	}))
	defer mockOrchestrator.Close()

	os.Setenv("LINEAGE_ORCHESTRATOR_URL", mockOrchestrator.URL)
	defer os.Unsetenv("LINEAGE_ORCHESTRATOR_URL")

	_, err := sendChatRequest("AKIA question", "", 0)
	if err == nil {
		t.Fatal("Expected an error for a 403 response")
	}
}
