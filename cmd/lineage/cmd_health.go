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
	"fmt"
	"log"
	"sort"

	"github.com/spf13/cobra"
)

type healthReport struct {
	Status   string            `json:"status"`
	Breakers map[string]string `json:"breakers"`
	Local    struct {
		Healthy      bool     `json:"healthy"`
		LoadedModels []string `json:"loaded_models"`
		CheckedAt    string   `json:"checked_at"`
	} `json:"local"`
}

func runHealthCommand(cmd *cobra.Command, args []string) {
	var report healthReport
	healthURL := fmt.Sprintf("%s/healthz", getOrchestratorBaseURL())
	if err := doJSON("GET", healthURL, nil, &report); err != nil {
		log.Fatalf("Error: %v", err)
	}

	if healthJSONOutput {
		raw, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			log.Fatalf("Failed to render report: %v", err)
		}
		fmt.Println(string(raw))
		return
	}

	fmt.Printf("Orchestrator: %s\n", report.Status)

	fmt.Println("\nLocal backend:")
	if report.Local.Healthy {
		fmt.Printf("  healthy (models: %v)\n", report.Local.LoadedModels)
	} else {
		fmt.Println("  unreachable (cloud tiers still serve requests)")
	}

	if len(report.Breakers) == 0 {
		fmt.Println("\nNo circuit breakers registered yet.")
		return
	}
	ids := make([]string, 0, len(report.Breakers))
	for id := range report.Breakers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	fmt.Println("\nCircuit breakers:")
	for _, id := range ids {
		fmt.Printf("  %-20s %s\n", id, report.Breakers[id])
	}
}
