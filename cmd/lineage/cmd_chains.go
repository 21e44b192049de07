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
	"net/url"
	"os"

	"github.com/AleutianAI/AleutianLineage/services/orchestrator/datatypes"
	"github.com/spf13/cobra"
)

func printChain(chain datatypes.FallbackChain) {
	fmt.Printf("%s:\n", chain.UsageType)
	for _, backend := range chain.Backends {
		state := ""
		if !backend.Enabled {
			state = " (disabled)"
		}
		fmt.Printf("  p%d  %-12s kind=%-10s model=%s%s\n",
			backend.Priority, backend.ID, backend.Kind, backend.ModelID, state)
	}
}

func runListChains(cmd *cobra.Command, args []string) {
	var resp struct {
		Chains []datatypes.FallbackChain `json:"chains"`
	}
	listURL := fmt.Sprintf("%s/v1/config/chains", getOrchestratorBaseURL())
	if err := doJSON("GET", listURL, nil, &resp); err != nil {
		log.Fatalf("Error: %v", err)
	}

	if len(resp.Chains) == 0 {
		fmt.Println("No fallback chains configured.")
		return
	}
	for _, chain := range resp.Chains {
		printChain(chain)
	}
}

func runGetChain(cmd *cobra.Command, args []string) {
	usage := args[0]
	var chain datatypes.FallbackChain
	getURL := fmt.Sprintf("%s/v1/config/chains/%s", getOrchestratorBaseURL(), url.PathEscape(usage))
	if err := doJSON("GET", getURL, nil, &chain); err != nil {
		log.Fatalf("Error: %v", err)
	}
	printChain(chain)
}

func runSetChain(cmd *cobra.Command, args []string) {
	usage, path := args[0], args[1]

	raw, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("Failed to read %s: %v", path, err)
	}
	var chain datatypes.FallbackChain
	if err := json.Unmarshal(raw, &chain); err != nil {
		log.Fatalf("Failed to parse %s: %v", path, err)
	}

	var stored datatypes.FallbackChain
	putURL := fmt.Sprintf("%s/v1/config/chains/%s", getOrchestratorBaseURL(), url.PathEscape(usage))
	if err := doJSON("PUT", putURL, chain, &stored); err != nil {
		log.Fatalf("Error: %v", err)
	}
	fmt.Println("Stored chain:")
	printChain(stored)
}

func runDeleteChain(cmd *cobra.Command, args []string) {
	usage := args[0]
	deleteURL := fmt.Sprintf("%s/v1/config/chains/%s", getOrchestratorBaseURL(), url.PathEscape(usage))
	if err := doJSON("DELETE", deleteURL, nil, nil); err != nil {
		log.Fatalf("Error: %v", err)
	}
	fmt.Printf("Deleted chain override for %s (defaults apply on next request)\n", usage)
}
