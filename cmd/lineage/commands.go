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
	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	sessionID        string
	maxChunks        int
	scriptDialect    string
	scriptSession    string
	healthJSONOutput bool

	rootCmd = &cobra.Command{
		Use:   "lineage",
		Short: "A cli to interact with the AleutianLineage orchestrator",
		Long: `Lineage is a tool for asking data-lineage questions, managing
				ingested scripts, and administering the fallback chains of a
				running AleutianLineage orchestrator.`,
	}

	// --- Ask ---
	askCmd = &cobra.Command{
		Use:   "ask [question]",
		Short: "Asks a lineage question grounded on the ingested scripts",
		Args:  cobra.MinimumNArgs(1),
		Run:   runAskCommand, // Defined in cmd_ask.go
	}

	// --- Scripts ---
	scriptsCmd = &cobra.Command{
		Use:   "scripts",
		Short: "Manage the scripts indexed into the knowledge base",
	}
	uploadScriptCmd = &cobra.Command{
		Use:   "upload [file path...]",
		Short: "Scans local script files for secrets before indexing them",
		Args:  cobra.MinimumNArgs(1),
		Run:   runUploadScripts, // Defined in cmd_scripts.go
	}
	listScriptsCmd = &cobra.Command{
		Use:   "list",
		Short: "List all indexed scripts and their chunk counts",
		Run:   runListScripts, // Defined in cmd_scripts.go
	}
	deleteScriptCmd = &cobra.Command{
		Use:   "delete [script-name]",
		Short: "Deletes a script and all its chunks",
		Args:  cobra.ExactArgs(1),
		Run:   runDeleteScript, // Defined in cmd_scripts.go
	}

	// --- Fallback Chains ---
	chainsCmd = &cobra.Command{
		Use:   "chains",
		Short: "Manage the per-usage provider fallback chains",
	}
	listChainsCmd = &cobra.Command{
		Use:   "list",
		Short: "List the configured fallback chains",
		Run:   runListChains, // Defined in cmd_chains.go
	}
	getChainCmd = &cobra.Command{
		Use:   "get [usage-type]",
		Short: "Show the fallback chain for a usage type",
		Args:  cobra.ExactArgs(1),
		Run:   runGetChain, // Defined in cmd_chains.go
	}
	setChainCmd = &cobra.Command{
		Use:   "set [usage-type] [chain.json]",
		Short: "Replace the fallback chain for a usage type from a JSON file",
		Args:  cobra.ExactArgs(2),
		Run:   runSetChain, // Defined in cmd_chains.go
	}
	deleteChainCmd = &cobra.Command{
		Use:   "delete [usage-type]",
		Short: "Delete the fallback chain override for a usage type",
		Args:  cobra.ExactArgs(1),
		Run:   runDeleteChain, // Defined in cmd_chains.go
	}

	// --- Health ---
	healthCmd = &cobra.Command{
		Use:   "health",
		Short: "Show breaker states and local backend health of the orchestrator",
		Run:   runHealthCommand, // Defined in cmd_health.go
	}
)

// init runs when the Go program starts
func init() {
	rootCmd.AddCommand(askCmd)
	askCmd.Flags().StringVar(&sessionID, "session", "", "Continue a conversation using a specific session ID.")
	askCmd.Flags().IntVar(&maxChunks, "max-chunks", 0, "Maximum script chunks to retrieve (0 uses the server default)")

	rootCmd.AddCommand(scriptsCmd)
	scriptsCmd.AddCommand(uploadScriptCmd)
	scriptsCmd.AddCommand(listScriptsCmd)
	scriptsCmd.AddCommand(deleteScriptCmd)
	uploadScriptCmd.Flags().StringVar(&scriptDialect, "dialect", "", "SQL dialect hint (e.g., hive, postgres, spark)")
	uploadScriptCmd.Flags().StringVar(&scriptSession, "session", "", "Scope the upload to a session ID")
	deleteScriptCmd.Flags().StringVar(&scriptSession, "session", "", "Only delete chunks scoped to this session ID")

	rootCmd.AddCommand(chainsCmd)
	chainsCmd.AddCommand(listChainsCmd)
	chainsCmd.AddCommand(getChainCmd)
	chainsCmd.AddCommand(setChainCmd)
	chainsCmd.AddCommand(deleteChainCmd)

	rootCmd.AddCommand(healthCmd)
	healthCmd.Flags().BoolVar(&healthJSONOutput, "json", false, "Output as JSON for scripting")
}
