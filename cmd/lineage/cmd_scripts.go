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
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"

	"github.com/AleutianAI/AleutianLineage/services/orchestrator/datatypes"
	"github.com/spf13/cobra"
)

func runUploadScripts(cmd *cobra.Command, args []string) {
	for _, path := range args {
		content, err := os.ReadFile(path)
		if err != nil {
			log.Fatalf("Failed to read %s: %v", path, err)
		}

		upload := datatypes.ScriptUpload{
			Name:    filepath.Base(path),
			Content: string(content),
			Dialect: scriptDialect,
		}

		uploadURL := fmt.Sprintf("%s/v1/scripts", getOrchestratorBaseURL())
		if scriptSession != "" {
			uploadURL += "?session_id=" + url.QueryEscape(scriptSession)
		}

		var resp datatypes.ScriptUploadResponse
		if err := doJSON("POST", uploadURL, upload, &resp); err != nil {
			log.Fatalf("Failed to upload %s: %v", upload.Name, err)
		}
		fmt.Printf("Indexed %s as %d chunk(s)\n", resp.Name, resp.ChunkCount)
	}
}

func runListScripts(cmd *cobra.Command, args []string) {
	var resp struct {
		Scripts []string `json:"scripts"`
	}
	listURL := fmt.Sprintf("%s/v1/scripts", getOrchestratorBaseURL())
	if err := doJSON("GET", listURL, nil, &resp); err != nil {
		log.Fatalf("Error: %v", err)
	}

	if len(resp.Scripts) == 0 {
		fmt.Println("No scripts indexed yet.")
		return
	}
	fmt.Printf("Indexed scripts (%d):\n", len(resp.Scripts))
	for _, name := range resp.Scripts {
		fmt.Printf("  %s\n", name)
	}
}

func runDeleteScript(cmd *cobra.Command, args []string) {
	name := args[0]
	deleteURL := fmt.Sprintf("%s/v1/scripts/%s", getOrchestratorBaseURL(), url.PathEscape(name))
	if scriptSession != "" {
		deleteURL += "?session_id=" + url.QueryEscape(scriptSession)
	}
	if err := doJSON("DELETE", deleteURL, nil, nil); err != nil {
		log.Fatalf("Failed to delete %s: %v", name, err)
	}
	fmt.Printf("Deleted %s and all its chunks\n", name)
}
