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
	"strings"

	"github.com/AleutianAI/AleutianLineage/services/orchestrator/datatypes"
	"github.com/spf13/cobra"
)

func runAskCommand(cmd *cobra.Command, args []string) {
	question := strings.Join(args, " ")
	fmt.Printf("Asking: %s\n", question)
	fmt.Println("---")

	chatResp, err := sendChatRequest(question, sessionID, maxChunks)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}

	fmt.Printf("\nAnswer:\n%s\n", chatResp.Answer)
	if len(chatResp.Sources) > 0 {
		fmt.Println("\nScripts Used:")
		for i, source := range chatResp.Sources {
			scoreInfo := ""
			if source.Relevance != 0 {
				scoreInfo = fmt.Sprintf("(Relevance: %.4f)", source.Relevance)
			}
			fmt.Printf("%d. %s %s\n", i+1, source.Source, scoreInfo)
		}
	} else {
		fmt.Println("\n(No indexed scripts were relevant to this question)")
	}
	fmt.Printf("\nBackend: %s", chatResp.BackendUsed)
	if chatResp.FallbackCount > 0 {
		fmt.Printf(" (after %d fallback(s))", chatResp.FallbackCount)
	}
	if chatResp.Trimmed {
		fmt.Print(" [context trimmed]")
	}
	fmt.Printf("\nSession: %s\n", chatResp.SessionId)
	fmt.Println("\n---")
}

func sendChatRequest(question, session string, chunks int) (datatypes.LineageChatResponse, error) {
	var chatResp datatypes.LineageChatResponse

	req := datatypes.LineageChatRequest{
		Question:  question,
		SessionId: session,
		MaxChunks: chunks,
	}
	url := fmt.Sprintf("%s/v1/lineage/chat", getOrchestratorBaseURL())
	if err := doJSON("POST", url, req, &chatResp); err != nil {
		return chatResp, err
	}
	return chatResp, nil
}
