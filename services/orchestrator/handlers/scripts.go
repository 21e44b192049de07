// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianLineage/pkg/validation"
	"github.com/AleutianAI/AleutianLineage/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianLineage/services/orchestrator/retrieval"
	"github.com/AleutianAI/AleutianLineage/services/policy_engine"
)

// UploadScript serves POST /v1/scripts.
//
// The script is scanned against the data classification policy before
// ingestion; a finding blocks the upload so secrets never reach the
// vector store.
func UploadScript(indexer *retrieval.ScriptIndexer, pe *policy_engine.PolicyEngine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var upload datatypes.ScriptUpload
		if err := c.BindJSON(&upload); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}

		name, err := validation.SanitizeScriptName(upload.Name)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		upload.Name = name

		sessionID := c.Query("session_id")
		if err := validation.ValidateSessionID(sessionID); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		if pe != nil {
			if findings := pe.ScanFileContent(upload.Content); len(findings) > 0 {
				slog.Warn("Blocked script upload due to policy violation",
					"script", upload.Name, "findings", len(findings))
				c.JSON(http.StatusForbidden, gin.H{
					"error":    "policy violation: script contains sensitive data",
					"findings": findings,
				})
				return
			}
		}

		chunks, err := indexer.IndexScript(c.Request.Context(), sessionID, upload)
		if err != nil {
			slog.Error("Script ingestion failed", "script", upload.Name, "error", err)
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}

		slog.Info("Ingested script", "script", upload.Name, "chunks", chunks)
		c.JSON(http.StatusCreated, datatypes.ScriptUploadResponse{
			Id:         "script_" + uuid.NewString(),
			Name:       upload.Name,
			ChunkCount: chunks,
			CreatedAt:  time.Now().UTC(),
		})
	}
}

// ListScripts serves GET /v1/scripts.
func ListScripts(indexer *retrieval.ScriptIndexer) gin.HandlerFunc {
	return func(c *gin.Context) {
		names, err := indexer.ListScripts(c.Request.Context())
		if err != nil {
			slog.Error("Failed to list scripts", "error", err)
			c.JSON(http.StatusBadGateway, gin.H{"error": "failed to list scripts"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"scripts": names})
	}
}

// DeleteScript serves DELETE /v1/scripts/:name.
func DeleteScript(indexer *retrieval.ScriptIndexer) gin.HandlerFunc {
	return func(c *gin.Context) {
		name, err := validation.SanitizeScriptName(c.Param("name"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := indexer.DeleteScript(c.Request.Context(), c.Query("session_id"), name); err != nil {
			slog.Error("Failed to delete script", "script", name, "error", err)
			c.JSON(http.StatusBadGateway, gin.H{"error": "failed to delete script"})
			return
		}
		c.Status(http.StatusNoContent)
	}
}
