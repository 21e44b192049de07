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

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianLineage/services/orchestrator/configstore"
	"github.com/AleutianAI/AleutianLineage/services/orchestrator/datatypes"
)

// ListChains serves GET /v1/config/chains.
func ListChains(store *configstore.ChainStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		chains, err := store.ListFallbackChains(c.Request.Context())
		if err != nil {
			slog.Error("Failed to list fallback chains", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list chains"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"chains": chains})
	}
}

// GetChain serves GET /v1/config/chains/:usage.
func GetChain(store *configstore.ChainStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		usage := datatypes.UsageType(c.Param("usage"))
		if !usage.IsValid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown usage type"})
			return
		}

		chain, err := store.GetFallbackChain(c.Request.Context(), usage)
		if err != nil {
			slog.Error("Failed to load fallback chain", "usage", usage, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load chain"})
			return
		}
		if chain == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "no chain configured for usage type"})
			return
		}
		c.JSON(http.StatusOK, chain)
	}
}

// PutChain serves PUT /v1/config/chains/:usage.
//
// The body is a full FallbackChain; its usage type must match the path.
func PutChain(store *configstore.ChainStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		usage := datatypes.UsageType(c.Param("usage"))
		if !usage.IsValid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown usage type"})
			return
		}

		var chain datatypes.FallbackChain
		if err := c.BindJSON(&chain); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if chain.UsageType == "" {
			chain.UsageType = usage
		}
		if chain.UsageType != usage {
			c.JSON(http.StatusBadRequest, gin.H{"error": "usage type in body does not match path"})
			return
		}

		if err := store.PutFallbackChain(c.Request.Context(), &chain); err != nil {
			slog.Warn("Rejected fallback chain update", "usage", usage, "error", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		slog.Info("Updated fallback chain", "usage", usage, "backends", len(chain.Backends))
		c.JSON(http.StatusOK, chain)
	}
}

// DeleteChain serves DELETE /v1/config/chains/:usage.
func DeleteChain(store *configstore.ChainStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		usage := datatypes.UsageType(c.Param("usage"))
		if !usage.IsValid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown usage type"})
			return
		}

		if err := store.DeleteFallbackChain(c.Request.Context(), usage); err != nil {
			slog.Error("Failed to delete fallback chain", "usage", usage, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete chain"})
			return
		}
		c.Status(http.StatusNoContent)
	}
}
