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
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianLineage/services/inference"
)

// Healthz serves GET /healthz.
//
// The endpoint always returns 200 once the process is serving; degraded
// local inference is reported in the body, not the status code, so
// orchestrators don't restart a pod that can still serve from cloud
// tiers.
func Healthz(router *inference.Router) gin.HandlerFunc {
	return func(c *gin.Context) {
		states := router.BreakerStates()
		breakers := make(map[string]string, len(states))
		for id, state := range states {
			breakers[id] = state.String()
		}

		local := router.LocalHealth(c.Request.Context())

		c.JSON(http.StatusOK, gin.H{
			"status":   "ok",
			"breakers": breakers,
			"local": gin.H{
				"healthy":       local.Healthy,
				"loaded_models": local.LoadedModels,
				"checked_at":    local.CheckedAt,
			},
		})
	}
}
