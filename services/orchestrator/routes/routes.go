// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianLineage/services/inference"
	"github.com/AleutianAI/AleutianLineage/services/orchestrator/configstore"
	"github.com/AleutianAI/AleutianLineage/services/orchestrator/handlers"
	"github.com/AleutianAI/AleutianLineage/services/orchestrator/retrieval"
	"github.com/AleutianAI/AleutianLineage/services/orchestrator/services"
	"github.com/AleutianAI/AleutianLineage/services/policy_engine"
)

// Deps carries the wired dependencies SetupRoutes mounts handlers on.
type Deps struct {
	QAService      *services.LineageQAService
	ChainStore     *configstore.ChainStore
	ScriptIndexer  *retrieval.ScriptIndexer
	PolicyEngine   *policy_engine.PolicyEngine
	Router         *inference.Router
	MetricsHandler http.Handler
}

// SetupRoutes registers the lineage API on the gin engine.
func SetupRoutes(router *gin.Engine, deps Deps) {
	router.GET("/healthz", handlers.Healthz(deps.Router))
	if deps.MetricsHandler != nil {
		router.GET("/metrics", gin.WrapH(deps.MetricsHandler))
	}

	v1 := router.Group("/v1")
	{
		v1.POST("/lineage/chat", handlers.HandleLineageChat(deps.QAService))
		v1.GET("/lineage/chat/stream", handlers.HandleChatStream(deps.QAService))

		scripts := v1.Group("/scripts")
		{
			scripts.POST("", handlers.UploadScript(deps.ScriptIndexer, deps.PolicyEngine))
			scripts.GET("", handlers.ListScripts(deps.ScriptIndexer))
			scripts.DELETE("/:name", handlers.DeleteScript(deps.ScriptIndexer))
		}

		chains := v1.Group("/config/chains")
		{
			chains.GET("", handlers.ListChains(deps.ChainStore))
			chains.GET("/:usage", handlers.GetChain(deps.ChainStore))
			chains.PUT("/:usage", handlers.PutChain(deps.ChainStore))
			chains.DELETE("/:usage", handlers.DeleteChain(deps.ChainStore))
		}
	}
}
