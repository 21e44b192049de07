// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers contains the gin HTTP handlers for the lineage API.
//
// Handlers stay thin: they bind and validate payloads, call a service,
// and map typed service errors to HTTP status codes.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/AleutianLineage/services/inference"
	"github.com/AleutianAI/AleutianLineage/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianLineage/services/orchestrator/services"
)

var chatTracer = otel.Tracer("lineage.orchestrator.handlers")

// statusClientClosedRequest mirrors the nginx convention for requests the
// client abandoned before a response was written.
const statusClientClosedRequest = 499

// HandleLineageChat serves POST /v1/lineage/chat.
func HandleLineageChat(svc *services.LineageQAService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := chatTracer.Start(c.Request.Context(), "HandleLineageChat")
		defer span.End()

		var req datatypes.LineageChatRequest
		if err := c.BindJSON(&req); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "bad request body")
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}

		resp, err := svc.Process(ctx, &req)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			writeChatError(c, err)
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

// writeChatError maps typed service and routing errors onto HTTP statuses.
func writeChatError(c *gin.Context, err error) {
	var pve *services.PolicyViolationError
	if errors.As(err, &pve) {
		slog.Warn("Blocked lineage question due to policy violation",
			"findings", len(pve.Findings))
		c.JSON(http.StatusForbidden, gin.H{
			"error":    "policy violation: input contains sensitive data",
			"findings": pve.Findings,
		})
		return
	}

	if services.IsRetrievalError(err) {
		slog.Error("Retrieval boundary failed", "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	if inference.IsNotConfigured(err) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}

	if exhausted, ok := inference.IsAllBackendsExhausted(err); ok {
		slog.Error("All backends exhausted", "attempts", len(exhausted.Attempts))
		if exhausted.RetryAfter > 0 {
			c.Header("Retry-After", fmt.Sprintf("%d", int(exhausted.RetryAfter.Seconds())))
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":    "all backends exhausted",
			"attempts": exhausted.Attempts,
		})
		return
	}

	if errors.Is(err, context.Canceled) {
		c.AbortWithStatus(statusClientClosedRequest)
		return
	}
	if errors.Is(err, context.DeadlineExceeded) {
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "request timed out"})
		return
	}

	if services.IsValidationError(err) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	slog.Error("Lineage chat failed", "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
