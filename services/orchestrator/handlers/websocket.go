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
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/AleutianLineage/services/inference"
	"github.com/AleutianAI/AleutianLineage/services/llm"
	"github.com/AleutianAI/AleutianLineage/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianLineage/services/orchestrator/services"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
}

// wsEvent is one frame sent to the streaming client.
//
// Type is "session_created", "token", "done", or "error". "done" carries
// the full response with sources and provenance; tokens arrive before it.
type wsEvent struct {
	Type      string                         `json:"type"`
	Content   string                         `json:"content,omitempty"`
	SessionId string                         `json:"session_id,omitempty"`
	Response  *datatypes.LineageChatResponse `json:"response,omitempty"`
	Error     string                         `json:"error,omitempty"`
}

func sendEvent(ws *websocket.Conn, ev wsEvent) error {
	if err := ws.WriteJSON(ev); err != nil {
		slog.Warn("Failed to write WebSocket JSON", "error", err)
		return err
	}
	return nil
}

// HandleChatStream serves WS /v1/lineage/chat/stream.
//
// # Description
//
// Each text frame from the client is a LineageChatRequest; the handler
// answers with a stream of "token" events followed by one "done" event.
// The session id is assigned on connect and reused for every question on
// the connection, so follow-up questions see session-scoped scripts.
//
// If a tier fails mid-stream the connection has already carried partial
// tokens; the handler reports the failure as an "error" event rather than
// replaying the answer from another tier.
func HandleChatStream(svc *services.LineageQAService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Error("Failed to upgrade the websocket", "error", err)
			return
		}
		defer ws.Close()

		sessionID := "sess_" + uuid.NewString()
		slog.Info("Websocket client connected", "sessionId", sessionID)

		if err := sendEvent(ws, wsEvent{Type: "session_created", SessionId: sessionID}); err != nil {
			return
		}

		for {
			var req datatypes.LineageChatRequest
			if err := ws.ReadJSON(&req); err != nil {
				slog.Info("Websocket client disconnected", "error", err.Error())
				return
			}
			req.SessionId = sessionID

			callback := func(ev llm.StreamEvent) error {
				if ev.Type == llm.StreamEventToken && ev.Content != "" {
					return sendEvent(ws, wsEvent{Type: "token", Content: ev.Content})
				}
				return nil
			}

			resp, err := svc.ProcessStream(c.Request.Context(), &req, callback)
			if err != nil {
				if writeErr := sendEvent(ws, wsEvent{Type: "error", Error: streamErrorMessage(err)}); writeErr != nil {
					return
				}
				continue
			}

			if err := sendEvent(ws, wsEvent{Type: "done", Response: resp}); err != nil {
				return
			}
		}
	}
}

// streamErrorMessage keeps client-facing text stable for the error shapes
// the UI distinguishes.
func streamErrorMessage(err error) string {
	if services.IsPolicyViolation(err) {
		return "policy violation: input contains sensitive data"
	}
	if inference.IsNotConfigured(err) {
		return "no fallback chain configured"
	}
	if _, ok := inference.IsAllBackendsExhausted(err); ok {
		return "all backends exhausted, retry later"
	}
	var pe *llm.ProviderError
	if errors.As(err, &pe) {
		return "generation interrupted: " + pe.Message
	}
	return err.Error()
}
