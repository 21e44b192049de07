// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import "time"

// ContextItem is one retrieved lineage chunk, ready for budget trimming.
//
// Items arrive from the retriever ordered by descending Relevance; the
// context manager relies on this ordering when trimming to a token budget.
type ContextItem struct {
	// Source is the artifact the chunk came from.
	Source string `json:"source"`

	// Content is the chunk text presented to the model.
	Content string `json:"content"`

	// Relevance is the retriever's score, higher is better.
	Relevance float64 `json:"relevance"`
}

// RetrievalRequest asks the retrieval boundary for candidate context chunks.
type RetrievalRequest struct {
	// Query is the question to retrieve context for.
	Query string `json:"query"`

	// SessionId scopes retrieval to session-visible artifacts when set.
	SessionId string `json:"session_id,omitempty"`

	// MaxChunks caps the number of returned items. Zero means default.
	MaxChunks int `json:"max_chunks,omitempty"`
}

// RetrievalResponse carries relevance-ordered context chunks.
type RetrievalResponse struct {
	// Items are ordered by descending relevance.
	Items []ContextItem `json:"items"`

	// HasRelevantDocs is false when nothing above the relevance floor was
	// found; callers may answer without context in that case.
	HasRelevantDocs bool `json:"has_relevant_docs"`
}

// ScriptUpload is the payload for POST /v1/scripts.
type ScriptUpload struct {
	// Name is the artifact name, e.g. "etl/load_orders.sql".
	Name string `json:"name" binding:"required"`

	// Content is the raw script text.
	Content string `json:"content" binding:"required"`

	// Dialect hints the SQL dialect for downstream parsing, e.g. "postgres".
	Dialect string `json:"dialect,omitempty"`
}

// ScriptUploadResponse acknowledges an accepted script.
type ScriptUploadResponse struct {
	Id         string    `json:"id"`
	Name       string    `json:"name"`
	ChunkCount int       `json:"chunk_count"`
	CreatedAt  time.Time `json:"created_at"`
}
