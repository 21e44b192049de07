// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package retrieval finds lineage context chunks for a question.
//
// The package owns the read side of the Weaviate LineageChunk class:
// embedding the question, running a near-vector search scoped to the
// caller's session, and returning relevance-ordered context items ready
// for token-budget trimming. The write side (script ingestion) lives in
// indexer.go.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/AleutianLineage/services/orchestrator/datatypes"
)

var tracer = otel.Tracer("lineage.retrieval")

// ClassLineageChunk is the Weaviate class holding ingested script chunks.
const ClassLineageChunk = "LineageChunk"

// Retriever is the retrieval boundary consumed by the QA service.
//
// Implementations return items ordered by descending relevance; the
// context manager's trimming depends on that ordering.
type Retriever interface {
	Retrieve(ctx context.Context, req datatypes.RetrievalRequest) (*datatypes.RetrievalResponse, error)
}

// EmbeddingProvider computes vector embeddings for text.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Config tunes the Weaviate retriever.
//
// # Fields
//
//   - MaxChunks: default result cap when the request doesn't set one.
//   - MaxEmbedLength: queries longer than this are truncated before embedding.
//   - RelevanceFloor: chunks with certainty below this are dropped.
type Config struct {
	MaxChunks      int
	MaxEmbedLength int
	RelevanceFloor float64
}

// DefaultConfig returns the standard retrieval configuration.
func DefaultConfig() Config {
	return Config{
		MaxChunks:      8,
		MaxEmbedLength: 2048,
		RelevanceFloor: 0.55,
	}
}

func validateConfig(config Config) Config {
	defaults := DefaultConfig()

	if config.MaxChunks < 1 {
		slog.Warn("Invalid MaxChunks config, using default",
			"provided", config.MaxChunks, "default", defaults.MaxChunks)
		config.MaxChunks = defaults.MaxChunks
	}
	if config.MaxEmbedLength < 1 {
		slog.Warn("Invalid MaxEmbedLength config, using default",
			"provided", config.MaxEmbedLength, "default", defaults.MaxEmbedLength)
		config.MaxEmbedLength = defaults.MaxEmbedLength
	}
	if config.RelevanceFloor < 0 || config.RelevanceFloor >= 1 {
		slog.Warn("Invalid RelevanceFloor config, using default",
			"provided", config.RelevanceFloor, "default", defaults.RelevanceFloor)
		config.RelevanceFloor = defaults.RelevanceFloor
	}
	return config
}

// WeaviateRetriever implements Retriever against the LineageChunk class.
//
// # Description
//
// WeaviateRetriever embeds the query through an EmbeddingProvider and runs
// a near-vector search. Results below the relevance floor are dropped so
// short or off-topic questions don't drag irrelevant chunks into the
// prompt.
//
// # Thread Safety
//
// WeaviateRetriever is safe for concurrent use. The underlying Weaviate
// client handles connection pooling.
type WeaviateRetriever struct {
	client   *weaviate.Client
	embedder EmbeddingProvider
	config   Config
}

// NewWeaviateRetriever creates a retriever over the given client.
//
// Config values are validated and corrected with defaults where invalid.
func NewWeaviateRetriever(client *weaviate.Client, embedder EmbeddingProvider, config Config) *WeaviateRetriever {
	return &WeaviateRetriever{
		client:   client,
		embedder: embedder,
		config:   validateConfig(config),
	}
}

// chunkQueryResponse is the typed shape of a LineageChunk search result.
type chunkQueryResponse struct {
	Get struct {
		LineageChunk []chunkResult `json:"LineageChunk"`
	} `json:"Get"`
}

type chunkResult struct {
	Content    string `json:"content"`
	Source     string `json:"source"`
	Additional struct {
		Certainty *float64 `json:"certainty"`
	} `json:"_additional"`
}

// Retrieve embeds the query and searches the LineageChunk class.
//
// # Description
//
// Returns items ordered by descending certainty. When a session id is set
// on the request, results are restricted to chunks ingested under that
// session. HasRelevantDocs is false when nothing cleared the relevance
// floor; callers may still answer from model knowledge in that case.
//
// # Inputs
//
//   - ctx: Context for cancellation and timeout.
//   - req: Query text plus optional session scope and chunk cap.
//
// # Outputs
//
//   - *datatypes.RetrievalResponse: Relevance-ordered chunks above the floor.
//   - error: Non-nil if embedding or the Weaviate search fails.
func (r *WeaviateRetriever) Retrieve(ctx context.Context, req datatypes.RetrievalRequest) (*datatypes.RetrievalResponse, error) {
	ctx, span := tracer.Start(ctx, "Retrieve")
	defer span.End()

	limit := req.MaxChunks
	if limit < 1 || limit > r.config.MaxChunks {
		limit = r.config.MaxChunks
	}
	span.SetAttributes(attribute.Int("retrieval.limit", limit))

	query := req.Query
	if len(query) > r.config.MaxEmbedLength {
		query = query[:r.config.MaxEmbedLength]
		slog.Debug("Truncated query for embedding",
			"originalLen", len(req.Query), "truncatedLen", len(query))
	}

	vector, err := r.embedder.Embed(ctx, query)
	if err != nil {
		slog.Error("Failed to embed lineage query", "error", err)
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	nearVector := r.client.GraphQL().NearVectorArgBuilder().
		WithVector(vector)

	// certainty is always [0,1] regardless of the distance metric.
	fields := []graphql.Field{
		{Name: "content"},
		{Name: "source"},
		{Name: "_additional", Fields: []graphql.Field{
			{Name: "certainty"},
		}},
	}

	get := r.client.GraphQL().Get().
		WithClassName(ClassLineageChunk).
		WithFields(fields...).
		WithNearVector(nearVector).
		WithLimit(limit)

	if req.SessionId != "" {
		get = get.WithWhere(sessionFilter(req.SessionId))
	}

	result, err := get.Do(ctx)
	if err != nil {
		slog.Error("Failed to search LineageChunk class", "error", err)
		return nil, fmt.Errorf("weaviate search failed: %w", err)
	}

	parsed, err := parseGraphQLResponse[chunkQueryResponse](result)
	if err != nil {
		slog.Error("Failed to parse lineage search results", "error", err)
		return nil, fmt.Errorf("failed to parse results: %w", err)
	}

	resp := collectChunks(parsed.Get.LineageChunk, r.config.RelevanceFloor)
	slog.Debug("Retrieved lineage context",
		"candidates", len(parsed.Get.LineageChunk),
		"kept", len(resp.Items),
		"hasRelevantDocs", resp.HasRelevantDocs)
	return resp, nil
}

// sessionFilter scopes a search to one session's uploads plus the global
// corpus. Globally indexed chunks carry an empty session_id, so a bare
// Equal filter would hide them from every scoped chat.
func sessionFilter(sessionID string) *filters.WhereBuilder {
	return filters.Where().
		WithOperator(filters.Or).
		WithOperands([]*filters.WhereBuilder{
			filters.Where().
				WithPath([]string{"session_id"}).
				WithOperator(filters.Equal).
				WithValueString(sessionID),
			filters.Where().
				WithPath([]string{"session_id"}).
				WithOperator(filters.Equal).
				WithValueString(""),
		})
}

// collectChunks converts raw results into context items, dropping anything
// below the relevance floor. Weaviate returns near-vector results ordered
// by certainty, so order is preserved as-is. Objects indexed before the
// certainty field existed report no certainty at all; those are kept with
// relevance zero rather than silently discarded.
func collectChunks(results []chunkResult, floor float64) *datatypes.RetrievalResponse {
	items := make([]datatypes.ContextItem, 0, len(results))
	for _, res := range results {
		var relevance float64
		if res.Additional.Certainty != nil {
			relevance = *res.Additional.Certainty
			if relevance < floor {
				continue
			}
		}
		items = append(items, datatypes.ContextItem{
			Source:    res.Source,
			Content:   res.Content,
			Relevance: relevance,
		})
	}
	return &datatypes.RetrievalResponse{
		Items:           items,
		HasRelevantDocs: len(items) > 0,
	}
}

// WeaviateURLFromEnv returns the Weaviate host from LINEAGE_WEAVIATE_URL,
// defaulting to the local compose address.
func WeaviateURLFromEnv() string {
	if url := os.Getenv("LINEAGE_WEAVIATE_URL"); url != "" {
		return url
	}
	return "localhost:8080"
}

// NewWeaviateClient builds a plain HTTP client for the configured host.
func NewWeaviateClient(host string) (*weaviate.Client, error) {
	client, err := weaviate.NewClient(weaviate.Config{
		Host:   host,
		Scheme: "http",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create weaviate client: %w", err)
	}
	return client, nil
}
