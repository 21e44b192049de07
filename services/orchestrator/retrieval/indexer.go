// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package retrieval

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/tmc/langchaingo/textsplitter"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/AleutianAI/AleutianLineage/services/orchestrator/datatypes"
)

var (
	chunkSize    = 1000
	chunkOverlap = chunkSize / 10

	defaultSeparators = []string{"\n\n", "\n", " ", ""}

	// SQL scripts split best on statement boundaries and common DDL/DML
	// keywords before falling back to blank lines.
	sqlSeparators = []string{
		";\n",
		"\nCREATE ", "\ncreate ",
		"\nINSERT ", "\ninsert ",
		"\nUPDATE ", "\nupdate ",
		"\nMERGE ", "\nmerge ",
		"\nWITH ", "\nwith ",
		"\nSELECT ", "\nselect ",
		"\n\n", "\n", " ", "",
	}

	codeSeparators = []string{
		"\nfunction ", "\nclass ", "\ndef ",
		"\nfunc ", "\ntype ",
		"\n\n", "\n", " ", "",
	}
)

// BatchEmbedder extends EmbeddingProvider with a batch call used during
// ingestion.
type BatchEmbedder interface {
	EmbeddingProvider
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// ScriptIndexer writes script chunks into the LineageChunk class.
//
// # Description
//
// ScriptIndexer splits an uploaded script on dialect-appropriate
// boundaries, embeds the chunks in one batch call, and imports them with
// a single Weaviate batch request. Chunk ids derive from a content hash,
// so re-uploading an unchanged script overwrites rather than duplicates.
//
// # Thread Safety
//
// ScriptIndexer is safe for concurrent use.
type ScriptIndexer struct {
	client   *weaviate.Client
	embedder BatchEmbedder
}

// NewScriptIndexer creates an indexer over the given client and embedder.
func NewScriptIndexer(client *weaviate.Client, embedder BatchEmbedder) *ScriptIndexer {
	return &ScriptIndexer{client: client, embedder: embedder}
}

// IndexScript chunks, embeds, and stores one uploaded script.
//
// # Inputs
//
//   - ctx: Context for cancellation and timeout.
//   - sessionID: Session the chunks are scoped to. Empty means global.
//   - upload: The script name, content, and optional dialect hint.
//
// # Outputs
//
//   - int: Number of chunks successfully stored.
//   - error: Non-nil if splitting, embedding, or the batch import fails.
func (ix *ScriptIndexer) IndexScript(ctx context.Context, sessionID string, upload datatypes.ScriptUpload) (int, error) {
	ctx, span := tracer.Start(ctx, "IndexScript")
	defer span.End()

	chunks, err := splitScript(upload)
	if err != nil {
		return 0, fmt.Errorf("failed to split script %q: %w", upload.Name, err)
	}
	if len(chunks) == 0 {
		slog.Warn("No chunks produced after splitting", "script", upload.Name)
		return 0, nil
	}
	slog.Info("Split script into chunks", "script", upload.Name, "chunk_count", len(chunks))

	vectors, err := ix.embedder.EmbedBatch(ctx, chunks)
	if err != nil {
		return 0, fmt.Errorf("failed to embed script chunks: %w", err)
	}

	objects := make([]*models.Object, len(chunks))
	now := time.Now().UnixMilli()
	for i, chunk := range chunks {
		objects[i] = &models.Object{
			Class:  ClassLineageChunk,
			ID:     strfmt.UUID(chunkID(sessionID, upload.Name, chunk)),
			Vector: vectors[i],
			Properties: map[string]interface{}{
				"content":       chunk,
				"source":        fmt.Sprintf("%s_part_%d", upload.Name, i+1),
				"parent_source": upload.Name,
				"session_id":    sessionID,
				"dialect":       upload.Dialect,
				"ingested_at":   now,
			},
		}
	}

	resp, err := ix.client.Batch().ObjectsBatcher().
		WithObjects(objects...).
		Do(ctx)
	if err != nil {
		slog.Error("Failed to perform batch import to Weaviate", "error", err)
		return 0, fmt.Errorf("failed to save chunks to weaviate: %w", err)
	}

	stored := 0
	for _, item := range resp {
		if item.Result != nil && item.Result.Status != nil && *item.Result.Status == "SUCCESS" {
			stored++
			continue
		}
		if item.Result != nil && item.Result.Errors != nil {
			for _, errItem := range item.Result.Errors.Error {
				slog.Warn("Error in Weaviate batch item",
					"script", upload.Name, "error", errItem.Message)
			}
		}
	}
	if stored < len(chunks) {
		slog.Warn("Some chunks failed to import",
			"script", upload.Name, "stored", stored, "total", len(chunks))
	}
	return stored, nil
}

// DeleteScript removes all chunks ingested from the named script.
func (ix *ScriptIndexer) DeleteScript(ctx context.Context, sessionID, name string) error {
	ctx, span := tracer.Start(ctx, "DeleteScript")
	defer span.End()

	parentFilter := filters.Where().
		WithPath([]string{"parent_source"}).
		WithOperator(filters.Equal).
		WithValueString(name)

	where := parentFilter
	if sessionID != "" {
		sessionFilter := filters.Where().
			WithPath([]string{"session_id"}).
			WithOperator(filters.Equal).
			WithValueString(sessionID)
		where = filters.Where().
			WithOperator(filters.And).
			WithOperands([]*filters.WhereBuilder{parentFilter, sessionFilter})
	}

	_, err := ix.client.Batch().ObjectsBatchDeleter().
		WithClassName(ClassLineageChunk).
		WithWhere(where).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete chunks for %q: %w", name, err)
	}
	slog.Info("Deleted script chunks", "script", name, "sessionId", sessionID)
	return nil
}

// ListScripts returns the distinct parent sources stored in the class.
func (ix *ScriptIndexer) ListScripts(ctx context.Context) ([]string, error) {
	ctx, span := tracer.Start(ctx, "ListScripts")
	defer span.End()

	agg, err := ix.client.GraphQL().Aggregate().
		WithClassName(ClassLineageChunk).
		WithGroupBy("parent_source").
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate scripts: %w", err)
	}

	type aggResponse struct {
		Aggregate struct {
			LineageChunk []struct {
				GroupedBy struct {
					Value string `json:"value"`
				} `json:"groupedBy"`
			} `json:"LineageChunk"`
		} `json:"Aggregate"`
	}
	parsed, err := parseGraphQLResponse[aggResponse](agg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse script aggregate: %w", err)
	}

	names := make([]string, 0, len(parsed.Aggregate.LineageChunk))
	for _, group := range parsed.Aggregate.LineageChunk {
		if group.GroupedBy.Value != "" {
			names = append(names, group.GroupedBy.Value)
		}
	}
	return names, nil
}

// splitScript picks a splitter from the dialect hint or file extension.
func splitScript(upload datatypes.ScriptUpload) ([]string, error) {
	separators := separatorsFor(upload)
	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(chunkSize),
		textsplitter.WithChunkOverlap(chunkOverlap),
		textsplitter.WithSeparators(separators),
	)
	return splitter.SplitText(upload.Content)
}

func separatorsFor(upload datatypes.ScriptUpload) []string {
	if upload.Dialect != "" {
		return sqlSeparators
	}
	switch strings.ToLower(filepath.Ext(upload.Name)) {
	case ".sql", ".hql", ".ddl":
		return sqlSeparators
	case ".py", ".go", ".js", ".ts", ".java", ".scala":
		return codeSeparators
	default:
		return defaultSeparators
	}
}

// chunkID derives a deterministic UUID from the chunk identity so
// re-ingesting identical content is idempotent.
func chunkID(sessionID, name, chunk string) string {
	hash := sha256.Sum256([]byte(sessionID + "\x00" + name + "\x00" + chunk))
	id, _ := uuid.FromBytes(hash[:16])
	return id.String()
}
