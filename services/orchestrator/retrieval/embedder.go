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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"
)

// embeddingRequest is the single-text payload for the /embed endpoint.
type embeddingRequest struct {
	Text string `json:"text"`
}

type embeddingResponse struct {
	Id        string    `json:"id"`
	Timestamp int64     `json:"timestamp"`
	Vector    []float32 `json:"vector"`
	Dim       int       `json:"dim"`
}

type batchEmbeddingRequest struct {
	Texts []string `json:"texts"`
}

type batchEmbeddingResponse struct {
	Id        string      `json:"id"`
	Timestamp int64       `json:"timestamp"`
	Vectors   [][]float32 `json:"vectors"`
	Model     string      `json:"model"`
	Dim       int         `json:"dim"`
}

// ServiceEmbedder calls the embedding sidecar over HTTP.
//
// # Description
//
// ServiceEmbedder implements EmbeddingProvider against the embedding
// service's /embed endpoint and exposes a batch variant for ingestion.
// The batch URL is derived from the single-embed URL by swapping the
// trailing path segment.
//
// # Thread Safety
//
// ServiceEmbedder is safe for concurrent use; the shared http.Client
// handles connection pooling.
type ServiceEmbedder struct {
	embedURL string
	batchURL string
	client   *http.Client
}

// NewServiceEmbedder creates an embedder for the given /embed URL.
//
// An empty url falls back to the LINEAGE_EMBEDDING_URL environment
// variable.
func NewServiceEmbedder(url string) (*ServiceEmbedder, error) {
	if url == "" {
		url = os.Getenv("LINEAGE_EMBEDDING_URL")
	}
	if url == "" {
		return nil, fmt.Errorf("embedding service URL not configured (set LINEAGE_EMBEDDING_URL)")
	}
	return &ServiceEmbedder{
		embedURL: url,
		batchURL: strings.TrimSuffix(url, "/embed") + "/batch_embed",
		client:   &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// Embed computes a vector for a single text.
func (e *ServiceEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	var resp embeddingResponse
	if err := e.post(ctx, e.embedURL, embeddingRequest{Text: text}, &resp); err != nil {
		return nil, fmt.Errorf("embedding failed: %w", err)
	}
	if len(resp.Vector) == 0 {
		return nil, fmt.Errorf("embedding service returned an empty vector")
	}
	return resp.Vector, nil
}

// EmbedBatch computes vectors for a batch of texts in one request.
//
// The returned slice is position-aligned with texts; a count mismatch is
// an error so ingestion never stores a chunk under the wrong vector.
func (e *ServiceEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	var resp batchEmbeddingResponse
	if err := e.post(ctx, e.batchURL, batchEmbeddingRequest{Texts: texts}, &resp); err != nil {
		return nil, fmt.Errorf("batch embedding failed: %w", err)
	}
	if len(resp.Vectors) != len(texts) {
		slog.Error("Mismatch between text count and vector count",
			"texts", len(texts), "vectors", len(resp.Vectors))
		return nil, fmt.Errorf("embedding service returned %d vectors for %d texts",
			len(resp.Vectors), len(texts))
	}
	return resp.Vectors, nil
}

func (e *ServiceEmbedder) post(ctx context.Context, url string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Cache-Control", "no-cache, no-store, must-revalidate")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("embedding service request failed: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			slog.Warn("Failed to close embedding response body", "error", cerr)
		}
	}()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("embedding service returned status %d: %s",
			resp.StatusCode, string(respBody))
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse embedding response: %w", err)
	}
	return nil
}
