// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"bufio"
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

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("lineage.llm")

// OllamaClient drives a locally hosted Ollama engine.
type OllamaClient struct {
	httpClient *http.Client
	baseURL    string
	model      string
}

type ollamaGenerateRequest struct {
	Model   string                 `json:"model"`
	Prompt  string                 `json:"prompt"`
	Stream  bool                   `json:"stream"`
	Format  string                 `json:"format,omitempty"`
	Options map[string]interface{} `json:"options,omitempty"`
}

type ollamaGenerateResponse struct {
	Model     string `json:"model"`
	CreatedAt string `json:"created_at"`
	Response  string `json:"response"`
	Done      bool   `json:"done"`
}

// NewOllamaClient creates a client for the local engine. An empty baseURL
// falls back to OLLAMA_BASE_URL, then to the conventional localhost port.
func NewOllamaClient(baseURL, model string) (*OllamaClient, error) {
	if baseURL == "" {
		baseURL = os.Getenv("OLLAMA_BASE_URL")
	}
	if baseURL == "" {
		baseURL = "http://localhost:11434"
		slog.Warn("OLLAMA_BASE_URL not set, using default", "base_url", baseURL)
	}
	if model == "" {
		return nil, fmt.Errorf("ollama model is required")
	}
	baseURL = strings.TrimSuffix(baseURL, "/")
	slog.Info("Initializing Ollama client", "base_url", baseURL, "model", model)
	return &OllamaClient{
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		baseURL:    baseURL,
		model:      model,
	}, nil
}

// Generate implements the LLMClient interface.
func (o *OllamaClient) Generate(ctx context.Context, prompt string,
	params GenerationParams) (string, error) {

	ctx, span := tracer.Start(ctx, "OllamaClient.Generate")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", o.model))

	payload := ollamaGenerateRequest{
		Model:   o.model,
		Prompt:  prompt,
		Stream:  false,
		Options: buildOllamaOptions(params),
	}
	if params.StrictJSON {
		payload.Format = "json"
	}

	respBody, err := o.post(ctx, "/api/generate", payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	var ollamaResp ollamaGenerateResponse
	if err := json.Unmarshal(respBody, &ollamaResp); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", &ProviderError{
			Kind:    ErrKindMalformedResponse,
			Backend: o.model,
			Message: fmt.Sprintf("unparseable response: %v", err),
		}
	}
	if ollamaResp.Response == "" {
		return "", &ProviderError{
			Kind:    ErrKindMalformedResponse,
			Backend: o.model,
			Message: "response contained no text",
		}
	}
	return ollamaResp.Response, nil
}

// GenerateStream implements the LLMClient interface. Ollama streams one
// JSON object per line; each object carries a response fragment.
func (o *OllamaClient) GenerateStream(ctx context.Context, prompt string,
	params GenerationParams, callback StreamCallback) error {

	ctx, span := tracer.Start(ctx, "OllamaClient.GenerateStream")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", o.model))

	payload := ollamaGenerateRequest{
		Model:   o.model,
		Prompt:  prompt,
		Stream:  true,
		Options: buildOllamaOptions(params),
	}

	reqBody, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling stream request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, "POST", o.baseURL+"/api/generate",
		bytes.NewBuffer(reqBody))
	if err != nil {
		return fmt.Errorf("creating stream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		cerr := classifyTransportError(ctx, o.model, err)
		span.RecordError(cerr)
		return cerr
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		perr := classifyHTTPStatus(o.model, resp.StatusCode, string(body),
			parseRetryAfter(resp.Header), true)
		span.RecordError(perr)
		return perr
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	gotToken := false
	for scanner.Scan() {
		if ctx.Err() != nil {
			return classifyTransportError(ctx, o.model, ctx.Err())
		}
		var chunk ollamaGenerateResponse
		if err := json.Unmarshal(scanner.Bytes(), &chunk); err != nil {
			return &ProviderError{
				Kind:    ErrKindMalformedResponse,
				Backend: o.model,
				Message: fmt.Sprintf("unparseable stream chunk: %v", err),
			}
		}
		if chunk.Response != "" {
			gotToken = true
			if err := callback(StreamEvent{Type: StreamEventToken, Content: chunk.Response}); err != nil {
				return err
			}
		}
		if chunk.Done {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return classifyTransportError(ctx, o.model, err)
	}
	if !gotToken {
		return &ProviderError{
			Kind:    ErrKindMalformedResponse,
			Backend: o.model,
			Message: "stream contained no tokens",
		}
	}
	return callback(StreamEvent{Type: StreamEventDone})
}

// post sends a JSON payload and returns the raw body of a 200 response.
// Non-200 responses and transport failures come back classified.
func (o *OllamaClient) post(ctx context.Context, path string, payload any) ([]byte, error) {
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling request to Ollama: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, "POST", o.baseURL+path, bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, fmt.Errorf("creating request to Ollama: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(ctx, o.model, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransportError(ctx, o.model, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, classifyHTTPStatus(o.model, resp.StatusCode, string(body),
			parseRetryAfter(resp.Header), true)
	}
	return body, nil
}

// buildOllamaOptions maps generation params onto Ollama option names.
func buildOllamaOptions(params GenerationParams) map[string]interface{} {
	options := make(map[string]interface{})
	if params.Temperature != nil {
		options["temperature"] = *params.Temperature
	} else {
		options["temperature"] = float32(0.2)
	}
	if params.TopK != nil {
		options["top_k"] = *params.TopK
	}
	if params.TopP != nil {
		options["top_p"] = *params.TopP
	}
	if params.MaxTokens != nil {
		options["num_predict"] = *params.MaxTokens
	} else {
		options["num_predict"] = 4096
	}
	if len(params.Stop) > 0 {
		options["stop"] = params.Stop
	}
	return options
}
