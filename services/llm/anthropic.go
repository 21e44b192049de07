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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/awnumar/memguard"
)

const (
	anthropicAPIVersion     = "2023-06-01"
	anthropicDefaultBaseURL = "https://api.anthropic.com/v1/messages"
)

type anthropicRequest struct {
	Model     string             `json:"model"`
	Messages  []anthropicMessage `json:"messages"`
	MaxTokens int                `json:"max_tokens"`

	Temperature *float32 `json:"temperature,omitempty"`
	TopP        *float32 `json:"top_p,omitempty"`
	TopK        *int     `json:"top_k,omitempty"`
	StopSeqs    []string `json:"stop_sequences,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	ID      string             `json:"id"`
	Type    string             `json:"type"`
	Role    string             `json:"role"`
	Content []anthropicContent `json:"content"`
	Error   *anthropicAPIError `json:"error,omitempty"`
}

type anthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicAPIError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// AnthropicClient drives the Anthropic Messages API over plain HTTP.
type AnthropicClient struct {
	httpClient *http.Client
	apiKey     *memguard.Enclave
	baseURL    string
	model      string
}

// NewAnthropicClient creates an adapter for the Anthropic API. The key comes
// from ANTHROPIC_API_KEY or the mounted secret.
func NewAnthropicClient(baseURL, model string) (*AnthropicClient, error) {
	key, err := loadAPIKey("ANTHROPIC_API_KEY", "/run/secrets/anthropic_api_key")
	if err != nil {
		return nil, err
	}
	if baseURL == "" {
		baseURL = anthropicDefaultBaseURL
	}
	if model == "" {
		return nil, fmt.Errorf("anthropic model is required")
	}
	slog.Info("Initializing Anthropic client", "model", model)
	return &AnthropicClient{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		apiKey:     key,
		baseURL:    baseURL,
		model:      model,
	}, nil
}

// Generate implements the LLMClient interface.
func (a *AnthropicClient) Generate(ctx context.Context, prompt string,
	params GenerationParams) (string, error) {

	reqPayload := anthropicRequest{
		Model: a.model,
		Messages: []anthropicMessage{
			{Role: "user", Content: prompt},
		},
		MaxTokens:   4096,
		Temperature: params.Temperature,
		TopP:        params.TopP,
		TopK:        params.TopK,
		StopSeqs:    params.Stop,
	}
	if params.MaxTokens != nil {
		reqPayload.MaxTokens = *params.MaxTokens
	}

	reqBody, err := json.Marshal(reqPayload)
	if err != nil {
		return "", fmt.Errorf("marshaling anthropic request: %w", err)
	}

	var bodyBytes []byte
	var statusCode int
	var header http.Header
	err = withAPIKey(a.apiKey, func(key string) error {
		req, err := http.NewRequestWithContext(ctx, "POST", a.baseURL, bytes.NewBuffer(reqBody))
		if err != nil {
			return fmt.Errorf("creating anthropic request: %w", err)
		}
		req.Header.Set("x-api-key", key)
		req.Header.Set("anthropic-version", anthropicAPIVersion)
		req.Header.Set("content-type", "application/json")

		resp, err := a.httpClient.Do(req)
		if err != nil {
			return classifyTransportError(ctx, a.model, err)
		}
		defer resp.Body.Close()

		bodyBytes, err = io.ReadAll(resp.Body)
		if err != nil {
			return classifyTransportError(ctx, a.model, err)
		}
		statusCode = resp.StatusCode
		header = resp.Header
		return nil
	})
	if err != nil {
		return "", err
	}

	if statusCode != http.StatusOK {
		return "", classifyHTTPStatus(a.model, statusCode, string(bodyBytes),
			parseRetryAfter(header), false)
	}

	var apiResp anthropicResponse
	if err := json.Unmarshal(bodyBytes, &apiResp); err != nil {
		return "", &ProviderError{
			Kind:    ErrKindMalformedResponse,
			Backend: a.model,
			Message: fmt.Sprintf("unparseable response: %v", err),
		}
	}
	if apiResp.Error != nil {
		return "", &ProviderError{
			Kind:    ErrKindMalformedResponse,
			Backend: a.model,
			Message: fmt.Sprintf("%s: %s", apiResp.Error.Type, apiResp.Error.Message),
		}
	}

	finalText := ""
	for _, block := range apiResp.Content {
		if block.Type == "text" {
			finalText += block.Text
		}
	}
	if finalText == "" {
		return "", &ProviderError{
			Kind:    ErrKindMalformedResponse,
			Backend: a.model,
			Message: "no text block in response content",
		}
	}
	return finalText, nil
}

// GenerateStream implements the LLMClient interface. The Anthropic adapter
// does not use the SSE endpoint; it generates in one call and emits the
// result as a single token event. Cancellation still aborts the underlying
// HTTP call via ctx.
func (a *AnthropicClient) GenerateStream(ctx context.Context, prompt string,
	params GenerationParams, callback StreamCallback) error {

	text, err := a.Generate(ctx, prompt, params)
	if err != nil {
		return err
	}
	if err := callback(StreamEvent{Type: StreamEventToken, Content: text}); err != nil {
		return err
	}
	return callback(StreamEvent{Type: StreamEventDone})
}
