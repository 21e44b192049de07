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
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/awnumar/memguard"
	openai "github.com/sashabaranov/go-openai"
)

// OpenAIClient drives an OpenAI-compatible chat completion API.
type OpenAIClient struct {
	apiKey  *memguard.Enclave
	baseURL string
	model   string
}

// NewOpenAIClient creates an adapter for the OpenAI API (or any
// API-compatible endpoint when baseURL is set). The key comes from
// OPENAI_API_KEY or the mounted secret.
func NewOpenAIClient(baseURL, model string) (*OpenAIClient, error) {
	key, err := loadAPIKey("OPENAI_API_KEY", "/run/secrets/openai_api_key")
	if err != nil {
		return nil, err
	}
	if model == "" {
		model = "gpt-4o-mini"
		slog.Warn("OpenAI model not set, defaulting to gpt-4o-mini")
	}
	slog.Info("Initializing OpenAI client", "model", model)
	return &OpenAIClient{apiKey: key, baseURL: baseURL, model: model}, nil
}

// newAPIClient builds a go-openai client for one call. The key only exists
// in locked memory while the enclave is open, so the client is constructed
// per request rather than held on the struct.
func (o *OpenAIClient) newAPIClient(key string) *openai.Client {
	cfg := openai.DefaultConfig(key)
	if o.baseURL != "" {
		cfg.BaseURL = o.baseURL
	}
	return openai.NewClientWithConfig(cfg)
}

// Generate implements the LLMClient interface.
func (o *OpenAIClient) Generate(ctx context.Context, prompt string,
	params GenerationParams) (string, error) {

	var out string
	err := withAPIKey(o.apiKey, func(key string) error {
		req := o.buildRequest(prompt, params)
		resp, err := o.newAPIClient(key).CreateChatCompletion(ctx, req)
		if err != nil {
			return o.classify(ctx, err)
		}
		if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
			return &ProviderError{
				Kind:    ErrKindMalformedResponse,
				Backend: o.model,
				Message: "no choices in completion response",
			}
		}
		out = resp.Choices[0].Message.Content
		return nil
	})
	return out, err
}

// GenerateStream implements the LLMClient interface.
func (o *OpenAIClient) GenerateStream(ctx context.Context, prompt string,
	params GenerationParams, callback StreamCallback) error {

	return withAPIKey(o.apiKey, func(key string) error {
		req := o.buildRequest(prompt, params)
		req.Stream = true
		stream, err := o.newAPIClient(key).CreateChatCompletionStream(ctx, req)
		if err != nil {
			return o.classify(ctx, err)
		}
		defer stream.Close()

		for {
			chunk, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return callback(StreamEvent{Type: StreamEventDone})
			}
			if err != nil {
				return o.classify(ctx, err)
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			delta := chunk.Choices[0].Delta.Content
			if delta == "" {
				continue
			}
			if err := callback(StreamEvent{Type: StreamEventToken, Content: delta}); err != nil {
				return err
			}
		}
	})
}

// buildRequest maps shared params onto the chat completion request.
func (o *OpenAIClient) buildRequest(prompt string, params GenerationParams) openai.ChatCompletionRequest {
	req := openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	}
	if params.Temperature != nil {
		req.Temperature = *params.Temperature
	}
	if params.MaxTokens != nil {
		req.MaxCompletionTokens = *params.MaxTokens
	}
	if params.TopP != nil {
		req.TopP = *params.TopP
	}
	if len(params.Stop) > 0 {
		req.Stop = params.Stop
	}
	if params.StrictJSON {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}
	return req
}

// classify maps go-openai errors onto the shared taxonomy.
func (o *OpenAIClient) classify(ctx context.Context, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		// go-openai does not surface Retry-After, so 429s rely on the
		// router's configured backoff.
		pe := classifyHTTPStatus(o.model, apiErr.HTTPStatusCode,
			fmt.Sprintf("%v", apiErr.Message), 0, false)
		return pe
	}
	return classifyTransportError(ctx, o.model, err)
}
