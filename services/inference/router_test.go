// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package inference

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianLineage/services/llm"
	"github.com/AleutianAI/AleutianLineage/services/orchestrator/datatypes"
)

// ====== Test Doubles ======

type stubChains struct {
	chain *datatypes.FallbackChain
	err   error
}

func (s *stubChains) GetFallbackChain(_ context.Context, _ datatypes.UsageType) (*datatypes.FallbackChain, error) {
	return s.chain, s.err
}

type fakeClient struct {
	generate func(ctx context.Context, prompt string, params llm.GenerationParams) (string, error)
	stream   func(ctx context.Context, prompt string, params llm.GenerationParams, cb llm.StreamCallback) error
}

func (f *fakeClient) Generate(ctx context.Context, prompt string, params llm.GenerationParams) (string, error) {
	return f.generate(ctx, prompt, params)
}

func (f *fakeClient) GenerateStream(ctx context.Context, prompt string, params llm.GenerationParams, cb llm.StreamCallback) error {
	if f.stream != nil {
		return f.stream(ctx, prompt, params, cb)
	}
	text, err := f.generate(ctx, prompt, params)
	if err != nil {
		return err
	}
	if err := cb(llm.StreamEvent{Type: llm.StreamEventToken, Content: text}); err != nil {
		return err
	}
	return cb(llm.StreamEvent{Type: llm.StreamEventDone})
}

func answering(text string) *fakeClient {
	return &fakeClient{generate: func(context.Context, string, llm.GenerationParams) (string, error) {
		return text, nil
	}}
}

func failing(kind llm.ErrorKind, backend string) *fakeClient {
	return &fakeClient{generate: func(context.Context, string, llm.GenerationParams) (string, error) {
		return "", &llm.ProviderError{Kind: kind, Backend: backend}
	}}
}

// threeTierChain is local ollama at priority 1 plus two remote tiers.
func threeTierChain() *datatypes.FallbackChain {
	return &datatypes.FallbackChain{
		UsageType: datatypes.UsageLineageQA,
		Backends: []datatypes.BackendDescriptor{
			{ID: "local-ollama", Kind: datatypes.BackendKindOllama, ModelID: "llama3.1:8b", Priority: 1, Enabled: true},
			{ID: "cloud-a", Kind: datatypes.BackendKindOpenAI, ModelID: "gpt-4o-mini", Priority: 2, Enabled: true},
			{ID: "cloud-b", Kind: datatypes.BackendKindAnthropic, ModelID: "claude-sonnet-4", Priority: 3, Enabled: true},
		},
	}
}

// healthyLocalServer serves a minimal /api/ps payload.
func healthyLocalServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"models":[{"name":"llama3.1:8b","size":4000000000,"size_vram":4000000000}]}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

// unreachableLocalURL returns a base URL nothing listens on.
func unreachableLocalURL(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()
	return url
}

func newTestRouter(t *testing.T, cfg RouterConfig, chain *datatypes.FallbackChain, clients map[string]llm.LLMClient, localURL string) *Router {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(testWriter{t}, &slog.HandlerOptions{Level: slog.LevelError}))
	health := NewHealthMonitor(HealthMonitorConfig{BaseURL: localURL, CacheTTL: time.Millisecond}, logger)
	r := NewRouter(cfg, &stubChains{chain: chain}, logger,
		WithHealthMonitor(health),
		WithClientFactory(func(desc datatypes.BackendDescriptor) (llm.LLMClient, error) {
			c, ok := clients[desc.ID]
			if !ok {
				return nil, errors.New("no fake client for " + desc.ID)
			}
			return c, nil
		}),
	)
	r.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	return r
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func qaRequest() Request {
	return Request{
		UsageType:    datatypes.UsageLineageQA,
		SystemPrompt: "You are a data lineage analyst.",
		Question:     "Which upstream tables feed dim_customer?",
	}
}

// ====== Routing Scenarios ======

func TestGenerate_HealthyLocalServesSmallQuery(t *testing.T) {
	srv := healthyLocalServer(t)
	router := newTestRouter(t, DefaultRouterConfig(), threeTierChain(), map[string]llm.LLMClient{
		"local-ollama": answering("orders and customers feed dim_customer"),
	}, srv.URL)

	res, err := router.Generate(context.Background(), qaRequest())

	require.NoError(t, err)
	assert.Equal(t, "local-ollama", res.BackendUsed)
	assert.Equal(t, 1, res.PriorityUsed)
	assert.Zero(t, res.FallbackCount)
	assert.Empty(t, res.Attempts)
}

func TestGenerate_LocalOOMFallsBackToTier2(t *testing.T) {
	srv := healthyLocalServer(t)
	router := newTestRouter(t, DefaultRouterConfig(), threeTierChain(), map[string]llm.LLMClient{
		"local-ollama": failing(llm.ErrKindOutOfMemory, "local-ollama"),
		"cloud-a":      answering("tier-2 answer"),
	}, srv.URL)

	res, err := router.Generate(context.Background(), qaRequest())

	require.NoError(t, err)
	assert.Equal(t, "cloud-a", res.BackendUsed)
	assert.Equal(t, 1, res.FallbackCount)
	require.Len(t, res.Attempts, 1)
	assert.Equal(t, "local-ollama", res.Attempts[0].BackendID)
	assert.Equal(t, string(llm.ErrKindOutOfMemory), res.Attempts[0].ErrorKind)
}

func TestGenerate_RateLimitOpensBreakerForNextRequest(t *testing.T) {
	srv := healthyLocalServer(t)
	clients := map[string]llm.LLMClient{
		"local-ollama": failing(llm.ErrKindOutOfMemory, "local-ollama"),
		"cloud-a":      failing(llm.ErrKindRateLimited, "cloud-a"),
		"cloud-b":      answering("tier-3 answer"),
	}
	router := newTestRouter(t, DefaultRouterConfig(), threeTierChain(), clients, srv.URL)

	// First request: local OOM, tier-2 rate-limited, tier-3 serves.
	res, err := router.Generate(context.Background(), qaRequest())
	require.NoError(t, err)
	assert.Equal(t, "cloud-b", res.BackendUsed)
	assert.Equal(t, 2, res.FallbackCount)

	// Tier-2's breaker opened immediately on the rate limit.
	assert.Equal(t, CircuitOpen, router.BreakerStates()["cloud-a"])

	// Second request inside the cooldown: tier-2 is skipped at zero cost
	// with a synthetic circuit_open attempt.
	res, err = router.Generate(context.Background(), qaRequest())
	require.NoError(t, err)
	assert.Equal(t, "cloud-b", res.BackendUsed)
	var kinds []string
	for _, a := range res.Attempts {
		kinds = append(kinds, a.ErrorKind)
	}
	assert.Contains(t, kinds, ErrKindCircuitOpen)
}

func TestGenerate_ExhaustionCarriesFullAttemptTrail(t *testing.T) {
	srv := healthyLocalServer(t)
	router := newTestRouter(t, DefaultRouterConfig(), threeTierChain(), map[string]llm.LLMClient{
		"local-ollama": failing(llm.ErrKindOutOfMemory, "local-ollama"),
		"cloud-a":      failing(llm.ErrKindServiceUnavailable, "cloud-a"),
		"cloud-b":      failing(llm.ErrKindTimeout, "cloud-b"),
	}, srv.URL)

	_, err := router.Generate(context.Background(), qaRequest())

	ee, ok := IsAllBackendsExhausted(err)
	require.True(t, ok, "expected AllBackendsExhaustedError, got %v", err)
	require.Len(t, ee.Attempts, 3)
	assert.Equal(t, "local-ollama", ee.Attempts[0].BackendID)
	assert.Equal(t, "cloud-a", ee.Attempts[1].BackendID)
	assert.Equal(t, "cloud-b", ee.Attempts[2].BackendID)
	assert.Greater(t, ee.RetryAfter, time.Duration(0))
}

func TestGenerate_CancellationExcludedFromBreakerBookkeeping(t *testing.T) {
	srv := healthyLocalServer(t)
	blocking := &fakeClient{generate: func(ctx context.Context, _ string, _ llm.GenerationParams) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}
	router := newTestRouter(t, DefaultRouterConfig(), threeTierChain(), map[string]llm.LLMClient{
		"local-ollama": blocking,
	}, srv.URL)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := router.Generate(ctx, qaRequest())

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, CircuitClosed, router.BreakerStates()["local-ollama"])
	assert.Zero(t, router.breakers.Get("local-ollama").FailureCount())
}

// ====== Mode and Gate Behavior ======

func TestGenerate_CloudOnlySkipsLocalTier(t *testing.T) {
	cfg := DefaultRouterConfig()
	cfg.Mode = ModeCloudOnly
	router := newTestRouter(t, cfg, threeTierChain(), map[string]llm.LLMClient{
		"cloud-a": answering("cloud answer"),
	}, unreachableLocalURL(t))

	res, err := router.Generate(context.Background(), qaRequest())

	require.NoError(t, err)
	assert.Equal(t, "cloud-a", res.BackendUsed)
	assert.Empty(t, res.Attempts, "local tier must not appear in the trail")
}

func TestGenerate_LocalOnlyNeverFallsBackToCloud(t *testing.T) {
	cfg := DefaultRouterConfig()
	cfg.Mode = ModeLocalOnly
	srv := healthyLocalServer(t)
	router := newTestRouter(t, cfg, threeTierChain(), map[string]llm.LLMClient{
		"local-ollama": failing(llm.ErrKindServiceUnavailable, "local-ollama"),
		"cloud-a":      answering("must not be used"),
	}, srv.URL)

	_, err := router.Generate(context.Background(), qaRequest())

	ee, ok := IsAllBackendsExhausted(err)
	require.True(t, ok)
	require.Len(t, ee.Attempts, 1)
	assert.Equal(t, "local-ollama", ee.Attempts[0].BackendID)
}

func TestGenerate_UnhealthyLocalRoutesToCloud(t *testing.T) {
	router := newTestRouter(t, DefaultRouterConfig(), threeTierChain(), map[string]llm.LLMClient{
		"cloud-a": answering("cloud answer"),
	}, unreachableLocalURL(t))

	res, err := router.Generate(context.Background(), qaRequest())

	require.NoError(t, err)
	assert.Equal(t, "cloud-a", res.BackendUsed)
	assert.Empty(t, res.Attempts, "a gate skip is not an attempt")
}

func TestGenerate_LargePromptSkipsLocal(t *testing.T) {
	cfg := DefaultRouterConfig()
	cfg.SmallQueryThreshold = 10
	srv := healthyLocalServer(t)
	router := newTestRouter(t, cfg, threeTierChain(), map[string]llm.LLMClient{
		"cloud-a": answering("cloud answer"),
	}, srv.URL)

	res, err := router.Generate(context.Background(), qaRequest())

	require.NoError(t, err)
	assert.Equal(t, "cloud-a", res.BackendUsed)
}

func TestGenerate_NotConfigured(t *testing.T) {
	router := newTestRouter(t, DefaultRouterConfig(), &datatypes.FallbackChain{
		UsageType: datatypes.UsageSummarization,
	}, nil, unreachableLocalURL(t))

	_, err := router.Generate(context.Background(), Request{UsageType: datatypes.UsageSummarization, Question: "q"})

	assert.True(t, IsNotConfigured(err), "expected NotConfiguredError, got %v", err)
}

func TestGenerate_DisabledTiersAreInvisible(t *testing.T) {
	chain := threeTierChain()
	chain.Backends[0].Enabled = false
	chain.Backends[1].Enabled = false
	chain.Backends[2].Enabled = false
	router := newTestRouter(t, DefaultRouterConfig(), chain, nil, unreachableLocalURL(t))

	_, err := router.Generate(context.Background(), qaRequest())

	assert.True(t, IsNotConfigured(err))
}

// ====== Budget Shaping ======

func TestGenerate_TrimFlagsPropagateToResult(t *testing.T) {
	cfg := DefaultRouterConfig()
	cfg.Mode = ModeCloudOnly
	cfg.MaxPromptTokens = 400 // context share ~220 tokens
	router := newTestRouter(t, cfg, threeTierChain(), map[string]llm.LLMClient{
		"cloud-a": answering("ok"),
	}, unreachableLocalURL(t))

	req := qaRequest()
	req.ContextItems = itemsOf(12, 100)

	res, err := router.Generate(context.Background(), req)

	require.NoError(t, err)
	assert.True(t, res.Trimmed)
	assert.Less(t, len(res.KeptContext), 12)
	assert.NotEmpty(t, res.KeptContext)
}

// ====== Streaming ======

func TestGenerateStream_FallsBackBeforeFirstToken(t *testing.T) {
	cfg := DefaultRouterConfig()
	cfg.Mode = ModeCloudOnly
	router := newTestRouter(t, cfg, threeTierChain(), map[string]llm.LLMClient{
		"cloud-a": failing(llm.ErrKindServiceUnavailable, "cloud-a"),
		"cloud-b": answering("streamed answer"),
	}, unreachableLocalURL(t))

	var tokens []string
	res, err := router.GenerateStream(context.Background(), qaRequest(), func(ev llm.StreamEvent) error {
		if ev.Type == llm.StreamEventToken {
			tokens = append(tokens, ev.Content)
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, "cloud-b", res.BackendUsed)
	assert.Equal(t, []string{"streamed answer"}, tokens)
	assert.Equal(t, 1, res.FallbackCount)
}

func TestGenerateStream_NoFallbackAfterFirstToken(t *testing.T) {
	cfg := DefaultRouterConfig()
	cfg.Mode = ModeCloudOnly
	midStream := &fakeClient{stream: func(ctx context.Context, _ string, _ llm.GenerationParams, cb llm.StreamCallback) error {
		if err := cb(llm.StreamEvent{Type: llm.StreamEventToken, Content: "partial"}); err != nil {
			return err
		}
		return &llm.ProviderError{Kind: llm.ErrKindServiceUnavailable, Backend: "cloud-a"}
	}}
	router := newTestRouter(t, cfg, threeTierChain(), map[string]llm.LLMClient{
		"cloud-a": midStream,
		"cloud-b": answering("must not be reached"),
	}, unreachableLocalURL(t))

	_, err := router.GenerateStream(context.Background(), qaRequest(), func(llm.StreamEvent) error { return nil })

	require.Error(t, err)
	assert.True(t, llm.IsKind(err, llm.ErrKindServiceUnavailable))
	_, exhausted := IsAllBackendsExhausted(err)
	assert.False(t, exhausted, "mid-stream failure must not continue the chain")
}

func TestGenerateStream_MidStreamRateLimitTripsBreaker(t *testing.T) {
	cfg := DefaultRouterConfig()
	cfg.Mode = ModeCloudOnly
	cfg.Breaker.FailureThreshold = 5
	midStream := &fakeClient{stream: func(ctx context.Context, _ string, _ llm.GenerationParams, cb llm.StreamCallback) error {
		if err := cb(llm.StreamEvent{Type: llm.StreamEventToken, Content: "partial"}); err != nil {
			return err
		}
		return &llm.ProviderError{Kind: llm.ErrKindRateLimited, Backend: "cloud-a"}
	}}
	router := newTestRouter(t, cfg, threeTierChain(), map[string]llm.LLMClient{
		"cloud-a": midStream,
		"cloud-b": answering("unused"),
	}, unreachableLocalURL(t))

	_, err := router.GenerateStream(context.Background(), qaRequest(), func(llm.StreamEvent) error { return nil })

	require.Error(t, err)
	assert.True(t, llm.IsKind(err, llm.ErrKindRateLimited))
	// One rate-limit response opens the tier regardless of the threshold,
	// even when it arrives after tokens were already emitted.
	assert.Equal(t, CircuitOpen, router.BreakerStates()["cloud-a"])
}
