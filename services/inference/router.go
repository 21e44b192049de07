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
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianLineage/services/llm"
	"github.com/AleutianAI/AleutianLineage/services/orchestrator/datatypes"
)

var tracer = otel.Tracer("lineage.inference")

// ChainSource resolves the ordered backend list for a usage type. The
// orchestrator's config store implements this; tests supply a stub.
type ChainSource interface {
	GetFallbackChain(ctx context.Context, usage datatypes.UsageType) (*datatypes.FallbackChain, error)
}

// ClientFactory builds a provider client for a backend descriptor.
type ClientFactory func(desc datatypes.BackendDescriptor) (llm.LLMClient, error)

// Request is one generation request presented to the router.
type Request struct {
	// UsageType selects which fallback chain serves the request.
	UsageType datatypes.UsageType

	// SystemPrompt frames the model's role. Counted against the budget's
	// system share but never trimmed.
	SystemPrompt string

	// Question is the user's query.
	Question string

	// ContextItems is the retrieved context, ordered by descending
	// relevance. The router trims it to budget; the caller's ordering is
	// preserved.
	ContextItems []datatypes.ContextItem

	// StrictJSON asks backends for JSON-constrained output.
	StrictJSON bool
}

// FallbackAttempt records one tier tried (or skipped) during a request.
type FallbackAttempt struct {
	BackendID string        `json:"backendId"`
	ErrorKind string        `json:"errorKind"`
	Latency   time.Duration `json:"latency"`
	Timestamp time.Time     `json:"timestamp"`
}

// Result is the outcome of a successful routed generation. Immutable once
// returned.
type Result struct {
	// Text is the model's answer.
	Text string

	// BackendUsed is the id of the tier that produced Text.
	BackendUsed string

	// PriorityUsed is that tier's priority (1 = highest).
	PriorityUsed int

	// FallbackCount is how many tiers were tried or skipped before the
	// serving tier.
	FallbackCount int

	// Trimmed is true when context items were dropped to fit budget.
	Trimmed bool

	// OverBudget is true when even the minimum kept items exceeded the
	// context share.
	OverBudget bool

	// ResponseMode is the synthesis strategy the kept-item count selected.
	ResponseMode ResponseMode

	// KeptContext is the post-trim context the prompt was built from.
	KeptContext []datatypes.ContextItem

	// Attempts is the ordered trail of failed or skipped tiers.
	Attempts []FallbackAttempt
}

// Router orchestrates generation across a prioritized backend chain.
//
// # Description
//
// For each request the router resolves the chain for the request's usage
// type, applies the mode and health gates, trims context to budget, and
// walks the eligible tiers strictly sequentially. Failures are classified
// by the provider adapters; the router records an attempt per tier,
// updates that tier's circuit breaker, backs off, and advances. The
// caller sees either one Result or one terminal error.
//
// # Thread Safety
//
// Safe for concurrent use. Per-backend circuit state is the only mutable
// state shared between requests.
type Router struct {
	config    RouterConfig
	estimator *TokenEstimator
	ctxMgr    *AdaptiveContextManager
	health    *HealthMonitor
	breakers  *BreakerRegistry
	chains    ChainSource
	factory   ClientFactory
	metrics   *Metrics
	logger    *slog.Logger

	clientMu sync.Mutex
	clients  map[string]llm.LLMClient

	// sleep waits between tiers, replaceable in tests. Returns the
	// context error if the context is done first.
	sleep func(ctx context.Context, d time.Duration) error

	// now is the clock, replaceable in tests.
	now func() time.Time
}

// RouterOption customizes router construction.
type RouterOption func(*Router)

// WithMetrics attaches the otel metrics bundle. Without it the router
// runs unmetered.
func WithMetrics(m *Metrics) RouterOption {
	return func(r *Router) { r.metrics = m }
}

// WithClientFactory overrides how provider clients are built. Tests use
// this to substitute fakes.
func WithClientFactory(f ClientFactory) RouterOption {
	return func(r *Router) { r.factory = f }
}

// WithHealthMonitor overrides the local runtime health monitor.
func WithHealthMonitor(h *HealthMonitor) RouterOption {
	return func(r *Router) { r.health = h }
}

// NewRouter builds a router. chains must not be nil; logger nil falls back
// to slog.Default.
func NewRouter(config RouterConfig, chains ChainSource, logger *slog.Logger, opts ...RouterOption) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	est := NewTokenEstimator()
	r := &Router{
		config:    config,
		estimator: est,
		ctxMgr:    NewAdaptiveContextManager(est, config.MinContextItems, config.HierarchicalThreshold),
		health:    NewHealthMonitor(HealthMonitorConfig{}, logger),
		breakers:  NewBreakerRegistry(config.Breaker),
		chains:    chains,
		factory:   llm.NewClient,
		logger:    logger,
		clients:   make(map[string]llm.LLMClient),
		sleep:     sleepCtx,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// BreakerStates exposes per-backend circuit state for the health endpoint.
func (r *Router) BreakerStates() map[string]CircuitState {
	return r.breakers.States()
}

// LocalHealth returns the current local runtime snapshot.
func (r *Router) LocalHealth(ctx context.Context) *HealthSnapshot {
	return r.health.Snapshot(ctx)
}

// Generate routes one request through the fallback chain and returns the
// first successful result.
//
// Terminal errors: *NotConfiguredError when no enabled backend serves the
// usage type under the active mode, *AllBackendsExhaustedError when every
// eligible tier failed or was skipped, and ctx.Err() when the caller
// cancelled.
func (r *Router) Generate(ctx context.Context, req Request) (*Result, error) {
	ctx, span := tracer.Start(ctx, "Router.Generate", trace.WithAttributes(
		attribute.String("usage_type", string(req.UsageType)),
		attribute.String("mode", string(r.config.Mode)),
	))
	defer span.End()

	res, err := r.generate(ctx, req, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.String("backend_used", res.BackendUsed),
		attribute.Int("fallback_count", res.FallbackCount),
		attribute.Bool("trimmed", res.Trimmed),
	)
	return res, nil
}

// GenerateStream routes one request like Generate but delivers tokens
// through callback as they arrive.
//
// Fallback happens only before the first token reaches the caller: once a
// tier has emitted output, a mid-stream failure terminates the request
// rather than replaying a partial answer from another backend.
func (r *Router) GenerateStream(ctx context.Context, req Request, callback llm.StreamCallback) (*Result, error) {
	ctx, span := tracer.Start(ctx, "Router.GenerateStream", trace.WithAttributes(
		attribute.String("usage_type", string(req.UsageType)),
		attribute.String("mode", string(r.config.Mode)),
	))
	defer span.End()

	res, err := r.generate(ctx, req, callback)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.String("backend_used", res.BackendUsed),
		attribute.Int("fallback_count", res.FallbackCount),
	)
	return res, nil
}

// generate is the shared chain walk. callback nil means buffered mode.
func (r *Router) generate(ctx context.Context, req Request, callback llm.StreamCallback) (*Result, error) {
	chain, err := r.chains.GetFallbackChain(ctx, req.UsageType)
	if err != nil {
		return nil, fmt.Errorf("resolve fallback chain: %w", err)
	}
	var backends []datatypes.BackendDescriptor
	if chain != nil {
		backends = chain.EnabledByPriority()
	}
	backends = r.filterByMode(backends)
	if len(backends) == 0 {
		return nil, &NotConfiguredError{UsageType: req.UsageType}
	}

	// Budget shaping happens once, before any dispatch.
	budget := ComputeBudget(r.config.MaxPromptTokens, r.config.BudgetSplits)
	kept, trimInfo := r.ctxMgr.Trim(req.ContextItems, budget)
	respMode := r.ctxMgr.RecommendResponseMode(len(kept))
	prompt := buildPrompt(req.SystemPrompt, kept, req.Question, respMode)

	if trimInfo.Trimmed {
		if r.metrics != nil {
			r.metrics.TrimmedTotal.Add(ctx, 1)
		}
		r.logger.Debug("context trimmed to budget",
			"dropped_items", trimInfo.DroppedItems,
			"dropped_tokens", trimInfo.DroppedTokens,
			"kept_tokens", trimInfo.KeptTokens,
			"over_budget", trimInfo.OverBudget)
	}

	promptTokens := r.estimator.Estimate(prompt)
	skipLocal := r.shouldSkipLocal(ctx, promptTokens)

	var attempts []FallbackAttempt
	var maxRetryHint time.Duration

	for i, desc := range backends {
		if skipLocal && desc.Kind.IsLocal() {
			r.logger.Debug("skipping local tier",
				"backend", desc.ID, "prompt_tokens", promptTokens)
			continue
		}

		cb := r.breakers.Get(desc.ID)
		probe, allowErr := cb.Allow()
		if allowErr != nil {
			attempts = append(attempts, FallbackAttempt{
				BackendID: desc.ID,
				ErrorKind: ErrKindCircuitOpen,
				Timestamp: r.now(),
			})
			if r.metrics != nil {
				r.metrics.CircuitOpenTotal.Add(ctx, 1)
			}
			var coe *CircuitOpenError
			if errors.As(allowErr, &coe) && coe.RetryIn > maxRetryHint {
				maxRetryHint = coe.RetryIn
			}
			continue
		}

		text, attemptErr := r.attemptTier(ctx, desc, probe, prompt, budget, req.StrictJSON, callback, &attempts)
		if attemptErr == nil {
			if r.metrics != nil && len(attempts) > 0 {
				r.metrics.FallbacksTotal.Add(ctx, 1)
			}
			return &Result{
				Text:          text,
				BackendUsed:   desc.ID,
				PriorityUsed:  desc.Priority,
				FallbackCount: len(attempts),
				Trimmed:       trimInfo.Trimmed,
				OverBudget:    trimInfo.OverBudget,
				ResponseMode:  respMode,
				KeptContext:   kept,
				Attempts:      attempts,
			}, nil
		}

		// Caller cancellation short-circuits the whole chain.
		if errors.Is(attemptErr, context.Canceled) {
			return nil, context.Canceled
		}

		// A failure after streamed output reached the caller cannot fall
		// back; surface it as-is.
		var sab *streamAbortedError
		if errors.As(attemptErr, &sab) {
			return nil, sab.err
		}

		var pe *llm.ProviderError
		if errors.As(attemptErr, &pe) {
			if pe.RetryAfter > maxRetryHint {
				maxRetryHint = pe.RetryAfter
			}
		}

		// Back off before the next tier, scaled by how many network
		// failures we have eaten so far. Skip the wait after the last
		// tier: there is nothing left to protect.
		if i < len(backends)-1 {
			delay := r.backoffDelay(len(attempts), pe)
			if delay > 0 {
				if err := r.sleep(ctx, delay); err != nil {
					return nil, context.Canceled
				}
			}
		}
	}

	if r.metrics != nil {
		r.metrics.ExhaustedTotal.Add(ctx, 1)
	}
	retryAfter := maxRetryHint
	if retryAfter < r.config.Breaker.Cooldown {
		retryAfter = r.config.Breaker.Cooldown
	}
	return nil, &AllBackendsExhaustedError{Attempts: attempts, RetryAfter: retryAfter}
}

// attemptTier runs one tier, including the configured same-tier retries
// for transient local failures. Exactly one FallbackAttempt is appended on
// failure; cancellation appends nothing.
func (r *Router) attemptTier(
	ctx context.Context,
	desc datatypes.BackendDescriptor,
	probe bool,
	prompt string,
	budget ContextBudget,
	strictJSON bool,
	callback llm.StreamCallback,
	attempts *[]FallbackAttempt,
) (string, error) {
	cb := r.breakers.Get(desc.ID)

	client, err := r.client(desc)
	if err != nil {
		cb.OnFailure(false, probe)
		*attempts = append(*attempts, FallbackAttempt{
			BackendID: desc.ID,
			ErrorKind: string(llm.ErrKindServiceUnavailable),
			Timestamp: r.now(),
		})
		r.logger.Error("backend client construction failed",
			"backend", desc.ID, "error", err)
		return "", err
	}

	timeout := r.config.RemoteTimeout
	tries := 1
	if desc.Kind.IsLocal() {
		timeout = r.config.LocalTimeout
		tries += r.config.LocalRetries
	}
	params := r.buildParams(desc, budget, strictJSON)

	var lastErr error
	var lastLatency time.Duration
	for attempt := 0; attempt < tries; attempt++ {
		start := r.now()
		var text string
		var genErr error

		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		if callback != nil {
			emitted := false
			wrapped := func(ev llm.StreamEvent) error {
				if ev.Type == llm.StreamEventToken {
					emitted = true
					text += ev.Content
				}
				return callback(ev)
			}
			genErr = client.GenerateStream(attemptCtx, prompt, params, wrapped)
			if genErr != nil && emitted && !errors.Is(genErr, context.Canceled) {
				// Output already reached the caller; replaying a partial
				// answer from another backend would corrupt the stream.
				cancel()
				var spe *llm.ProviderError
				midStreamRateLimited := errors.As(genErr, &spe) &&
					spe.Kind == llm.ErrKindRateLimited
				cb.OnFailure(midStreamRateLimited, probe)
				r.recordAttempt(ctx, attempts, desc.ID, genErr, r.now().Sub(start))
				return "", &streamAbortedError{err: genErr}
			}
		} else {
			text, genErr = client.Generate(attemptCtx, prompt, params)
		}
		cancel()
		latency := r.now().Sub(start)
		if r.metrics != nil {
			r.metrics.AttemptDuration.Record(ctx, latency.Seconds(),
				attemptMetricAttrs(desc.ID, genErr))
		}

		if genErr == nil {
			cb.OnSuccess(probe)
			if r.metrics != nil {
				r.metrics.AttemptsTotal.Add(ctx, 1, attemptMetricAttrs(desc.ID, nil))
			}
			return text, nil
		}

		if errors.Is(genErr, context.Canceled) {
			// Caller-initiated: release any probe slot without touching
			// the failure count.
			cb.OnCancel(probe)
			return "", context.Canceled
		}

		lastErr = genErr
		lastLatency = latency
		var pe *llm.ProviderError
		transient := errors.As(genErr, &pe) &&
			(pe.Kind == llm.ErrKindTimeout || pe.Kind == llm.ErrKindServiceUnavailable)
		if !transient || attempt == tries-1 {
			break
		}
		r.logger.Warn("local tier transient failure, retrying same tier",
			"backend", desc.ID, "attempt", attempt+1, "error", genErr)
	}

	rateLimited := false
	var pe *llm.ProviderError
	if errors.As(lastErr, &pe) {
		rateLimited = pe.Kind == llm.ErrKindRateLimited
		if pe.Kind == llm.ErrKindOutOfMemory && r.metrics != nil {
			r.metrics.OutOfMemoryTotal.Add(ctx, 1)
		}
	}
	cb.OnFailure(rateLimited, probe)
	r.recordAttempt(ctx, attempts, desc.ID, lastErr, lastLatency)
	r.logger.Warn("tier failed, advancing",
		"backend", desc.ID, "error", lastErr, "rate_limited", rateLimited)
	return "", lastErr
}

// recordAttempt appends one trail entry and bumps the attempt counter.
func (r *Router) recordAttempt(ctx context.Context, attempts *[]FallbackAttempt, backendID string, err error, latency time.Duration) {
	kind := string(llm.ErrKindServiceUnavailable)
	var pe *llm.ProviderError
	if errors.As(err, &pe) {
		kind = string(pe.Kind)
	}
	*attempts = append(*attempts, FallbackAttempt{
		BackendID: backendID,
		ErrorKind: kind,
		Latency:   latency,
		Timestamp: r.now(),
	})
	if r.metrics != nil {
		r.metrics.AttemptsTotal.Add(ctx, 1, attemptMetricAttrs(backendID, err))
	}
}

// filterByMode drops tiers the active mode excludes, preserving order.
func (r *Router) filterByMode(backends []datatypes.BackendDescriptor) []datatypes.BackendDescriptor {
	switch r.config.Mode {
	case ModeCloudOnly:
		out := backends[:0:0]
		for _, b := range backends {
			if !b.Kind.IsLocal() {
				out = append(out, b)
			}
		}
		return out
	case ModeLocalOnly:
		out := backends[:0:0]
		for _, b := range backends {
			if b.Kind.IsLocal() {
				out = append(out, b)
			}
		}
		return out
	default:
		return backends
	}
}

// shouldSkipLocal applies the local-first health and size gate. Local
// tiers are skipped when the runtime is unreachable or the prompt exceeds
// the small-query threshold. Never skips in local-only mode.
func (r *Router) shouldSkipLocal(ctx context.Context, promptTokens int) bool {
	if r.config.Mode != ModeLocalFirst {
		return false
	}
	if promptTokens >= r.config.SmallQueryThreshold {
		return true
	}
	return !r.health.Snapshot(ctx).Healthy
}

// backoffDelay computes the wait before the next tier: exponential in the
// number of recorded attempts, capped, and overridden by a larger
// backend-supplied retry-after hint.
func (r *Router) backoffDelay(attemptCount int, pe *llm.ProviderError) time.Duration {
	delay := r.config.BackoffBase
	for i := 1; i < attemptCount; i++ {
		delay = time.Duration(float64(delay) * r.config.BackoffMultiplier)
		if delay >= r.config.BackoffMax {
			delay = r.config.BackoffMax
			break
		}
	}
	if pe != nil && pe.RetryAfter > delay {
		delay = pe.RetryAfter
	}
	if delay > r.config.BackoffMax {
		delay = r.config.BackoffMax
	}
	return delay
}

// client returns the cached provider client for a backend, building it on
// first use.
func (r *Router) client(desc datatypes.BackendDescriptor) (llm.LLMClient, error) {
	r.clientMu.Lock()
	defer r.clientMu.Unlock()
	if c, ok := r.clients[desc.ID]; ok {
		return c, nil
	}
	c, err := r.factory(desc)
	if err != nil {
		return nil, err
	}
	r.clients[desc.ID] = c
	return c, nil
}

// buildParams maps a descriptor's parameters onto generation params,
// defaulting max tokens to the budget's response share.
func (r *Router) buildParams(desc datatypes.BackendDescriptor, budget ContextBudget, strictJSON bool) llm.GenerationParams {
	params := llm.GenerationParams{
		Temperature: desc.Parameters.Temperature,
		MaxTokens:   desc.Parameters.MaxTokens,
		StrictJSON:  strictJSON,
	}
	if params.MaxTokens == nil && budget.ResponseShare > 0 {
		share := budget.ResponseShare
		params.MaxTokens = &share
	}
	return params
}

// attemptMetricAttrs labels attempt metrics with backend and outcome.
func attemptMetricAttrs(backendID string, err error) metric.MeasurementOption {
	outcome := "success"
	var pe *llm.ProviderError
	if errors.As(err, &pe) {
		outcome = string(pe.Kind)
	} else if err != nil {
		outcome = "error"
	}
	return metric.WithAttributes(
		attribute.String("backend", backendID),
		attribute.String("outcome", outcome),
	)
}

// streamAbortedError marks a failure after streamed output already
// reached the caller; the chain walk stops instead of falling back.
type streamAbortedError struct{ err error }

func (e *streamAbortedError) Error() string { return e.err.Error() }
func (e *streamAbortedError) Unwrap() error { return e.err }

// sleepCtx waits for d or until ctx is done, whichever is first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// buildPrompt assembles the dispatch prompt from its budgeted parts. The
// hierarchical mode instructs the model to summarize each source before
// synthesizing, which keeps large contexts coherent.
func buildPrompt(systemPrompt string, items []datatypes.ContextItem, question string, mode ResponseMode) string {
	var b strings.Builder
	if systemPrompt != "" {
		b.WriteString(systemPrompt)
		b.WriteString("\n\n")
	}
	if len(items) > 0 {
		b.WriteString("Context:\n")
		for i, item := range items {
			fmt.Fprintf(&b, "[%d] (source: %s)\n%s\n\n", i+1, item.Source, item.Content)
		}
	}
	if mode == ResponseModeHierarchical {
		b.WriteString("First summarize the relevant facts from each numbered context block, then answer the question using only those summaries. Cite block numbers.\n\n")
	}
	b.WriteString("Question: ")
	b.WriteString(question)
	return b.String()
}
