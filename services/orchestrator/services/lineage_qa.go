// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package services provides business logic services for the orchestrator.
//
// Services encapsulate the flow between the policy engine, the retrieval
// boundary, and the inference router, keeping HTTP handlers thin.
// Dependencies are injected via constructors so services stay testable,
// and every method accepts a context for cancellation and tracing.
package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/AleutianLineage/services/inference"
	"github.com/AleutianAI/AleutianLineage/services/llm"
	"github.com/AleutianAI/AleutianLineage/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianLineage/services/orchestrator/retrieval"
	"github.com/AleutianAI/AleutianLineage/services/policy_engine"
)

var qaTracer = otel.Tracer("lineage.orchestrator.services.qa")

// defaultSystemPrompt frames the model as a lineage analyst. Kept short so
// it stays well inside the budget's system share.
const defaultSystemPrompt = "You are a data lineage analyst. Answer questions " +
	"about how tables, columns, and jobs depend on each other using only the " +
	"provided script excerpts. Name the scripts you relied on. If the excerpts " +
	"do not contain the answer, say so instead of guessing."

// GenerationRouter is the inference surface the QA service depends on.
//
// *inference.Router satisfies it; tests substitute a stub.
type GenerationRouter interface {
	Generate(ctx context.Context, req inference.Request) (*inference.Result, error)
	GenerateStream(ctx context.Context, req inference.Request, callback llm.StreamCallback) (*inference.Result, error)
}

// Compile-time interface implementation check.
var _ GenerationRouter = (*inference.Router)(nil)

// LineageQAService answers lineage questions end-to-end.
//
// # Description
//
// For each request the service validates input, scans it against the data
// classification policy, retrieves script context, and hands the assembled
// request to the inference router. The response carries source citations
// plus routing provenance (backend used, fallback count, trim flag).
//
// # Thread Safety
//
// LineageQAService is stateless and safe for concurrent use.
type LineageQAService struct {
	retriever    retrieval.Retriever
	router       GenerationRouter
	policyEngine *policy_engine.PolicyEngine
	systemPrompt string
}

// NewLineageQAService creates the QA service with its dependencies.
//
// policyEngine may be nil, in which case scanning is skipped; retriever
// and router must not be nil.
func NewLineageQAService(retriever retrieval.Retriever, router GenerationRouter, policyEngine *policy_engine.PolicyEngine) *LineageQAService {
	return &LineageQAService{
		retriever:    retriever,
		router:       router,
		policyEngine: policyEngine,
		systemPrompt: defaultSystemPrompt,
	}
}

// Process answers one lineage question.
//
// # Description
//
// The processing flow is:
//  1. Populate request defaults and validate.
//  2. Scan the question against the policy engine.
//  3. Retrieve relevant script chunks for the session.
//  4. Route generation through the fallback chain.
//  5. Build the response with sources and provenance.
//
// # Inputs
//
//   - ctx: Context for cancellation, timeouts, and tracing.
//   - req: The chat request. Modified in place to populate defaults.
//
// # Outputs
//
//   - *datatypes.LineageChatResponse: Answer, sources, and provenance.
//   - error: *PolicyViolationError, *RetrievalError, a validation error,
//     or a routing error such as *inference.AllBackendsExhaustedError.
func (s *LineageQAService) Process(ctx context.Context, req *datatypes.LineageChatRequest) (*datatypes.LineageChatResponse, error) {
	return s.process(ctx, req, nil)
}

// ProcessStream answers one lineage question, emitting tokens through
// callback as they arrive. The returned response carries the full answer
// and the same provenance as Process.
func (s *LineageQAService) ProcessStream(ctx context.Context, req *datatypes.LineageChatRequest, callback llm.StreamCallback) (*datatypes.LineageChatResponse, error) {
	return s.process(ctx, req, callback)
}

func (s *LineageQAService) process(ctx context.Context, req *datatypes.LineageChatRequest, callback llm.StreamCallback) (*datatypes.LineageChatResponse, error) {
	ctx, span := qaTracer.Start(ctx, "LineageQAService.Process")
	defer span.End()

	req.EnsureDefaults()
	span.SetAttributes(
		attribute.String("request.id", req.Id),
		attribute.String("request.usage_type", string(req.UsageType)),
	)

	if err := req.Validate(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "validation failed")
		return nil, &ValidationError{Err: err}
	}

	if findings := s.ScanPolicy(req.Question); len(findings) > 0 {
		span.SetStatus(codes.Error, "policy violation")
		span.SetAttributes(attribute.Int("policy.findings", len(findings)))
		return nil, &PolicyViolationError{Findings: findings}
	}

	sessionId := req.EnsureSessionId()
	span.SetAttributes(attribute.String("session.id", sessionId))
	slog.Info("Processing lineage question",
		"requestId", req.Id,
		"sessionId", sessionId,
		"usageType", req.UsageType)

	retrieved, err := s.retriever.Retrieve(ctx, datatypes.RetrievalRequest{
		Query:     req.Question,
		SessionId: sessionId,
		MaxChunks: req.MaxChunks,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "retrieval failed")
		return nil, &RetrievalError{Err: err}
	}
	if !retrieved.HasRelevantDocs {
		slog.Info("No relevant scripts found, answering without context",
			"requestId", req.Id)
	}

	genReq := inference.Request{
		UsageType:    req.UsageType,
		SystemPrompt: s.systemPrompt,
		Question:     questionWithHistory(req),
		ContextItems: retrieved.Items,
	}

	var result *inference.Result
	if callback != nil {
		result, err = s.router.GenerateStream(ctx, genReq, callback)
	} else {
		result, err = s.router.Generate(ctx, genReq)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generation failed")
		return nil, fmt.Errorf("generation failed: %w", err)
	}

	resp := datatypes.NewLineageChatResponse(
		result.Text, sessionId, sourcesFrom(result.KeptContext), turnCount(req))
	resp.BackendUsed = result.BackendUsed
	resp.FallbackCount = result.FallbackCount
	resp.Trimmed = result.Trimmed

	span.SetAttributes(
		attribute.String("response.backend_used", resp.BackendUsed),
		attribute.Int("response.fallback_count", resp.FallbackCount),
		attribute.Int("response.sources_count", len(resp.Sources)),
		attribute.Bool("response.trimmed", resp.Trimmed),
	)
	return resp, nil
}

// ScanPolicy scans content against the data classification rules.
//
// A nil engine yields no findings so a deployment without policies stays
// available.
func (s *LineageQAService) ScanPolicy(content string) []policy_engine.ScanFinding {
	if s.policyEngine == nil {
		return nil
	}
	return s.policyEngine.ScanFileContent(content)
}

// questionWithHistory folds prior turns into the question text so the
// model sees conversational continuity without a separate memory store.
func questionWithHistory(req *datatypes.LineageChatRequest) string {
	if len(req.History) == 0 {
		return req.Question
	}
	var sb strings.Builder
	sb.WriteString("Conversation so far:\n")
	for _, msg := range req.History {
		sb.WriteString(msg.Role)
		sb.WriteString(": ")
		sb.WriteString(msg.Content)
		sb.WriteString("\n")
	}
	sb.WriteString("\nCurrent question: ")
	sb.WriteString(req.Question)
	return sb.String()
}

// sourcesFrom cites the post-trim context the answer was actually built
// from, deduplicated by source name.
func sourcesFrom(kept []datatypes.ContextItem) []datatypes.SourceRef {
	if len(kept) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(kept))
	refs := make([]datatypes.SourceRef, 0, len(kept))
	for _, item := range kept {
		if _, dup := seen[item.Source]; dup {
			continue
		}
		seen[item.Source] = struct{}{}
		refs = append(refs, datatypes.SourceRef{
			Source:    item.Source,
			Relevance: item.Relevance,
		})
	}
	return refs
}

func turnCount(req *datatypes.LineageChatRequest) int {
	// History holds user/assistant pairs; count user turns plus this one.
	users := 0
	for _, msg := range req.History {
		if msg.Role == "user" {
			users++
		}
	}
	return users + 1
}
