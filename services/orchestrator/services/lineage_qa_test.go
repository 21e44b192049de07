// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianLineage/services/inference"
	"github.com/AleutianAI/AleutianLineage/services/llm"
	"github.com/AleutianAI/AleutianLineage/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianLineage/services/policy_engine"
)

// =============================================================================
// Stubs
// =============================================================================

// stubRetriever implements retrieval.Retriever with a canned response.
type stubRetriever struct {
	resp    *datatypes.RetrievalResponse
	err     error
	lastReq datatypes.RetrievalRequest
}

func (s *stubRetriever) Retrieve(ctx context.Context, req datatypes.RetrievalRequest) (*datatypes.RetrievalResponse, error) {
	s.lastReq = req
	if s.err != nil {
		return nil, s.err
	}
	return s.resp, nil
}

// stubRouter implements GenerationRouter and records the request it saw.
type stubRouter struct {
	result  *inference.Result
	err     error
	lastReq inference.Request
	calls   int
}

func (s *stubRouter) Generate(ctx context.Context, req inference.Request) (*inference.Result, error) {
	s.calls++
	s.lastReq = req
	return s.result, s.err
}

func (s *stubRouter) GenerateStream(ctx context.Context, req inference.Request, callback llm.StreamCallback) (*inference.Result, error) {
	s.calls++
	s.lastReq = req
	if s.err != nil {
		return nil, s.err
	}
	for _, tok := range strings.Fields(s.result.Text) {
		if err := callback(llm.StreamEvent{Type: llm.StreamEventToken, Content: tok}); err != nil {
			return nil, err
		}
	}
	if err := callback(llm.StreamEvent{Type: llm.StreamEventDone}); err != nil {
		return nil, err
	}
	return s.result, s.err
}

func relevantDocs() *datatypes.RetrievalResponse {
	return &datatypes.RetrievalResponse{
		Items: []datatypes.ContextItem{
			{Source: "etl/load_orders.sql_part_1", Content: "INSERT INTO orders ...", Relevance: 0.9},
			{Source: "etl/load_orders.sql_part_2", Content: "UPDATE orders ...", Relevance: 0.8},
		},
		HasRelevantDocs: true,
	}
}

func routedResult(text string) *inference.Result {
	return &inference.Result{
		Text:         text,
		BackendUsed:  "local-ollama",
		PriorityUsed: 1,
		KeptContext: []datatypes.ContextItem{
			{Source: "etl/load_orders.sql_part_1", Relevance: 0.9},
		},
	}
}

func newQAService(retriever *stubRetriever, router *stubRouter) *LineageQAService {
	engine, err := policy_engine.NewPolicyEngine()
	if err != nil {
		panic(err)
	}
	return NewLineageQAService(retriever, router, engine)
}

// =============================================================================
// Process Tests
// =============================================================================

func TestProcess_HappyPath(t *testing.T) {
	retriever := &stubRetriever{resp: relevantDocs()}
	router := &stubRouter{result: routedResult("orders is loaded from staging_orders.")}
	svc := newQAService(retriever, router)

	req := &datatypes.LineageChatRequest{Question: "What feeds the orders table?"}
	resp, err := svc.Process(context.Background(), req)

	require.NoError(t, err)
	assert.Equal(t, "orders is loaded from staging_orders.", resp.Answer)
	assert.Equal(t, "local-ollama", resp.BackendUsed)
	assert.Zero(t, resp.FallbackCount)
	assert.Equal(t, 1, resp.TurnCount)
	require.Len(t, resp.Sources, 1)
	assert.Equal(t, "etl/load_orders.sql_part_1", resp.Sources[0].Source)

	// defaults were populated and flowed through
	assert.NotEmpty(t, req.Id)
	assert.Equal(t, req.SessionId, resp.SessionId)
	assert.Equal(t, req.SessionId, retriever.lastReq.SessionId)
	assert.Equal(t, datatypes.UsageLineageQA, router.lastReq.UsageType)
	assert.Len(t, router.lastReq.ContextItems, 2)
}

func TestProcess_ValidationFailure(t *testing.T) {
	svc := newQAService(&stubRetriever{resp: relevantDocs()}, &stubRouter{result: routedResult("x")})

	_, err := svc.Process(context.Background(), &datatypes.LineageChatRequest{Question: "   "})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation failed")
}

func TestProcess_PolicyViolationBlocksDispatch(t *testing.T) {
	router := &stubRouter{result: routedResult("x")}
	svc := newQAService(&stubRetriever{resp: relevantDocs()}, router)

	req := &datatypes.LineageChatRequest{
		Question: "Why is AKIA1234567890123456 hardcoded in the load script?",
	}
	_, err := svc.Process(context.Background(), req)

	require.Error(t, err)
	assert.True(t, IsPolicyViolation(err))
	assert.Zero(t, router.calls, "router must not be called on a policy violation")

	var pve *PolicyViolationError
	require.ErrorAs(t, err, &pve)
	assert.Equal(t, "credentials", pve.Findings[0].ClassificationName)
}

func TestProcess_RetrievalErrorIsTyped(t *testing.T) {
	retriever := &stubRetriever{err: errors.New("weaviate unreachable")}
	svc := newQAService(retriever, &stubRouter{result: routedResult("x")})

	_, err := svc.Process(context.Background(), &datatypes.LineageChatRequest{Question: "q?"})
	require.Error(t, err)
	assert.True(t, IsRetrievalError(err))
	assert.Contains(t, err.Error(), "weaviate unreachable")
}

func TestProcess_NoRelevantDocsStillAnswers(t *testing.T) {
	retriever := &stubRetriever{resp: &datatypes.RetrievalResponse{HasRelevantDocs: false}}
	router := &stubRouter{result: &inference.Result{Text: "I don't have scripts covering that.", BackendUsed: "local-ollama"}}
	svc := newQAService(retriever, router)

	resp, err := svc.Process(context.Background(), &datatypes.LineageChatRequest{Question: "What feeds orders?"})
	require.NoError(t, err)
	assert.Empty(t, router.lastReq.ContextItems)
	assert.Empty(t, resp.Sources)
}

func TestProcess_GenerationErrorWrapped(t *testing.T) {
	router := &stubRouter{err: &inference.AllBackendsExhaustedError{}}
	svc := newQAService(&stubRetriever{resp: relevantDocs()}, router)

	_, err := svc.Process(context.Background(), &datatypes.LineageChatRequest{Question: "q?"})
	require.Error(t, err)

	var exhausted *inference.AllBackendsExhaustedError
	assert.ErrorAs(t, err, &exhausted)
}

func TestProcess_HistoryFoldedIntoQuestion(t *testing.T) {
	router := &stubRouter{result: routedResult("answer")}
	svc := newQAService(&stubRetriever{resp: relevantDocs()}, router)

	req := &datatypes.LineageChatRequest{
		Question: "And what writes to it?",
		History: []datatypes.Message{
			{Role: "user", Content: "What feeds orders?"},
			{Role: "assistant", Content: "staging_orders feeds orders."},
		},
	}
	resp, err := svc.Process(context.Background(), req)

	require.NoError(t, err)
	assert.Contains(t, router.lastReq.Question, "Conversation so far:")
	assert.Contains(t, router.lastReq.Question, "staging_orders feeds orders.")
	assert.Contains(t, router.lastReq.Question, "Current question: And what writes to it?")
	assert.Equal(t, 2, resp.TurnCount)
}

func TestProcessStream_EmitsTokens(t *testing.T) {
	router := &stubRouter{result: routedResult("orders comes from staging_orders")}
	svc := newQAService(&stubRetriever{resp: relevantDocs()}, router)

	var tokens []string
	callback := func(ev llm.StreamEvent) error {
		if ev.Type == llm.StreamEventToken {
			tokens = append(tokens, ev.Content)
		}
		return nil
	}

	resp, err := svc.ProcessStream(context.Background(), &datatypes.LineageChatRequest{Question: "q?"}, callback)
	require.NoError(t, err)
	assert.Equal(t, []string{"orders", "comes", "from", "staging_orders"}, tokens)
	assert.Equal(t, "local-ollama", resp.BackendUsed)
}

func TestProcess_NilPolicyEngineSkipsScan(t *testing.T) {
	router := &stubRouter{result: routedResult("answer")}
	svc := NewLineageQAService(&stubRetriever{resp: relevantDocs()}, router, nil)

	_, err := svc.Process(context.Background(), &datatypes.LineageChatRequest{
		Question: "Why is AKIA1234567890123456 hardcoded?",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, router.calls)
}

func TestSourcesFrom_Deduplicates(t *testing.T) {
	refs := sourcesFrom([]datatypes.ContextItem{
		{Source: "a.sql", Relevance: 0.9},
		{Source: "a.sql", Relevance: 0.8},
		{Source: "b.sql", Relevance: 0.7},
	})
	require.Len(t, refs, 2)
	assert.Equal(t, "a.sql", refs[0].Source)
	assert.Equal(t, "b.sql", refs[1].Source)
}
