// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianLineage/services/orchestrator/configstore"
	"github.com/AleutianAI/AleutianLineage/services/orchestrator/datatypes"
)

func newChainEngine(t *testing.T) (*gin.Engine, *configstore.ChainStore) {
	t.Helper()
	store, err := configstore.NewChainStore(
		configstore.BadgerConfig{InMemory: true},
		slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	engine := gin.New()
	engine.GET("/v1/config/chains", ListChains(store))
	engine.GET("/v1/config/chains/:usage", GetChain(store))
	engine.PUT("/v1/config/chains/:usage", PutChain(store))
	engine.DELETE("/v1/config/chains/:usage", DeleteChain(store))
	return engine, store
}

func testChain() datatypes.FallbackChain {
	return datatypes.FallbackChain{
		UsageType: datatypes.UsageLineageQA,
		Backends: []datatypes.BackendDescriptor{
			{ID: "local-ollama", Kind: datatypes.BackendKindOllama, Endpoint: "http://localhost:11434", ModelID: "llama3.1:8b", Priority: 1, Enabled: true},
			{ID: "cloud-a", Kind: datatypes.BackendKindOpenAI, ModelID: "gpt-4o-mini", Priority: 2, Enabled: true},
		},
	}
}

func doJSON(engine *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var payload []byte
	if body != nil {
		payload, _ = json.Marshal(body)
	}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	engine.ServeHTTP(rec, req)
	return rec
}

func TestChainCRUD(t *testing.T) {
	engine, _ := newChainEngine(t)

	// missing at first
	rec := doJSON(engine, http.MethodGet, "/v1/config/chains/lineage_qa", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// create
	rec = doJSON(engine, http.MethodPut, "/v1/config/chains/lineage_qa", testChain())
	require.Equal(t, http.StatusOK, rec.Code)

	// read back
	rec = doJSON(engine, http.MethodGet, "/v1/config/chains/lineage_qa", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var chain datatypes.FallbackChain
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &chain))
	assert.Len(t, chain.Backends, 2)

	// list
	rec = doJSON(engine, http.MethodGet, "/v1/config/chains", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "local-ollama")

	// delete
	rec = doJSON(engine, http.MethodDelete, "/v1/config/chains/lineage_qa", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(engine, http.MethodGet, "/v1/config/chains/lineage_qa", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPutChain_UnknownUsageType(t *testing.T) {
	engine, _ := newChainEngine(t)
	rec := doJSON(engine, http.MethodPut, "/v1/config/chains/bogus", testChain())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPutChain_BodyUsageMismatch(t *testing.T) {
	engine, _ := newChainEngine(t)
	chain := testChain()
	chain.UsageType = datatypes.UsageSummarization
	rec := doJSON(engine, http.MethodPut, "/v1/config/chains/lineage_qa", chain)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPutChain_InvalidChainRejected(t *testing.T) {
	engine, _ := newChainEngine(t)
	chain := testChain()
	chain.Backends[1].ID = chain.Backends[0].ID // duplicate id
	rec := doJSON(engine, http.MethodPut, "/v1/config/chains/lineage_qa", chain)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
