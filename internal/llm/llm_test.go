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
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/kodiak/internal/fault"
)

func TestOllamaInvokeSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/generate", r.URL.Path)

		var req ollamaGenerateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "llama3.2:3b", req.Model)
		assert.False(t, req.Stream)

		_ = json.NewEncoder(w).Encode(ollamaGenerateResponse{
			Model:     req.Model,
			Response:  "hello back",
			Done:      true,
			EvalCount: 7,
		})
	}))
	defer srv.Close()

	p := NewOllamaProvider(srv.URL, nil)
	resp, err := p.Invoke(context.Background(), Request{
		Model:  "llama3.2:3b",
		Prompt: "hello",
	})
	require.NoError(t, err)
	assert.Equal(t, "hello back", resp.Text)
	assert.Equal(t, "ollama", resp.Provider)
	assert.Equal(t, 7, resp.TokensUsed)
}

func TestOllamaInvokeModelNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"model 'nope' not found"}`))
	}))
	defer srv.Close()

	p := NewOllamaProvider(srv.URL, nil)
	_, err := p.Invoke(context.Background(), Request{Model: "nope", Prompt: "x"})
	require.Error(t, err)
	assert.Equal(t, fault.KindModelUnavailable, fault.KindOf(err))
}

func TestOllamaInvokeRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"busy"}`))
	}))
	defer srv.Close()

	p := NewOllamaProvider(srv.URL, nil)
	_, err := p.Invoke(context.Background(), Request{Model: "m", Prompt: "x"})
	require.Error(t, err)
	assert.Equal(t, fault.KindRateLimit, fault.KindOf(err))
	assert.True(t, fault.KindOf(err).Retryable())
}

func TestOllamaInvokeConnectionRefused(t *testing.T) {
	// A closed server gives a reliably refused port.
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()

	p := NewOllamaProvider(srv.URL, nil)
	_, err := p.Invoke(context.Background(), Request{Model: "m", Prompt: "x"})
	require.Error(t, err)
	assert.Equal(t, fault.KindConnectivity, fault.KindOf(err))
}

func TestOpenRouterInvokeSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		_, _ = w.Write([]byte(`{
			"id": "gen-1",
			"choices": [{"message": {"role": "assistant", "content": "routed reply"}}],
			"usage": {"total_tokens": 12}
		}`))
	}))
	defer srv.Close()

	p, err := NewOpenRouterProvider(OpenRouterConfig{
		APIKey:  "test-key",
		BaseURL: srv.URL,
	})
	require.NoError(t, err)

	resp, err := p.Invoke(context.Background(), Request{
		Model:  "anthropic/claude-sonnet",
		Prompt: "hello",
	})
	require.NoError(t, err)
	assert.Equal(t, "routed reply", resp.Text)
	assert.Equal(t, "openrouter", resp.Provider)
	assert.Equal(t, 12, resp.TokensUsed)
}

func TestOpenRouterInvokeAuthFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error": {"message": "invalid key", "type": "auth"}}`))
	}))
	defer srv.Close()

	p, err := NewOpenRouterProvider(OpenRouterConfig{APIKey: "bad", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = p.Invoke(context.Background(), Request{Model: "m", Prompt: "x"})
	require.Error(t, err)
	assert.Equal(t, fault.KindAuth, fault.KindOf(err))
	assert.True(t, fault.KindOf(err).Fatal())
}

func TestOpenRouterRequiresAPIKey(t *testing.T) {
	_, err := NewOpenRouterProvider(OpenRouterConfig{})
	assert.Error(t, err)
}

func TestOllamaEmbedderRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/embeddings", r.URL.Path)

		var req ollamaEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "nomic-embed-text", req.Model)

		_ = json.NewEncoder(w).Encode(ollamaEmbedResponse{
			Embedding: []float64{0.1, 0.2, 0.3},
		})
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(srv.URL, "nomic-embed-text")
	vec, err := e.Embed(context.Background(), "some text")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
}

func TestOllamaEmbedderEmptyEmbedding(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(ollamaEmbedResponse{})
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(srv.URL, "nomic-embed-text")
	_, err := e.Embed(context.Background(), "some text")
	require.Error(t, err)
	assert.Equal(t, fault.KindModelUnavailable, fault.KindOf(err))
}
