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
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/kodiak/internal/fault"
)

var ollamaTracer = otel.Tracer("kodiak.llm.ollama")

// OllamaProvider runs completions against a local Ollama instance.
//
// # Thread Safety
//
// Safe for concurrent use.
type OllamaProvider struct {
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger
}

type ollamaGenerateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	System  string         `json:"system,omitempty"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type ollamaGenerateResponse struct {
	Model     string `json:"model"`
	Response  string `json:"response"`
	Done      bool   `json:"done"`
	EvalCount int    `json:"eval_count"`
}

// NewOllamaProvider creates a provider for the given base URL, e.g.
// "http://localhost:11434".
func NewOllamaProvider(baseURL string, logger *slog.Logger) *OllamaProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &OllamaProvider{
		// Per-invocation deadlines come from the caller's context; the
		// client timeout is only a backstop for leaked requests.
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		logger:     logger,
	}
}

// Name implements Provider.
func (p *OllamaProvider) Name() string { return "ollama" }

// Invoke implements Provider.
func (p *OllamaProvider) Invoke(ctx context.Context, req Request) (*Response, error) {
	ctx, span := ollamaTracer.Start(ctx, "OllamaProvider.Invoke")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", req.Model))

	options := make(map[string]any)
	if req.Temperature > 0 {
		options["temperature"] = req.Temperature
	}
	if req.MaxTokens > 0 {
		options["num_predict"] = req.MaxTokens
	}

	payload := ollamaGenerateRequest{
		Model:   req.Model,
		Prompt:  req.Prompt,
		System:  req.SystemPrompt,
		Stream:  false,
		Options: options,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fault.New(fault.KindValidation, "ollama.invoke",
			fmt.Errorf("marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fault.New(fault.KindValidation, "ollama.invoke", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if ctx.Err() != nil {
			return nil, fault.New(fault.KindTimeout, "ollama.invoke", err)
		}
		return nil, fault.New(fault.KindConnectivity, "ollama.invoke", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fault.New(fault.KindConnectivity, "ollama.invoke",
			fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		err := classifyOllamaStatus(resp.StatusCode, respBody, req.Model, "ollama.invoke")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	var parsed ollamaGenerateResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fault.New(fault.KindModelUnavailable, "ollama.invoke",
			fmt.Errorf("decode response: %w", err))
	}

	tokens := parsed.EvalCount
	if tokens == 0 {
		tokens = estimateTokens(parsed.Response)
	}
	return &Response{
		Text:       parsed.Response,
		Model:      parsed.Model,
		Provider:   p.Name(),
		TokensUsed: tokens,
		Duration:   time.Since(start),
	}, nil
}

// classifyOllamaStatus turns a non-200 Ollama reply into a fault error.
func classifyOllamaStatus(status int, body []byte, model, op string) error {
	var errResp struct {
		Error string `json:"error"`
	}
	_ = json.Unmarshal(body, &errResp)

	switch {
	case status == http.StatusNotFound &&
		strings.Contains(errResp.Error, "model") &&
		strings.Contains(errResp.Error, "not found"):
		return fault.New(fault.KindModelUnavailable, op,
			fmt.Errorf("model %q not found, run: ollama pull %s", model, model))
	case status == http.StatusBadRequest:
		return fault.New(fault.KindValidation, op,
			fmt.Errorf("ollama rejected request: %s", errResp.Error))
	case status == http.StatusTooManyRequests:
		return fault.New(fault.KindRateLimit, op,
			fmt.Errorf("ollama rate limited: %s", errResp.Error))
	default:
		return fault.New(fault.KindModelUnavailable, op,
			fmt.Errorf("ollama returned status %d: %s", status, errResp.Error))
	}
}
