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
	"log/slog"
	"time"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/kodiak/internal/fault"
)

// DefaultOpenRouterBaseURL is the OpenAI-compatible endpoint OpenRouter
// exposes.
const DefaultOpenRouterBaseURL = "https://openrouter.ai/api/v1"

// OpenRouterConfig configures the hosted provider.
type OpenRouterConfig struct {
	APIKey  string
	BaseURL string
	// RequestsPerSecond throttles outbound calls; zero disables the
	// limiter.
	RequestsPerSecond float64
	Logger            *slog.Logger
}

// OpenRouterProvider runs completions through OpenRouter's
// OpenAI-compatible API.
//
// # Thread Safety
//
// Safe for concurrent use.
type OpenRouterProvider struct {
	client  *openai.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewOpenRouterProvider creates the provider.
func NewOpenRouterProvider(cfg OpenRouterConfig) (*OpenRouterProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openrouter api key must not be empty")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOpenRouterBaseURL
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = cfg.BaseURL

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	return &OpenRouterProvider{
		client:  openai.NewClientWithConfig(clientCfg),
		limiter: limiter,
		logger:  cfg.Logger,
	}, nil
}

// Name implements Provider.
func (p *OpenRouterProvider) Name() string { return "openrouter" }

// Invoke implements Provider.
func (p *OpenRouterProvider) Invoke(ctx context.Context, req Request) (*Response, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, fault.New(fault.KindTimeout, "openrouter.invoke", err)
		}
	}

	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Prompt,
	})

	chatReq := openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: messages,
	}
	if req.Temperature > 0 {
		chatReq.Temperature = req.Temperature
	}
	if req.MaxTokens > 0 {
		chatReq.MaxCompletionTokens = req.MaxTokens
	}

	start := time.Now()
	resp, err := p.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		kind := fault.KindOf(err)
		p.logger.Warn("openrouter call failed",
			"model", req.Model, "kind", string(kind), "error", err)
		return nil, fault.New(kind, "openrouter.invoke", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fault.New(fault.KindModelUnavailable, "openrouter.invoke",
			errors.New("response contained no choices"))
	}

	tokens := resp.Usage.TotalTokens
	if tokens == 0 {
		tokens = estimateTokens(resp.Choices[0].Message.Content)
	}
	return &Response{
		Text:       resp.Choices[0].Message.Content,
		Model:      req.Model,
		Provider:   p.Name(),
		TokensUsed: tokens,
		Duration:   time.Since(start),
	}, nil
}
