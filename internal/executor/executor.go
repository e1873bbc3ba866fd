// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package executor runs routed invocations with retries, per-model
// circuit breaking, and fallback-chain escalation.
package executor

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"

	"github.com/AleutianAI/kodiak/internal/breaker"
	"github.com/AleutianAI/kodiak/internal/fault"
	"github.com/AleutianAI/kodiak/internal/llm"
	"github.com/AleutianAI/kodiak/internal/router"
)

// Config tunes retry behavior.
type Config struct {
	// InvokeTimeout bounds each single provider attempt.
	InvokeTimeout time.Duration
	// MaxRetries is the extra attempts per model after the first.
	MaxRetries int
	// BackoffBase is the first retry delay; each further retry doubles
	// it, with ±20% jitter.
	BackoffBase time.Duration
}

// DefaultConfig returns the stock retry policy.
func DefaultConfig() Config {
	return Config{
		InvokeTimeout: 30 * time.Second,
		MaxRetries:    2,
		BackoffBase:   time.Second,
	}
}

// Request is the invocation payload accompanying a routing decision.
type Request struct {
	Prompt       string
	SystemPrompt string
	MaxTokens    int
	Temperature  float32
}

// Result is the deterministic outcome envelope. Executions never
// surface raw provider errors; a fully failed chain produces a
// degraded result, not an error.
type Result struct {
	Success     bool          `json:"success"`
	Text        string        `json:"text,omitempty"`
	ModelID     string        `json:"model_id,omitempty"`
	Provider    string        `json:"provider,omitempty"`
	TokensUsed  int           `json:"tokens_used,omitempty"`
	Attempts    int           `json:"attempts"`
	Duration    time.Duration `json:"duration"`
	ErrorKind   fault.Kind    `json:"error_kind,omitempty"`
	UserMessage string        `json:"user_message,omitempty"`
}

// ProfileSource resolves model IDs from the routing table.
type ProfileSource interface {
	Profile(id string) (router.ModelProfile, bool)
}

// Executor traverses a decision's fallback chain.
//
// # Description
//
// For each candidate model: retryable failures (connectivity, rate
// limit, timeout) are retried up to MaxRetries with exponential
// backoff; other failures skip straight to the next candidate. Fatal
// kinds (auth, validation) abort the whole chain immediately since
// another model cannot fix a bad key or a malformed request. Each
// model has its own circuit breaker; an open breaker skips the model
// without an attempt.
//
// # Thread Safety
//
// Safe for concurrent use.
type Executor struct {
	providers map[router.ProviderKind]llm.Provider
	profiles  ProfileSource
	breakers  *breaker.Registry
	config    Config
	logger    *slog.Logger

	// sleep is swapped in tests to avoid real backoff delays.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates an executor. providers maps each provider kind the
// profile table references to its implementation.
func New(providers map[router.ProviderKind]llm.Provider, profiles ProfileSource,
	breakers *breaker.Registry, config Config, logger *slog.Logger) *Executor {

	if config.InvokeTimeout <= 0 {
		config.InvokeTimeout = 30 * time.Second
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 2
	}
	if config.BackoffBase <= 0 {
		config.BackoffBase = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		providers: providers,
		profiles:  profiles,
		breakers:  breakers,
		config:    config,
		logger:    logger,
		sleep:     sleepCtx,
	}
}

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

// backoff computes the delay before retry attempt n (0-based), with
// ±20% jitter.
func (e *Executor) backoff(n int) time.Duration {
	d := float64(e.config.BackoffBase)
	for i := 0; i < n; i++ {
		d *= 2
	}
	jitter := 1 + (rand.Float64()*0.4 - 0.2)
	return time.Duration(d * jitter)
}

// Execute runs the decision's fallback chain to completion.
func (e *Executor) Execute(ctx context.Context, decision router.Decision, req Request) Result {
	start := time.Now()
	attempts := 0
	lastKind := fault.KindModelUnavailable

	for _, modelID := range decision.FallbackChain {
		profile, ok := e.profiles.Profile(modelID)
		if !ok {
			e.logger.Warn("decision references unknown model", "model", modelID)
			continue
		}
		provider, ok := e.providers[profile.ProviderKind]
		if !ok {
			e.logger.Warn("no provider wired for kind",
				"model", modelID, "kind", string(profile.ProviderKind))
			continue
		}

		resp, kind, tried := e.invokeWithRetries(ctx, provider, profile, req, &attempts)
		if resp != nil {
			return Result{
				Success:    true,
				Text:       resp.Text,
				ModelID:    modelID,
				Provider:   resp.Provider,
				TokensUsed: resp.TokensUsed,
				Attempts:   attempts,
				Duration:   time.Since(start),
			}
		}
		if tried {
			lastKind = kind
		}
		if kind.Fatal() {
			// Chain traversal cannot fix auth or validation failures.
			return e.degraded(kind, attempts, start)
		}
		if ctx.Err() != nil {
			return e.degraded(fault.KindTimeout, attempts, start)
		}
		e.logger.Info("escalating to next candidate",
			"failed_model", modelID, "kind", string(kind))
	}

	return e.degraded(lastKind, attempts, start)
}

// invokeWithRetries runs one model's attempt budget. A nil response
// with tried=false means the breaker rejected the model outright.
func (e *Executor) invokeWithRetries(ctx context.Context, provider llm.Provider,
	profile router.ModelProfile, req Request, attempts *int) (*llm.Response, fault.Kind, bool) {

	b := e.breakers.Get("model." + profile.ID)
	tried := false
	kind := fault.KindCircuitOpen

	for attempt := 0; attempt <= e.config.MaxRetries; attempt++ {
		var resp *llm.Response
		err := b.Do(func() error {
			attemptCtx, cancel := context.WithTimeout(ctx, e.config.InvokeTimeout)
			defer cancel()

			var invokeErr error
			resp, invokeErr = provider.Invoke(attemptCtx, llm.Request{
				Model:        profile.Model,
				Prompt:       req.Prompt,
				SystemPrompt: req.SystemPrompt,
				MaxTokens:    req.MaxTokens,
				Temperature:  req.Temperature,
			})
			return invokeErr
		})
		if errors.Is(err, breaker.ErrCircuitOpen) {
			return nil, fault.KindCircuitOpen, tried
		}
		*attempts++
		tried = true
		if err == nil {
			return resp, "", true
		}

		kind = fault.KindOf(err)
		e.logger.Warn("invocation attempt failed",
			"model", profile.ID, "attempt", attempt+1,
			"kind", string(kind), "error", err)

		if kind.Fatal() || !kind.Retryable() || attempt == e.config.MaxRetries {
			return nil, kind, true
		}
		if e.sleep(ctx, e.backoff(attempt)) != nil {
			return nil, fault.KindTimeout, true
		}
	}
	return nil, kind, tried
}

func (e *Executor) degraded(kind fault.Kind, attempts int, start time.Time) Result {
	return Result{
		Success:     false,
		Attempts:    attempts,
		Duration:    time.Since(start),
		ErrorKind:   kind,
		UserMessage: fault.UserMessage(kind),
	}
}
