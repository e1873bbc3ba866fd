// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm provides the model providers the router dispatches to:
// a hosted gateway (OpenRouter) and a local runtime (Ollama).
package llm

import (
	"context"
	"time"
)

// Request is one model invocation.
type Request struct {
	// Model is the provider-scoped model identifier.
	Model string
	// Prompt is the user-facing query text.
	Prompt string
	// SystemPrompt is prepended as the system role when non-empty.
	SystemPrompt string
	// MaxTokens bounds the completion length; zero uses the provider
	// default.
	MaxTokens int
	// Temperature of zero uses the provider default.
	Temperature float32
}

// Response is a completed invocation.
type Response struct {
	Text       string
	Model      string
	Provider   string
	TokensUsed int
	Duration   time.Duration
}

// Provider executes model invocations.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Invoke runs one completion. Failures are returned as fault
	// errors so callers can tell retryable conditions from fatal ones.
	Invoke(ctx context.Context, req Request) (*Response, error)

	// Name identifies the provider in logs and routing decisions.
	Name() string
}

// estimateTokens approximates token count as ~4 characters per token.
// Good enough for usage accounting; exact counts depend on the
// tokenizer.
func estimateTokens(content string) int {
	return len(content) / 4
}
