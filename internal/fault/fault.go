// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package fault defines the error taxonomy shared by the routing and
// persistence layers.
//
// # Description
//
// Every external dependency (model providers, the primary and backup stores,
// the vector backend) can fail in ways that demand different handling:
// some failures are worth retrying with backoff, some should escalate to a
// fallback candidate, and some must surface immediately because no amount
// of retrying fixes them. This package gives each failure a Kind and a
// single place to ask "is this retryable?".
//
// # Propagation Policy
//
//   - Retryable (Connectivity, RateLimit, Timeout): retried with backoff by
//     the invocation executor; escalate to the fallback chain on exhaustion.
//   - Fatal for the operation (Auth, Validation): surfaced immediately,
//     never retried, no fallback attempted.
//   - Routing signals (ModelUnavailable, StorageUnavailable, CircuitOpen):
//     trigger candidate removal or backup reads; never bubble up raw.
package fault

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"

	"github.com/sashabaranov/go-openai"

	"github.com/AleutianAI/kodiak/internal/breaker"
)

// Kind classifies a failure for retry and fallback decisions.
//
// Kinds are stable strings so they can double as metric labels and as the
// error_kind field of degraded response envelopes.
type Kind string

const (
	// KindConnectivity is a network-level failure (DNS, refused, reset).
	KindConnectivity Kind = "connectivity"

	// KindAuth is an authentication or authorization failure.
	KindAuth Kind = "auth"

	// KindRateLimit is a provider-side throttle (HTTP 429 and friends).
	KindRateLimit Kind = "rate_limit"

	// KindTimeout is a deadline exceeded on an external call.
	KindTimeout Kind = "timeout"

	// KindModelUnavailable means the selected model cannot currently serve.
	KindModelUnavailable Kind = "model_unavailable"

	// KindStorageUnavailable means a storage tier rejected the operation.
	KindStorageUnavailable Kind = "storage_unavailable"

	// KindCircuitOpen means a circuit breaker rejected the call fast.
	KindCircuitOpen Kind = "circuit_open"

	// KindValidation is malformed caller input; retrying cannot help.
	KindValidation Kind = "validation"

	// KindUnknown is anything the classifier could not place.
	KindUnknown Kind = "unknown"
)

// Retryable reports whether the executor should retry this kind locally
// with backoff before escalating to the fallback chain.
func (k Kind) Retryable() bool {
	switch k {
	case KindConnectivity, KindRateLimit, KindTimeout:
		return true
	default:
		return false
	}
}

// Fatal reports whether this kind must surface to the caller immediately,
// with no retry and no fallback. Retrying with a different model does not
// fix a bad API key or malformed input.
func (k Kind) Fatal() bool {
	return k == KindAuth || k == KindValidation
}

// Error is a classified failure from an external dependency.
//
// # Thread Safety
//
// Error is immutable after creation and safe for concurrent reads.
type Error struct {
	// Kind is the failure classification.
	Kind Kind

	// Op names the operation that failed (e.g. "provider.invoke").
	Op string

	// Err is the underlying cause (may be nil for synthetic errors).
	Err error
}

// New creates a classified error for an operation.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s (%s): %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s (%s)", e.Op, e.Kind)
}

// Unwrap returns the underlying error for errors.Is/As chains.
func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf extracts the Kind from an error chain.
//
// # Description
//
// If the chain contains a *fault.Error, its Kind wins. Otherwise the error
// is classified structurally: breaker rejections, context deadlines, net
// timeouts, and OpenAI-compatible API status codes are all recognized.
// Anything else is KindUnknown.
//
// # Inputs
//
//   - err: The error to classify. May be nil.
//
// # Outputs
//
//   - Kind: KindUnknown for nil or unclassifiable errors.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}

	if errors.Is(err, breaker.ErrCircuitOpen) {
		return KindCircuitOpen
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return KindTimeout
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return kindFromStatus(apiErr.HTTPStatusCode)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return KindTimeout
		}
		return KindConnectivity
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return KindConnectivity
	}

	return KindUnknown
}

// KindFromStatus maps an HTTP status code from a provider or store to a Kind.
func KindFromStatus(status int) Kind {
	return kindFromStatus(status)
}

func kindFromStatus(status int) Kind {
	switch {
	case status == 401 || status == 403:
		return KindAuth
	case status == 429:
		return KindRateLimit
	case status == 408 || status == 504:
		return KindTimeout
	case status == 400 || status == 422:
		return KindValidation
	case status == 404 || status == 503:
		return KindModelUnavailable
	case status >= 500:
		return KindModelUnavailable
	default:
		return KindUnknown
	}
}

// UserMessage returns a deterministic, user-facing message for a kind.
//
// The routing core guarantees that no raw dependency failure reaches the
// caller; this is the text that ships in the degraded response envelope.
func UserMessage(kind Kind) string {
	switch kind {
	case KindConnectivity:
		return "I couldn't reach the model provider. Check your network connection and try again."
	case KindAuth:
		return "The provider rejected the configured credentials. Check your API key."
	case KindRateLimit:
		return "The provider is rate limiting requests right now. Wait a moment and try again."
	case KindTimeout:
		return "The model took too long to respond. Try again, or try a smaller model."
	case KindModelUnavailable:
		return "No configured model could serve this request right now."
	case KindStorageUnavailable:
		return "Both storage tiers are unavailable; the conversation could not be saved."
	case KindCircuitOpen:
		return "A dependency is temporarily disabled after repeated failures. It will be retried shortly."
	case KindValidation:
		return "The request was malformed and could not be processed."
	default:
		return "Something went wrong while processing the request."
	}
}
