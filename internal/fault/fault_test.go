// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package fault

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/kodiak/internal/breaker"
)

func TestKindRetryable(t *testing.T) {
	tests := []struct {
		kind      Kind
		retryable bool
	}{
		{KindConnectivity, true},
		{KindRateLimit, true},
		{KindTimeout, true},
		{KindAuth, false},
		{KindValidation, false},
		{KindModelUnavailable, false},
		{KindStorageUnavailable, false},
		{KindCircuitOpen, false},
		{KindUnknown, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.retryable, tt.kind.Retryable())
		})
	}
}

func TestKindFatal(t *testing.T) {
	assert.True(t, KindAuth.Fatal())
	assert.True(t, KindValidation.Fatal())
	assert.False(t, KindTimeout.Fatal())
	assert.False(t, KindConnectivity.Fatal())
	assert.False(t, KindUnknown.Fatal())
}

func TestErrorFormatAndUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := New(KindConnectivity, "provider.invoke", cause)

	assert.Equal(t, "provider.invoke (connectivity): connection refused", err.Error())
	require.ErrorIs(t, err, cause)

	synthetic := New(KindCircuitOpen, "primary.save", nil)
	assert.Equal(t, "primary.save (circuit_open)", synthetic.Error())
	assert.NoError(t, synthetic.Unwrap())
}

type timeoutNetError struct{}

func (timeoutNetError) Error() string   { return "i/o timeout" }
func (timeoutNetError) Timeout() bool   { return true }
func (timeoutNetError) Temporary() bool { return true }

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindUnknown},
		{"typed error wins", fmt.Errorf("wrapped: %w", New(KindAuth, "op", errors.New("denied"))), KindAuth},
		{"breaker rejection", fmt.Errorf("save: %w", breaker.ErrCircuitOpen), KindCircuitOpen},
		{"context deadline", context.DeadlineExceeded, KindTimeout},
		{"net timeout", timeoutNetError{}, KindTimeout},
		{"net op error", &net.OpError{Op: "dial", Err: errors.New("refused")}, KindConnectivity},
		{"openai 429", &openai.APIError{HTTPStatusCode: 429}, KindRateLimit},
		{"openai 401", &openai.APIError{HTTPStatusCode: 401}, KindAuth},
		{"plain error", errors.New("boom"), KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestKindOfWrappedContextDeadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()

	assert.Equal(t, KindTimeout, KindOf(fmt.Errorf("invoke: %w", ctx.Err())))
}

func TestKindFromStatus(t *testing.T) {
	tests := []struct {
		status int
		want   Kind
	}{
		{401, KindAuth},
		{403, KindAuth},
		{429, KindRateLimit},
		{408, KindTimeout},
		{504, KindTimeout},
		{400, KindValidation},
		{422, KindValidation},
		{404, KindModelUnavailable},
		{503, KindModelUnavailable},
		{500, KindModelUnavailable},
		{200, KindUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, KindFromStatus(tt.status), "status %d", tt.status)
	}
}

func TestUserMessageCoversEveryKind(t *testing.T) {
	kinds := []Kind{
		KindConnectivity, KindAuth, KindRateLimit, KindTimeout,
		KindModelUnavailable, KindStorageUnavailable, KindCircuitOpen,
		KindValidation, KindUnknown,
	}
	seen := make(map[string]bool)
	for _, k := range kinds {
		msg := UserMessage(k)
		assert.NotEmpty(t, msg, "kind %s", k)
		seen[msg] = true
	}
	// Every kind except unknown gets a distinct message.
	assert.GreaterOrEqual(t, len(seen), len(kinds)-1)
}
