// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package breaker implements the circuit breaker pattern used to guard
// every external dependency call in the core.
package breaker

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// State represents the state of a circuit breaker.
//
// # State Diagram
//
//	   ┌─────────────────────────────────────┐
//	   │                                     │
//	   ▼                                     │
//	CLOSED ──[failure threshold]──► OPEN ───┘
//	   ▲                              │
//	   │                              │
//	   └───[trial success]◄── HALF_OPEN ◄──┘
//	                          [reset timeout]
type State int

const (
	// StateClosed is the normal operating state.
	StateClosed State = iota

	// StateOpen means the circuit has tripped and calls fail fast.
	StateOpen

	// StateHalfOpen means exactly one trial call may test recovery.
	StateHalfOpen
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// ErrCircuitOpen is returned when the circuit breaker rejects a call
// without invoking the dependency.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Config configures circuit breaker behavior.
type Config struct {
	// FailureThreshold is consecutive failures before opening the circuit.
	// Any success resets the count; failures are not cumulative.
	// Default: 3
	FailureThreshold int

	// ResetTimeout is how long the circuit stays open before a trial
	// call is allowed through.
	// Default: 30 seconds
	ResetTimeout time.Duration

	// OnStateChange is called when the state transitions.
	// Called asynchronously to avoid blocking the caller.
	OnStateChange func(name string, from, to State)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 3,
		ResetTimeout:     30 * time.Second,
	}
}

// Snapshot is a point-in-time copy of breaker state for status reporting.
type Snapshot struct {
	// Name identifies the guarded dependency.
	Name string `json:"dependency_name"`

	// State is the current breaker state.
	State State `json:"state"`

	// Failures is the current consecutive failure count.
	Failures int `json:"failure_count"`

	// LastFailureAt is when the most recent failure was recorded.
	LastFailureAt time.Time `json:"last_failure_at"`

	// OpenedAt is when the breaker last transitioned to Open.
	OpenedAt time.Time `json:"opened_at"`
}

// Breaker guards a single dependency with the classic three-state machine.
//
// # Description
//
// Consecutive failures trip the breaker; once open, calls fail fast with
// ErrCircuitOpen until the reset timeout elapses. The first call after the
// timeout becomes the single half-open trial: concurrent callers arriving
// while the trial is in flight are rejected, so a recovering dependency is
// probed by exactly one request.
//
// # Thread Safety
//
// Breaker is safe for concurrent use. State transitions are atomic with
// respect to concurrent callers.
type Breaker struct {
	name   string
	config Config

	mu            sync.Mutex
	state         State
	failures      int
	lastFailure   time.Time
	openedAt      time.Time
	trialInFlight bool

	// now is the time source; tests override it for deterministic timing.
	now func() time.Time
}

// New creates a breaker for the named dependency, starting Closed.
func New(name string, config Config) *Breaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 3
	}
	if config.ResetTimeout <= 0 {
		config.ResetTimeout = 30 * time.Second
	}
	return &Breaker{
		name:   name,
		config: config,
		state:  StateClosed,
		now:    time.Now,
	}
}

// Do runs fn if the circuit allows it and records the result.
//
// # Outputs
//
//   - error: ErrCircuitOpen if the call was rejected, or the error from fn.
func (b *Breaker) Do(fn func() error) error {
	if !b.Allow() {
		return ErrCircuitOpen
	}
	err := fn()
	b.Record(err)
	return err
}

// Allow reports whether a call may proceed, claiming the half-open trial
// slot when applicable. Every Allow that returns true must be paired with
// exactly one Record.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true

	case StateOpen:
		if b.now().Sub(b.openedAt) >= b.config.ResetTimeout {
			b.transitionTo(StateHalfOpen)
			b.trialInFlight = true
			return true
		}
		return false

	case StateHalfOpen:
		// Only the first arriving call is the trial; the rest fail fast
		// until the trial resolves.
		if b.trialInFlight {
			return false
		}
		b.trialInFlight = true
		return true

	default:
		return false
	}
}

// Record reports the outcome of a call previously admitted by Allow.
func (b *Breaker) Record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil {
		b.recordFailure()
	} else {
		b.recordSuccess()
	}
}

func (b *Breaker) recordFailure() {
	b.failures++
	b.lastFailure = b.now()

	switch b.state {
	case StateClosed:
		if b.failures >= b.config.FailureThreshold {
			b.trip()
		}
	case StateHalfOpen:
		// Failed trial: back to open, timer restarts.
		b.trialInFlight = false
		b.trip()
	}
}

func (b *Breaker) recordSuccess() {
	switch b.state {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		b.trialInFlight = false
		b.failures = 0
		b.transitionTo(StateClosed)
	}
}

func (b *Breaker) trip() {
	b.openedAt = b.now()
	b.transitionTo(StateOpen)
}

func (b *Breaker) transitionTo(state State) {
	if b.state == state {
		return
	}
	old := b.state
	b.state = state

	if b.config.OnStateChange != nil {
		// Invoke the callback off the lock path to prevent deadlocks.
		go b.config.OnStateChange(b.name, old, state)
	}
}

// Name returns the guarded dependency name.
func (b *Breaker) Name() string {
	return b.name
}

// State returns the current circuit state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the current consecutive failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Snapshot returns a copy of the breaker state for status reporting.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		Name:          b.name,
		State:         b.state,
		Failures:      b.failures,
		LastFailureAt: b.lastFailure,
		OpenedAt:      b.openedAt,
	}
}

// Reset forces the circuit back to Closed, clearing all counters.
// Use when the dependency is known to have been fixed externally.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	old := b.state
	b.state = StateClosed
	b.failures = 0
	b.trialInFlight = false

	if old != StateClosed && b.config.OnStateChange != nil {
		go b.config.OnStateChange(b.name, old, StateClosed)
	}
}
