// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package resource

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubSampler returns canned snapshots or a canned error, counting calls.
type stubSampler struct {
	mu    sync.Mutex
	snap  Snapshot
	err   error
	calls int
}

func (s *stubSampler) Sample(ctx context.Context) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return Snapshot{}, s.err
	}
	snap := s.snap
	snap.CapturedAt = time.Now()
	return snap, nil
}

func (s *stubSampler) set(snap Snapshot, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = snap
	s.err = err
}

func (s *stubSampler) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// TestMonitorServesCachedSnapshot verifies Snapshot does not re-sample
// while the cached value is fresh.
func TestMonitorServesCachedSnapshot(t *testing.T) {
	sampler := &stubSampler{snap: Snapshot{CPUPercent: 12, MemPercent: 40, Connectivity: true}}
	m := NewMonitor(sampler, MonitorConfig{
		PollInterval: time.Hour, // effectively disabled
		MaxStaleness: time.Minute,
	}, nil)

	first := m.Refresh(context.Background())
	require.True(t, first.Connectivity)
	before := sampler.callCount()

	for i := 0; i < 5; i++ {
		snap := m.Snapshot(context.Background())
		assert.Equal(t, 12.0, snap.CPUPercent)
	}
	assert.Equal(t, before, sampler.callCount(), "fresh cache must not re-sample")
}

// TestMonitorStaleForcesRefresh verifies a stale snapshot triggers a
// synchronous re-sample.
func TestMonitorStaleForcesRefresh(t *testing.T) {
	sampler := &stubSampler{snap: Snapshot{MemPercent: 50, Connectivity: true}}
	m := NewMonitor(sampler, MonitorConfig{
		PollInterval: time.Hour,
		MaxStaleness: 30 * time.Second,
	}, nil)

	m.Refresh(context.Background())
	before := sampler.callCount()

	// Pretend 31 seconds pass.
	base := time.Now()
	m.now = func() time.Time { return base.Add(31 * time.Second) }

	sampler.set(Snapshot{MemPercent: 85, Connectivity: true}, nil)
	snap := m.Snapshot(context.Background())
	assert.Equal(t, 85.0, snap.MemPercent)
	assert.Equal(t, before+1, sampler.callCount())
}

// TestMonitorKeepsLastGoodOnFailure verifies sampling failure preserves
// the last good snapshot, marked stale, instead of raising.
func TestMonitorKeepsLastGoodOnFailure(t *testing.T) {
	sampler := &stubSampler{snap: Snapshot{CPUPercent: 20, MemPercent: 55, Connectivity: true}}
	m := NewMonitor(sampler, DefaultMonitorConfig(), nil)

	good := m.Refresh(context.Background())
	require.False(t, good.Stale)

	sampler.set(Snapshot{}, errors.New("proc unreadable"))
	snap := m.Refresh(context.Background())

	assert.True(t, snap.Stale)
	assert.Equal(t, 20.0, snap.CPUPercent, "last good values carried over")
	assert.Equal(t, 55.0, snap.MemPercent)
}

// TestMonitorFirstSampleFailure verifies a monitor that has never sampled
// successfully still serves a usable (optimistic, stale) snapshot.
func TestMonitorFirstSampleFailure(t *testing.T) {
	sampler := &stubSampler{err: errors.New("no metrics")}
	m := NewMonitor(sampler, DefaultMonitorConfig(), nil)

	snap := m.Snapshot(context.Background())
	assert.True(t, snap.Stale)
	assert.True(t, snap.Connectivity, "sampler failure must not force offline mode")
}

// TestMonitorStartStop verifies the background loop refreshes and exits.
func TestMonitorStartStop(t *testing.T) {
	sampler := &stubSampler{snap: Snapshot{Connectivity: true}}
	m := NewMonitor(sampler, MonitorConfig{
		PollInterval: 10 * time.Millisecond,
		MaxStaleness: time.Minute,
	}, nil)

	m.Start()
	assert.Eventually(t, func() bool {
		return sampler.callCount() >= 2
	}, 2*time.Second, 5*time.Millisecond)
	m.Stop()

	// Stop is idempotent and the loop must not keep sampling.
	m.Stop()
	after := sampler.callCount()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, after, sampler.callCount())
}
