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
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// MonitorConfig configures the resource monitor.
type MonitorConfig struct {
	// PollInterval is how often the background refresh runs.
	// Default: 10s
	PollInterval time.Duration

	// MaxStaleness is the oldest snapshot age Snapshot() will serve
	// without forcing a synchronous refresh.
	// Default: 30s
	MaxStaleness time.Duration

	// RefreshTimeout bounds a single sample.
	// Default: 5s
	RefreshTimeout time.Duration
}

// DefaultMonitorConfig returns sensible defaults.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		PollInterval:   10 * time.Second,
		MaxStaleness:   30 * time.Second,
		RefreshTimeout: 5 * time.Second,
	}
}

// Monitor owns the single current resource snapshot.
//
// # Description
//
// A background task refreshes the snapshot every PollInterval and swaps it
// atomically; readers never block on the background task. Snapshot() serves
// the cached value unless it has exceeded MaxStaleness, in which case the
// caller pays for one synchronous refresh (deduplicated across concurrent
// callers via singleflight). If sampling fails, the last good snapshot is
// kept and marked stale instead of surfacing an error.
//
// # Thread Safety
//
// Monitor is safe for concurrent use.
type Monitor struct {
	sampler Sampler
	config  MonitorConfig
	logger  *slog.Logger

	current atomic.Pointer[Snapshot]
	group   singleflight.Group

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	doneCh    chan struct{}

	// now is the time source; tests override it.
	now func() time.Time
}

// NewMonitor creates a monitor. Call Start to begin background polling.
func NewMonitor(sampler Sampler, config MonitorConfig, logger *slog.Logger) *Monitor {
	if config.PollInterval <= 0 {
		config.PollInterval = 10 * time.Second
	}
	if config.MaxStaleness <= 0 {
		config.MaxStaleness = 30 * time.Second
	}
	if config.RefreshTimeout <= 0 {
		config.RefreshTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		sampler: sampler,
		config:  config,
		logger:  logger,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
		now:     time.Now,
	}
}

// Start launches the periodic background refresh. Idempotent.
func (m *Monitor) Start() {
	m.startOnce.Do(func() {
		go m.loop()
	})
}

// Stop halts the background refresh and waits for it to exit. Idempotent.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
		<-m.doneCh
	})
}

func (m *Monitor) loop() {
	defer close(m.doneCh)

	ticker := time.NewTicker(m.config.PollInterval)
	defer ticker.Stop()

	// Prime the cache so early readers don't all pay for a refresh.
	m.refresh(context.Background())

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.refresh(context.Background())
		}
	}
}

// Snapshot returns the current snapshot without blocking, unless staleness
// exceeds MaxStaleness, in which case one synchronous refresh is forced.
func (m *Monitor) Snapshot(ctx context.Context) Snapshot {
	if snap := m.current.Load(); snap != nil && snap.Age(m.now()) <= m.config.MaxStaleness {
		return *snap
	}
	return m.Refresh(ctx)
}

// Refresh blocks for one re-sample and returns the resulting snapshot.
// Concurrent refreshes collapse into a single sample.
func (m *Monitor) Refresh(ctx context.Context) Snapshot {
	result, _, _ := m.group.Do("refresh", func() (any, error) {
		return m.refresh(ctx), nil
	})
	return result.(Snapshot)
}

// refresh samples once and swaps the cached snapshot. On sampling failure
// the last good snapshot is kept, marked stale.
func (m *Monitor) refresh(ctx context.Context) Snapshot {
	sampleCtx, cancel := context.WithTimeout(ctx, m.config.RefreshTimeout)
	defer cancel()

	snap, err := m.sampler.Sample(sampleCtx)
	if err != nil {
		m.logger.Warn("resource sample failed, keeping last snapshot", "error", err)
		if last := m.current.Load(); last != nil {
			stale := *last
			stale.Stale = true
			m.current.Store(&stale)
			return stale
		}
		// Never sampled successfully: serve optimistic defaults so the
		// router is not forced into offline mode by a broken sampler.
		fallback := Snapshot{
			Connectivity: true,
			CapturedAt:   m.now(),
			Stale:        true,
		}
		m.current.Store(&fallback)
		return fallback
	}

	m.current.Store(&snap)
	return snap
}
