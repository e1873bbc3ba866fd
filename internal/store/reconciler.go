// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/AleutianAI/kodiak/internal/breaker"
)

// ReconcilerConfig configures the background reconciliation pass.
type ReconcilerConfig struct {
	// Interval is how often the pass runs.
	// Default: 30s
	Interval time.Duration

	// BatchLimit caps entities replayed per pass per direction.
	// Default: 64
	BatchLimit int

	// OpTimeout bounds each replay operation.
	// Default: 5s
	OpTimeout time.Duration

	// OnReconciled is called after a pass that flipped at least one
	// entity to synced. Optional; used for counters.
	OnReconciled func(count int)
}

// DefaultReconcilerConfig returns production defaults.
func DefaultReconcilerConfig() ReconcilerConfig {
	return ReconcilerConfig{
		Interval:   30 * time.Second,
		BatchLimit: 64,
		OpTimeout:  5 * time.Second,
	}
}

// Reconciler replays writes stranded in one tier back to the other.
//
// # Description
//
// A low-priority background pass scans the backup for pending_primary
// entities (accepted while the primary was down) and retries the primary
// save; on success the entity flips to synced in both tiers. It also scans
// the primary for pending_backup entities whose deferred mirror never
// landed. The scan takes a snapshot of candidates first and then works
// through them one operation at a time, so it never holds locks that block
// foreground reads or writes.
//
// # Thread Safety
//
// Safe for concurrent use with foreground repository traffic.
type Reconciler struct {
	primary  Repository
	backup   Repository
	breakers *breaker.Registry
	config   ReconcilerConfig
	logger   *slog.Logger

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// NewReconciler creates a reconciler. Call Start to begin the passes.
func NewReconciler(primary, backup Repository, breakers *breaker.Registry, config ReconcilerConfig, logger *slog.Logger) *Reconciler {
	if config.Interval <= 0 {
		config.Interval = 30 * time.Second
	}
	if config.BatchLimit <= 0 {
		config.BatchLimit = 64
	}
	if config.OpTimeout <= 0 {
		config.OpTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		primary:  primary,
		backup:   backup,
		breakers: breakers,
		config:   config,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the periodic pass. Idempotent.
func (r *Reconciler) Start() {
	r.startOnce.Do(func() {
		go r.loop()
	})
}

// Stop halts the pass and waits for the current one to finish. Idempotent.
func (r *Reconciler) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
		<-r.doneCh
	})
}

func (r *Reconciler) loop() {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.RunOnce(context.Background())
		}
	}
}

// RunOnce executes a single reconciliation pass in both directions and
// returns how many entities were flipped to synced.
func (r *Reconciler) RunOnce(ctx context.Context) int {
	flipped := 0
	flipped += r.replay(ctx, r.backup, r.primary, SyncPendingPrimary, BreakerPrimarySave)
	flipped += r.replay(ctx, r.primary, r.backup, SyncPendingBackup, BreakerBackupSave)
	if flipped > 0 {
		r.logger.Info("reconciliation pass complete", "entities_synced", flipped)
		if r.config.OnReconciled != nil {
			r.config.OnReconciled(flipped)
		}
	}
	return flipped
}

// replay copies pending entities from src into dst and flips both copies
// to synced.
func (r *Reconciler) replay(ctx context.Context, src, dst Repository, state SyncState, breakerName string) int {
	lister, ok := src.(PendingLister)
	if !ok {
		return 0
	}

	listCtx, cancel := context.WithTimeout(ctx, r.config.OpTimeout)
	pending, err := lister.ListPending(listCtx, state, r.config.BatchLimit)
	cancel()
	if err != nil {
		r.logger.Debug("pending scan failed", "state", string(state), "error", err)
		return 0
	}

	b := r.breakers.Get(breakerName)
	flipped := 0
	for _, e := range pending {
		select {
		case <-r.stopCh:
			return flipped
		case <-ctx.Done():
			return flipped
		default:
		}

		synced := e.Clone()
		synced.SyncState = SyncSynced

		opCtx, opCancel := context.WithTimeout(ctx, r.config.OpTimeout)
		err := b.Do(func() error {
			_, saveErr := dst.Save(opCtx, synced)
			return saveErr
		})
		if err == nil {
			// Flip the source copy as well so it stops matching the scan.
			if _, srcErr := src.Save(opCtx, synced); srcErr != nil {
				r.logger.Warn("sync_state flip failed on source tier",
					"entity_id", e.ID, "error", srcErr)
			} else {
				flipped++
			}
		}
		opCancel()
		if err != nil {
			// Destination still down; stop early, next pass will retry.
			r.logger.Debug("replay attempt failed", "entity_id", e.ID, "error", err)
			return flipped
		}
	}
	return flipped
}
