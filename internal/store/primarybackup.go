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
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/kodiak/internal/breaker"
	"github.com/AleutianAI/kodiak/internal/fault"
)

// Breaker names used by the primary+backup composition.
const (
	BreakerPrimaryFind   = "primary.find"
	BreakerPrimarySave   = "primary.save"
	BreakerPrimaryDelete = "primary.delete"
	BreakerBackupFind    = "backup.find"
	BreakerBackupSave    = "backup.save"
	BreakerBackupDelete  = "backup.delete"
)

// PrimaryBackupConfig configures the resilient repository composition.
type PrimaryBackupConfig struct {
	// MirrorTimeout bounds the deferred backup copy after a primary write.
	// Default: 5s
	MirrorTimeout time.Duration

	// MirrorAsync controls whether the post-primary backup copy runs in a
	// goroutine. Tests disable it for determinism.
	// Default: true
	MirrorAsync bool

	// OnFallback is called when an operation falls back to the backup
	// tier after a primary failure. Optional; used for counters.
	OnFallback func(op string)
}

// DefaultPrimaryBackupConfig returns production defaults.
func DefaultPrimaryBackupConfig() PrimaryBackupConfig {
	return PrimaryBackupConfig{
		MirrorTimeout: 5 * time.Second,
		MirrorAsync:   true,
	}
}

// PrimaryBackup composes a networked primary and a local backup tier into
// one resilient Repository.
//
// # Description
//
// Writes go primary-first: on success the caller returns immediately and
// the backup copy is best-effort and deferred. If the primary is down
// (breaker open or call failure), the write lands in the backup tagged
// pending_primary and still succeeds — a write is only lost if both tiers
// reject it. Reads prefer the primary, skip it entirely while its breaker
// is open, and annotate backup-served reads after a primary failure as
// degraded. Every individual operation runs through its own circuit
// breaker so a failing save does not blind reads.
//
// # Thread Safety
//
// PrimaryBackup is safe for concurrent use. It owns the arbitration logic
// but never the underlying storage engines.
type PrimaryBackup struct {
	primary  Repository
	backup   Repository
	breakers *breaker.Registry
	config   PrimaryBackupConfig
	logger   *slog.Logger
}

// NewPrimaryBackup creates the composition.
func NewPrimaryBackup(primary, backup Repository, breakers *breaker.Registry, config PrimaryBackupConfig, logger *slog.Logger) *PrimaryBackup {
	if config.MirrorTimeout <= 0 {
		config.MirrorTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PrimaryBackup{
		primary:  primary,
		backup:   backup,
		breakers: breakers,
		config:   config,
		logger:   logger,
	}
}

// Save writes the entity primary-first.
//
// # Outputs
//
//   - *Entity: The stored copy with its final SyncState.
//   - error: Only when both tiers rejected the write.
func (r *PrimaryBackup) Save(ctx context.Context, e *Entity) (*Entity, error) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	primaryCopy := e.Clone()
	primaryCopy.SyncState = SyncPendingBackup

	pb := r.breakers.Get(BreakerPrimarySave)
	err := pb.Do(func() error {
		_, saveErr := r.primary.Save(ctx, primaryCopy)
		return saveErr
	})
	if err == nil {
		r.mirrorToBackup(primaryCopy)
		return primaryCopy, nil
	}

	if !errors.Is(err, breaker.ErrCircuitOpen) {
		r.logger.Warn("primary save failed, writing to backup", "entity_id", e.ID, "error", err)
	}
	r.fallback("save")

	backupCopy := e.Clone()
	backupCopy.SyncState = SyncPendingPrimary

	bb := r.breakers.Get(BreakerBackupSave)
	backupErr := bb.Do(func() error {
		_, saveErr := r.backup.Save(ctx, backupCopy)
		return saveErr
	})
	if backupErr != nil {
		// Both tiers down is fatal for this single operation.
		return nil, fault.New(fault.KindStorageUnavailable, "repository.save",
			fmt.Errorf("primary: %w; backup: %w", err, backupErr))
	}
	return backupCopy, nil
}

// fallback reports a backup-tier fallback to the optional hook.
func (r *PrimaryBackup) fallback(op string) {
	if r.config.OnFallback != nil {
		r.config.OnFallback(op)
	}
}

// mirrorToBackup copies a primary-saved entity into the backup tier and
// flips the primary copy to synced once it lands. Failures leave the
// entity tagged pending_backup for the reconciler.
func (r *PrimaryBackup) mirrorToBackup(e *Entity) {
	mirror := func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.config.MirrorTimeout)
		defer cancel()

		synced := e.Clone()
		synced.SyncState = SyncSynced

		bb := r.breakers.Get(BreakerBackupSave)
		if err := bb.Do(func() error {
			_, saveErr := r.backup.Save(ctx, synced)
			return saveErr
		}); err != nil {
			r.logger.Warn("deferred backup copy failed", "entity_id", e.ID, "error", err)
			return
		}

		pb := r.breakers.Get(BreakerPrimarySave)
		if err := pb.Do(func() error {
			_, saveErr := r.primary.Save(ctx, synced)
			return saveErr
		}); err != nil {
			r.logger.Warn("sync_state flip on primary failed", "entity_id", e.ID, "error", err)
		}
	}

	if r.config.MirrorAsync {
		go mirror()
	} else {
		mirror()
	}
}

// FindByID reads the entity through the resilient read policy.
func (r *PrimaryBackup) FindByID(ctx context.Context, id string) (ReadResult, error) {
	pb := r.breakers.Get(BreakerPrimaryFind)

	primaryDown := false
	if pb.Allow() {
		e, err := r.primary.FindByID(ctx, id)
		switch {
		case err == nil:
			pb.Record(nil)
			return ReadResult{Entity: e, Source: "primary"}, nil
		case errors.Is(err, ErrNotFound):
			// A healthy miss: the entity may still live only in backup
			// (pending_primary), so fall through without tripping the
			// breaker or marking the read degraded.
			pb.Record(nil)
		default:
			pb.Record(err)
			primaryDown = true
			r.logger.Warn("primary read failed, falling back to backup", "entity_id", id, "error", err)
		}
	} else {
		// Breaker open: skip the primary without attempting.
		primaryDown = true
	}

	if primaryDown {
		r.fallback("find")
	}

	bb := r.breakers.Get(BreakerBackupFind)
	var entity *Entity
	err := bb.Do(func() error {
		e, findErr := r.backup.FindByID(ctx, id)
		entity = e
		return findErr
	})
	switch {
	case err == nil:
		return ReadResult{Entity: entity, Degraded: primaryDown, Source: "backup"}, nil
	case errors.Is(err, ErrNotFound):
		if primaryDown {
			// The entity might exist on the unreachable primary; report
			// the degraded miss distinctly from a clean miss.
			return ReadResult{Degraded: true}, ErrNotFound
		}
		return ReadResult{}, ErrNotFound
	default:
		if !primaryDown {
			// Primary was healthy and missed; a backup infrastructure
			// failure still leaves us with a definitive miss upstream.
			return ReadResult{}, ErrNotFound
		}
		return ReadResult{}, fault.New(fault.KindStorageUnavailable, "repository.find", err)
	}
}

// Delete removes the entity from both tiers.
//
// # Outputs
//
//   - bool: Whether any tier held the entity.
//   - error: Only when both tiers failed with infrastructure errors.
func (r *PrimaryBackup) Delete(ctx context.Context, id string) (bool, error) {
	var existedPrimary, existedBackup bool

	pb := r.breakers.Get(BreakerPrimaryDelete)
	primaryErr := pb.Do(func() error {
		existed, err := r.primary.Delete(ctx, id)
		existedPrimary = existed
		return err
	})

	bb := r.breakers.Get(BreakerBackupDelete)
	backupErr := bb.Do(func() error {
		existed, err := r.backup.Delete(ctx, id)
		existedBackup = existed
		return err
	})

	if primaryErr != nil && backupErr != nil {
		return false, fault.New(fault.KindStorageUnavailable, "repository.delete",
			fmt.Errorf("primary: %w; backup: %w", primaryErr, backupErr))
	}
	if primaryErr != nil {
		r.logger.Warn("primary delete failed", "entity_id", id, "error", primaryErr)
	}
	if backupErr != nil {
		r.logger.Warn("backup delete failed", "entity_id", id, "error", backupErr)
	}
	return existedPrimary || existedBackup, nil
}
