// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package vector

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// DualStore fronts the native ANN backend with a local fallback.
//
// # Description
//
// Every upsert is mirrored into the fallback so the local copy is
// always complete. Searches prefer the native backend; the first
// native failure flips the store into degraded mode, and it stays
// degraded for the rest of the process lifetime. Recovery is a
// restart decision, not a per-request probe, so callers never see the
// backend flap between result qualities mid-session.
//
// # Thread Safety
//
// Safe for concurrent use. The degrade flip is a compare-and-swap, so
// concurrent failures log the transition once.
type DualStore struct {
	native   Store
	fallback Store
	degraded atomic.Bool
	logger   *slog.Logger
}

// NewDualStore wires the two backends. When probe is true the native
// backend is checked immediately and the store starts degraded if the
// probe fails.
func NewDualStore(ctx context.Context, native, fallback Store, logger *slog.Logger, probe bool) *DualStore {
	if logger == nil {
		logger = slog.Default()
	}
	d := &DualStore{native: native, fallback: fallback, logger: logger}
	if probe {
		if p, ok := native.(Prober); ok {
			if err := p.Probe(ctx); err != nil {
				d.degrade(err)
			}
		}
	}
	return d
}

// degrade flips to fallback-only mode, logging the transition exactly
// once.
func (d *DualStore) degrade(cause error) {
	if d.degraded.CompareAndSwap(false, true) {
		d.logger.Warn("vector store degraded to local brute-force search",
			"error", cause)
	}
}

// Degraded reports whether searches are served by the fallback.
func (d *DualStore) Degraded() bool {
	return d.degraded.Load()
}

// Upsert implements Store. The fallback write is the durable one; a
// native failure degrades the store but does not fail the upsert.
func (d *DualStore) Upsert(ctx context.Context, rec Record) error {
	if err := d.fallback.Upsert(ctx, rec); err != nil {
		return err
	}
	if d.degraded.Load() {
		return nil
	}
	if err := d.native.Upsert(ctx, rec); err != nil {
		d.degrade(err)
	}
	return nil
}

// Search implements Store.
func (d *DualStore) Search(ctx context.Context, q Query) ([]Match, error) {
	if !d.degraded.Load() {
		matches, err := d.native.Search(ctx, q)
		if err == nil {
			return matches, nil
		}
		d.degrade(err)
	}
	return d.fallback.Search(ctx, q)
}
