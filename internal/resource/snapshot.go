// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package resource samples system load and connectivity into a cached,
// TTL-bounded snapshot consumed by routing and persistence decisions.
package resource

import (
	"context"
	"time"
)

// Snapshot is an immutable point-in-time read of system conditions.
//
// # Description
//
// A Snapshot is replaced wholesale on refresh; holders only ever see
// read-only copies. Staleness is measured from CapturedAt, and the monitor
// guarantees a routing decision never sees a snapshot older than the
// configured maximum without forcing a refresh first.
type Snapshot struct {
	// CPUPercent is total CPU utilization (0-100).
	CPUPercent float64 `json:"cpu_percent"`

	// MemAvailableMB is available system memory in megabytes.
	MemAvailableMB uint64 `json:"mem_available_mb"`

	// MemPercent is used system memory as a percentage (0-100).
	MemPercent float64 `json:"mem_percent"`

	// Connectivity reports whether the network probe succeeded.
	Connectivity bool `json:"connectivity"`

	// LocalInference reports whether the local inference server answered.
	LocalInference bool `json:"local_inference_available"`

	// CapturedAt is when this snapshot was taken.
	CapturedAt time.Time `json:"captured_at"`

	// Stale is set when sampling failed and this is a carried-over value.
	Stale bool `json:"stale"`
}

// Age returns how old the snapshot is relative to now.
func (s Snapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.CapturedAt)
}

// Sampler produces resource snapshots.
//
// Implementations must be safe for concurrent use. The production sampler
// reads system metrics and probes network and local-inference availability;
// tests substitute a canned implementation.
type Sampler interface {
	// Sample takes a fresh snapshot. An error means the sample could not
	// be taken at all; partial probe failures are reflected in the
	// snapshot fields instead.
	Sample(ctx context.Context) (Snapshot, error)
}
