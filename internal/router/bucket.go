// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package router

import "github.com/AleutianAI/kodiak/internal/resource"

// Bucket is the coarse resource state a snapshot collapses into.
// Decisions are cached per bucket so minor jitter in raw percentages
// does not churn the cache.
type Bucket string

const (
	BucketNormal            Bucket = "normal"
	BucketMemoryConstrained Bucket = "memory_constrained"
	BucketCPUConstrained    Bucket = "cpu_constrained"
	BucketOffline           Bucket = "offline"
)

// Thresholds holds the constrained-state cutoffs.
type Thresholds struct {
	// MemPercent above which the system counts as memory constrained.
	MemPercent float64
	// CPUPercent above which the system counts as CPU constrained.
	CPUPercent float64
}

// DefaultThresholds returns the stock cutoffs.
func DefaultThresholds() Thresholds {
	return Thresholds{MemPercent: 80, CPUPercent: 90}
}

// DeriveBucket collapses a snapshot. Offline dominates: an unreachable
// network constrains routing harder than any local pressure.
func DeriveBucket(snap resource.Snapshot, th Thresholds) Bucket {
	switch {
	case !snap.Connectivity:
		return BucketOffline
	case snap.MemPercent > th.MemPercent:
		return BucketMemoryConstrained
	case snap.CPUPercent > th.CPUPercent:
		return BucketCPUConstrained
	default:
		return BucketNormal
	}
}

// constrained reports whether the bucket drops non-low candidates.
func (b Bucket) constrained() bool {
	return b == BucketMemoryConstrained || b == BucketCPUConstrained
}
