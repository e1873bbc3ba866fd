// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package vector provides semantic memory storage with a native ANN
// backend and a local brute-force fallback.
package vector

import (
	"context"
	"errors"
	"math"
	"time"
)

// DefaultK is the match count used when a search asks for zero results.
const DefaultK = 5

// MaxK caps the match count a single search may request.
const MaxK = 50

// ErrEmptyEmbedding is returned when an upsert or search carries no
// embedding values.
var ErrEmptyEmbedding = errors.New("embedding must not be empty")

// Record is one embedded memory row.
type Record struct {
	ID        string    `json:"id"`
	SessionID string    `json:"owner_session_id"`
	Text      string    `json:"text"`
	Embedding []float32 `json:"embedding"`
	CreatedAt time.Time `json:"created_at"`
}

// Match pairs a record with its cosine similarity to the query
// embedding, where 1 is identical direction.
type Match struct {
	Record Record  `json:"record"`
	Score  float64 `json:"score"`
}

// Query describes one similarity search.
type Query struct {
	// SessionID restricts matches to one session when non-empty.
	SessionID string
	Embedding []float32
	// K is the maximum match count; zero means DefaultK.
	K int
}

// clampK resolves the effective match count.
func clampK(k int) int {
	if k <= 0 {
		return DefaultK
	}
	if k > MaxK {
		return MaxK
	}
	return k
}

// Store is a semantic memory backend.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Upsert writes or replaces the record keyed by its ID.
	Upsert(ctx context.Context, rec Record) error

	// Search returns up to the query's K most similar records, most
	// similar first.
	Search(ctx context.Context, q Query) ([]Match, error)
}

// Prober is implemented by backends that can report reachability.
type Prober interface {
	Probe(ctx context.Context) error
}

// cosine computes cosine similarity between two equal-length vectors.
// Mismatched lengths and zero vectors score 0.
func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		av, bv := float64(a[i]), float64(b[i])
		dot += av * bv
		normA += av * av
		normB += bv * bv
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
