// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package router selects a model for each query from live resource
// state, classified intent, and the static model profile table.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/AleutianAI/kodiak/internal/classify"
	"github.com/AleutianAI/kodiak/internal/resource"
)

// SnapshotSource supplies the current resource snapshot.
type SnapshotSource interface {
	Snapshot(ctx context.Context) resource.Snapshot
}

// Config tunes the routing policy.
type Config struct {
	// MinConfidence below which the primary classification falls back
	// to the keyword classifier.
	MinConfidence float64
	// CacheTTL bounds how long a decision may be replayed.
	CacheTTL   time.Duration
	Thresholds Thresholds
}

// DefaultConfig returns the stock policy.
func DefaultConfig() Config {
	return Config{
		MinConfidence: 0.5,
		CacheTTL:      10 * time.Second,
		Thresholds:    DefaultThresholds(),
	}
}

// Request is one routing call.
type Request struct {
	Query string
	// ModelID pins the decision to an explicit model when non-empty.
	// The pinned model still passes the resource filter.
	ModelID string
}

// Decision is an immutable routing outcome.
type Decision struct {
	SelectedModelID string  `json:"selected_model_id"`
	Intent          string  `json:"intent"`
	Confidence      float64 `json:"confidence"`
	Bucket          Bucket  `json:"resource_bucket"`

	// FallbackChain lists the surviving candidates in traversal order,
	// the selected model first.
	FallbackChain []string  `json:"fallback_chain_considered"`
	DecidedAt     time.Time `json:"decided_at"`
	CacheKey      string    `json:"cache_key"`
	FromCache     bool      `json:"-"`
}

// Router is the adaptive model selector.
//
// # Thread Safety
//
// Safe for concurrent use. The profile table is read-only after
// construction; the cache and usage counters carry their own locks.
type Router struct {
	table      *Table
	classifier classify.IntentClassifier
	keyword    classify.IntentClassifier
	snapshots  SnapshotSource
	config     Config
	cache      *decisionCache
	logger     *slog.Logger

	usageMu sync.Mutex
	usage   map[string]uint64
}

// New creates a router. classifier is the primary intent source;
// keyword is consulted when the primary result falls below
// MinConfidence and may be nil to skip straight to the general intent.
func New(table *Table, classifier, keyword classify.IntentClassifier,
	snapshots SnapshotSource, config Config, logger *slog.Logger) (*Router, error) {

	if table == nil {
		return nil, fmt.Errorf("profile table must not be nil")
	}
	if classifier == nil {
		return nil, fmt.Errorf("classifier must not be nil")
	}
	if snapshots == nil {
		return nil, fmt.Errorf("snapshot source must not be nil")
	}
	if config.MinConfidence <= 0 {
		config.MinConfidence = 0.5
	}
	if config.CacheTTL <= 0 {
		config.CacheTTL = 10 * time.Second
	}
	if config.Thresholds == (Thresholds{}) {
		config.Thresholds = DefaultThresholds()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		table:      table,
		classifier: classifier,
		keyword:    keyword,
		snapshots:  snapshots,
		config:     config,
		cache:      newDecisionCache(config.CacheTTL),
		logger:     logger,
		usage:      make(map[string]uint64),
	}, nil
}

// Route produces a decision for the query.
func (r *Router) Route(ctx context.Context, req Request) (Decision, error) {
	snap := r.snapshots.Snapshot(ctx)
	bucket := DeriveBucket(snap, r.config.Thresholds)

	// An explicit model request skips classification entirely but is
	// still subject to the resource filter: a pinned cloud model is
	// useless offline.
	if req.ModelID != "" {
		return r.routePinned(ctx, req.ModelID, bucket)
	}

	result := r.resolveIntent(ctx, req.Query)

	key := CacheKey(req.Query, bucket, result.Intent)
	if cached, ok := r.cache.get(key); ok {
		cached.FromCache = true
		r.recordUsage(cached.SelectedModelID)
		return cached, nil
	}

	candidates := r.filter(r.table.CandidatesFor(result.Intent), bucket, snap)
	decision := r.decide(candidates, result, bucket, key)
	r.cache.put(key, decision)
	r.recordUsage(decision.SelectedModelID)

	r.logger.Debug("routing decision",
		"model", decision.SelectedModelID,
		"intent", decision.Intent,
		"bucket", string(bucket),
		"chain_len", len(decision.FallbackChain))
	return decision, nil
}

// routePinned handles the explicit-model path.
func (r *Router) routePinned(ctx context.Context, modelID string, bucket Bucket) (Decision, error) {
	profile, ok := r.table.Lookup(modelID)
	if !ok {
		return Decision{}, fmt.Errorf("unknown model %q", modelID)
	}
	snap := r.snapshots.Snapshot(ctx)
	if len(r.filter([]ModelProfile{profile}, bucket, snap)) == 0 {
		return Decision{}, fmt.Errorf("model %q is not usable in resource state %s", modelID, bucket)
	}
	d := Decision{
		SelectedModelID: modelID,
		Intent:          classify.IntentGeneral,
		Confidence:      1.0,
		Bucket:          bucket,
		FallbackChain:   []string{modelID},
		DecidedAt:       time.Now(),
	}
	r.recordUsage(modelID)
	return d, nil
}

// resolveIntent runs the primary classifier, falling back to the
// keyword classifier and then the general intent when confidence stays
// below the threshold. Classifier errors resolve to general rather
// than failing the route.
func (r *Router) resolveIntent(ctx context.Context, query string) classify.Result {
	result, err := r.classifier.Classify(ctx, query)
	if err != nil {
		r.logger.Warn("intent classification failed, using general", "error", err)
		result = classify.Result{Intent: classify.IntentGeneral}
	}
	if result.Confidence >= r.config.MinConfidence {
		return result
	}
	if r.keyword != nil {
		if kw, err := r.keyword.Classify(ctx, query); err == nil &&
			kw.Confidence >= r.config.MinConfidence {
			return kw
		}
	}
	return classify.Result{Intent: classify.IntentGeneral, Confidence: result.Confidence}
}

// filter drops candidates the current resource state cannot serve.
func (r *Router) filter(candidates []ModelProfile, bucket Bucket, snap resource.Snapshot) []ModelProfile {
	var out []ModelProfile
	for _, c := range candidates {
		if bucket.constrained() && c.Requirement != RequirementLow {
			continue
		}
		if !snap.Connectivity && !c.OfflineCapable {
			continue
		}
		// A local model without a reachable local runtime cannot serve
		// regardless of bucket.
		if c.ProviderKind == ProviderLocalInference && !snap.LocalInference {
			continue
		}
		out = append(out, c)
	}
	return out
}

// decide picks the first survivor, or the hard-coded failsafe when the
// filter emptied the list. The failsafe path is a logged anomaly, not
// an error: routing must always produce a model.
func (r *Router) decide(candidates []ModelProfile, result classify.Result,
	bucket Bucket, key string) Decision {

	if len(candidates) == 0 {
		r.logger.Warn("no routable candidates, using failsafe model",
			"intent", result.Intent, "bucket", string(bucket))
		candidates = []ModelProfile{FailsafeProfile}
	}

	chain := make([]string, len(candidates))
	for i, c := range candidates {
		chain[i] = c.ID
	}
	return Decision{
		SelectedModelID: candidates[0].ID,
		Intent:          result.Intent,
		Confidence:      result.Confidence,
		Bucket:          bucket,
		FallbackChain:   chain,
		DecidedAt:       time.Now(),
		CacheKey:        key,
	}
}

// Profile resolves a model ID from the table, falling back to the
// failsafe profile for its own ID.
func (r *Router) Profile(id string) (ModelProfile, bool) {
	if id == FailsafeProfile.ID {
		return FailsafeProfile, true
	}
	return r.table.Lookup(id)
}

// recordUsage bumps the per-model counter.
func (r *Router) recordUsage(modelID string) {
	r.usageMu.Lock()
	defer r.usageMu.Unlock()
	r.usage[modelID]++
}

// ModelUsage is one row of the usage report.
type ModelUsage struct {
	ModelID string `json:"model_id"`
	Count   uint64 `json:"count"`
}

// Usage reports per-model selection counts sorted by model ID. The
// counters are process-lifetime and feed status reporting only.
func (r *Router) Usage() []ModelUsage {
	r.usageMu.Lock()
	defer r.usageMu.Unlock()
	out := make([]ModelUsage, 0, len(r.usage))
	for id, n := range r.usage {
		out = append(out, ModelUsage{ModelID: id, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ModelID < out[j].ModelID })
	return out
}
