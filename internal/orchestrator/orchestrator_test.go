// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/kodiak/internal/breaker"
	"github.com/AleutianAI/kodiak/internal/classify"
	"github.com/AleutianAI/kodiak/internal/executor"
	"github.com/AleutianAI/kodiak/internal/fault"
	"github.com/AleutianAI/kodiak/internal/llm"
	"github.com/AleutianAI/kodiak/internal/observability"
	"github.com/AleutianAI/kodiak/internal/resource"
	"github.com/AleutianAI/kodiak/internal/router"
	"github.com/AleutianAI/kodiak/internal/store"
	"github.com/AleutianAI/kodiak/internal/vector"
)

// ==========================================================================
// Test doubles
// ==========================================================================

type stubSampler struct {
	mu   sync.Mutex
	snap resource.Snapshot
}

func (s *stubSampler) Sample(ctx context.Context) (resource.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.snap
	snap.CapturedAt = time.Now()
	return snap, nil
}

func (s *stubSampler) set(snap resource.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = snap
}

type stubClassifier struct {
	result classify.Result
	err    error
}

func (s *stubClassifier) Classify(ctx context.Context, text string) (classify.Result, error) {
	if s.err != nil {
		return classify.Result{}, s.err
	}
	return s.result, nil
}

type stubProvider struct {
	mu    sync.Mutex
	name  string
	err   error
	calls int
}

func (p *stubProvider) Invoke(ctx context.Context, req llm.Request) (*llm.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return &llm.Response{
		Text:       "stub answer",
		Model:      req.Model,
		Provider:   p.name,
		TokensUsed: 12,
	}, nil
}

func (p *stubProvider) Name() string { return p.name }

func (p *stubProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type stubEmbedder struct {
	err error
}

func (s *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	return []float32{1, 0, 0}, nil
}

// memRepo is an in-memory storage tier for wiring the resilient
// repository without disk or network.
type memRepo struct {
	mu       sync.Mutex
	entities map[string]*store.Entity
	failSave error
}

func newMemRepo() *memRepo {
	return &memRepo{entities: make(map[string]*store.Entity)}
}

func (m *memRepo) Save(ctx context.Context, e *store.Entity) (*store.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSave != nil {
		return nil, m.failSave
	}
	dup := e.Clone()
	m.entities[dup.ID] = dup
	return dup.Clone(), nil
}

func (m *memRepo) FindByID(ctx context.Context, id string) (*store.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entities[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return e.Clone(), nil
}

func (m *memRepo) Delete(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entities[id]
	delete(m.entities, id)
	return ok, nil
}

func (m *memRepo) ListPending(ctx context.Context, state store.SyncState, limit int) ([]*store.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*store.Entity
	for _, e := range m.entities {
		if e.SyncState == state {
			out = append(out, e.Clone())
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *memRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entities)
}

func (m *memRepo) all() []*store.Entity {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*store.Entity, 0, len(m.entities))
	for _, e := range m.entities {
		out = append(out, e.Clone())
	}
	return out
}

type memVecStore struct {
	mu      sync.Mutex
	records []vector.Record
}

func (m *memVecStore) Upsert(ctx context.Context, rec vector.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

func (m *memVecStore) Search(ctx context.Context, q vector.Query) ([]vector.Match, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []vector.Match
	for _, rec := range m.records {
		if q.SessionID != "" && rec.SessionID != q.SessionID {
			continue
		}
		out = append(out, vector.Match{Record: rec, Score: 1})
	}
	return out, nil
}

// ==========================================================================
// Harness
// ==========================================================================

type harness struct {
	orch     *Orchestrator
	sampler  *stubSampler
	primary  *memRepo
	backup   *memRepo
	cloud    *stubProvider
	local    *stubProvider
	embedder *stubEmbedder
	breakers *breaker.Registry
}

func testProfiles() []router.ModelProfile {
	return []router.ModelProfile{
		{
			ID:           "code-cloud",
			ProviderKind: router.ProviderCloudAPI,
			Model:        "vendor/code-model",
			Requirement:  router.RequirementHigh,
			Priority:     10,
			Intents:      []string{"code", "debug"},
		},
		{
			ID:             "local-light",
			ProviderKind:   router.ProviderLocalInference,
			Model:          "llama3.2:3b",
			Requirement:    router.RequirementLow,
			OfflineCapable: true,
			Priority:       20,
			Intents:        []string{"code", "general"},
		},
		{
			ID:           "leader-general",
			ProviderKind: router.ProviderCloudAPI,
			Model:        "vendor/general-model",
			Requirement:  router.RequirementMed,
			Priority:     50,
			Intents:      []string{"general", "research"},
		},
	}
}

func healthySnapshot() resource.Snapshot {
	return resource.Snapshot{
		CPUPercent:     20,
		MemPercent:     40,
		MemAvailableMB: 16384,
		Connectivity:   true,
		LocalInference: true,
	}
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := slog.Default()

	sampler := &stubSampler{}
	sampler.set(healthySnapshot())
	monitor := resource.NewMonitor(sampler, resource.MonitorConfig{
		PollInterval: time.Hour,
		MaxStaleness: time.Hour,
	}, logger)

	breakers := breaker.NewRegistry(breaker.Config{
		FailureThreshold: 3,
		ResetTimeout:     30 * time.Second,
	})

	primary := newMemRepo()
	backup := newMemRepo()
	repo := store.NewPrimaryBackup(primary, backup, breakers, store.PrimaryBackupConfig{
		MirrorAsync: false,
	}, logger)
	rec := store.NewReconciler(primary, backup, breakers, store.ReconcilerConfig{
		Interval: time.Hour,
	}, logger)

	native := &memVecStore{}
	fallback := &memVecStore{}
	vectors := vector.NewDualStore(context.Background(), native, fallback, logger, false)

	table, err := router.NewTable(testProfiles(), "leader-general")
	require.NoError(t, err)
	rtr, err := router.New(table,
		&stubClassifier{result: classify.Result{Intent: "code", Confidence: 0.9}},
		classify.NewKeywordClassifier(nil),
		monitor, router.DefaultConfig(), logger)
	require.NoError(t, err)

	cloud := &stubProvider{name: "cloud"}
	local := &stubProvider{name: "local"}
	exec := executor.New(map[router.ProviderKind]llm.Provider{
		router.ProviderCloudAPI:       cloud,
		router.ProviderLocalInference: local,
	}, rtr, breakers, executor.Config{
		InvokeTimeout: 5 * time.Second,
		MaxRetries:    0,
		BackoffBase:   time.Millisecond,
	}, logger)

	embedder := &stubEmbedder{}
	orch, err := New(Deps{
		Monitor:    monitor,
		Repository: repo,
		Reconciler: rec,
		Vectors:    vectors,
		Router:     rtr,
		Executor:   exec,
		Breakers:   breakers,
		Embedder:   embedder,
		Metrics:    observability.New(prometheus.NewRegistry()),
		Logger:     logger,
	})
	require.NoError(t, err)
	t.Cleanup(orch.Close)

	return &harness{
		orch:     orch,
		sampler:  sampler,
		primary:  primary,
		backup:   backup,
		cloud:    cloud,
		local:    local,
		embedder: embedder,
		breakers: breakers,
	}
}

// ==========================================================================
// Tests
// ==========================================================================

func TestAskRoutesInvokesAndPersists(t *testing.T) {
	h := newHarness(t)

	resp, err := h.orch.Ask(context.Background(), AskRequest{
		SessionID: "sess-1",
		Query:     "write me a parser",
	})
	require.NoError(t, err)

	require.True(t, resp.Result.Success)
	assert.Equal(t, "stub answer", resp.Result.Text)
	assert.Equal(t, "code-cloud", resp.Decision.SelectedModelID)
	assert.Equal(t, 1, h.cloud.callCount())
	assert.Zero(t, h.local.callCount())

	// Two turns, mirrored to both tiers.
	assert.Equal(t, 2, h.primary.count())
	assert.Equal(t, 2, h.backup.count())
	for _, e := range h.primary.all() {
		assert.Equal(t, KindConversationTurn, e.Kind)
		assert.Equal(t, "sess-1", e.SessionID)
	}

	// The exchange is indexed for semantic recall.
	matches, err := h.orch.SemanticSearch(context.Background(), "sess-1", "parser", 5)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "stub answer", matches[0].Record.Text)
}

func TestAskProviderFailureReturnsDegradedWithoutPersisting(t *testing.T) {
	h := newHarness(t)
	h.cloud.err = fault.New(fault.KindAuth, "cloud.invoke", errors.New("bad key"))

	resp, err := h.orch.Ask(context.Background(), AskRequest{
		SessionID: "sess-1",
		Query:     "write me a parser",
	})
	require.NoError(t, err)

	require.False(t, resp.Result.Success)
	assert.Equal(t, fault.KindAuth, resp.Result.ErrorKind)
	assert.NotEmpty(t, resp.Result.UserMessage)
	assert.Zero(t, h.primary.count())
	assert.Zero(t, h.backup.count())
}

func TestAskRequiresSessionID(t *testing.T) {
	h := newHarness(t)

	_, err := h.orch.Ask(context.Background(), AskRequest{Query: "hello"})
	require.Error(t, err)
}

func TestAskPinnedUnknownModelSurfacesRoutingError(t *testing.T) {
	h := newHarness(t)

	_, err := h.orch.Ask(context.Background(), AskRequest{
		SessionID: "sess-1",
		Query:     "hello",
		ModelID:   "no-such-model",
	})
	require.Error(t, err)
	assert.Zero(t, h.cloud.callCount())
}

func TestAskSurvivesPersistenceOutage(t *testing.T) {
	h := newHarness(t)
	h.primary.failSave = errors.New("primary down")
	h.backup.failSave = errors.New("backup down")

	resp, err := h.orch.Ask(context.Background(), AskRequest{
		SessionID: "sess-1",
		Query:     "write me a parser",
	})
	require.NoError(t, err)
	assert.True(t, resp.Result.Success, "an answered query must not fail on storage")
}

func TestAskSurvivesEmbedderOutage(t *testing.T) {
	h := newHarness(t)
	h.embedder.err = errors.New("embedder down")

	resp, err := h.orch.Ask(context.Background(), AskRequest{
		SessionID: "sess-1",
		Query:     "write me a parser",
	})
	require.NoError(t, err)
	assert.True(t, resp.Result.Success)
	// History still lands even when indexing is unavailable.
	assert.Equal(t, 2, h.primary.count())
}

func TestSemanticSearchFiltersBySession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.orch.Ask(ctx, AskRequest{SessionID: "sess-a", Query: "write me a parser"})
	require.NoError(t, err)
	_, err = h.orch.Ask(ctx, AskRequest{SessionID: "sess-b", Query: "write me a lexer"})
	require.NoError(t, err)

	matches, err := h.orch.SemanticSearch(ctx, "sess-a", "parser", 5)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "sess-a", matches[0].Record.SessionID)
}

func TestHistoryReadAndDelete(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.orch.Ask(ctx, AskRequest{SessionID: "sess-1", Query: "write me a parser"})
	require.NoError(t, err)

	entities := h.primary.all()
	require.NotEmpty(t, entities)
	id := entities[0].ID

	res, err := h.orch.HistoryRead(ctx, id)
	require.NoError(t, err)
	assert.False(t, res.Degraded)
	var turn Turn
	require.NoError(t, json.Unmarshal(res.Entity.Payload, &turn))
	assert.NotEmpty(t, turn.Role)

	existed, err := h.orch.HistoryDelete(ctx, id)
	require.NoError(t, err)
	assert.True(t, existed)

	_, err = h.orch.HistoryRead(ctx, id)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestStatusReportsOperationalState(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.orch.Ask(ctx, AskRequest{SessionID: "sess-1", Query: "write me a parser"})
	require.NoError(t, err)

	status := h.orch.Status(ctx)
	assert.Equal(t, router.BucketNormal, status.Bucket)
	assert.False(t, status.VectorDegraded)
	require.NotEmpty(t, status.Usage)
	assert.Equal(t, "code-cloud", status.Usage[0].ModelID)
	assert.Greater(t, status.Uptime, time.Duration(0))
}

func TestConcurrentAsksSameSessionKeepHistoryComplete(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	const n = 8
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.orch.Ask(ctx, AskRequest{SessionID: "sess-1", Query: "write me a parser"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// Every ask appends a user and an assistant turn.
	assert.Equal(t, 2*n, h.primary.count())
}

func TestStartAndCloseAreIdempotent(t *testing.T) {
	h := newHarness(t)
	h.orch.Start()
	h.orch.Close()
	h.orch.Close()
}
