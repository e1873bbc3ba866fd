// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package orchestrator is the facade over routing, invocation, and
// persistence. It owns the background lifecycles and the per-session
// write ordering.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/kodiak/internal/breaker"
	"github.com/AleutianAI/kodiak/internal/executor"
	"github.com/AleutianAI/kodiak/internal/llm"
	"github.com/AleutianAI/kodiak/internal/observability"
	"github.com/AleutianAI/kodiak/internal/resource"
	"github.com/AleutianAI/kodiak/internal/router"
	"github.com/AleutianAI/kodiak/internal/store"
	"github.com/AleutianAI/kodiak/internal/vector"
)

// KindConversationTurn is the entity kind for chat history rows.
const KindConversationTurn = "conversation_turn"

// Turn is the payload persisted for each conversation turn.
type Turn struct {
	Role    string `json:"role"`
	Text    string `json:"text"`
	ModelID string `json:"model_id,omitempty"`
}

// Deps are the wired collaborators. All fields are required except
// Embedder and Metrics.
type Deps struct {
	Monitor    *resource.Monitor
	Repository *store.PrimaryBackup
	Reconciler *store.Reconciler
	Vectors    *vector.DualStore
	Router     *router.Router
	Executor   *executor.Executor
	Breakers   *breaker.Registry
	Embedder   llm.Embedder
	Metrics    *observability.Metrics
	Logger     *slog.Logger
}

// Orchestrator coordinates one query end to end: route, invoke,
// persist, index.
//
// # Thread Safety
//
// Safe for concurrent use. History appends for a single session are
// strictly ordered through a per-session mutex; cross-session traffic
// runs fully parallel.
type Orchestrator struct {
	deps    Deps
	logger  *slog.Logger
	started time.Time

	sessionMu sync.Mutex
	sessions  map[string]*sync.Mutex

	closeOnce sync.Once
}

// New validates the dependency set and creates the orchestrator.
func New(deps Deps) (*Orchestrator, error) {
	switch {
	case deps.Monitor == nil:
		return nil, errors.New("monitor must not be nil")
	case deps.Repository == nil:
		return nil, errors.New("repository must not be nil")
	case deps.Vectors == nil:
		return nil, errors.New("vector store must not be nil")
	case deps.Router == nil:
		return nil, errors.New("router must not be nil")
	case deps.Executor == nil:
		return nil, errors.New("executor must not be nil")
	case deps.Breakers == nil:
		return nil, errors.New("breaker registry must not be nil")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Orchestrator{
		deps:     deps,
		logger:   deps.Logger,
		started:  time.Now(),
		sessions: make(map[string]*sync.Mutex),
	}, nil
}

// Start launches the background tasks. Idempotent through the
// underlying runners.
func (o *Orchestrator) Start() {
	o.deps.Monitor.Start()
	if o.deps.Reconciler != nil {
		o.deps.Reconciler.Start()
	}
}

// Close stops the background tasks. Safe to call more than once.
func (o *Orchestrator) Close() {
	o.closeOnce.Do(func() {
		if o.deps.Reconciler != nil {
			o.deps.Reconciler.Stop()
		}
		o.deps.Monitor.Stop()
	})
}

// sessionLock returns the mutex serializing writes for a session.
func (o *Orchestrator) sessionLock(sessionID string) *sync.Mutex {
	o.sessionMu.Lock()
	defer o.sessionMu.Unlock()
	mu, ok := o.sessions[sessionID]
	if !ok {
		mu = &sync.Mutex{}
		o.sessions[sessionID] = mu
	}
	return mu
}

// AskRequest is one end-to-end query.
type AskRequest struct {
	SessionID string
	Query     string
	// ModelID pins routing to an explicit model when non-empty.
	ModelID      string
	SystemPrompt string
	MaxTokens    int
}

// AskResponse bundles the invocation outcome with its routing context.
type AskResponse struct {
	Result   executor.Result `json:"result"`
	Decision router.Decision `json:"decision"`
}

// Ask routes the query, executes it down the fallback chain, and on
// success persists the exchange and indexes it for semantic recall.
// Provider failures surface inside Result, never as an error; the
// error return covers routing rejections only (unknown pinned model).
func (o *Orchestrator) Ask(ctx context.Context, req AskRequest) (AskResponse, error) {
	if req.SessionID == "" {
		return AskResponse{}, errors.New("session id must not be empty")
	}

	decision, err := o.deps.Router.Route(ctx, router.Request{
		Query:   req.Query,
		ModelID: req.ModelID,
	})
	if err != nil {
		return AskResponse{}, err
	}
	o.observeDecision(decision)

	result := o.deps.Executor.Execute(ctx, decision, executor.Request{
		Prompt:       req.Query,
		SystemPrompt: req.SystemPrompt,
		MaxTokens:    req.MaxTokens,
	})
	o.observeResult(decision, result)

	if result.Success {
		if err := o.persistExchange(ctx, req, result); err != nil {
			// The answer is already in hand; a persistence failure
			// degrades history, not the response.
			o.logger.Warn("failed to persist exchange",
				"session_id", req.SessionID, "error", err)
		}
	}
	return AskResponse{Result: result, Decision: decision}, nil
}

// persistExchange appends both turns to history and indexes the
// exchange for semantic recall.
func (o *Orchestrator) persistExchange(ctx context.Context, req AskRequest, result executor.Result) error {
	mu := o.sessionLock(req.SessionID)
	mu.Lock()
	defer mu.Unlock()

	if _, err := o.appendTurn(ctx, req.SessionID, Turn{Role: "user", Text: req.Query}); err != nil {
		return err
	}
	entity, err := o.appendTurn(ctx, req.SessionID, Turn{
		Role: "assistant", Text: result.Text, ModelID: result.ModelID,
	})
	if err != nil {
		return err
	}

	if o.deps.Embedder == nil {
		return nil
	}
	embedding, err := o.deps.Embedder.Embed(ctx, req.Query+"\n"+result.Text)
	if err != nil {
		o.logger.Warn("embedding failed, exchange not indexed",
			"session_id", req.SessionID, "error", err)
		return nil
	}
	return o.deps.Vectors.Upsert(ctx, vector.Record{
		ID:        entity.ID,
		SessionID: req.SessionID,
		Text:      result.Text,
		Embedding: embedding,
		CreatedAt: entity.CreatedAt,
	})
}

// appendTurn writes one history row through the resilient repository.
func (o *Orchestrator) appendTurn(ctx context.Context, sessionID string, turn Turn) (*store.Entity, error) {
	payload, err := json.Marshal(turn)
	if err != nil {
		return nil, fmt.Errorf("marshal turn: %w", err)
	}
	return o.deps.Repository.Save(ctx, &store.Entity{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Kind:      KindConversationTurn,
		Payload:   payload,
	})
}

// Route runs the routing decision for a query without invoking a model.
func (o *Orchestrator) Route(ctx context.Context, query, modelID string) (router.Decision, error) {
	decision, err := o.deps.Router.Route(ctx, router.Request{Query: query, ModelID: modelID})
	if err != nil {
		return router.Decision{}, err
	}
	o.observeDecision(decision)
	return decision, nil
}

// HistoryRead fetches one entity through the resilient read path.
func (o *Orchestrator) HistoryRead(ctx context.Context, id string) (store.ReadResult, error) {
	return o.deps.Repository.FindByID(ctx, id)
}

// HistoryDelete removes one entity from both tiers.
func (o *Orchestrator) HistoryDelete(ctx context.Context, id string) (bool, error) {
	return o.deps.Repository.Delete(ctx, id)
}

// SemanticSearch finds past exchanges similar to the query text.
func (o *Orchestrator) SemanticSearch(ctx context.Context, sessionID, query string, k int) ([]vector.Match, error) {
	if o.deps.Embedder == nil {
		return nil, errors.New("no embedder configured")
	}
	embedding, err := o.deps.Embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	return o.deps.Vectors.Search(ctx, vector.Query{
		SessionID: sessionID,
		Embedding: embedding,
		K:         k,
	})
}

// Status is the operational snapshot served by the status command.
type Status struct {
	Snapshot       resource.Snapshot   `json:"snapshot"`
	Bucket         router.Bucket       `json:"resource_bucket"`
	Breakers       []breaker.Snapshot  `json:"breakers"`
	Usage          []router.ModelUsage `json:"model_usage"`
	VectorDegraded bool                `json:"vector_degraded"`
	Uptime         time.Duration       `json:"uptime"`
}

// Status reports live resource, breaker, and usage state.
func (o *Orchestrator) Status(ctx context.Context) Status {
	snap := o.deps.Monitor.Snapshot(ctx)
	return Status{
		Snapshot:       snap,
		Bucket:         router.DeriveBucket(snap, router.DefaultThresholds()),
		Breakers:       o.deps.Breakers.Snapshots(),
		Usage:          o.deps.Router.Usage(),
		VectorDegraded: o.deps.Vectors.Degraded(),
		Uptime:         time.Since(o.started),
	}
}

func (o *Orchestrator) observeDecision(d router.Decision) {
	m := o.deps.Metrics
	if m == nil {
		return
	}
	m.RoutingDecisions.WithLabelValues(d.SelectedModelID, string(d.Bucket)).Inc()
	if d.FromCache {
		m.RoutingCacheHits.Inc()
	}
}

func (o *Orchestrator) observeResult(d router.Decision, r executor.Result) {
	m := o.deps.Metrics
	if m == nil {
		return
	}
	outcome := "success"
	if !r.Success {
		outcome = string(r.ErrorKind)
	}
	model := r.ModelID
	if model == "" {
		model = d.SelectedModelID
	}
	m.Invocations.WithLabelValues(model, outcome).Inc()
	m.InvocationLatency.WithLabelValues(model).Observe(r.Duration.Seconds())
	if o.deps.Vectors.Degraded() {
		m.VectorDegraded.Set(1)
	}
}
