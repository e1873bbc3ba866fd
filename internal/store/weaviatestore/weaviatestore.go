// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package weaviatestore implements the networked primary tier on Weaviate.
//
// Weaviate serves double duty in this system: it is the primary entity
// store here and the native ANN backend for the vector package. Keeping a
// single networked dependency means a single thing to probe, break, and
// fall back from.
package weaviatestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	wvfault "github.com/weaviate/weaviate-go-client/v5/weaviate/fault"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/kodiak/internal/store"
)

var tracer = otel.Tracer("kodiak.store.weaviate")

// ClassName is the Weaviate class holding generic entities.
const ClassName = "KodiakEntity"

// idNamespace makes Weaviate object UUIDs deterministic per entity ID,
// which is what turns Save into an upsert.
var idNamespace = uuid.MustParse("7c9e6679-7425-40de-944b-e07fc1f90ae7")

// objectID derives the stable Weaviate UUID for an entity ID.
func objectID(entityID string) string {
	return uuid.NewSHA1(idNamespace, []byte(entityID)).String()
}

// Store is a Repository over a Weaviate instance.
//
// # Thread Safety
//
// Store is safe for concurrent use; the Weaviate client is stateless per
// call.
type Store struct {
	client      *weaviate.Client
	logger      *slog.Logger
	schemaReady atomic.Bool
}

// New creates a store over an existing Weaviate client. Schema setup
// is attempted immediately but an unreachable instance does not fail
// construction: the primary-backup layer absorbs runtime failures, and
// the schema attempt repeats on the next operation.
func New(ctx context.Context, client *weaviate.Client, logger *slog.Logger) (*Store, error) {
	if client == nil {
		return nil, errors.New("client must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{client: client, logger: logger}
	if err := s.ensureSchemaOnce(ctx); err != nil {
		logger.Warn("weaviate schema setup deferred", "error", err)
	}
	return s, nil
}

// ensureSchemaOnce runs ensureSchema until it succeeds once.
func (s *Store) ensureSchemaOnce(ctx context.Context) error {
	if s.schemaReady.Load() {
		return nil
	}
	if err := s.ensureSchema(ctx); err != nil {
		return err
	}
	s.schemaReady.Store(true)
	return nil
}

// ensureSchema creates the entity class when it is missing.
func (s *Store) ensureSchema(ctx context.Context) error {
	exists, err := s.client.Schema().ClassExistenceChecker().WithClassName(ClassName).Do(ctx)
	if err != nil {
		return fmt.Errorf("check class %s: %w", ClassName, err)
	}
	if exists {
		return nil
	}

	class := &models.Class{
		Class:      ClassName,
		Vectorizer: "none",
		Properties: []*models.Property{
			{Name: "entity_id", DataType: []string{"text"}},
			{Name: "session_id", DataType: []string{"text"}},
			{Name: "kind", DataType: []string{"text"}},
			{Name: "payload", DataType: []string{"text"}},
			{Name: "created_at", DataType: []string{"int"}},
			{Name: "sync_state", DataType: []string{"text"}},
		},
	}
	if err := s.client.Schema().ClassCreator().WithClass(class).Do(ctx); err != nil {
		return fmt.Errorf("create class %s: %w", ClassName, err)
	}
	s.logger.Info("created weaviate class", "class", ClassName)
	return nil
}

// properties flattens an entity into Weaviate properties.
func properties(e *store.Entity) map[string]any {
	return map[string]any{
		"entity_id":  e.ID,
		"session_id": e.SessionID,
		"kind":       e.Kind,
		"payload":    string(e.Payload),
		"created_at": e.CreatedAt.UnixNano(),
		"sync_state": string(e.SyncState),
	}
}

// entityFromProps rebuilds an entity from Weaviate properties.
func entityFromProps(props map[string]any) (*store.Entity, error) {
	str := func(key string) string {
		v, _ := props[key].(string)
		return v
	}
	e := &store.Entity{
		ID:        str("entity_id"),
		SessionID: str("session_id"),
		Kind:      str("kind"),
		SyncState: store.SyncState(str("sync_state")),
	}
	if payload := str("payload"); payload != "" {
		e.Payload = json.RawMessage(payload)
	}
	// GraphQL and the object API both deliver ints as float64.
	if ts, ok := props["created_at"].(float64); ok {
		e.CreatedAt = time.Unix(0, int64(ts))
	}
	if e.ID == "" {
		return nil, errors.New("object is missing entity_id")
	}
	return e, nil
}

// isNotFound recognizes a 404 from the Weaviate client.
func isNotFound(err error) bool {
	var clientErr *wvfault.WeaviateClientError
	return errors.As(err, &clientErr) && clientErr.StatusCode == 404
}

// FindByID implements store.Repository.
func (s *Store) FindByID(ctx context.Context, id string) (*store.Entity, error) {
	ctx, span := tracer.Start(ctx, "weaviatestore.FindByID")
	defer span.End()
	span.SetAttributes(attribute.String("entity.id", id))

	objects, err := s.client.Data().ObjectsGetter().
		WithClassName(ClassName).
		WithID(objectID(id)).
		Do(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, store.ErrNotFound
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("weaviate get %s: %w", id, err)
	}
	if len(objects) == 0 {
		return nil, store.ErrNotFound
	}

	props, ok := objects[0].Properties.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("weaviate get %s: unexpected properties shape", id)
	}
	return entityFromProps(props)
}

// Save implements store.Repository as an upsert: existing objects are
// replaced, new objects are created with a deterministic UUID.
func (s *Store) Save(ctx context.Context, e *store.Entity) (*store.Entity, error) {
	ctx, span := tracer.Start(ctx, "weaviatestore.Save")
	defer span.End()
	if err := s.ensureSchemaOnce(ctx); err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.String("entity.id", e.ID),
		attribute.String("entity.sync_state", string(e.SyncState)),
	)

	oid := objectID(e.ID)
	exists, err := s.client.Data().Checker().
		WithClassName(ClassName).
		WithID(oid).
		Do(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("weaviate exists check %s: %w", e.ID, err)
	}

	if exists {
		err = s.client.Data().Updater().
			WithClassName(ClassName).
			WithID(oid).
			WithProperties(properties(e)).
			Do(ctx)
	} else {
		_, err = s.client.Data().Creator().
			WithClassName(ClassName).
			WithID(oid).
			WithProperties(properties(e)).
			Do(ctx)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("weaviate save %s: %w", e.ID, err)
	}
	return e, nil
}

// Delete implements store.Repository.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	ctx, span := tracer.Start(ctx, "weaviatestore.Delete")
	defer span.End()
	span.SetAttributes(attribute.String("entity.id", id))

	err := s.client.Data().Deleter().
		WithClassName(ClassName).
		WithID(objectID(id)).
		Do(ctx)
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, fmt.Errorf("weaviate delete %s: %w", id, err)
	}
	return true, nil
}

// pendingQueryResponse mirrors the GraphQL response shape for the
// pending-entity scan.
type pendingQueryResponse struct {
	Get struct {
		KodiakEntity []struct {
			EntityID  string `json:"entity_id"`
			SessionID string `json:"session_id"`
			Kind      string `json:"kind"`
			Payload   string `json:"payload"`
			CreatedAt int64  `json:"created_at"`
			SyncState string `json:"sync_state"`
		} `json:"KodiakEntity"`
	} `json:"Get"`
}

// ListPending implements store.PendingLister via a GraphQL where-filter.
func (s *Store) ListPending(ctx context.Context, state store.SyncState, limit int) ([]*store.Entity, error) {
	if limit <= 0 {
		limit = 64
	}

	where := filters.Where().
		WithPath([]string{"sync_state"}).
		WithOperator(filters.Equal).
		WithValueString(string(state))

	fields := []graphql.Field{
		{Name: "entity_id"},
		{Name: "session_id"},
		{Name: "kind"},
		{Name: "payload"},
		{Name: "created_at"},
		{Name: "sync_state"},
	}

	resp, err := s.client.GraphQL().Get().
		WithClassName(ClassName).
		WithFields(fields...).
		WithWhere(where).
		WithLimit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("weaviate pending scan: %w", err)
	}

	respBytes, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("marshal pending scan response: %w", err)
	}
	var parsed pendingQueryResponse
	if err := json.Unmarshal(respBytes, &parsed); err != nil {
		return nil, fmt.Errorf("parse pending scan response: %w", err)
	}

	pending := make([]*store.Entity, 0, len(parsed.Get.KodiakEntity))
	for _, row := range parsed.Get.KodiakEntity {
		e := &store.Entity{
			ID:        row.EntityID,
			SessionID: row.SessionID,
			Kind:      row.Kind,
			CreatedAt: time.Unix(0, row.CreatedAt),
			SyncState: store.SyncState(row.SyncState),
		}
		if row.Payload != "" {
			e.Payload = json.RawMessage(row.Payload)
		}
		pending = append(pending, e)
	}
	return pending, nil
}
