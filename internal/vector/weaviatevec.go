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
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("kodiak.vector.weaviate")

// MemoryClass is the Weaviate class holding embedded memory records.
const MemoryClass = "KodiakMemory"

// memoryNamespace makes vector object UUIDs deterministic per record ID.
var memoryNamespace = uuid.MustParse("f3b2a1d0-5c4e-4f6a-9b8c-2d1e0f9a8b7c")

// WeaviateStore is the native ANN backend.
type WeaviateStore struct {
	client *weaviate.Client
}

// NewWeaviateStore wraps an existing client. Schema creation happens on
// the first Probe, not here, so construction never touches the network.
func NewWeaviateStore(client *weaviate.Client) (*WeaviateStore, error) {
	if client == nil {
		return nil, errors.New("client must not be nil")
	}
	return &WeaviateStore{client: client}, nil
}

// Probe implements Prober: the instance must report ready and the
// memory class must exist or be creatable.
func (s *WeaviateStore) Probe(ctx context.Context) error {
	ready, err := s.client.Misc().ReadyChecker().Do(ctx)
	if err != nil {
		return fmt.Errorf("weaviate ready check: %w", err)
	}
	if !ready {
		return errors.New("weaviate instance not ready")
	}
	return s.ensureSchema(ctx)
}

func (s *WeaviateStore) ensureSchema(ctx context.Context) error {
	exists, err := s.client.Schema().ClassExistenceChecker().WithClassName(MemoryClass).Do(ctx)
	if err != nil {
		return fmt.Errorf("check class %s: %w", MemoryClass, err)
	}
	if exists {
		return nil
	}
	class := &models.Class{
		Class:      MemoryClass,
		Vectorizer: "none",
		Properties: []*models.Property{
			{Name: "record_id", DataType: []string{"text"}},
			{Name: "session_id", DataType: []string{"text"}},
			{Name: "text", DataType: []string{"text"}},
			{Name: "created_at", DataType: []string{"int"}},
		},
	}
	if err := s.client.Schema().ClassCreator().WithClass(class).Do(ctx); err != nil {
		return fmt.Errorf("create class %s: %w", MemoryClass, err)
	}
	return nil
}

// Upsert implements Store. Records carry their own vectors; Weaviate
// never vectorizes on our behalf.
func (s *WeaviateStore) Upsert(ctx context.Context, rec Record) error {
	if len(rec.Embedding) == 0 {
		return ErrEmptyEmbedding
	}
	ctx, span := tracer.Start(ctx, "weaviatevec.Upsert")
	defer span.End()
	span.SetAttributes(attribute.String("record.id", rec.ID))

	oid := uuid.NewSHA1(memoryNamespace, []byte(rec.ID)).String()
	props := map[string]any{
		"record_id":  rec.ID,
		"session_id": rec.SessionID,
		"text":       rec.Text,
		"created_at": rec.CreatedAt.UnixNano(),
	}

	exists, err := s.client.Data().Checker().
		WithClassName(MemoryClass).
		WithID(oid).
		Do(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("weaviate exists check %s: %w", rec.ID, err)
	}

	if exists {
		err = s.client.Data().Updater().
			WithClassName(MemoryClass).
			WithID(oid).
			WithProperties(props).
			WithVector(rec.Embedding).
			Do(ctx)
	} else {
		_, err = s.client.Data().Creator().
			WithClassName(MemoryClass).
			WithID(oid).
			WithProperties(props).
			WithVector(rec.Embedding).
			Do(ctx)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("weaviate upsert %s: %w", rec.ID, err)
	}
	return nil
}

// searchResponse mirrors the GraphQL response shape for a nearVector
// query against the memory class.
type searchResponse struct {
	Get struct {
		KodiakMemory []struct {
			RecordID   string `json:"record_id"`
			SessionID  string `json:"session_id"`
			Text       string `json:"text"`
			CreatedAt  int64  `json:"created_at"`
			Additional struct {
				Certainty float64   `json:"certainty"`
				Vector    []float32 `json:"vector"`
			} `json:"_additional"`
		} `json:"KodiakMemory"`
	} `json:"Get"`
}

// Search implements Store via Weaviate's ANN index.
func (s *WeaviateStore) Search(ctx context.Context, q Query) ([]Match, error) {
	if len(q.Embedding) == 0 {
		return nil, ErrEmptyEmbedding
	}
	ctx, span := tracer.Start(ctx, "weaviatevec.Search")
	defer span.End()

	k := clampK(q.K)
	span.SetAttributes(attribute.Int("search.k", k))

	nearVector := s.client.GraphQL().NearVectorArgBuilder().
		WithVector(q.Embedding)

	fields := []graphql.Field{
		{Name: "record_id"},
		{Name: "session_id"},
		{Name: "text"},
		{Name: "created_at"},
		{Name: "_additional", Fields: []graphql.Field{
			{Name: "certainty"},
			{Name: "vector"},
		}},
	}

	query := s.client.GraphQL().Get().
		WithClassName(MemoryClass).
		WithFields(fields...).
		WithNearVector(nearVector).
		WithLimit(k)
	if q.SessionID != "" {
		query = query.WithWhere(filters.Where().
			WithPath([]string{"session_id"}).
			WithOperator(filters.Equal).
			WithValueString(q.SessionID))
	}

	resp, err := query.Do(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("weaviate search: %w", err)
	}
	if len(resp.Errors) > 0 {
		err := fmt.Errorf("weaviate search: %s", resp.Errors[0].Message)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	respBytes, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("marshal search response: %w", err)
	}
	var parsed searchResponse
	if err := json.Unmarshal(respBytes, &parsed); err != nil {
		return nil, fmt.Errorf("parse search response: %w", err)
	}

	matches := make([]Match, 0, len(parsed.Get.KodiakMemory))
	for _, row := range parsed.Get.KodiakMemory {
		matches = append(matches, Match{
			Record: Record{
				ID:        row.RecordID,
				SessionID: row.SessionID,
				Text:      row.Text,
				Embedding: row.Additional.Vector,
				CreatedAt: time.Unix(0, row.CreatedAt),
			},
			// Weaviate certainty is (1 + cosine) / 2; undo it so both
			// backends score on the same scale.
			Score: 2*row.Additional.Certainty - 1,
		})
	}
	return matches, nil
}
