// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store defines the generic persistence port and the resilient
// primary+backup composition used for session and memory state.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// SyncState tracks which storage tiers hold an entity.
type SyncState string

const (
	// SyncSynced means both tiers hold the entity.
	SyncSynced SyncState = "synced"

	// SyncPendingBackup means the primary holds the entity but the
	// best-effort backup copy has not landed yet.
	SyncPendingBackup SyncState = "pending_backup"

	// SyncPendingPrimary means the backup accepted the write while the
	// primary was unavailable; reconciliation will replay it.
	SyncPendingPrimary SyncState = "pending_primary"
)

// Entity is a generic persisted record: a chat turn, a memory item.
//
// Entities are created on write and never hard-deleted by this core;
// deletion is caller-driven through the Repository port.
type Entity struct {
	// ID uniquely identifies the entity across both tiers.
	ID string `json:"id"`

	// SessionID is the owning conversation session.
	SessionID string `json:"owner_session_id"`

	// Kind distinguishes record types ("chat_turn", "memory", ...).
	Kind string `json:"kind"`

	// Payload is the opaque record body.
	Payload json.RawMessage `json:"payload"`

	// CreatedAt is when the entity was first written.
	CreatedAt time.Time `json:"created_at"`

	// SyncState tracks tier placement; mutated only by the repository
	// and the reconciler.
	SyncState SyncState `json:"sync_state"`
}

// Clone returns a deep copy so tiers never share a mutable payload.
func (e *Entity) Clone() *Entity {
	if e == nil {
		return nil
	}
	dup := *e
	if e.Payload != nil {
		dup.Payload = make(json.RawMessage, len(e.Payload))
		copy(dup.Payload, e.Payload)
	}
	return &dup
}

// ErrNotFound is returned when an entity does not exist in a store.
var ErrNotFound = errors.New("entity not found")

// Repository is the generic CRUD port implemented by each storage tier.
//
// Implementations must be safe for concurrent use and must respect context
// cancellation on every call.
type Repository interface {
	// FindByID returns the entity or ErrNotFound.
	FindByID(ctx context.Context, id string) (*Entity, error)

	// Save upserts the entity and returns the stored copy.
	Save(ctx context.Context, e *Entity) (*Entity, error)

	// Delete removes the entity, reporting whether it existed.
	Delete(ctx context.Context, id string) (bool, error)
}

// PendingLister is implemented by tiers that can enumerate entities in a
// given sync state. The reconciler uses it to find replay candidates.
type PendingLister interface {
	ListPending(ctx context.Context, state SyncState, limit int) ([]*Entity, error)
}

// ReadResult is the envelope returned by resilient reads.
//
// Degradation is annotated on the envelope, not the entity: an entity
// served from backup during a primary outage is unchanged data delivered
// through a degraded path.
type ReadResult struct {
	// Entity is the record, nil only alongside a non-nil error.
	Entity *Entity

	// Degraded is true when the read fell back due to a primary failure.
	Degraded bool

	// Source names the tier that served the read ("primary", "backup").
	Source string
}
