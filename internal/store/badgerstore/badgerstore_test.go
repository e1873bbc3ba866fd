// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badgerstore

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/kodiak/internal/store"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSaveAndFindRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	in := &store.Entity{
		ID:        "e1",
		SessionID: "sess-1",
		Kind:      "conversation_turn",
		Payload:   json.RawMessage(`{"text":"hi"}`),
		CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		SyncState: store.SyncSynced,
	}
	_, err := s.Save(ctx, in)
	require.NoError(t, err)

	out, err := s.FindByID(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, in.ID, out.ID)
	assert.Equal(t, in.SessionID, out.SessionID)
	assert.JSONEq(t, string(in.Payload), string(out.Payload))
	assert.Equal(t, store.SyncSynced, out.SyncState)
	assert.True(t, in.CreatedAt.Equal(out.CreatedAt))
}

func TestFindMissingReturnsNotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.FindByID(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSaveOverwritesExisting(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	e := &store.Entity{ID: "e1", Kind: "note", SyncState: store.SyncPendingPrimary}
	_, err := s.Save(ctx, e)
	require.NoError(t, err)

	e.SyncState = store.SyncSynced
	_, err = s.Save(ctx, e)
	require.NoError(t, err)

	out, err := s.FindByID(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, store.SyncSynced, out.SyncState)
}

func TestDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.Save(ctx, &store.Entity{ID: "e1", Kind: "note"})
	require.NoError(t, err)

	existed, err := s.Delete(ctx, "e1")
	require.NoError(t, err)
	assert.True(t, existed)

	existed, err = s.Delete(ctx, "e1")
	require.NoError(t, err)
	assert.False(t, existed)

	_, err = s.FindByID(ctx, "e1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestListPendingFiltersBySyncState(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	states := []store.SyncState{
		store.SyncSynced,
		store.SyncPendingPrimary,
		store.SyncPendingPrimary,
		store.SyncPendingBackup,
	}
	for i, state := range states {
		e := &store.Entity{
			ID:        "e" + string(rune('1'+i)),
			Kind:      "note",
			SyncState: state,
		}
		_, err := s.Save(ctx, e)
		require.NoError(t, err)
	}

	pending, err := s.ListPending(ctx, store.SyncPendingPrimary, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	for _, e := range pending {
		assert.Equal(t, store.SyncPendingPrimary, e.SyncState)
	}

	limited, err := s.ListPending(ctx, store.SyncPendingPrimary, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}
