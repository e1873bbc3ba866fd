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
	"fmt"
	"sort"

	badger "github.com/dgraph-io/badger/v4"
)

const recordPrefix = "vec/"

// BadgerStore is the local brute-force backend. It scans every stored
// record and ranks by cosine similarity, which is exact and needs no
// network, at the cost of linear scan time.
//
// It shares the badger instance with the backup entity tier so the
// fallback path introduces no new storage dependency.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore wraps an open badger DB.
func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

func recordKey(id string) []byte {
	return []byte(recordPrefix + id)
}

// Upsert implements Store.
func (s *BadgerStore) Upsert(_ context.Context, rec Record) error {
	if len(rec.Embedding) == 0 {
		return ErrEmptyEmbedding
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record %s: %w", rec.ID, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(recordKey(rec.ID), data)
	})
	if err != nil {
		return fmt.Errorf("badger upsert %s: %w", rec.ID, err)
	}
	return nil
}

// Search implements Store with an exact linear scan.
//
// # Outputs
//
//   - []Match: Up to K matches ordered by descending similarity;
//     equal scores break toward the newer record.
//   - error: Scan or decode failures.
func (s *BadgerStore) Search(ctx context.Context, q Query) ([]Match, error) {
	if len(q.Embedding) == 0 {
		return nil, ErrEmptyEmbedding
	}
	k := clampK(q.K)

	var matches []Match
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(recordPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var rec Record
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			})
			if err != nil {
				return fmt.Errorf("decode record %s: %w", it.Item().Key(), err)
			}
			if q.SessionID != "" && rec.SessionID != q.SessionID {
				continue
			}
			matches = append(matches, Match{
				Record: rec,
				Score:  cosine(q.Embedding, rec.Embedding),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Record.CreatedAt.After(matches[j].Record.CreatedAt)
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}
