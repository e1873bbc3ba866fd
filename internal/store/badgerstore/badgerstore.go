// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package badgerstore implements the local backup tier on BadgerDB.
//
// BadgerDB gives the backup tier low-latency embedded storage (~100µs) with
// no external process, which is exactly what a fallback tier needs: it must
// keep accepting writes when the network, and therefore the primary, is gone.
//
// License: BadgerDB is Apache 2.0 licensed (github.com/dgraph-io/badger).
package badgerstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/kodiak/internal/store"
)

// Key layout: one keyspace for entities, keyed by ID. The sync state lives
// inside the value; pending scans iterate the prefix and filter.
const entityPrefix = "ent/"

// Config holds configuration for a badger-backed store.
type Config struct {
	// Path is the directory for BadgerDB files.
	// Ignored when InMemory is true.
	Path string

	// InMemory enables in-memory mode (no disk persistence).
	// Useful for testing.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	// Default: true for persistent stores.
	SyncWrites bool

	// Logger is the logger for BadgerDB operations.
	// If nil, BadgerDB's internal logging is disabled.
	Logger *slog.Logger
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Store is a Repository over a BadgerDB instance.
//
// # Thread Safety
//
// Store is safe for concurrent use; BadgerDB transactions provide isolation.
type Store struct {
	db *badger.DB
}

// Open creates and opens a badger-backed store.
//
// # Inputs
//
//   - cfg: Path is required unless InMemory is true. The directory is
//     created if it does not exist.
//
// # Outputs
//
//   - *Store: The opened store. Caller must Close when done.
//   - error: Non-nil if the path is invalid or the database cannot open.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create store directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	opts = opts.WithNumVersionsToKeep(1)

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger store: %w", err)
	}
	return &Store{db: db}, nil
}

// OpenInMemory opens an in-memory store for testing. Data is lost on Close.
func OpenInMemory() (*Store, error) {
	return Open(Config{InMemory: true})
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying BadgerDB handle. The fallback vector backend
// shares this database so degraded similarity search needs no extra tier.
func (s *Store) DB() *badger.DB {
	return s.db
}

func entityKey(id string) []byte {
	return []byte(entityPrefix + id)
}

// FindByID implements store.Repository.
func (s *Store) FindByID(ctx context.Context, id string) (*store.Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var entity store.Entity
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(entityKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &entity)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("badger find %s: %w", id, err)
	}
	return &entity, nil
}

// Save implements store.Repository.
func (s *Store) Save(ctx context.Context, e *store.Entity) (*store.Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal entity %s: %w", e.ID, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(entityKey(e.ID), data)
	})
	if err != nil {
		return nil, fmt.Errorf("badger save %s: %w", e.ID, err)
	}
	return e, nil
}

// Delete implements store.Repository.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	existed := false
	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(entityKey(id)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		existed = true
		return txn.Delete(entityKey(id))
	})
	if err != nil {
		return false, fmt.Errorf("badger delete %s: %w", id, err)
	}
	return existed, nil
}

// ListPending implements store.PendingLister by scanning the entity
// keyspace and filtering on sync state. The scan runs inside a read-only
// transaction and never blocks writers.
func (s *Store) ListPending(ctx context.Context, state store.SyncState, limit int) ([]*store.Entity, error) {
	if limit <= 0 {
		limit = 64
	}

	var pending []*store.Entity
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(entityPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid() && len(pending) < limit; it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			err := it.Item().Value(func(val []byte) error {
				var e store.Entity
				if err := json.Unmarshal(val, &e); err != nil {
					return err
				}
				if e.SyncState == state {
					pending = append(pending, &e)
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badger pending scan: %w", err)
	}
	return pending, nil
}
