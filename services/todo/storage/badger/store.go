// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianTodo/services/todo/datatypes"
	"github.com/AleutianAI/AleutianTodo/services/todo/storage"
	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

// Key layout:
//
//	todo/<user>/<created nanos, 20 digits>/<id>  -> JSON row
//	idx/<user>/<id>                              -> row key
//
// User IDs are path-escaped so "/" inside an ID cannot widen a prefix scan.
// The zero-padded timestamp makes lexical key order equal creation order.
const (
	rowPrefix   = "todo/"
	indexPrefix = "idx/"
)

type row struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Done      bool      `json:"done"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is a BadgerDB-backed storage.Store.
//
// # Thread Safety
//
// Safe for concurrent use. Creation timestamps are made strictly
// increasing under mu so two todos created in the same nanosecond still
// list in call order.
type Store struct {
	db       *badger.DB
	stopGC   func()
	inMemory bool

	mu       sync.Mutex
	lastNano int64
	now      func() time.Time
}

// Open opens the database described by cfg.
//
// Value log GC runs in the background for persistent databases with a
// positive GCInterval.
func Open(cfg Config) (*Store, error) {
	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}
	s := &Store{db: db, inMemory: cfg.InMemory, now: time.Now}

	if cfg.GCInterval > 0 && !cfg.InMemory {
		stop, err := startGC(db, cfg.GCInterval, cfg.GCDiscardRatio, cfg.Logger)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		s.stopGC = stop
	}
	return s, nil
}

// OpenInMemory opens an in-memory store. Data is lost on Close.
func OpenInMemory() (*Store, error) {
	return Open(InMemoryConfig())
}

func userPrefix(userID string) []byte {
	return []byte(rowPrefix + url.PathEscape(userID) + "/")
}

func rowKey(userID string, createdNanos int64, id string) []byte {
	return []byte(fmt.Sprintf("%s%s/%020d/%s", rowPrefix, url.PathEscape(userID), createdNanos, id))
}

func indexKey(userID, id string) []byte {
	return []byte(indexPrefix + url.PathEscape(userID) + "/" + id)
}

func (s *Store) nextNanos() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.now().UnixNano()
	if n <= s.lastNano {
		n = s.lastNano + 1
	}
	s.lastNano = n
	return n
}

// List implements storage.Store.
func (s *Store) List(ctx context.Context, userID string) ([]datatypes.Todo, error) {
	todos := make([]datatypes.Todo, 0)
	err := view(ctx, s.db, func(txn *badger.Txn) error {
		prefix := userPrefix(userID)
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var r row
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &r)
			}); err != nil {
				return fmt.Errorf("decode todo: %w", err)
			}
			todos = append(todos, datatypes.Todo{ID: r.ID, Text: r.Text, Done: r.Done})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list todos: %w", err)
	}
	return todos, nil
}

// Create implements storage.Store.
func (s *Store) Create(ctx context.Context, userID, text string) (datatypes.Record, error) {
	nanos := s.nextNanos()
	r := row{ID: uuid.NewString(), Text: text, CreatedAt: time.Unix(0, nanos).UTC()}

	data, err := json.Marshal(r)
	if err != nil {
		return datatypes.Record{}, fmt.Errorf("encode todo: %w", err)
	}
	key := rowKey(userID, nanos, r.ID)

	err = update(ctx, s.db, func(txn *badger.Txn) error {
		if err := txn.Set(key, data); err != nil {
			return err
		}
		return txn.Set(indexKey(userID, r.ID), key)
	})
	if err != nil {
		return datatypes.Record{}, fmt.Errorf("insert todo: %w", err)
	}
	return toRecord(userID, r), nil
}

// SetDone implements storage.Store.
func (s *Store) SetDone(ctx context.Context, userID, id string, done bool) (datatypes.Record, error) {
	var out row
	err := s.update(ctx, func(txn *badger.Txn) error {
		key, r, err := lookup(txn, userID, id)
		if err != nil {
			return err
		}
		r.Done = done
		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("encode todo: %w", err)
		}
		out = r
		return txn.Set(key, data)
	})
	if err != nil {
		return datatypes.Record{}, err
	}
	return toRecord(userID, out), nil
}

// Delete implements storage.Store.
func (s *Store) Delete(ctx context.Context, userID, id string) (datatypes.Record, error) {
	var out row
	err := s.update(ctx, func(txn *badger.Txn) error {
		key, r, err := lookup(txn, userID, id)
		if err != nil {
			return err
		}
		out = r
		if err := txn.Delete(key); err != nil {
			return err
		}
		return txn.Delete(indexKey(userID, id))
	})
	if err != nil {
		return datatypes.Record{}, err
	}
	return toRecord(userID, out), nil
}

// update retries fn on transaction conflicts. Two toggles of the same todo
// racing each other is the only expected source of ErrConflict.
func (s *Store) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	const maxAttempts = 3
	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err = update(ctx, s.db, fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return fmt.Errorf("update todo: %w", err)
}

func lookup(txn *badger.Txn, userID, id string) ([]byte, row, error) {
	var r row
	item, err := txn.Get(indexKey(userID, id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, r, storage.ErrNotFound
	}
	if err != nil {
		return nil, r, fmt.Errorf("read todo index: %w", err)
	}
	key, err := item.ValueCopy(nil)
	if err != nil {
		return nil, r, fmt.Errorf("read todo index: %w", err)
	}

	item, err = txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, r, storage.ErrNotFound
	}
	if err != nil {
		return nil, r, fmt.Errorf("read todo: %w", err)
	}
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &r)
	}); err != nil {
		return nil, r, fmt.Errorf("decode todo: %w", err)
	}
	return key, r, nil
}

func toRecord(userID string, r row) datatypes.Record {
	return datatypes.Record{
		Todo:      datatypes.Todo{ID: r.ID, Text: r.Text, Done: r.Done},
		UserID:    userID,
		CreatedAt: r.CreatedAt,
	}
}

// Ping implements storage.Store.
func (s *Store) Ping(_ context.Context) error {
	if s.db.IsClosed() {
		return errors.New("badger database is closed")
	}
	return nil
}

// Sync flushes pending writes. No-op for in-memory stores.
func (s *Store) Sync() error {
	if s.inMemory {
		return nil
	}
	return s.db.Sync()
}

// Close stops GC, flushes pending writes and closes the database.
func (s *Store) Close() error {
	if s.stopGC != nil {
		s.stopGC()
		s.stopGC = nil
	}
	if s.db.IsClosed() {
		return nil
	}
	syncErr := s.Sync()
	if err := s.db.Close(); err != nil {
		return err
	}
	if syncErr != nil {
		return fmt.Errorf("sync before close: %w", syncErr)
	}
	return nil
}

var _ storage.Store = (*Store)(nil)
