// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sqlite implements storage.Store on SQLite.
//
// The database is opened in WAL mode with a busy timeout so concurrent
// handlers do not fail with SQLITE_BUSY under light write contention.
// The todos table is created on open if it does not exist.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianTodo/services/todo/datatypes"
	"github.com/AleutianAI/AleutianTodo/services/todo/storage"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS todos (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	text       TEXT NOT NULL,
	done       INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_todos_user_created ON todos (user_id, created_at);
`

// Store is a SQLite-backed storage.Store.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (or creates) the database at dsn.
//
// # Inputs
//
//   - dsn: File path, or ":memory:" for a private in-memory database.
//     Existing query parameters are preserved.
//
// # Outputs
//
//   - *Store: Ready to use. Caller must Close it.
//   - error: Non-nil if the file cannot be opened or the schema fails.
//
// # Limitations
//
//   - In-memory databases are pinned to one connection, since every new
//     connection to ":memory:" would see an empty database.
func Open(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, errors.New("sqlite dsn is required")
	}
	inMemory := dsn == ":memory:" || strings.Contains(dsn, "mode=memory")

	connStr := dsn
	if strings.Contains(dsn, "?") {
		connStr += "&"
	} else {
		connStr += "?"
	}
	connStr += "_busy_timeout=5000&_foreign_keys=on"
	if !inMemory {
		connStr += "&_journal_mode=WAL&_synchronous=NORMAL"
	}

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	if inMemory {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create todos table: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

// List implements storage.Store.
func (s *Store) List(ctx context.Context, userID string) ([]datatypes.Todo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, text, done FROM todos WHERE user_id = ? ORDER BY created_at, rowid`, userID)
	if err != nil {
		return nil, fmt.Errorf("list todos: %w", err)
	}
	defer rows.Close()

	todos := make([]datatypes.Todo, 0)
	for rows.Next() {
		var t datatypes.Todo
		if err := rows.Scan(&t.ID, &t.Text, &t.Done); err != nil {
			return nil, fmt.Errorf("scan todo: %w", err)
		}
		todos = append(todos, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate todos: %w", err)
	}
	return todos, nil
}

// Create implements storage.Store.
func (s *Store) Create(ctx context.Context, userID, text string) (datatypes.Record, error) {
	rec := datatypes.Record{
		Todo:      datatypes.Todo{ID: uuid.NewString(), Text: text},
		UserID:    userID,
		CreatedAt: s.now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO todos (id, user_id, text, done, created_at) VALUES (?, ?, ?, 0, ?)`,
		rec.ID, rec.UserID, rec.Text, rec.CreatedAt.UnixNano())
	if err != nil {
		return datatypes.Record{}, fmt.Errorf("insert todo: %w", err)
	}
	return rec, nil
}

// SetDone implements storage.Store.
func (s *Store) SetDone(ctx context.Context, userID, id string, done bool) (datatypes.Record, error) {
	row := s.db.QueryRowContext(ctx,
		`UPDATE todos SET done = ? WHERE id = ? AND user_id = ?
		 RETURNING id, user_id, text, done, created_at`,
		done, id, userID)
	return scanRecord(row)
}

// Delete implements storage.Store.
func (s *Store) Delete(ctx context.Context, userID, id string) (datatypes.Record, error) {
	row := s.db.QueryRowContext(ctx,
		`DELETE FROM todos WHERE id = ? AND user_id = ?
		 RETURNING id, user_id, text, done, created_at`,
		id, userID)
	return scanRecord(row)
}

// Ping implements storage.Store.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close implements storage.Store.
func (s *Store) Close() error {
	return s.db.Close()
}

func scanRecord(row *sql.Row) (datatypes.Record, error) {
	var rec datatypes.Record
	var createdNanos int64
	err := row.Scan(&rec.ID, &rec.UserID, &rec.Text, &rec.Done, &createdNanos)
	if errors.Is(err, sql.ErrNoRows) {
		return datatypes.Record{}, storage.ErrNotFound
	}
	if err != nil {
		return datatypes.Record{}, fmt.Errorf("scan todo: %w", err)
	}
	rec.CreatedAt = time.Unix(0, createdNanos).UTC()
	return rec, nil
}

var _ storage.Store = (*Store)(nil)
