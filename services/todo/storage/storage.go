// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package storage defines persistence for the single todo table.
//
// Three backends implement Store:
//
//	sqlite   (storage/sqlite)   database/sql + mattn/go-sqlite3, default
//	postgres (storage/postgres) pgx connection pool
//	badger   (storage/badger)   embedded key/value store
//
// Every method takes the owning user ID. A todo that exists but belongs to
// another user is reported as ErrNotFound, never as a permission error, so
// ids belonging to other accounts cannot be probed.
package storage

import (
	"context"
	"errors"

	"github.com/AleutianAI/AleutianTodo/services/todo/datatypes"
)

// ErrNotFound is returned when the (user, id) pair does not exist.
var ErrNotFound = errors.New("todo not found")

// Backend names accepted by the service configuration.
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendBadger   = "badger"
)

// Store persists todos.
//
// # Ordering
//
// List returns todos in creation order, oldest first. Clients append
// optimistic todos to the end of their cached list, so the server order
// must agree or the list would visibly reshuffle after the refetch.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Store interface {
	// List returns every todo owned by userID. Never nil on success.
	List(ctx context.Context, userID string) ([]datatypes.Todo, error)

	// Create inserts a new todo with a fresh id and done=false.
	Create(ctx context.Context, userID, text string) (datatypes.Record, error)

	// SetDone updates the done flag and returns the updated row.
	SetDone(ctx context.Context, userID, id string, done bool) (datatypes.Record, error)

	// Delete removes the todo and returns the row as it was.
	Delete(ctx context.Context, userID, id string) (datatypes.Record, error)

	// Ping reports whether the backend is reachable. Used by /health.
	Ping(ctx context.Context) error

	// Close releases the backend's resources.
	Close() error
}
