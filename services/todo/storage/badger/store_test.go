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
	"testing"
	"time"

	"github.com/AleutianAI/AleutianTodo/services/todo/storage"
	"github.com/AleutianAI/AleutianTodo/services/todo/storage/storagetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_InMemory(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store {
		s, err := OpenInMemory()
		require.NoError(t, err)
		return s
	})
}

func TestStore_Persistent(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store {
		cfg := DefaultConfig(t.TempDir())
		cfg.SyncWrites = false
		s, err := Open(cfg)
		require.NoError(t, err)
		return s
	})
}

// TestStore_PersistsAcrossReopen verifies rows and the id index survive a restart.
func TestStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := Open(DefaultConfig(dir))
	require.NoError(t, err)
	rec, err := s.Create(ctx, "alice", "persist me")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := Open(DefaultConfig(dir))
	require.NoError(t, err)
	defer reopened.Close()

	updated, err := reopened.SetDone(ctx, "alice", rec.ID, true)
	require.NoError(t, err)
	assert.True(t, updated.Done)
	assert.Equal(t, "persist me", updated.Text)
}

// TestStore_CloseFlushesUnsyncedWrites verifies Close syncs a store opened
// without SyncWrites.
func TestStore_CloseFlushesUnsyncedWrites(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	cfg.SyncWrites = false

	s, err := Open(cfg)
	require.NoError(t, err)
	rec, err := s.Create(ctx, "alice", "buffered")
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close(), "second Close is a no-op")

	reopened, err := Open(cfg)
	require.NoError(t, err)
	defer reopened.Close()

	todos, err := reopened.List(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, todos, 1)
	assert.Equal(t, rec.ID, todos[0].ID)
}

// TestStore_SlashInUserID verifies escaped user IDs do not leak across prefixes.
func TestStore_SlashInUserID(t *testing.T) {
	ctx := context.Background()
	s, err := OpenInMemory()
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Create(ctx, "alice/x", "nested user")
	require.NoError(t, err)

	todos, err := s.List(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, todos)

	todos, err = s.List(ctx, "alice/x")
	require.NoError(t, err)
	assert.Len(t, todos, 1)
}

// TestStore_SameNanosecondKeepsOrder pins the clock to force timestamp ties.
func TestStore_SameNanosecondKeepsOrder(t *testing.T) {
	ctx := context.Background()
	s, err := OpenInMemory()
	require.NoError(t, err)
	defer s.Close()

	fixed := time.Unix(1700000000, 0)
	s.now = func() time.Time { return fixed }

	for _, text := range []string{"a", "b", "c"} {
		_, err := s.Create(ctx, "alice", text)
		require.NoError(t, err)
	}

	todos, err := s.List(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, todos, 3)
	assert.Equal(t, "a", todos[0].Text)
	assert.Equal(t, "b", todos[1].Text)
	assert.Equal(t, "c", todos[2].Text)
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)
}

func TestStartGC(t *testing.T) {
	s, err := OpenInMemory()
	require.NoError(t, err)
	defer s.Close()

	_, err = startGC(s.db, 0, 0.5, nil)
	assert.Error(t, err)

	_, err = startGC(s.db, time.Minute, 1.5, nil)
	assert.Error(t, err)

	stop, err := startGC(s.db, 10*time.Millisecond, 0.5, nil)
	require.NoError(t, err)
	time.Sleep(30 * time.Millisecond)
	stop()
}

func TestContextCancelled(t *testing.T) {
	s, err := OpenInMemory()
	require.NoError(t, err)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = s.List(ctx, "alice")
	assert.ErrorIs(t, err, context.Canceled)
}
