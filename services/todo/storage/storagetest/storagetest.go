// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package storagetest holds the behavior suite every storage.Store
// backend must pass.
package storagetest

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/AleutianAI/AleutianTodo/services/todo/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns a fresh, empty store. The suite closes it.
type Factory func(t *testing.T) storage.Store

// Run executes the suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("empty list is not nil", func(t *testing.T) {
		s := open(t, newStore)

		todos, err := s.List(context.Background(), "alice")

		require.NoError(t, err)
		assert.NotNil(t, todos)
		assert.Empty(t, todos)
	})

	t.Run("create assigns id and starts undone", func(t *testing.T) {
		s := open(t, newStore)

		rec, err := s.Create(context.Background(), "alice", "buy milk")

		require.NoError(t, err)
		assert.NotEmpty(t, rec.ID)
		assert.Equal(t, "buy milk", rec.Text)
		assert.False(t, rec.Done)
		assert.Equal(t, "alice", rec.UserID)
		assert.False(t, rec.CreatedAt.IsZero())
	})

	t.Run("list keeps creation order", func(t *testing.T) {
		s := open(t, newStore)
		ctx := context.Background()
		texts := []string{"first", "second", "third", "fourth"}
		for _, text := range texts {
			_, err := s.Create(ctx, "alice", text)
			require.NoError(t, err)
		}

		todos, err := s.List(ctx, "alice")

		require.NoError(t, err)
		require.Len(t, todos, len(texts))
		for i, text := range texts {
			assert.Equal(t, text, todos[i].Text)
		}
	})

	t.Run("list is scoped to user", func(t *testing.T) {
		s := open(t, newStore)
		ctx := context.Background()
		_, err := s.Create(ctx, "alice", "alice item")
		require.NoError(t, err)
		_, err = s.Create(ctx, "bob", "bob item")
		require.NoError(t, err)

		todos, err := s.List(ctx, "bob")

		require.NoError(t, err)
		require.Len(t, todos, 1)
		assert.Equal(t, "bob item", todos[0].Text)
	})

	t.Run("set done round trips", func(t *testing.T) {
		s := open(t, newStore)
		ctx := context.Background()
		rec, err := s.Create(ctx, "alice", "walk dog")
		require.NoError(t, err)

		updated, err := s.SetDone(ctx, "alice", rec.ID, true)
		require.NoError(t, err)
		assert.True(t, updated.Done)
		assert.Equal(t, rec.Text, updated.Text)

		todos, err := s.List(ctx, "alice")
		require.NoError(t, err)
		require.Len(t, todos, 1)
		assert.True(t, todos[0].Done)

		updated, err = s.SetDone(ctx, "alice", rec.ID, false)
		require.NoError(t, err)
		assert.False(t, updated.Done)
	})

	t.Run("set done on another user's todo is not found", func(t *testing.T) {
		s := open(t, newStore)
		ctx := context.Background()
		rec, err := s.Create(ctx, "alice", "private")
		require.NoError(t, err)

		_, err = s.SetDone(ctx, "bob", rec.ID, true)
		assert.True(t, errors.Is(err, storage.ErrNotFound), "got %v", err)

		todos, err := s.List(ctx, "alice")
		require.NoError(t, err)
		assert.False(t, todos[0].Done)
	})

	t.Run("delete returns removed row", func(t *testing.T) {
		s := open(t, newStore)
		ctx := context.Background()
		keep, err := s.Create(ctx, "alice", "keep")
		require.NoError(t, err)
		drop, err := s.Create(ctx, "alice", "drop")
		require.NoError(t, err)

		deleted, err := s.Delete(ctx, "alice", drop.ID)
		require.NoError(t, err)
		assert.Equal(t, drop.ID, deleted.ID)
		assert.Equal(t, "drop", deleted.Text)

		todos, err := s.List(ctx, "alice")
		require.NoError(t, err)
		require.Len(t, todos, 1)
		assert.Equal(t, keep.ID, todos[0].ID)
	})

	t.Run("delete missing or foreign is not found", func(t *testing.T) {
		s := open(t, newStore)
		ctx := context.Background()
		rec, err := s.Create(ctx, "alice", "mine")
		require.NoError(t, err)

		_, err = s.Delete(ctx, "alice", "does-not-exist")
		assert.True(t, errors.Is(err, storage.ErrNotFound), "got %v", err)

		_, err = s.Delete(ctx, "bob", rec.ID)
		assert.True(t, errors.Is(err, storage.ErrNotFound), "got %v", err)

		_, err = s.Delete(ctx, "alice", rec.ID)
		require.NoError(t, err)
		_, err = s.Delete(ctx, "alice", rec.ID)
		assert.True(t, errors.Is(err, storage.ErrNotFound), "got %v", err)
	})

	t.Run("concurrent creates", func(t *testing.T) {
		s := open(t, newStore)
		ctx := context.Background()
		const n = 20

		var wg sync.WaitGroup
		errs := make(chan error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := s.Create(ctx, "alice", "parallel"); err != nil {
					errs <- err
				}
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			t.Errorf("create failed: %v", err)
		}

		todos, err := s.List(ctx, "alice")
		require.NoError(t, err)
		assert.Len(t, todos, n)
	})

	t.Run("ping", func(t *testing.T) {
		s := open(t, newStore)
		assert.NoError(t, s.Ping(context.Background()))
	})
}

func open(t *testing.T, newStore Factory) storage.Store {
	t.Helper()
	s := newStore(t)
	t.Cleanup(func() {
		_ = s.Close()
	})
	return s
}
