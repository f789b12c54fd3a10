// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package client

import (
	"context"
	"slices"
	"sync"

	"github.com/AleutianAI/AleutianTodo/services/todo/datatypes"
	"github.com/AleutianAI/AleutianTodo/services/todo/observability"
)

// Fetcher loads the authoritative todo list, usually Client.All.
type Fetcher func(ctx context.Context) ([]datatypes.Todo, error)

// Snapshot is a copy of the cache contents. OK is false when the cache
// has never been filled.
type Snapshot struct {
	Todos []datatypes.Todo
	OK    bool
}

// Cache holds the last known result of todo.all.
//
// # Description
//
// Every fetch carries a generation number. Invalidate and Cancel both
// advance the generation, so only the newest fetch may write and a
// cancelled fetch never does. A refetch started before an optimistic
// update cannot overwrite it.
//
// # Thread Safety
//
// Safe for concurrent use. Subscribers are called outside the lock and
// may read from the cache.
type Cache struct {
	fetch   Fetcher
	metrics *observability.CacheMetrics

	mu     sync.Mutex
	data   []datatypes.Todo
	ok     bool
	stale  bool
	gen    uint64
	cancel context.CancelFunc

	subs    map[uint64]func(Snapshot)
	nextSub uint64
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithCacheMetrics records refetch outcomes on m.
func WithCacheMetrics(m *observability.CacheMetrics) CacheOption {
	return func(c *Cache) { c.metrics = m }
}

// NewCache creates an empty cache backed by fetch.
func NewCache(fetch Fetcher, opts ...CacheOption) *Cache {
	c := &Cache{
		fetch: fetch,
		stale: true,
		subs:  make(map[uint64]func(Snapshot)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetData returns a copy of the cached todos and whether any data exists.
func (c *Cache) GetData() ([]datatypes.Todo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.data), c.ok
}

// Snapshot returns the current contents for a later Restore.
func (c *Cache) Snapshot() Snapshot {
	todos, ok := c.GetData()
	return Snapshot{Todos: todos, OK: ok}
}

// Restore puts a snapshot back, including the "no data" state.
func (c *Cache) Restore(s Snapshot) {
	c.SetData(func([]datatypes.Todo, bool) ([]datatypes.Todo, bool) {
		return s.Todos, s.OK
	})
}

// SetData replaces the cached data with the updater's result.
//
// updater receives a copy of the current data and whether it exists, and
// returns the new data and whether it exists. Returning (prev, ok)
// unchanged is a valid no-op, though subscribers are still notified.
func (c *Cache) SetData(updater func(prev []datatypes.Todo, ok bool) ([]datatypes.Todo, bool)) {
	c.mu.Lock()
	next, ok := updater(slices.Clone(c.data), c.ok)
	c.data = slices.Clone(next)
	c.ok = ok
	if ok && c.data == nil {
		c.data = []datatypes.Todo{}
	}
	c.mu.Unlock()

	c.notify()
}

// IsStale reports whether the data is older than the last invalidation.
func (c *Cache) IsStale() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stale
}

// Cancel aborts any in-flight fetch. Its result, if it still arrives, is
// discarded.
func (c *Cache) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

// Invalidate marks the data stale and refetches it.
//
// # Description
//
// Blocks until the fetch finishes. Any older in-flight fetch is
// cancelled first. If this fetch is itself superseded by a later
// Invalidate or Cancel, its result is dropped and nil is returned.
//
// # Outputs
//
//   - error: The fetch error when this is still the newest fetch.
//     The previous data is kept on error.
func (c *Cache) Invalidate(ctx context.Context) error {
	c.mu.Lock()
	c.stale = true
	if c.cancel != nil {
		c.cancel()
	}
	c.gen++
	gen := c.gen
	fctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()
	defer cancel()

	todos, err := c.fetch(fctx)

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		c.metrics.RecordRefetch("cancelled")
		return nil
	}
	c.cancel = nil
	if err != nil {
		c.mu.Unlock()
		c.metrics.RecordRefetch("error")
		return err
	}
	c.data = slices.Clone(todos)
	if c.data == nil {
		c.data = []datatypes.Todo{}
	}
	c.ok = true
	c.stale = false
	c.mu.Unlock()

	c.metrics.RecordRefetch("success")
	c.notify()
	return nil
}

// Subscribe registers fn to be called after every change. The returned
// function removes the subscription.
func (c *Cache) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

func (c *Cache) notify() {
	c.mu.Lock()
	snap := Snapshot{Todos: slices.Clone(c.data), OK: c.ok}
	subs := make([]func(Snapshot), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	c.mu.Unlock()

	for _, fn := range subs {
		fn(Snapshot{Todos: slices.Clone(snap.Todos), OK: snap.OK})
	}
}
