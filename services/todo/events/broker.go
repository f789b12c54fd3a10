// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package events fans out per-user change notifications to live
// subscribers of the todo.changes feed.
package events

import (
	"net/http"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianTodo/services/todo/datatypes"
	"github.com/AleutianAI/AleutianTodo/services/todo/middleware"
	"github.com/AleutianAI/AleutianTodo/services/todo/rpc"
	"github.com/gin-gonic/gin"
)

// subscriberBuffer is how many changes a slow subscriber may lag behind
// before further changes are dropped for it.
const subscriberBuffer = 16

// Broker delivers changes to the subscribers of the user that made them.
//
// # Description
//
// Publish never blocks. A subscriber with a full buffer misses the
// change, which is harmless because every change means "refetch" and a
// pending one is already queued.
//
// # Thread Safety
//
// Safe for concurrent use.
type Broker struct {
	now func() time.Time

	mu     sync.Mutex
	subs   map[string]map[chan datatypes.Change]struct{}
	closed bool
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{
		now:  time.Now,
		subs: make(map[string]map[chan datatypes.Change]struct{}),
	}
}

// Subscribe registers a subscriber for userID. The channel is closed by
// unsubscribe or Close, whichever comes first.
func (b *Broker) Subscribe(userID string) (<-chan datatypes.Change, func()) {
	ch := make(chan datatypes.Change, subscriberBuffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	if b.subs[userID] == nil {
		b.subs[userID] = make(map[chan datatypes.Change]struct{})
	}
	b.subs[userID][ch] = struct{}{}

	var once sync.Once
	return ch, func() {
		once.Do(func() { b.remove(userID, ch) })
	}
}

func (b *Broker) remove(userID string, ch chan datatypes.Change) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.subs[userID]
	if !ok {
		return
	}
	if _, ok := set[ch]; !ok {
		return
	}
	delete(set, ch)
	close(ch)
	if len(set) == 0 {
		delete(b.subs, userID)
	}
}

// Publish sends a change for procedure to every subscriber of userID.
func (b *Broker) Publish(userID, procedure string) {
	change := datatypes.Change{Procedure: procedure, At: b.now().UTC()}

	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[userID] {
		select {
		case ch <- change:
		default:
		}
	}
}

// Subscribers returns the number of live subscribers for userID.
func (b *Broker) Subscribers(userID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[userID])
}

// Close closes every subscriber channel. Later subscriptions receive an
// already closed channel. Idempotent.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, set := range b.subs {
		for ch := range set {
			close(ch)
		}
	}
	b.subs = make(map[string]map[chan datatypes.Change]struct{})
}

// PublishOnSuccess returns middleware that publishes procedure for the
// caller once the handler has written a success result. Must run after
// AuthMiddleware.
func PublishOnSuccess(b *Broker, procedure string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.GetString(rpc.ResultCodeKey) != "" || c.Writer.Status() != http.StatusOK {
			return
		}
		if info := middleware.GetAuthInfo(c); info != nil {
			b.Publish(info.UserID, procedure)
		}
	}
}
