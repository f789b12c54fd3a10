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
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/AleutianAI/AleutianTodo/services/todo/datatypes"
	"github.com/AleutianAI/AleutianTodo/services/todo/observability"
)

// Toast messages.
const (
	MsgCreateError   = "Oops! there was an error creating your new todo 😰"
	MsgUpdateError   = "Oops! there was an error updating your todo 😰"
	MsgDeleteError   = "Oops! there was an error deleting the todo 😰"
	MsgTodoCompleted = "Todo completed!! 🎉"
)

// Mutation names used as metric labels.
const (
	mutationCreate = "create"
	mutationToggle = "toggle"
	mutationDelete = "delete"
)

// =============================================================================
// Notifier
// =============================================================================

// Notifier shows transient success and error messages to the user.
type Notifier interface {
	Success(msg string)
	Error(msg string)
}

// NopNotifier discards all messages.
type NopNotifier struct{}

func (NopNotifier) Success(string) {}
func (NopNotifier) Error(string)   {}

// =============================================================================
// Draft
// =============================================================================

// Draft is the text the user is typing for a new todo. Create clears it
// optimistically and puts the text back if the server rejects it.
type Draft struct {
	mu   sync.Mutex
	text string
}

func (d *Draft) Get() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.text
}

func (d *Draft) Set(text string) {
	d.mu.Lock()
	d.text = text
	d.mu.Unlock()
}

// =============================================================================
// Mutation Lifecycle
// =============================================================================

// Mutation is one server call wrapped in optimistic lifecycle hooks.
//
// # Description
//
// Execute runs:
//
//	OnMutate(in) ─► MutationFn(ctx, in) ─┬─► OnSuccess(out, in)
//	                                     └─► OnError(err, in, snap)
//	                                     then OnSettled(ctx), always
//
// OnMutate returns the rollback context (usually a cache Snapshot) that
// OnError receives. All hooks except MutationFn are optional.
type Mutation[In, Out, Snap any] struct {
	MutationFn func(ctx context.Context, in In) (Out, error)
	OnMutate   func(in In) Snap
	OnSuccess  func(out Out, in In)
	OnError    func(err error, in In, snap Snap)
	OnSettled  func(ctx context.Context)
}

// Execute runs the mutation and returns the server's output or error.
func (m Mutation[In, Out, Snap]) Execute(ctx context.Context, in In) (Out, error) {
	var snap Snap
	if m.OnMutate != nil {
		snap = m.OnMutate(in)
	}
	if m.OnSettled != nil {
		defer m.OnSettled(ctx)
	}

	out, err := m.MutationFn(ctx, in)
	if err != nil {
		if m.OnError != nil {
			m.OnError(err, in, snap)
		}
		return out, err
	}
	if m.OnSuccess != nil {
		m.OnSuccess(out, in)
	}
	return out, nil
}

// =============================================================================
// Todo Mutations
// =============================================================================

// Todos runs the todo mutations against api, keeping cache optimistic.
//
// # Thread Safety
//
// Safe for concurrent use. Concurrent mutations each snapshot and roll
// back independently; the refetch on settle reconciles the final state.
type Todos struct {
	api      API
	cache    *Cache
	notifier Notifier
	draft    *Draft
	metrics  *observability.CacheMetrics

	// inFlight counts mutations between OnMutate and OnSettled.
	inFlight atomic.Int32
	// remoteDirty is set when a remote change arrived while inFlight > 0.
	remoteDirty atomic.Bool
}

// TodosOption configures Todos.
type TodosOption func(*Todos)

// WithDraft connects a draft input that Create clears and restores.
func WithDraft(d *Draft) TodosOption {
	return func(t *Todos) { t.draft = d }
}

// WithMutationMetrics records optimistic updates and rollbacks on m.
func WithMutationMetrics(m *observability.CacheMetrics) TodosOption {
	return func(t *Todos) { t.metrics = m }
}

// NewTodos wires mutations to api and cache. A nil notifier discards
// messages.
func NewTodos(api API, cache *Cache, notifier Notifier, opts ...TodosOption) *Todos {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	t := &Todos{
		api:      api,
		cache:    cache,
		notifier: notifier,
		draft:    &Draft{},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Draft returns the draft input Create works with.
func (t *Todos) Draft() *Draft {
	return t.draft
}

// Create adds a todo.
//
// # Description
//
// Invalid text is reported through the notifier with the validation
// message and no request is made. Otherwise the todo is appended to the
// cache with the placeholder id and the draft is cleared. On failure the
// draft gets the submitted text back and the cache is rolled back.
// Either way the list is refetched.
func (t *Todos) Create(ctx context.Context, text string) (datatypes.Todo, error) {
	if err := datatypes.ValidateText(text); err != nil {
		t.notifier.Error(err.Error())
		return datatypes.Todo{}, err
	}
	defer t.track(ctx)()

	m := Mutation[string, datatypes.Todo, Snapshot]{
		MutationFn: t.api.Create,
		OnMutate: func(text string) Snapshot {
			t.cache.Cancel()
			snap := t.cache.Snapshot()
			optimistic := datatypes.Todo{ID: datatypes.OptimisticTodoID, Text: text, Done: false}
			t.cache.SetData(func(prev []datatypes.Todo, ok bool) ([]datatypes.Todo, bool) {
				if !ok {
					return []datatypes.Todo{optimistic}, true
				}
				return append(prev, optimistic), true
			})
			t.draft.Set("")
			t.metrics.RecordOptimistic(mutationCreate)
			return snap
		},
		OnError: func(err error, text string, snap Snapshot) {
			slog.Warn("create todo failed", "error", err)
			t.notifier.Error(MsgCreateError)
			t.draft.Set(text)
			t.rollback(mutationCreate, snap)
		},
		OnSettled: t.invalidate,
	}
	return m.Execute(ctx, text)
}

// Toggle sets a todo's done flag. Completing a todo shows a success toast.
func (t *Todos) Toggle(ctx context.Context, id string, done bool) (datatypes.Todo, error) {
	defer t.track(ctx)()
	m := Mutation[datatypes.ToggleInput, datatypes.Todo, Snapshot]{
		MutationFn: t.api.Toggle,
		OnMutate: func(in datatypes.ToggleInput) Snapshot {
			t.cache.Cancel()
			snap := t.cache.Snapshot()
			t.cache.SetData(func(prev []datatypes.Todo, ok bool) ([]datatypes.Todo, bool) {
				if !ok {
					return prev, ok
				}
				for i := range prev {
					if prev[i].ID == in.ID {
						prev[i].Done = *in.Done
					}
				}
				return prev, true
			})
			t.metrics.RecordOptimistic(mutationToggle)
			return snap
		},
		OnSuccess: func(_ datatypes.Todo, in datatypes.ToggleInput) {
			if *in.Done {
				t.notifier.Success(MsgTodoCompleted)
			}
		},
		OnError: func(err error, in datatypes.ToggleInput, snap Snapshot) {
			slog.Warn("toggle todo failed", "todo_id", in.ID, "error", err)
			t.notifier.Error(MsgUpdateError)
			t.rollback(mutationToggle, snap)
		},
		OnSettled: t.invalidate,
	}
	return m.Execute(ctx, datatypes.NewToggleInput(id, done))
}

// Delete removes a todo.
func (t *Todos) Delete(ctx context.Context, id string) (datatypes.Todo, error) {
	defer t.track(ctx)()
	m := Mutation[string, datatypes.Todo, Snapshot]{
		MutationFn: t.api.Delete,
		OnMutate: func(id string) Snapshot {
			t.cache.Cancel()
			snap := t.cache.Snapshot()
			t.cache.SetData(func(prev []datatypes.Todo, ok bool) ([]datatypes.Todo, bool) {
				if !ok {
					return prev, ok
				}
				kept := prev[:0]
				for _, todo := range prev {
					if todo.ID != id {
						kept = append(kept, todo)
					}
				}
				return kept, true
			})
			t.metrics.RecordOptimistic(mutationDelete)
			return snap
		},
		OnError: func(err error, id string, snap Snapshot) {
			slog.Warn("delete todo failed", "todo_id", id, "error", err)
			t.notifier.Error(MsgDeleteError)
			t.rollback(mutationDelete, snap)
		},
		OnSettled: t.invalidate,
	}
	return m.Execute(ctx, id)
}

// Pending returns the number of mutations still waiting for the server.
func (t *Todos) Pending() int {
	return int(t.inFlight.Load())
}

// RemoteChanged refetches after a change made in another session.
//
// While a local mutation is in flight the refetch is deferred, since it
// could land before the mutation and wipe the optimistic update. The
// deferred refetch runs once the last pending mutation has settled, even
// if that mutation's own settle refetch read the server too early.
func (t *Todos) RemoteChanged(ctx context.Context, change datatypes.Change) {
	if t.Pending() > 0 {
		t.remoteDirty.Store(true)
		slog.Debug("remote change deferred to pending mutation", "procedure", change.Procedure)
		// The last mutation may have settled between the check and the Store.
		if t.Pending() > 0 || !t.remoteDirty.Swap(false) {
			return
		}
	}
	t.invalidate(ctx)
}

// track counts a mutation as pending until the returned func runs. The
// last mutation to finish runs any refetch RemoteChanged deferred.
func (t *Todos) track(ctx context.Context) func() {
	t.inFlight.Add(1)
	return func() {
		if t.inFlight.Add(-1) == 0 && t.remoteDirty.Swap(false) {
			t.invalidate(ctx)
		}
	}
}

func (t *Todos) rollback(mutation string, snap Snapshot) {
	t.cache.Restore(snap)
	t.metrics.RecordRollback(mutation)
}

func (t *Todos) invalidate(ctx context.Context) {
	if err := t.cache.Invalidate(ctx); err != nil {
		slog.Warn("refetch after mutation failed", "error", err)
	}
}
