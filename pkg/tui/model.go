// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tui is the interactive to-do list.
//
// # Description
//
// The list is rendered from the client cache, so optimistic changes show
// up as soon as a key is pressed and rollbacks are visible when the server
// rejects them. Mutations run as tea.Cmds off the event loop; cache
// changes and toasts come back in as messages through a Notifier.
//
// # Keys
//
//	n       new todo (enter submits, esc cancels)
//	space   toggle done
//	d       delete
//	r       refresh
//	↑/k ↓/j move
//	q       quit
//
// # Thread Safety
//
// The Model is single-threaded within the bubbletea event loop. Notifier
// is safe for concurrent use.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianTodo/pkg/client"
	"github.com/AleutianAI/AleutianTodo/services/todo/datatypes"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// =============================================================================
// Messages
// =============================================================================

// cacheMsg carries a new cache snapshot.
type cacheMsg struct {
	snap client.Snapshot
}

// toastMsg carries a notification.
type toastMsg struct {
	text  string
	isErr bool
}

// mutationDoneMsg reports a finished mutation or refresh.
type mutationDoneMsg struct {
	op  string
	err error
}

// =============================================================================
// Notifier
// =============================================================================

// Notifier implements client.Notifier by feeding toasts into the event
// loop. Cache snapshots flow through the same channel.
type Notifier struct {
	events chan tea.Msg
}

// NewNotifier creates a notifier with a buffered event channel.
func NewNotifier() *Notifier {
	return &Notifier{events: make(chan tea.Msg, 64)}
}

func (n *Notifier) Success(msg string) { n.send(toastMsg{text: msg}) }
func (n *Notifier) Error(msg string)   { n.send(toastMsg{text: msg, isErr: true}) }

// send drops the event if the loop is not keeping up. The next cache
// snapshot supersedes any dropped one.
func (n *Notifier) send(msg tea.Msg) {
	select {
	case n.events <- msg:
	default:
	}
}

func (n *Notifier) listen() tea.Cmd {
	return func() tea.Msg {
		return <-n.events
	}
}

var _ client.Notifier = (*Notifier)(nil)

// =============================================================================
// Model
// =============================================================================

// Model is the bubbletea model for the to-do list.
type Model struct {
	cache    *client.Cache
	todos    *client.Todos
	notifier *Notifier
	timeout  time.Duration

	items   []datatypes.Todo
	loaded  bool
	cursor  int
	editing bool
	input   textinput.Model

	toast    string
	toastErr bool
	quitting bool
}

// New creates the model. notifier must be the one passed to
// client.NewTodos so toasts reach the screen.
func New(cache *client.Cache, todos *client.Todos, notifier *Notifier) Model {
	ti := textinput.New()
	ti.Placeholder = "What needs doing?"
	ti.CharLimit = datatypes.MaxTodoTextLength
	ti.Width = datatypes.MaxTodoTextLength + 2
	ti.Prompt = "> "

	m := Model{
		cache:    cache,
		todos:    todos,
		notifier: notifier,
		timeout:  10 * time.Second,
		input:    ti,
	}
	cache.Subscribe(func(s client.Snapshot) {
		notifier.send(cacheMsg{snap: s})
	})
	if data, ok := cache.GetData(); ok {
		m.items, m.loaded = data, true
	}
	return m
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.notifier.listen(), m.refresh())
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case cacheMsg:
		m.items, m.loaded = msg.snap.Todos, msg.snap.OK
		m.clampCursor()
		return m, m.notifier.listen()

	case toastMsg:
		m.toast, m.toastErr = msg.text, msg.isErr
		return m, m.notifier.listen()

	case mutationDoneMsg:
		if msg.err != nil && msg.op == "refresh" {
			m.toast, m.toastErr = "Could not load todos: "+msg.err.Error(), true
		}
		// A rejected create puts the submitted text back in the draft.
		if msg.err != nil && msg.op == "create" {
			m.startEditing(m.todos.Draft().Get())
			return m, textinput.Blink
		}
		return m, nil

	case tea.KeyMsg:
		if m.editing {
			return m.updateEditing(msg)
		}
		return m.updateList(msg)
	}
	return m, nil
}

func (m Model) updateList(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		return m, tea.Quit

	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}

	case "down", "j":
		if m.cursor < len(m.items)-1 {
			m.cursor++
		}

	case "n":
		m.startEditing(m.todos.Draft().Get())
		return m, textinput.Blink

	case " ", "space":
		if todo, ok := m.current(); ok {
			return m, m.run("toggle", func(ctx context.Context) error {
				_, err := m.todos.Toggle(ctx, todo.ID, !todo.Done)
				return err
			})
		}

	case "d":
		if todo, ok := m.current(); ok {
			return m, m.run("delete", func(ctx context.Context) error {
				_, err := m.todos.Delete(ctx, todo.ID)
				return err
			})
		}

	case "r":
		return m, m.refresh()
	}
	return m, nil
}

func (m Model) updateEditing(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEnter:
		text := m.input.Value()
		m.todos.Draft().Set(text)
		m.stopEditing()
		return m, m.run("create", func(ctx context.Context) error {
			_, err := m.todos.Create(ctx, text)
			return err
		})

	case tea.KeyEsc:
		m.todos.Draft().Set(m.input.Value())
		m.stopEditing()
		return m, nil

	case tea.KeyCtrlC:
		m.quitting = true
		return m, tea.Quit
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) startEditing(text string) {
	m.editing = true
	m.input.SetValue(text)
	m.input.CursorEnd()
	m.input.Focus()
}

func (m *Model) stopEditing() {
	m.editing = false
	m.input.Blur()
	m.input.Reset()
}

func (m Model) current() (datatypes.Todo, bool) {
	if m.cursor < 0 || m.cursor >= len(m.items) {
		return datatypes.Todo{}, false
	}
	todo := m.items[m.cursor]
	// The placeholder has no server id yet.
	if todo.ID == datatypes.OptimisticTodoID {
		return datatypes.Todo{}, false
	}
	return todo, true
}

func (m *Model) clampCursor() {
	if m.cursor >= len(m.items) {
		m.cursor = len(m.items) - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
}

func (m Model) run(op string, fn func(ctx context.Context) error) tea.Cmd {
	timeout := m.timeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return mutationDoneMsg{op: op, err: fn(ctx)}
	}
}

func (m Model) refresh() tea.Cmd {
	return m.run("refresh", m.cache.Invalidate)
}

// =============================================================================
// View
// =============================================================================

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39"))

	cursorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("212"))

	doneStyle = lipgloss.NewStyle().
			Strikethrough(true).
			Foreground(lipgloss.Color("241"))

	pendingStyle = lipgloss.NewStyle().
			Italic(true).
			Foreground(lipgloss.Color("241"))

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))
)

// View implements tea.Model.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("Todos"))
	b.WriteString("\n\n")

	switch {
	case !m.loaded:
		b.WriteString(helpStyle.Render("Loading..."))
		b.WriteString("\n")
	case len(m.items) == 0:
		b.WriteString(helpStyle.Render("Nothing to do. Press n to add a todo."))
		b.WriteString("\n")
	default:
		for i, todo := range m.items {
			b.WriteString(m.renderItem(i, todo))
			b.WriteString("\n")
		}
	}

	if m.editing {
		b.WriteString("\n")
		b.WriteString(m.input.View())
		b.WriteString("\n")
	}

	if m.toast != "" {
		b.WriteString("\n")
		if m.toastErr {
			b.WriteString(errorStyle.Render(m.toast))
		} else {
			b.WriteString(successStyle.Render(m.toast))
		}
		b.WriteString("\n")
	}

	b.WriteString("\n")
	if m.editing {
		b.WriteString(helpStyle.Render("enter add • esc cancel"))
	} else {
		b.WriteString(helpStyle.Render("n new • space toggle • d delete • r refresh • q quit"))
	}
	b.WriteString("\n")
	return b.String()
}

func (m Model) renderItem(i int, todo datatypes.Todo) string {
	cursor := "  "
	if i == m.cursor && !m.editing {
		cursor = cursorStyle.Render("> ")
	}
	check := "[ ]"
	text := todo.Text
	if todo.Done {
		check = "[x]"
		text = doneStyle.Render(text)
	}
	if todo.ID == datatypes.OptimisticTodoID {
		text = pendingStyle.Render(todo.Text + " (saving)")
	}
	return fmt.Sprintf("%s%s %s", cursor, check, text)
}
