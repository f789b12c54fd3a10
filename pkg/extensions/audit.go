// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package extensions

import (
	"context"
	"log/slog"
	"time"
)

// AuditEvent records a mutation performed on behalf of a user.
//
// Event types used by the to-do service:
//   - "todo.create"
//   - "todo.toggle"
//   - "todo.delete"
//
// Example:
//
//	event := AuditEvent{
//	    EventType:  "todo.toggle",
//	    Timestamp:  time.Now().UTC(),
//	    UserID:     authInfo.UserID,
//	    ResourceID: todoID,
//	    Outcome:    "success",
//	}
type AuditEvent struct {
	// EventType is "<procedure>" for to-do mutations.
	EventType string

	// Timestamp is when the event occurred (UTC).
	// If zero, implementations set it to time.Now().UTC().
	Timestamp time.Time

	// UserID identifies who performed the action.
	UserID string

	// ResourceID is the affected todo id, if known.
	ResourceID string

	// Outcome is "success" or "failure".
	Outcome string

	// Metadata holds additional attributes (e.g. "done": true).
	Metadata map[string]any
}

// AuditLogger receives audit events.
//
// Log must not block the request path for long; implementations that ship
// events elsewhere should buffer.
type AuditLogger interface {
	Log(ctx context.Context, event AuditEvent) error
	Flush(ctx context.Context) error
}

// NopAuditLogger discards all events.
type NopAuditLogger struct{}

func (l *NopAuditLogger) Log(_ context.Context, _ AuditEvent) error { return nil }
func (l *NopAuditLogger) Flush(_ context.Context) error            { return nil }

// SlogAuditLogger writes audit events as structured log records.
type SlogAuditLogger struct {
	Logger *slog.Logger
}

// NewSlogAuditLogger returns an audit logger backed by logger, or by
// slog.Default() when logger is nil.
func NewSlogAuditLogger(logger *slog.Logger) *SlogAuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogAuditLogger{Logger: logger}
}

// Log emits one "audit" record at Info level.
func (l *SlogAuditLogger) Log(ctx context.Context, event AuditEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	attrs := []any{
		"event_type", event.EventType,
		"timestamp", event.Timestamp,
		"user_id", event.UserID,
		"resource_id", event.ResourceID,
		"outcome", event.Outcome,
	}
	for k, v := range event.Metadata {
		attrs = append(attrs, k, v)
	}
	l.Logger.InfoContext(ctx, "audit", attrs...)
	return nil
}

// Flush is a no-op; slog handlers write synchronously.
func (l *SlogAuditLogger) Flush(_ context.Context) error { return nil }

var (
	_ AuditLogger = (*NopAuditLogger)(nil)
	_ AuditLogger = (*SlogAuditLogger)(nil)
)
