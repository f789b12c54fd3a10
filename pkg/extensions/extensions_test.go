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
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// ServiceOptions Tests
// =============================================================================

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()

	assert.IsType(t, &NopAuthProvider{}, opts.AuthProvider)
	assert.IsType(t, &NopAuditLogger{}, opts.AuditLogger)
}

func TestServiceOptions_WithDefaults(t *testing.T) {
	opts := ServiceOptions{}.WithDefaults()

	require.NotNil(t, opts.AuthProvider)
	require.NotNil(t, opts.AuditLogger)
}

func TestServiceOptions_WithAuthDoesNotMutateOriginal(t *testing.T) {
	base := DefaultOptions()
	provider, err := NewStaticTokenProvider(map[string]string{"tok": "alice"})
	require.NoError(t, err)

	derived := base.WithAuth(provider)

	assert.IsType(t, &NopAuthProvider{}, base.AuthProvider)
	assert.Same(t, provider, derived.AuthProvider)
}

// =============================================================================
// Auth Provider Tests
// =============================================================================

func TestNopAuthProvider_AlwaysLocalUser(t *testing.T) {
	info, err := (&NopAuthProvider{}).Validate(context.Background(), "")

	require.NoError(t, err)
	assert.Equal(t, "local-user", info.UserID)
}

func TestStaticTokenProvider_Validate(t *testing.T) {
	provider, err := NewStaticTokenProvider(map[string]string{
		"alice-token": "alice",
		"bob-token":   "bob",
	})
	require.NoError(t, err)

	tests := []struct {
		name    string
		token   string
		want    string
		wantErr bool
	}{
		{"alice", "alice-token", "alice", false},
		{"bob", "bob-token", "bob", false},
		{"unknown", "mallory", "", true},
		{"prefix only", "alice", "", true},
		{"empty", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, err := provider.Validate(context.Background(), tt.token)
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrUnauthorized))
				assert.Nil(t, info)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, info.UserID)
		})
	}
}

func TestNewStaticTokenProvider_Rejects(t *testing.T) {
	_, err := NewStaticTokenProvider(nil)
	assert.Error(t, err)

	_, err = NewStaticTokenProvider(map[string]string{"": "alice"})
	assert.Error(t, err)

	_, err = NewStaticTokenProvider(map[string]string{"tok": ""})
	assert.Error(t, err)
}

func TestStaticTokenProvider_Replace(t *testing.T) {
	provider, err := NewStaticTokenProvider(map[string]string{"old": "alice"})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, provider.Replace(map[string]string{"new": "alice", "b": "bob"}))
	assert.Equal(t, 2, provider.Len())

	_, err = provider.Validate(ctx, "old")
	assert.ErrorIs(t, err, ErrUnauthorized)
	info, err := provider.Validate(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, "bob", info.UserID)

	// A bad set is refused and the current one kept.
	assert.Error(t, provider.Replace(map[string]string{"x": ""}))
	assert.Error(t, provider.Replace(map[string]string{"": "alice"}))
	_, err = provider.Validate(ctx, "new")
	assert.NoError(t, err)

	// An empty set revokes everything.
	require.NoError(t, provider.Replace(map[string]string{}))
	assert.Equal(t, 0, provider.Len())
	_, err = provider.Validate(ctx, "new")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

// =============================================================================
// Audit Logger Tests
// =============================================================================

func TestSlogAuditLogger_WritesEvent(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	audit := NewSlogAuditLogger(logger)

	err := audit.Log(context.Background(), AuditEvent{
		EventType:  "todo.toggle",
		UserID:     "alice",
		ResourceID: "t1",
		Outcome:    "success",
		Metadata:   map[string]any{"done": true},
	})

	require.NoError(t, err)
	out := buf.String()
	assert.Contains(t, out, `"event_type":"todo.toggle"`)
	assert.Contains(t, out, `"user_id":"alice"`)
	assert.Contains(t, out, `"done":true`)
	assert.NoError(t, audit.Flush(context.Background()))
}
