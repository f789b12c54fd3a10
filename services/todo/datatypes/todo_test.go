// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// ValidateText Tests
// =============================================================================

func TestValidateText(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		wantErr string
	}{
		{"single character", "a", ""},
		{"typical", "buy milk", ""},
		{"exactly fifty", strings.Repeat("x", 50), ""},
		{"fifty multibyte runes", strings.Repeat("é", 50), ""},
		{"empty", "", MsgDescribeTodo},
		{"fifty one", strings.Repeat("x", 51), "String must contain at most 50 character(s)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateText(tt.text)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.wantErr, err.Error())
		})
	}
}

func TestValidateID(t *testing.T) {
	assert.NoError(t, ValidateID("abc"))
	assert.EqualError(t, ValidateID(""), "id is required")
	// Ids are opaque; unlike todo text there is no length bound.
	assert.NoError(t, ValidateID(strings.Repeat("x", MaxTodoTextLength+1)))
}

func TestToggleInput_Validate(t *testing.T) {
	t.Run("complete input is valid", func(t *testing.T) {
		assert.NoError(t, NewToggleInput("t1", false).Validate())
	})

	t.Run("missing id", func(t *testing.T) {
		assert.EqualError(t, NewToggleInput("", true).Validate(), "id is required")
	})

	t.Run("missing done", func(t *testing.T) {
		var in ToggleInput
		require.NoError(t, json.Unmarshal([]byte(`{"id":"t1"}`), &in))
		assert.EqualError(t, in.Validate(), "done is required")
	})
}

// =============================================================================
// Wire Shape Tests
// =============================================================================

func TestRecord_HidesOwner(t *testing.T) {
	rec := Record{Todo: Todo{ID: "t1", Text: "walk dog"}, UserID: "alice"}

	data, err := json.Marshal(rec)
	require.NoError(t, err)

	assert.JSONEq(t, `{"id":"t1","text":"walk dog","done":false}`, string(data))
}

func TestRPCResult_Shape(t *testing.T) {
	var res RPCResult[[]Todo]
	res.Result.Data = []Todo{{ID: "t1", Text: "a", Done: true}}

	data, err := json.Marshal(res)
	require.NoError(t, err)

	assert.JSONEq(t, `{"result":{"data":[{"id":"t1","text":"a","done":true}]}}`, string(data))
}
