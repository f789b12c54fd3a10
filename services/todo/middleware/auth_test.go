// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianTodo/pkg/extensions"
	"github.com/AleutianAI/AleutianTodo/services/todo/datatypes"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Setup
// =============================================================================

func init() {
	gin.SetMode(gin.TestMode)
}

// mockAuthProvider is a configurable mock for testing.
type mockAuthProvider struct {
	authInfo  *extensions.AuthInfo
	err       error
	lastToken string
}

func (m *mockAuthProvider) Validate(_ context.Context, token string) (*extensions.AuthInfo, error) {
	m.lastToken = token
	if m.err != nil {
		return nil, m.err
	}
	return m.authInfo, nil
}

func newProtectedRouter(provider extensions.AuthProvider, extra ...gin.HandlerFunc) *gin.Engine {
	router := gin.New()
	chain := append([]gin.HandlerFunc{AuthMiddleware(provider)}, extra...)
	chain = append(chain, func(c *gin.Context) {
		info := GetAuthInfo(c)
		c.JSON(http.StatusOK, gin.H{"user_id": info.UserID})
	})
	router.GET("/protected", chain...)
	return router
}

func decodeRPCError(t *testing.T, w *httptest.ResponseRecorder) datatypes.RPCError {
	t.Helper()
	var body datatypes.RPCErrorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Error
}

// =============================================================================
// bearerToken Tests
// =============================================================================

func TestBearerToken(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"valid", "Bearer abc123", "abc123"},
		{"lowercase scheme", "bearer abc123", "abc123"},
		{"extra whitespace", "Bearer   abc123  ", "abc123"},
		{"missing", "", ""},
		{"no scheme", "abc123", ""},
		{"basic auth", "Basic abc123", ""},
		{"only bearer", "Bearer", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}

			assert.Equal(t, tt.want, bearerToken(req))
		})
	}
}

// =============================================================================
// AuthMiddleware Tests
// =============================================================================

func TestAuthMiddleware_ValidToken(t *testing.T) {
	provider := &mockAuthProvider{authInfo: &extensions.AuthInfo{UserID: "alice"}}
	router := newProtectedRouter(provider)

	req := httptest.NewRequest("GET", "/protected", nil)
	req.Header.Set("Authorization", "Bearer tok")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"user_id":"alice"`)
	assert.Equal(t, "tok", provider.lastToken)
}

func TestAuthMiddleware_Unauthorized(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"unauthorized", extensions.ErrUnauthorized},
		{"wrapped unauthorized", errors.Join(errors.New("expired"), extensions.ErrUnauthorized)},
		{"provider failure", errors.New("identity provider down")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newProtectedRouter(&mockAuthProvider{err: tt.err})

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest("GET", "/protected", nil))

			assert.Equal(t, http.StatusUnauthorized, w.Code)
			rpcErr := decodeRPCError(t, w)
			assert.Equal(t, datatypes.CodeUnauthorized, rpcErr.Code)
			assert.Equal(t, http.StatusUnauthorized, rpcErr.HTTPStatus)
		})
	}
}

func TestAuthMiddleware_EmptyUserRejected(t *testing.T) {
	router := newProtectedRouter(&mockAuthProvider{authInfo: &extensions.AuthInfo{}})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/protected", nil))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthMiddleware_StaticTokenProvider(t *testing.T) {
	provider, err := extensions.NewStaticTokenProvider(map[string]string{"secret": "bob"})
	require.NoError(t, err)
	router := newProtectedRouter(provider)

	req := httptest.NewRequest("GET", "/protected", nil)
	req.Header.Set("Authorization", "Bearer secret")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/protected", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestGetAuthInfo_Missing(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	assert.Nil(t, GetAuthInfo(c))

	c.Set(callerKey, "not auth info")
	assert.Nil(t, GetAuthInfo(c))
}

// =============================================================================
// RateLimitMiddleware Tests
// =============================================================================

func TestRateLimitMiddleware_PerUser(t *testing.T) {
	limiter := NewUserRateLimiter(0.0001, 2)
	provider := &mockAuthProvider{authInfo: &extensions.AuthInfo{UserID: "alice"}}
	router := newProtectedRouter(provider, RateLimitMiddleware(limiter))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("GET", "/protected", nil))
		codes = append(codes, w.Code)
	}

	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	// A different user has an independent bucket.
	provider.authInfo = &extensions.AuthInfo{UserID: "bob"}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/protected", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestUserRateLimiter_SweepsIdleBuckets(t *testing.T) {
	limiter := NewUserRateLimiter(10, 1)
	clock := time.Unix(1700000000, 0)
	limiter.now = func() time.Time { return clock }

	limiter.Allow("alice")
	limiter.Allow("bob")
	assert.Equal(t, 2, limiter.size())

	clock = clock.Add(11 * time.Minute)
	limiter.Allow("carol")

	assert.Equal(t, 1, limiter.size())
}
