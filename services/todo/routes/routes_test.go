// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/AleutianAI/AleutianTodo/pkg/extensions"
	"github.com/AleutianAI/AleutianTodo/services/todo/datatypes"
	"github.com/AleutianAI/AleutianTodo/services/todo/events"
	"github.com/AleutianAI/AleutianTodo/services/todo/middleware"
	"github.com/AleutianAI/AleutianTodo/services/todo/observability"
	"github.com/AleutianAI/AleutianTodo/services/todo/storage/badger"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Test Setup
// ============================================================================

func init() {
	gin.SetMode(gin.TestMode)
}

func newDeps(t *testing.T) (Deps, *prometheus.Registry) {
	t.Helper()
	store, err := badger.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	reg := prometheus.NewRegistry()
	return Deps{
		Store:    store,
		Options:  extensions.DefaultOptions(),
		Metrics:  observability.NewProcedureMetrics(reg),
		Gatherer: reg,
	}, reg
}

func serve(router *gin.Engine, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// ============================================================================
// SetupRoutes Tests
// ============================================================================

func TestSetupRoutes_RegistersProcedures(t *testing.T) {
	router := gin.New()
	deps, _ := newDeps(t)
	SetupRoutes(router, deps)

	registered := map[string]bool{}
	for _, r := range router.Routes() {
		registered[r.Method+" "+r.Path] = true
	}

	for _, want := range []string{
		"GET /health",
		"GET /metrics",
		"GET /v1/rpc/todo.all",
		"POST /v1/rpc/todo.create",
		"POST /v1/rpc/todo.toggle",
		"POST /v1/rpc/todo.delete",
	} {
		assert.True(t, registered[want], "route %s not registered", want)
	}
}

func TestSetupRoutes_EndToEnd(t *testing.T) {
	router := gin.New()
	deps, _ := newDeps(t)
	SetupRoutes(router, deps)

	w := serve(router, http.MethodPost, "/v1/rpc/todo.create", `{"input":"buy milk"}`, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"text":"buy milk"`)

	w = serve(router, http.MethodGet, "/v1/rpc/todo.all", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"done":false`)
}

func TestSetupRoutes_ProceduresRequireAuth(t *testing.T) {
	provider, err := extensions.NewStaticTokenProvider(map[string]string{"s3cret": "alice"})
	require.NoError(t, err)

	router := gin.New()
	deps, _ := newDeps(t)
	deps.Options = deps.Options.WithAuth(provider)
	SetupRoutes(router, deps)

	w := serve(router, http.MethodGet, "/v1/rpc/todo.all", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), `"code":"UNAUTHORIZED"`)

	w = serve(router, http.MethodGet, "/v1/rpc/todo.all", "", map[string]string{"Authorization": "Bearer s3cret"})
	assert.Equal(t, http.StatusOK, w.Code)

	// Health stays open.
	w = serve(router, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSetupRoutes_RateLimited(t *testing.T) {
	router := gin.New()
	deps, _ := newDeps(t)
	deps.Limiter = middleware.NewUserRateLimiter(0.0001, 1)
	SetupRoutes(router, deps)

	assert.Equal(t, http.StatusOK, serve(router, http.MethodGet, "/v1/rpc/todo.all", "", nil).Code)
	w := serve(router, http.MethodGet, "/v1/rpc/todo.all", "", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), `"code":"TOO_MANY_REQUESTS"`)
}

func TestSetupRoutes_MetricsRecorded(t *testing.T) {
	router := gin.New()
	deps, _ := newDeps(t)
	SetupRoutes(router, deps)

	serve(router, http.MethodPost, "/v1/rpc/todo.create", `{"input":""}`, nil)
	serve(router, http.MethodGet, "/v1/rpc/todo.all", "", nil)

	assert.Equal(t, float64(1),
		testutil.ToFloat64(deps.Metrics.CallsTotal.WithLabelValues("todo.create", "BAD_REQUEST")))
	assert.Equal(t, float64(1),
		testutil.ToFloat64(deps.Metrics.CallsTotal.WithLabelValues("todo.all", "OK")))

	w := serve(router, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "todo_procedure_calls_total")
}

func TestSetupRoutes_HealthReflectsStore(t *testing.T) {
	router := gin.New()
	deps, _ := newDeps(t)
	SetupRoutes(router, deps)
	require.NoError(t, deps.Store.Close())

	w := serve(router, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestSetupRoutes_ChangeFeedNeedsBroker(t *testing.T) {
	router := gin.New()
	deps, _ := newDeps(t)
	SetupRoutes(router, deps)
	for _, r := range router.Routes() {
		assert.NotEqual(t, "/v1/rpc/todo.changes", r.Path)
	}

	router = gin.New()
	deps.Broker = events.NewBroker()
	SetupRoutes(router, deps)
	found := false
	for _, r := range router.Routes() {
		found = found || (r.Method == http.MethodGet && r.Path == "/v1/rpc/todo.changes")
	}
	assert.True(t, found)
}

func TestSetupRoutes_PublishesSuccessfulMutations(t *testing.T) {
	router := gin.New()
	deps, _ := newDeps(t)
	deps.Broker = events.NewBroker()
	SetupRoutes(router, deps)

	changes, unsubscribe := deps.Broker.Subscribe("local-user")
	defer unsubscribe()

	// Reads and rejected input publish nothing.
	serve(router, http.MethodGet, "/v1/rpc/todo.all", "", nil)
	serve(router, http.MethodPost, "/v1/rpc/todo.create", `{"input":""}`, nil)
	serve(router, http.MethodPost, "/v1/rpc/todo.delete", `{"input":"missing"}`, nil)
	assert.Empty(t, changes)

	w := serve(router, http.MethodPost, "/v1/rpc/todo.create", `{"input":"buy milk"}`, nil)
	require.Equal(t, http.StatusOK, w.Code)

	require.Len(t, changes, 1)
	change := <-changes
	assert.Equal(t, datatypes.ProcedureCreate, change.Procedure)
	assert.False(t, change.At.IsZero())
}
