// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the todo service
// and its optimistic client.
//
// # Description
//
// Server side:
//   - Procedure call counters (by procedure and result code)
//   - Procedure latency histograms
//
// Client side:
//   - Optimistic updates applied and rolled back (by mutation)
//   - Cache refetches (by outcome)
//
// Metrics are exposed on /metrics by the server. Pass a dedicated
// prometheus.Registry in tests to avoid duplicate registration panics.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"strconv"
	"time"

	"github.com/AleutianAI/AleutianTodo/services/todo/rpc"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace for all metrics
const metricsNamespace = "todo"

// =============================================================================
// Server Metrics
// =============================================================================

// ProcedureMetrics holds server-side metrics for todo.* procedures.
type ProcedureMetrics struct {
	// CallsTotal counts procedure calls.
	// Labels: procedure (todo.all, ...), code (OK, BAD_REQUEST, ...)
	CallsTotal *prometheus.CounterVec

	// DurationSeconds measures procedure latency.
	// Labels: procedure
	DurationSeconds *prometheus.HistogramVec
}

// NewProcedureMetrics creates and registers procedure metrics on reg.
//
// # Inputs
//
//   - reg: Registry to register on. nil means prometheus.DefaultRegisterer.
//
// # Limitations
//
//   - Panics if called twice with the same registry (duplicate registration).
func NewProcedureMetrics(reg prometheus.Registerer) *ProcedureMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &ProcedureMetrics{
		CallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "procedure",
				Name:      "calls_total",
				Help:      "Total procedure calls by procedure and result code",
			},
			[]string{"procedure", "code"},
		),
		DurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: "procedure",
				Name:      "duration_seconds",
				Help:      "Procedure latency in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"procedure"},
		),
	}
}

// Instrument returns middleware that records a call and its latency.
// The code label comes from rpc.ResultCodeKey when an rpc error was
// written, otherwise "OK" or the raw HTTP status.
func (m *ProcedureMetrics) Instrument(procedure string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		code := "OK"
		if v := c.GetString(rpc.ResultCodeKey); v != "" {
			code = v
		} else if c.Writer.Status() >= 400 {
			code = "HTTP_" + strconv.Itoa(c.Writer.Status())
		}
		m.CallsTotal.WithLabelValues(procedure, code).Inc()
		m.DurationSeconds.WithLabelValues(procedure).Observe(time.Since(start).Seconds())
	}
}

// =============================================================================
// Client Metrics
// =============================================================================

// CacheMetrics holds metrics for the optimistic client cache.
type CacheMetrics struct {
	// OptimisticTotal counts optimistic updates applied.
	// Labels: mutation (create, toggle, delete)
	OptimisticTotal *prometheus.CounterVec

	// RollbacksTotal counts snapshots restored after a failed mutation.
	// Labels: mutation
	RollbacksTotal *prometheus.CounterVec

	// RefetchesTotal counts cache refetches.
	// Labels: outcome (success, error, cancelled)
	RefetchesTotal *prometheus.CounterVec
}

// NewCacheMetrics creates and registers client cache metrics on reg.
func NewCacheMetrics(reg prometheus.Registerer) *CacheMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &CacheMetrics{
		OptimisticTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "cache",
				Name:      "optimistic_updates_total",
				Help:      "Optimistic cache updates applied by mutation",
			},
			[]string{"mutation"},
		),
		RollbacksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "cache",
				Name:      "rollbacks_total",
				Help:      "Cache snapshots restored after a failed mutation",
			},
			[]string{"mutation"},
		),
		RefetchesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "cache",
				Name:      "refetches_total",
				Help:      "Cache refetches by outcome",
			},
			[]string{"outcome"},
		),
	}
}

// RecordOptimistic records an optimistic update. Nil-safe.
func (m *CacheMetrics) RecordOptimistic(mutation string) {
	if m == nil {
		return
	}
	m.OptimisticTotal.WithLabelValues(mutation).Inc()
}

// RecordRollback records a rollback. Nil-safe.
func (m *CacheMetrics) RecordRollback(mutation string) {
	if m == nil {
		return
	}
	m.RollbacksTotal.WithLabelValues(mutation).Inc()
}

// RecordRefetch records a refetch outcome. Nil-safe.
func (m *CacheMetrics) RecordRefetch(outcome string) {
	if m == nil {
		return
	}
	m.RefetchesTotal.WithLabelValues(outcome).Inc()
}
