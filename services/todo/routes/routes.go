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
	"github.com/AleutianAI/AleutianTodo/pkg/extensions"
	"github.com/AleutianAI/AleutianTodo/services/todo/datatypes"
	"github.com/AleutianAI/AleutianTodo/services/todo/events"
	"github.com/AleutianAI/AleutianTodo/services/todo/handlers"
	"github.com/AleutianAI/AleutianTodo/services/todo/middleware"
	"github.com/AleutianAI/AleutianTodo/services/todo/observability"
	"github.com/AleutianAI/AleutianTodo/services/todo/storage"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Deps are the collaborators the routes are wired to.
//
// Limiter, Metrics and Broker are optional. Without a Broker there is
// no todo.changes feed. Gatherer defaults to prometheus.DefaultGatherer.
type Deps struct {
	Store    storage.Store
	Options  extensions.ServiceOptions
	Limiter  *middleware.UserRateLimiter
	Metrics  *observability.ProcedureMetrics
	Broker   *events.Broker
	Gatherer prometheus.Gatherer
}

func SetupRoutes(router *gin.Engine, deps Deps) {
	opts := deps.Options.WithDefaults()
	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	router.GET("/health", handlers.HealthCheck(deps.Store))
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	// Procedures: /v1/rpc/<procedure>
	v1 := router.Group("/v1/rpc")
	v1.Use(middleware.AuthMiddleware(opts.AuthProvider))
	if deps.Limiter != nil {
		v1.Use(middleware.RateLimitMiddleware(deps.Limiter))
	}
	{
		v1.GET("/"+datatypes.ProcedureAll,
			deps.chain(datatypes.ProcedureAll, false, handlers.All(deps.Store))...)
		v1.POST("/"+datatypes.ProcedureCreate,
			deps.chain(datatypes.ProcedureCreate, true, handlers.Create(deps.Store, opts.AuditLogger))...)
		v1.POST("/"+datatypes.ProcedureToggle,
			deps.chain(datatypes.ProcedureToggle, true, handlers.Toggle(deps.Store, opts.AuditLogger))...)
		v1.POST("/"+datatypes.ProcedureDelete,
			deps.chain(datatypes.ProcedureDelete, true, handlers.Delete(deps.Store, opts.AuditLogger))...)

		if deps.Broker != nil {
			v1.GET("/"+datatypes.ProcedureChanges, handlers.Changes(deps.Broker))
		}
	}
}

// chain prepends metrics and, for mutations, change publishing to h.
func (d Deps) chain(procedure string, mutates bool, h gin.HandlerFunc) []gin.HandlerFunc {
	chain := make([]gin.HandlerFunc, 0, 3)
	if d.Metrics != nil {
		chain = append(chain, d.Metrics.Instrument(procedure))
	}
	if mutates && d.Broker != nil {
		chain = append(chain, events.PublishOnSuccess(d.Broker, procedure))
	}
	return append(chain, h)
}
