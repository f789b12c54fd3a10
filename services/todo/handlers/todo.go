// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the todo.* procedures as Gin handlers.
//
// Every handler runs behind middleware.AuthMiddleware and reads the caller
// from the Gin context. Store calls are always scoped by that user ID.
package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/AleutianAI/AleutianTodo/pkg/extensions"
	"github.com/AleutianAI/AleutianTodo/services/todo/datatypes"
	"github.com/AleutianAI/AleutianTodo/services/todo/middleware"
	"github.com/AleutianAI/AleutianTodo/services/todo/rpc"
	"github.com/AleutianAI/AleutianTodo/services/todo/storage"
	"github.com/gin-gonic/gin"
)

const healthTimeout = 2 * time.Second

// HealthCheck reports whether the store is reachable.
func HealthCheck(store storage.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
		defer cancel()

		if err := store.Ping(ctx); err != nil {
			slog.Error("health check failed", "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	}
}

// All handles todo.all: every todo owned by the caller, oldest first.
func All(store storage.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := callerID(c)

		todos, err := store.List(c.Request.Context(), user)
		if err != nil {
			slog.Error("failed to list todos", "procedure", datatypes.ProcedureAll, "user_id", user, "error", err)
			rpc.AbortWithError(c, err)
			return
		}
		rpc.WriteResult(c, todos)
	}
}

// Create handles todo.create. Input is the todo text.
//
// # Outputs
//
//   - 200 with the created todo (done=false, fresh id).
//   - 400 with the validation message when the text is empty or too long.
func Create(store storage.Store, audit extensions.AuditLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := callerID(c)

		var req datatypes.RPCRequest[string]
		if err := bindInput(c, &req); err != nil {
			rpc.AbortWithError(c, rpc.BadRequest("input must be a string"))
			return
		}
		if err := datatypes.ValidateText(req.Input); err != nil {
			rpc.AbortWithError(c, rpc.BadRequest(err.Error()))
			return
		}

		rec, err := store.Create(c.Request.Context(), user, req.Input)
		if err != nil {
			slog.Error("failed to create todo", "procedure", datatypes.ProcedureCreate, "user_id", user, "error", err)
			logAudit(c, audit, datatypes.ProcedureCreate, user, "", err, nil)
			rpc.AbortWithError(c, err)
			return
		}

		slog.Info("todo created", "procedure", datatypes.ProcedureCreate, "user_id", user, "todo_id", rec.ID)
		logAudit(c, audit, datatypes.ProcedureCreate, user, rec.ID, nil, nil)
		rpc.WriteResult(c, rec.Todo)
	}
}

// Toggle handles todo.toggle. Input is {"id": ..., "done": ...}.
func Toggle(store storage.Store, audit extensions.AuditLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := callerID(c)

		var req datatypes.RPCRequest[datatypes.ToggleInput]
		if err := bindInput(c, &req); err != nil {
			rpc.AbortWithError(c, rpc.BadRequest("input must be an object with id and done"))
			return
		}
		if err := req.Input.Validate(); err != nil {
			rpc.AbortWithError(c, rpc.BadRequest(err.Error()))
			return
		}

		id, done := req.Input.ID, *req.Input.Done
		meta := map[string]any{"done": done}

		rec, err := store.SetDone(c.Request.Context(), user, id, done)
		if err != nil {
			slog.Warn("failed to toggle todo", "procedure", datatypes.ProcedureToggle, "user_id", user, "todo_id", id, "error", err)
			logAudit(c, audit, datatypes.ProcedureToggle, user, id, err, meta)
			rpc.AbortWithError(c, err)
			return
		}

		slog.Info("todo toggled", "procedure", datatypes.ProcedureToggle, "user_id", user, "todo_id", id, "done", done)
		logAudit(c, audit, datatypes.ProcedureToggle, user, id, nil, meta)
		rpc.WriteResult(c, rec.Todo)
	}
}

// Delete handles todo.delete. Input is the todo id; output is the removed todo.
func Delete(store storage.Store, audit extensions.AuditLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := callerID(c)

		var req datatypes.RPCRequest[string]
		if err := bindInput(c, &req); err != nil {
			rpc.AbortWithError(c, rpc.BadRequest("input must be a string"))
			return
		}
		if err := datatypes.ValidateID(req.Input); err != nil {
			rpc.AbortWithError(c, rpc.BadRequest(err.Error()))
			return
		}

		rec, err := store.Delete(c.Request.Context(), user, req.Input)
		if err != nil {
			slog.Warn("failed to delete todo", "procedure", datatypes.ProcedureDelete, "user_id", user, "todo_id", req.Input, "error", err)
			logAudit(c, audit, datatypes.ProcedureDelete, user, req.Input, err, nil)
			rpc.AbortWithError(c, err)
			return
		}

		slog.Info("todo deleted", "procedure", datatypes.ProcedureDelete, "user_id", user, "todo_id", rec.ID)
		logAudit(c, audit, datatypes.ProcedureDelete, user, rec.ID, nil, nil)
		rpc.WriteResult(c, rec.Todo)
	}
}

// bindInput decodes the request envelope. A missing body leaves the input
// at its zero value so validation reports it like an empty input.
func bindInput[T any](c *gin.Context, req *datatypes.RPCRequest[T]) error {
	err := c.ShouldBindJSON(req)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// callerID returns the authenticated user. Routes without AuthMiddleware
// are a wiring bug, so a missing caller panics and gin.Recovery turns it
// into a 500.
func callerID(c *gin.Context) string {
	info := middleware.GetAuthInfo(c)
	if info == nil {
		panic("handlers: todo procedure mounted without AuthMiddleware")
	}
	return info.UserID
}

func logAudit(c *gin.Context, audit extensions.AuditLogger, procedure, user, id string, err error, meta map[string]any) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	event := extensions.AuditEvent{
		EventType:  procedure,
		UserID:     user,
		ResourceID: id,
		Outcome:    outcome,
		Metadata:   meta,
	}
	if auditErr := audit.Log(c.Request.Context(), event); auditErr != nil {
		slog.Warn("failed to write audit event", "procedure", procedure, "error", auditErr)
	}
}
