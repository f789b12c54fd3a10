// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes defines the to-do record and the inputs and outputs
// of the todo.* procedures.
//
// The same validation runs on both sides of the wire: the server rejects
// bad input with BAD_REQUEST, and the client refuses to issue a create
// mutation for text that would be rejected.
package datatypes

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// MaxTodoTextLength is the maximum length of a todo, in characters.
	MaxTodoTextLength = 50

	// OptimisticTodoID is the placeholder id given to a todo that has been
	// added to the client cache but not yet confirmed by the server.
	OptimisticTodoID = "optimistic-todo-id"

	// MsgDescribeTodo is reported when the todo text is missing.
	MsgDescribeTodo = "Describe your todo"
)

// Procedure names. These double as URL path segments under /v1/rpc/.
const (
	ProcedureAll    = "todo.all"
	ProcedureCreate = "todo.create"
	ProcedureToggle = "todo.toggle"
	ProcedureDelete = "todo.delete"

	// ProcedureChanges is the websocket change feed, not a call.
	ProcedureChanges = "todo.changes"
)

// =============================================================================
// Records
// =============================================================================

// Todo is the shape returned to clients. The owning user is never exposed.
type Todo struct {
	ID   string `json:"id"`
	Text string `json:"text"`
	Done bool   `json:"done"`
}

// Record is a stored todo row.
type Record struct {
	Todo
	UserID    string    `json:"-"`
	CreatedAt time.Time `json:"-"`
}

// Change is pushed on the change feed after a mutation succeeds. It
// carries no todo data: subscribers refetch todo.all.
type Change struct {
	Procedure string    `json:"procedure"`
	At        time.Time `json:"at"`
}

// =============================================================================
// Procedure Inputs
// =============================================================================

// TextInput is the input of todo.create: the todo text itself.
type TextInput struct {
	Text string `validate:"required,todotext"`
}

// IDInput is the input of todo.delete: the todo id.
type IDInput struct {
	ID string `validate:"required"`
}

// ToggleInput is the input of todo.toggle.
//
// Done is a pointer so a missing field can be told apart from false.
type ToggleInput struct {
	ID   string `json:"id" validate:"required"`
	Done *bool  `json:"done" validate:"required"`
}

// NewToggleInput is a convenience constructor for callers that always
// know the target state.
func NewToggleInput(id string, done bool) ToggleInput {
	return ToggleInput{ID: id, Done: &done}
}

// =============================================================================
// Envelopes
// =============================================================================

// RPCRequest wraps a procedure input: {"input": ...}.
type RPCRequest[T any] struct {
	Input T `json:"input"`
}

// RPCResult wraps a procedure output: {"result": {"data": ...}}.
type RPCResult[T any] struct {
	Result struct {
		Data T `json:"data"`
	} `json:"result"`
}

// RPCErrorBody is the error envelope: {"error": {...}}.
type RPCErrorBody struct {
	Error RPCError `json:"error"`
}

// RPCError describes a failed procedure call.
type RPCError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"httpStatus"`
}

// Error codes.
const (
	CodeBadRequest      = "BAD_REQUEST"
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeNotFound        = "NOT_FOUND"
	CodeTooManyRequests = "TOO_MANY_REQUESTS"
	CodeInternal        = "INTERNAL_SERVER_ERROR"
)

// =============================================================================
// Validation
// =============================================================================

var todoValidate *validator.Validate

func init() {
	todoValidate = validator.New()
	_ = todoValidate.RegisterValidation("todotext", validateTodoText)
}

// validateTodoText enforces the 1..50 character bound on runes, not bytes,
// so non-ASCII todos get the same budget as ASCII ones.
func validateTodoText(fl validator.FieldLevel) bool {
	n := utf8.RuneCountInString(fl.Field().String())
	return n >= 1 && n <= MaxTodoTextLength
}

// ValidateText checks todo text and returns a user-facing error.
//
// # Outputs
//
//   - nil when 1..50 characters.
//   - "Describe your todo" when empty.
//   - A length message otherwise.
func ValidateText(text string) error {
	err := todoValidate.Struct(TextInput{Text: text})
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 && verrs[0].Tag() == "required" {
		return errors.New(MsgDescribeTodo)
	}
	return fmt.Errorf("String must contain at most %d character(s)", MaxTodoTextLength)
}

// ValidateID checks a todo id input.
func ValidateID(id string) error {
	if err := todoValidate.Struct(IDInput{ID: id}); err != nil {
		return errors.New("id is required")
	}
	return nil
}

// Validate checks a toggle input.
func (in ToggleInput) Validate() error {
	if err := todoValidate.Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return errors.New(strings.ToLower(verrs[0].Field()) + " is required")
		}
		return err
	}
	return nil
}
