// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package rpc writes procedure results and errors in the RPC-over-HTTP
// envelope shared by handlers and middleware.
//
//	success: 200 {"result": {"data": <output>}}
//	failure: 4xx/5xx {"error": {"code": "...", "message": "...", "httpStatus": n}}
package rpc

import (
	"errors"
	"net/http"

	"github.com/AleutianAI/AleutianTodo/services/todo/datatypes"
	"github.com/AleutianAI/AleutianTodo/services/todo/storage"
	"github.com/gin-gonic/gin"
)

// ResultCodeKey is the gin context key holding the code of the error
// envelope written for the request, if any.
const ResultCodeKey = "todo_result_code"

// Error is a procedure failure with a code and HTTP status.
type Error struct {
	Code    string
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Code + ": " + e.Message + ": " + e.Err.Error()
	}
	return e.Code + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// BadRequest reports invalid input. The message is shown to the user.
func BadRequest(msg string) *Error {
	return &Error{Code: datatypes.CodeBadRequest, Status: http.StatusBadRequest, Message: msg}
}

// Unauthorized reports a missing or invalid token.
func Unauthorized(msg string) *Error {
	return &Error{Code: datatypes.CodeUnauthorized, Status: http.StatusUnauthorized, Message: msg}
}

// TooManyRequests reports a rate limit rejection.
func TooManyRequests() *Error {
	return &Error{Code: datatypes.CodeTooManyRequests, Status: http.StatusTooManyRequests, Message: "rate limit exceeded"}
}

// FromError maps an arbitrary error to an *Error.
//
//   - *Error passes through.
//   - storage.ErrNotFound becomes NOT_FOUND.
//   - Anything else becomes INTERNAL_SERVER_ERROR with a generic message;
//     the cause is kept in Err for logging but never sent to the client.
func FromError(err error) *Error {
	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	if errors.Is(err, storage.ErrNotFound) {
		return &Error{Code: datatypes.CodeNotFound, Status: http.StatusNotFound, Message: "todo not found", Err: err}
	}
	return &Error{Code: datatypes.CodeInternal, Status: http.StatusInternalServerError, Message: "internal server error", Err: err}
}

// WriteResult writes a 200 success envelope.
func WriteResult[T any](c *gin.Context, data T) {
	var res datatypes.RPCResult[T]
	res.Result.Data = data
	c.JSON(http.StatusOK, res)
}

// AbortWithError writes the error envelope and stops the handler chain.
func AbortWithError(c *gin.Context, err error) {
	e := FromError(err)
	c.Set(ResultCodeKey, e.Code)
	c.AbortWithStatusJSON(e.Status, datatypes.RPCErrorBody{
		Error: datatypes.RPCError{Code: e.Code, Message: e.Message, HTTPStatus: e.Status},
	})
}
