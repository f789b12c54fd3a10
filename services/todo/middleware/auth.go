// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware holds the gin middleware in front of every todo.*
// procedure: bearer authentication and the per-user rate limit.
//
// The chain for /v1/rpc is
//
//	AuthMiddleware -> RateLimitMiddleware -> metrics -> handler
//
// Nothing after AuthMiddleware runs for an anonymous request, so handlers
// can assume GetAuthInfo is non-nil.
package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/AleutianAI/AleutianTodo/pkg/extensions"
	"github.com/AleutianAI/AleutianTodo/services/todo/rpc"
	"github.com/gin-gonic/gin"
)

const callerKey = "todo_caller"

// SetAuthInfo records the caller for the rest of the chain.
func SetAuthInfo(c *gin.Context, info *extensions.AuthInfo) {
	c.Set(callerKey, info)
}

// GetAuthInfo returns the caller recorded by AuthMiddleware, or nil.
func GetAuthInfo(c *gin.Context) *extensions.AuthInfo {
	v, _ := c.Get(callerKey)
	info, _ := v.(*extensions.AuthInfo)
	return info
}

// AuthMiddleware resolves the request's bearer token to a user through
// provider and aborts with UNAUTHORIZED when it cannot.
//
// Whether a missing token is acceptable is the provider's call:
// NopAuthProvider maps it to the local user, StaticTokenProvider rejects
// it. Provider errors other than ErrUnauthorized are logged since they
// point at a broken provider rather than a bad client.
func AuthMiddleware(provider extensions.AuthProvider) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c.Request)

		info, err := provider.Validate(c.Request.Context(), token)
		switch {
		case err != nil && !errors.Is(err, extensions.ErrUnauthorized):
			slog.Error("auth provider failure", "error", err, "token_present", token != "")
			fallthrough
		case err != nil, info == nil, info.UserID == "":
			rpc.AbortWithError(c, rpc.Unauthorized("unauthorized"))
			return
		}

		SetAuthInfo(c, info)
		c.Next()
	}
}

// bearerToken returns the credentials of an "Authorization: Bearer"
// header, matching the scheme case-insensitively. Anything else yields "".
func bearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
