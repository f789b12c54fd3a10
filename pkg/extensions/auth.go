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
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnauthorized is returned when a token does not identify a known user.
//
// Providers may wrap it with additional context; callers should test with
// errors.Is rather than equality.
var ErrUnauthorized = errors.New("unauthorized")

// AuthInfo holds the identity of an authenticated user.
//
// Every to-do item is owned by exactly one UserID, so this is the value
// that scopes all storage reads and writes.
type AuthInfo struct {
	// UserID is the unique identifier for the authenticated user.
	// This is the only required field and must never be empty.
	UserID string

	// Name is a display name. May be empty.
	Name string
}

// AuthProvider validates bearer tokens.
//
// Session management (sign in, refresh, revoke) lives outside this service.
// An AuthProvider only answers the question "who does this token belong to".
type AuthProvider interface {
	// Validate checks if the token is valid and returns the user's identity.
	//
	// Returns ErrUnauthorized (or a wrapped form) when the token is invalid.
	// Any other error is treated as a provider failure.
	Validate(ctx context.Context, token string) (*AuthInfo, error)
}

// NopAuthProvider authenticates every request as "local-user".
//
// Used for single-user local runs where no identity provider is configured.
type NopAuthProvider struct{}

// Validate always succeeds.
func (p *NopAuthProvider) Validate(_ context.Context, _ string) (*AuthInfo, error) {
	return &AuthInfo{UserID: "local-user"}, nil
}

// StaticTokenProvider maps pre-shared tokens to user IDs.
//
// # Description
//
// Intended for small deployments where tokens are issued out of band and
// listed in the config file. Lookups compare every candidate in constant
// time so response latency does not leak which prefix matched.
//
// # Thread Safety
//
// Safe for concurrent use. Replace swaps the token set atomically with
// respect to Validate.
type StaticTokenProvider struct {
	mu     sync.RWMutex
	tokens []tokenEntry
}

type tokenEntry struct {
	token  []byte
	userID string
}

// NewStaticTokenProvider builds a provider from a token → user ID map.
//
// Empty tokens or empty user IDs are rejected, since either would turn
// into an identity that any caller could assume.
func NewStaticTokenProvider(tokens map[string]string) (*StaticTokenProvider, error) {
	if len(tokens) == 0 {
		return nil, errors.New("static token provider requires at least one token")
	}
	entries, err := parseTokens(tokens)
	if err != nil {
		return nil, err
	}
	return &StaticTokenProvider{tokens: entries}, nil
}

// Replace swaps in a new token set, for config reloads. An empty set
// revokes every token. On error the current set stays in effect.
func (p *StaticTokenProvider) Replace(tokens map[string]string) error {
	entries, err := parseTokens(tokens)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.tokens = entries
	p.mu.Unlock()
	return nil
}

// Len returns the number of configured tokens.
func (p *StaticTokenProvider) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.tokens)
}

func parseTokens(tokens map[string]string) ([]tokenEntry, error) {
	keys := make([]string, 0, len(tokens))
	for k := range tokens {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	entries := make([]tokenEntry, 0, len(tokens))
	for _, tok := range keys {
		user := tokens[tok]
		if tok == "" {
			return nil, errors.New("static token provider: empty token")
		}
		if user == "" {
			return nil, fmt.Errorf("static token provider: token %d has no user", len(entries))
		}
		entries = append(entries, tokenEntry{token: []byte(tok), userID: user})
	}
	return entries, nil
}

// Validate resolves the token to its configured user.
func (p *StaticTokenProvider) Validate(_ context.Context, token string) (*AuthInfo, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: missing bearer token", ErrUnauthorized)
	}
	candidate := []byte(token)

	p.mu.RLock()
	defer p.mu.RUnlock()
	var userID string
	for _, e := range p.tokens {
		if subtle.ConstantTimeCompare(e.token, candidate) == 1 {
			userID = e.userID
		}
	}
	if userID == "" {
		return nil, ErrUnauthorized
	}
	return &AuthInfo{UserID: userID}, nil
}

var (
	_ AuthProvider = (*NopAuthProvider)(nil)
	_ AuthProvider = (*StaticTokenProvider)(nil)
)
