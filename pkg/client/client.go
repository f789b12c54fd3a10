// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

/*
Package client is the optimistic client for the todo service.

# Layers

	┌──────────────────────────────────────────────────────────────┐
	│  CLI / TUI                                                   │
	├──────────────────────────────────────────────────────────────┤
	│  Todos (mutations.go)                                        │
	│    Create / Toggle / Delete                                  │
	│    cancel ─► snapshot ─► optimistic apply ─► request         │
	│          └─ rollback + toast on error, refetch on settle     │
	├──────────────────────────────────────────────────────────────┤
	│  Cache (cache.go)        last known todo.all result          │
	├──────────────────────────────────────────────────────────────┤
	│  Client (client.go)      RPC over HTTP                       │
	└──────────────────────────────────────────────────────────────┘

# Usage

	c := client.New("http://localhost:12310", client.WithToken(tok))
	cache := client.NewCache(c.All)
	todos := client.NewTodos(c, cache, notifier)

	_ = cache.Invalidate(ctx)          // initial load
	_, _ = todos.Create(ctx, "buy milk") // shows up in cache immediately
*/
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianTodo/services/todo/datatypes"
)

// -----------------------------------------------------------------------------
// Error Types
// -----------------------------------------------------------------------------

// RPCError is a failure reported by the server in the error envelope.
type RPCError struct {
	Code       string
	Message    string
	HTTPStatus int
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Code, e.HTTPStatus, e.Message)
}

// IsCode reports whether err is an RPCError with the given code.
func IsCode(err error, code string) bool {
	var rpcErr *RPCError
	return errors.As(err, &rpcErr) && rpcErr.Code == code
}

// -----------------------------------------------------------------------------
// API
// -----------------------------------------------------------------------------

// API is the set of todo procedures. Client implements it; tests swap in
// fakes.
type API interface {
	All(ctx context.Context) ([]datatypes.Todo, error)
	Create(ctx context.Context, text string) (datatypes.Todo, error)
	Toggle(ctx context.Context, input datatypes.ToggleInput) (datatypes.Todo, error)
	Delete(ctx context.Context, id string) (datatypes.Todo, error)
}

// Client calls the todo procedures over HTTP.
//
// # Thread Safety
//
// Safe for concurrent use.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithToken sets the bearer token sent with every call.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the per-call timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient = &http.Client{Timeout: d} }
}

// New creates a client for the server at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// All calls todo.all.
func (c *Client) All(ctx context.Context) ([]datatypes.Todo, error) {
	var out []datatypes.Todo
	if err := c.call(ctx, http.MethodGet, datatypes.ProcedureAll, nil, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []datatypes.Todo{}
	}
	return out, nil
}

// Create calls todo.create.
func (c *Client) Create(ctx context.Context, text string) (datatypes.Todo, error) {
	var out datatypes.Todo
	err := c.call(ctx, http.MethodPost, datatypes.ProcedureCreate, datatypes.RPCRequest[string]{Input: text}, &out)
	return out, err
}

// Toggle calls todo.toggle.
func (c *Client) Toggle(ctx context.Context, input datatypes.ToggleInput) (datatypes.Todo, error) {
	var out datatypes.Todo
	err := c.call(ctx, http.MethodPost, datatypes.ProcedureToggle, datatypes.RPCRequest[datatypes.ToggleInput]{Input: input}, &out)
	return out, err
}

// Delete calls todo.delete.
func (c *Client) Delete(ctx context.Context, id string) (datatypes.Todo, error) {
	var out datatypes.Todo
	err := c.call(ctx, http.MethodPost, datatypes.ProcedureDelete, datatypes.RPCRequest[string]{Input: id}, &out)
	return out, err
}

// Health calls /health and returns nil when the server reports healthy.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("build health request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check: server returned %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) call(ctx context.Context, method, procedure string, in any, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s input: %w", procedure, err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/v1/rpc/"+procedure, body)
	if err != nil {
		return fmt.Errorf("build %s request: %w", procedure, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", procedure, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s response: %w", procedure, err)
	}

	if resp.StatusCode != http.StatusOK {
		return decodeError(resp.StatusCode, raw)
	}

	var result datatypes.RPCResult[json.RawMessage]
	if err := json.Unmarshal(raw, &result); err != nil {
		return fmt.Errorf("decode %s response: %w", procedure, err)
	}
	if err := json.Unmarshal(result.Result.Data, out); err != nil {
		return fmt.Errorf("decode %s data: %w", procedure, err)
	}
	return nil
}

// decodeError turns a non-200 response into an *RPCError. Bodies that are
// not an error envelope (proxies, panics) keep their text as the message.
func decodeError(status int, raw []byte) *RPCError {
	var envelope datatypes.RPCErrorBody
	if err := json.Unmarshal(raw, &envelope); err != nil || envelope.Error.Code == "" {
		return &RPCError{
			Code:       datatypes.CodeInternal,
			Message:    strings.TrimSpace(string(raw)),
			HTTPStatus: status,
		}
	}
	return &RPCError{
		Code:       envelope.Error.Code,
		Message:    envelope.Error.Message,
		HTTPStatus: envelope.Error.HTTPStatus,
	}
}

var _ API = (*Client)(nil)
