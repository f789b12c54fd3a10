// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianTodo/services/todo/datatypes"
	"github.com/gorilla/websocket"
)

// Watch connects to the todo.changes feed and calls fn for every change
// until ctx is cancelled or the connection drops.
//
// # Outputs
//
//   - nil when ctx was cancelled.
//   - *RPCError when the server refused the upgrade (bad token, rate limit).
//   - Any other error when the connection failed or was closed.
func (c *Client) Watch(ctx context.Context, fn func(datatypes.Change)) error {
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	ws, resp, err := dialer.DialContext(ctx, c.changesURL(), header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusSwitchingProtocols {
				raw, _ := io.ReadAll(resp.Body)
				return decodeError(resp.StatusCode, raw)
			}
		}
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("%s: %w", datatypes.ProcedureChanges, err)
	}
	defer ws.Close()

	stop := context.AfterFunc(ctx, func() { _ = ws.Close() })
	defer stop()

	for {
		var change datatypes.Change
		if err := ws.ReadJSON(&change); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("%s: %w", datatypes.ProcedureChanges, err)
		}
		fn(change)
	}
}

// Follow keeps todos in sync with changes made by the same user from
// other sessions, reconnecting after retry whenever the feed drops. It
// returns when ctx is cancelled or the server rejects the credentials.
func Follow(ctx context.Context, c *Client, todos *Todos, retry time.Duration) error {
	for {
		err := c.Watch(ctx, func(change datatypes.Change) {
			todos.RemoteChanged(ctx, change)
		})
		if err == nil {
			return nil
		}
		if IsCode(err, datatypes.CodeUnauthorized) {
			return err
		}
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) && rpcErr.HTTPStatus == http.StatusNotFound {
			return err
		}
		slog.Warn("change feed dropped, reconnecting", "error", err, "retry", retry)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(retry):
		}
	}
}

func (c *Client) changesURL() string {
	u := c.baseURL
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/v1/rpc/" + datatypes.ProcedureChanges
}
