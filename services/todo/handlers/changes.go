// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/AleutianAI/AleutianTodo/services/todo/events"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	wsWriteWait    = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

// Non-browser clients only; the bearer token is the access check.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Changes handles the todo.changes websocket feed.
//
// # Description
//
// After the upgrade the server writes one datatypes.Change JSON message
// per successful mutation by the caller, from any session. Client
// messages are read and discarded; a read error ends the feed. The
// connection is pinged every 30s so dead peers are noticed.
func Changes(broker *events.Broker) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := callerID(c)

		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Warn("failed to upgrade the websocket", "user_id", user, "error", err)
			return
		}
		defer ws.Close()

		changes, unsubscribe := broker.Subscribe(user)
		defer unsubscribe()
		slog.Info("change feed connected", "user_id", user)

		gone := make(chan struct{})
		go func() {
			defer close(gone)
			for {
				if _, _, err := ws.ReadMessage(); err != nil {
					return
				}
			}
		}()

		ping := time.NewTicker(wsPingInterval)
		defer ping.Stop()

		for {
			select {
			case <-gone:
				slog.Info("change feed disconnected", "user_id", user)
				return
			case change, ok := <-changes:
				if !ok {
					_ = ws.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
						time.Now().Add(wsWriteWait))
					return
				}
				_ = ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if err := ws.WriteJSON(change); err != nil {
					slog.Warn("failed to write change", "user_id", user, "error", err)
					return
				}
			case <-ping.C:
				if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
					return
				}
			}
		}
	}
}
