// SPDX-FileCopyrightText: 2024 The hibiki-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package agent

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

// eventBuffer of each client's subscription.
const eventBuffer = 64

// WebSocketAgent streams a Controller's events to WebSocket clients.
type WebSocketAgent struct {
	ctrl     Controller
	upgrader websocket.Upgrader

	mutex   sync.Mutex
	clients map[*webAgentClient]struct{}
	closed  bool
}

// NewWebSocketAgent for a Controller. The ServeHTTP function must be bound to the HTTP server.
func NewWebSocketAgent(ctrl Controller) *WebSocketAgent {
	return &WebSocketAgent{
		ctrl:     ctrl,
		upgrader: websocket.Upgrader{},
		clients:  make(map[*webAgentClient]struct{}),
	}
}

// ServeHTTP must be bound to a HTTP endpoint, e.g., to /events by a mux.Router.
func (w *WebSocketAgent) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	conn, err := w.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		log.WithError(err).Warn("Upgrading HTTP request to WebSocket errored")
		return
	}

	events, unsubscribe := w.ctrl.Events().Subscribe(eventBuffer)
	client := newWebAgentClient(conn, events, unsubscribe)

	w.mutex.Lock()
	if w.closed {
		w.mutex.Unlock()
		client.shutdown()
		return
	}
	w.clients[client] = struct{}{}
	w.mutex.Unlock()

	client.start()

	w.mutex.Lock()
	delete(w.clients, client)
	w.mutex.Unlock()
}

// Clients is the number of connected clients.
func (w *WebSocketAgent) Clients() int {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	return len(w.clients)
}

// Close all client connections.
func (w *WebSocketAgent) Close() {
	w.mutex.Lock()
	w.closed = true
	clients := make([]*webAgentClient, 0, len(w.clients))
	for client := range w.clients {
		clients = append(clients, client)
	}
	w.mutex.Unlock()

	for _, client := range clients {
		client.shutdown()
	}
}
