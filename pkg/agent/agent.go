// SPDX-FileCopyrightText: 2024 The hibiki-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package agent

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
)

// Agent serves the RestAgent below /rest and the WebSocketAgent at /events.
type Agent struct {
	listener net.Listener
	server   *http.Server

	rest *RestAgent
	ws   *WebSocketAgent
}

// Router creates the routes of both agents for a Controller.
func Router(ctrl Controller) (*mux.Router, *RestAgent, *WebSocketAgent) {
	r := mux.NewRouter()

	rest := NewRestAgent(r.PathPrefix("/rest").Subrouter(), ctrl)
	ws := NewWebSocketAgent(ctrl)
	r.Handle("/events", ws)

	return r, rest, ws
}

// Start an Agent listening on a TCP address, e.g., "localhost:8080".
func Start(listen string, ctrl Controller) (*Agent, error) {
	l, err := net.Listen("tcp", listen)
	if err != nil {
		return nil, err
	}

	r, rest, ws := Router(ctrl)
	a := &Agent{
		listener: l,
		server: &http.Server{
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
		},
		rest: rest,
		ws:   ws,
	}

	go func() {
		if err := a.server.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).WithField("listen", listen).Warn("Agent's HTTP server errored")
		}
	}()

	log.WithField("listen", a.Addr()).Info("Started agent")
	return a, nil
}

// Addr the Agent listens on.
func (a *Agent) Addr() string {
	return a.listener.Addr().String()
}

// Close the HTTP server and all WebSocket clients.
func (a *Agent) Close() error {
	a.ws.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return a.server.Shutdown(ctx)
}
