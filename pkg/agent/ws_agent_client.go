// SPDX-FileCopyrightText: 2024 The hibiki-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package agent

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/hibiki-im/hibiki-go/pkg/event"
)

const writeTimeout = 10 * time.Second

type webAgentClient struct {
	sync.Mutex

	conn        *websocket.Conn
	events      <-chan event.Event
	unsubscribe func()

	stopSyn      chan struct{}
	shutdownOnce sync.Once
}

func newWebAgentClient(conn *websocket.Conn, events <-chan event.Event, unsubscribe func()) *webAgentClient {
	return &webAgentClient{
		conn:        conn,
		events:      events,
		unsubscribe: unsubscribe,
		stopSyn:     make(chan struct{}),
	}
}

func (client *webAgentClient) log() *log.Entry {
	return log.WithField("web agent client", client.conn.RemoteAddr().String())
}

// start blocks until the client disconnected.
func (client *webAgentClient) start() {
	go client.handleEvents()
	client.handleConn()
}

func (client *webAgentClient) shutdown() {
	client.shutdownOnce.Do(func() {
		client.log().Debug("Reached shutdown")

		close(client.stopSyn)
		client.unsubscribe()

		client.Lock()
		_ = client.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		client.Unlock()
		_ = client.conn.Close()
	})
}

func (client *webAgentClient) handleEvents() {
	defer client.shutdown()

	for {
		select {
		case <-client.stopSyn:
			return

		case e, ok := <-client.events:
			if !ok {
				client.log().Debug("Event bus was closed")
				return
			}

			if err := client.writeMessage(NewEventMessage(e)); err != nil {
				client.log().WithError(err).Warn("Sending event errored")
				return
			}
		}
	}
}

// handleConn reads until the connection is closed. Clients are not expected to send anything.
func (client *webAgentClient) handleConn() {
	defer client.shutdown()

	for {
		messageType, _, err := client.conn.NextReader()
		if err != nil {
			var netErr *net.OpError
			if errors.As(err, &netErr) || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				client.log().WithError(err).Debug("Reader errored due to closed connection")
			} else {
				client.log().WithError(err).Warn("Opening next WebSocket reader errored")
			}
			return
		}

		client.log().WithField("message type", messageType).Debug("Ignoring incoming WebSocket message")
	}
}

func (client *webAgentClient) writeMessage(msg EventMessage) error {
	client.Lock()
	defer client.Unlock()

	if err := client.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return client.conn.WriteJSON(msg)
}
