// SPDX-FileCopyrightText: 2024 The hibiki-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package agent

import (
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hibiki-im/hibiki-go/pkg/event"
	"github.com/hibiki-im/hibiki-go/pkg/message"
)

func dialEvents(t *testing.T, a *Agent) *websocket.Conn {
	t.Helper()

	u := url.URL{Scheme: "ws", Host: a.Addr(), Path: "/events"}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) EventMessage {
	t.Helper()

	if err := conn.SetReadDeadline(time.Now().Add(time.Second)); err != nil {
		t.Fatal(err)
	}

	var msg EventMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatal(err)
	}
	return msg
}

func waitForClients(t *testing.T, a *Agent, n int) {
	t.Helper()

	for i := 0; i < 100; i++ {
		if a.ws.Clients() == n {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected %d clients, got %d", n, a.ws.Clients())
}

func TestWebSocketAgentEvents(t *testing.T) {
	ctrl := newMockController()
	a := startAgent(t, ctrl)

	conn := dialEvents(t, a)
	waitForClients(t, a, 1)

	ctrl.bus.Publish(&event.StateChanged{Address: "a:1", From: "Loading", To: "OK"})
	ctrl.bus.Publish(&event.Online{Account: "10001"})

	target := message.Target{Kind: message.Group, ID: 7}
	source := message.NewSource(target, 1, 0)
	source.Resolve([]uint32{5, 6})
	ctrl.bus.Publish(&event.PostSend{
		Target:   target,
		Chain:    message.PlainText("hi"),
		Source:   source,
		Strategy: "fragmented",
		TraceID:  "trace",
		Err:      errors.New("partially failed"),
	})

	if msg := readEvent(t, conn); msg.Type != "state" || msg.Address != "a:1" || msg.From != "Loading" || msg.To != "OK" {
		t.Fatalf("unexpected %+v", msg)
	}
	if msg := readEvent(t, conn); msg.Type != "online" || msg.Account != "10001" {
		t.Fatalf("unexpected %+v", msg)
	}

	msg := readEvent(t, conn)
	if msg.Type != "post-send" || msg.Target != "group:7" || msg.Content != "hi" || msg.Strategy != "fragmented" {
		t.Fatalf("unexpected %+v", msg)
	}
	if len(msg.IDs) != 2 || msg.Error != "partially failed" || msg.TraceID != "trace" {
		t.Fatalf("unexpected %+v", msg)
	}
}

func TestWebSocketAgentDisconnect(t *testing.T) {
	ctrl := newMockController()
	a := startAgent(t, ctrl)

	conn := dialEvents(t, a)
	waitForClients(t, a, 1)

	_ = conn.Close()
	waitForClients(t, a, 0)

	// Events published afterwards must not block the bus.
	for i := 0; i < 2*eventBuffer; i++ {
		ctrl.bus.Publish(&event.Online{Account: "10001"})
	}
}

func TestWebSocketAgentClose(t *testing.T) {
	ctrl := newMockController()
	a := startAgent(t, ctrl)

	conn := dialEvents(t, a)
	waitForClients(t, a, 1)

	a.ws.Close()

	if err := conn.SetReadDeadline(time.Now().Add(time.Second)); err != nil {
		t.Fatal(err)
	}
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("connection is still open")
	}
}
