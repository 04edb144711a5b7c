// SPDX-FileCopyrightText: 2024 The hibiki-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package network

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hibiki-im/hibiki-go/pkg/codec"
	"github.com/hibiki-im/hibiki-go/pkg/correlator"
	"github.com/hibiki-im/hibiki-go/pkg/event"
	"github.com/hibiki-im/hibiki-go/pkg/protocol"
)

func heartbeatConf() Config {
	return Config{
		HeartbeatInterval: 20 * time.Millisecond,
		HeartbeatTimeout:  50 * time.Millisecond,
	}
}

func TestHeartbeatRetriesOnce(t *testing.T) {
	env := newTestEnv(t)

	var count int32
	env.server.Handle(protocol.CmdHeartbeat, func(c *fakeConn, raw codec.RawPacket) {
		// Every other heartbeat is lost.
		if atomic.AddInt32(&count, 1)%2 == 1 {
			return
		}
		c.Reply(raw, &protocol.HeartbeatResponse{})
	})

	h := env.handler(t, heartbeatConf())
	if err := h.ResumeConnection(context.Background()); err != nil {
		t.Fatal(err)
	}

	waitUntil(t, func() bool { return atomic.LoadInt32(&count) >= 6 })
	if state := h.State(); state != OK {
		t.Fatalf("expected %v, got %v: %v", OK, state, h.Cause())
	}

	// Recovered heartbeats are invisible to observers.
	events := drain(env.events, 200*time.Millisecond)
	if n := countEvents(events, "online"); n != 1 {
		t.Fatalf("expected one online event, got %d", n)
	}
	for _, name := range []string{"offline", "relogin"} {
		if n := countEvents(events, name); n != 0 {
			t.Fatalf("expected no %s event, got %d", name, n)
		}
	}
	if n := countEvents(events, "state"); n != 3 {
		t.Fatalf("expected three state changes up to OK, got %d", n)
	}
}

func TestHeartbeatFailure(t *testing.T) {
	env := newTestEnv(t)

	var count int32
	env.server.Handle(protocol.CmdHeartbeat, func(_ *fakeConn, _ codec.RawPacket) {
		atomic.AddInt32(&count, 1)
	})

	h := env.handler(t, heartbeatConf())
	if err := h.ResumeConnection(context.Background()); err != nil {
		t.Fatal(err)
	}

	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not close")
	}

	var hbErr *HeartbeatFailedError
	if !errors.As(h.Cause(), &hbErr) || !errors.Is(hbErr, correlator.ErrTimeout) {
		t.Fatalf("expected HeartbeatFailedError, got %v", h.Cause())
	}
	if n := atomic.LoadInt32(&count); n != 2 {
		t.Fatalf("expected exactly two heartbeats, got %d", n)
	}

	offline := waitForEvent(t, env.events, "offline").(*event.Offline)
	if !offline.Reconnect {
		t.Fatalf("heartbeat failure must be recoverable: %v", offline)
	}
}

func TestKeyRefresh(t *testing.T) {
	env := newTestEnv(t)

	var refreshes int32
	env.server.Handle(protocol.CmdExchangeEmp, func(c *fakeConn, raw codec.RawPacket) {
		var req protocol.LoginRequest
		if err := protocol.Unmarshal(raw.Body, &req); err != nil || req.Kind != protocol.LoginRefresh {
			t.Errorf("unexpected exchange %v, %v", req, err)
			return
		}
		atomic.AddInt32(&refreshes, 1)
		c.ReplyLogin(raw, testLoginSuccess())
	})

	h := env.handler(t, Config{KeyRefreshInterval: 20 * time.Millisecond})
	if err := h.ResumeConnection(context.Background()); err != nil {
		t.Fatal(err)
	}

	waitUntil(t, func() bool { return atomic.LoadInt32(&refreshes) >= 2 })
	if !env.session.HasPersistedKeys() {
		t.Fatal("refreshed keys are missing")
	}
}
