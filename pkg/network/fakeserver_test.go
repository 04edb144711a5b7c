// SPDX-FileCopyrightText: 2024 The hibiki-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package network

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/hibiki-im/hibiki-go/pkg/ecdh"
	"github.com/hibiki-im/hibiki-go/pkg/event"
	"github.com/hibiki-im/hibiki-go/pkg/network/nettest"
	"github.com/hibiki-im/hibiki-go/pkg/protocol"
)

type (
	fakeServer = nettest.Server
	fakeConn   = nettest.Conn
)

var (
	testD2Key            = nettest.D2Key
	testSessionTicketKey = nettest.SessionTicketKey
	testLoginSuccess     = nettest.LoginSuccess
)

func newFakeServer(t *testing.T, account string) *fakeServer {
	s := nettest.NewServer(t, account)
	t.Cleanup(s.Close)
	return s
}

// testSolver answers every challenge.
type testSolver struct {
	mutex    sync.Mutex
	captchas []*protocol.LoginCaptcha
}

func (s *testSolver) SolveCaptcha(_ context.Context, captcha *protocol.LoginCaptcha) (string, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.captchas = append(s.captchas, captcha)
	return "ticket", nil
}

func (s *testSolver) ConfirmDeviceLock(_ context.Context, _ *protocol.LoginDeviceLock) error {
	return nil
}

func (s *testSolver) SolveSMS(_ context.Context, _ *protocol.LoginSMSRequired) (string, error) {
	return "123456", nil
}

const testAccount = "10001"

func newTestSession(t *testing.T) *Session {
	sess, err := NewSession(Identity{
		Account:     testAccount,
		PasswordMD5: PasswordMD5("secret"),
		DeviceGUID:  []byte("device"),
	}, ecdh.Fallback{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	return sess
}

type testEnv struct {
	server  *fakeServer
	session *Session
	bus     *event.Bus
	events  <-chan event.Event
	solver  *testSolver
}

func newTestEnv(t *testing.T) *testEnv {
	bus := event.NewBus()
	events, unsubscribe := bus.Subscribe(128)
	t.Cleanup(unsubscribe)

	return &testEnv{
		server:  newFakeServer(t, testAccount),
		session: newTestSession(t),
		bus:     bus,
		events:  events,
		solver:  &testSolver{},
	}
}

func (env *testEnv) handler(t *testing.T, conf Config) *Handler {
	h := NewHandler(conf, Context{
		Dialer:   env.server.Dialer(),
		Address:  "fake:1",
		Registry: protocol.NewRegistry(),
		Session:  env.session,
		Bus:      env.bus,
		Sso:      NewSso(env.solver),
	})
	t.Cleanup(func() { h.Close(nil) })
	return h
}

// drain returns all events arriving within d.
func drain(events <-chan event.Event, d time.Duration) (received []event.Event) {
	timeout := time.After(d)
	for {
		select {
		case e := <-events:
			received = append(received, e)
		case <-timeout:
			return
		}
	}
}

// waitForEvent returns the first event with the given name.
func waitForEvent(t *testing.T, events <-chan event.Event, name string) event.Event {
	t.Helper()

	timeout := time.After(2 * time.Second)
	for {
		select {
		case e := <-events:
			if e.Name() == name {
				return e
			}
		case <-timeout:
			t.Fatalf("no %s event", name)
			return nil
		}
	}
}

func countEvents(events []event.Event, name string) (n int) {
	for _, e := range events {
		if e.Name() == name {
			n++
		}
	}
	return
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
