// SPDX-FileCopyrightText: 2024 The hibiki-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package selector

import (
	"context"
	"errors"
	"reflect"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/hibiki-im/hibiki-go/pkg/ecdh"
	"github.com/hibiki-im/hibiki-go/pkg/event"
	"github.com/hibiki-im/hibiki-go/pkg/network"
	"github.com/hibiki-im/hibiki-go/pkg/protocol"
	"github.com/hibiki-im/hibiki-go/pkg/transport"
)

// idleChannel accepts every frame and never receives one.
type idleChannel struct {
	address   string
	closeOnce sync.Once
	closed    chan struct{}
}

func newIdleChannel(address string) *idleChannel {
	return &idleChannel{address: address, closed: make(chan struct{})}
}

func (c *idleChannel) Read(ctx context.Context) ([]byte, error) {
	select {
	case <-c.closed:
		return nil, transport.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *idleChannel) Send(_ context.Context, _ []byte) error {
	select {
	case <-c.closed:
		return transport.ErrClosed
	default:
		return nil
	}
}

func (c *idleChannel) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *idleChannel) RemoteAddr() string {
	return c.address
}

// scriptedSso decides a login's outcome by the Handler's address.
type scriptedSso struct {
	login func(ctx context.Context, address string) error
}

func (sso scriptedSso) Login(ctx context.Context, h *network.Handler) error {
	if sso.login == nil {
		return nil
	}
	return sso.login(ctx, h.Address())
}

func (scriptedSso) RefreshKeys(_ context.Context, _ *network.Handler) error {
	return nil
}

type testFactory struct {
	t       *testing.T
	session *network.Session
	bus     *event.Bus
	sso     scriptedSso

	// failDial addresses
	failDial map[string]bool

	mutex     sync.Mutex
	addresses []string
	handlers  []*network.Handler
}

func newTestFactory(t *testing.T) *testFactory {
	sess, err := network.NewSession(network.Identity{Account: "10001"}, ecdh.Fallback{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	return &testFactory{
		t:        t,
		session:  sess,
		bus:      event.NewBus(),
		failDial: make(map[string]bool),
	}
}

func (f *testFactory) factory(address string) (*network.Handler, error) {
	dialer := transport.DialerFunc(func(_ context.Context, address string) (transport.Channel, error) {
		if f.failDial[address] {
			return nil, errors.New("connection refused")
		}
		return newIdleChannel(address), nil
	})

	h := network.NewHandler(network.Config{HeartbeatInterval: time.Hour}, network.Context{
		Dialer:   dialer,
		Address:  address,
		Registry: protocol.NewRegistry(),
		Session:  f.session,
		Bus:      f.bus,
		Sso:      f.sso,
	})

	f.mutex.Lock()
	f.addresses = append(f.addresses, address)
	f.handlers = append(f.handlers, h)
	f.mutex.Unlock()

	f.t.Cleanup(func() { h.Close(nil) })
	return h, nil
}

func (f *testFactory) created() []string {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return append([]string(nil), f.addresses...)
}

func fastConfig(servers ...string) Config {
	return Config{
		Servers:        servers,
		Attempts:       2,
		Backoff:        time.Millisecond,
		ConnectTimeout: time.Second,
	}
}

func TestResumeFailover(t *testing.T) {
	f := newTestFactory(t)
	f.failDial["a:1"] = true
	f.failDial["b:2"] = true

	s := New(f.factory, fastConfig("a:1", "b:2", "c:3"))
	defer s.Close()

	if state := s.State(); state != network.Initialized {
		t.Fatalf("expected %v, got %v", network.Initialized, state)
	}

	if err := s.ResumeConnection(context.Background()); err != nil {
		t.Fatal(err)
	}
	if addr := s.Current().Address(); addr != "c:3" {
		t.Fatalf("expected c:3, got %s", addr)
	}
	if state := s.State(); state != network.OK {
		t.Fatalf("expected %v, got %v", network.OK, state)
	}

	// All failed Handlers are closed, only the last one is alive.
	for _, h := range f.handlers[:len(f.handlers)-1] {
		if h.State() != network.Closed {
			t.Fatalf("handler for %s is %v", h.Address(), h.State())
		}
	}
}

func TestResumeSharedAttempt(t *testing.T) {
	f := newTestFactory(t)

	release := make(chan struct{})
	f.sso.login = func(ctx context.Context, _ string) error {
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s := New(f.factory, fastConfig("a:1"))
	defer s.Close()

	const callers = 5
	var (
		wg      sync.WaitGroup
		failed  int32
		started = make(chan struct{}, callers)
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			started <- struct{}{}
			if err := s.ResumeConnection(context.Background()); err != nil {
				atomic.AddInt32(&failed, 1)
			}
		}()
	}
	for i := 0; i < callers; i++ {
		<-started
	}

	time.Sleep(20 * time.Millisecond)
	if state := s.State(); state != network.Loading {
		t.Fatalf("expected %v, got %v", network.Loading, state)
	}
	close(release)
	wg.Wait()

	if failed != 0 {
		t.Fatalf("%d callers failed", failed)
	}
	if created := f.created(); len(created) != 1 {
		t.Fatalf("expected one handler, got %v", created)
	}
}

func TestResumeStopsOnLoginFailure(t *testing.T) {
	f := newTestFactory(t)
	f.sso.login = func(_ context.Context, _ string) error {
		return &network.LoginFailedError{Code: 1, Title: "wrong password"}
	}

	s := New(f.factory, fastConfig("a:1", "b:2"))
	defer s.Close()

	var loginErr *network.LoginFailedError
	if err := s.ResumeConnection(context.Background()); !errors.As(err, &loginErr) {
		t.Fatalf("expected LoginFailedError, got %v", err)
	}
	if created := f.created(); len(created) != 1 {
		t.Fatalf("expected a single attempt, got %v", created)
	}
}

func TestResumeExhausted(t *testing.T) {
	f := newTestFactory(t)
	f.failDial["a:1"] = true
	f.failDial["b:2"] = true

	s := New(f.factory, fastConfig("a:1", "b:2"))
	defer s.Close()

	err := s.ResumeConnection(context.Background())
	var merr *multierror.Error
	if !errors.As(err, &merr) {
		t.Fatalf("expected multierror, got %v", err)
	}
	if n := len(merr.Errors); n != 4 {
		t.Fatalf("expected four errors, got %d: %v", n, err)
	}

	created := f.created()
	sort.Strings(created)
	if expected := []string{"a:1", "a:1", "b:2", "b:2"}; !reflect.DeepEqual(created, expected) {
		t.Fatalf("expected %v, got %v", expected, created)
	}
}

func TestResumeRedirect(t *testing.T) {
	f := newTestFactory(t)
	f.sso.login = func(_ context.Context, address string) error {
		if address == "a:1" {
			return &network.RedirectError{Address: "z:9"}
		}
		return nil
	}

	s := New(f.factory, fastConfig("a:1"))
	defer s.Close()

	if err := s.ResumeConnection(context.Background()); err != nil {
		t.Fatal(err)
	}
	if addr := s.Current().Address(); addr != "z:9" {
		t.Fatalf("expected z:9, got %s", addr)
	}
}

func TestResumeNoAddresses(t *testing.T) {
	s := New(newTestFactory(t).factory, fastConfig())
	defer s.Close()

	if err := s.ResumeConnection(context.Background()); !errors.Is(err, ErrNoAddresses) {
		t.Fatalf("expected ErrNoAddresses, got %v", err)
	}
}

func TestAutomaticReconnect(t *testing.T) {
	f := newTestFactory(t)
	events, unsubscribe := f.bus.Subscribe(64)
	defer unsubscribe()

	s := New(f.factory, fastConfig("a:1"))
	defer s.Close()

	if err := s.ResumeConnection(context.Background()); err != nil {
		t.Fatal(err)
	}
	first := s.Current()

	first.Close(network.ErrServerRequestedReconnect)

	deadline := time.After(2 * time.Second)
	for relogin := false; !relogin; {
		select {
		case e := <-events:
			relogin = e.Name() == "relogin"
		case <-deadline:
			t.Fatal("no relogin event")
		}
	}

	if s.Current() == first || s.State() != network.OK {
		t.Fatalf("handler was not replaced, state %v", s.State())
	}

	// An explicit close of a Handler is final.
	second := s.Current()
	second.Close(nil)
	time.Sleep(20 * time.Millisecond)
	if s.Current() != second {
		t.Fatal("explicitly closed handler was replaced")
	}
	if created := f.created(); len(created) != 2 {
		t.Fatalf("expected two handlers, got %v", created)
	}
}

func TestAddresses(t *testing.T) {
	s := New(newTestFactory(t).factory, fastConfig("a:1", "b:2"))
	defer s.Close()

	var sink network.ServerListSink = s
	sink.SetServers([]string{"b:2", "c:3"})
	s.AddDiscovered("d:4")
	s.AddDiscovered("d:4")
	s.AddDiscovered("a:1")

	expected := []string{"a:1", "b:2", "c:3", "d:4"}
	if addresses := s.Addresses(); !reflect.DeepEqual(addresses, expected) {
		t.Fatalf("expected %v, got %v", expected, addresses)
	}
}

func TestClose(t *testing.T) {
	f := newTestFactory(t)
	s := New(f.factory, fastConfig("a:1"))

	if err := s.ResumeConnection(context.Background()); err != nil {
		t.Fatal(err)
	}
	h := s.Current()

	s.Close()
	s.Close()

	if h.State() != network.Closed {
		t.Fatalf("handler is %v", h.State())
	}
	if state := s.State(); state != network.Closed {
		t.Fatalf("expected %v, got %v", network.Closed, state)
	}
	if err := s.ResumeConnection(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
