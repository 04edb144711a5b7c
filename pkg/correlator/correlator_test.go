// SPDX-FileCopyrightText: 2024 The hibiki-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package correlator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/hibiki-im/hibiki-go/pkg/codec"
)

// echoSender records sent packets and passes them to a channel.
type echoSender struct {
	packets chan codec.Packet
}

func newEchoSender() *echoSender {
	return &echoSender{packets: make(chan codec.Packet, 64)}
}

func (s *echoSender) Send(_ context.Context, packet codec.Packet) error {
	s.packets <- packet
	return nil
}

func TestConcurrentOutOfOrder(t *testing.T) {
	const n = 32

	sender := newEchoSender()
	c := New(sender, time.Second)

	var wg sync.WaitGroup
	errs := make(chan error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			body := []byte(fmt.Sprintf("request %d", i))
			resp, err := c.SendAndExpect(context.Background(), codec.Packet{CommandName: "Echo", Body: body})
			if err != nil {
				errs <- err
				return
			}
			if got := string(resp.Payload.([]byte)); got != string(body) {
				errs <- fmt.Errorf("request %d got %q", i, got)
			}
		}(i)
	}

	var sent []codec.Packet
	for len(sent) < n {
		sent = append(sent, <-sender.packets)
	}

	seen := make(map[uint32]bool)
	for _, p := range sent {
		if seen[p.SequenceID] {
			t.Fatalf("sequence id %d used twice", p.SequenceID)
		}
		seen[p.SequenceID] = true
	}

	// Answer in reverse order.
	for i := len(sent) - 1; i >= 0; i-- {
		p := sent[i]
		if !c.Resolve(codec.IncomingPacket{CommandName: p.CommandName, SequenceID: p.SequenceID, Payload: p.Body}) {
			t.Fatalf("request %d was not pending", p.SequenceID)
		}
	}

	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	if pending := c.Pending(); pending != 0 {
		t.Fatalf("%d requests are still pending", pending)
	}
}

func TestTimeoutIsolation(t *testing.T) {
	sender := newEchoSender()
	c := New(sender, time.Second)

	timeoutErr := make(chan error, 1)
	go func() {
		_, err := c.SendAndExpect(context.Background(), codec.Packet{CommandName: "Slow"}, WithTimeout(50*time.Millisecond))
		timeoutErr <- err
	}()
	slow := <-sender.packets

	okErr := make(chan error, 1)
	go func() {
		_, err := c.SendAndExpect(context.Background(), codec.Packet{CommandName: "Fast"})
		okErr <- err
	}()
	fast := <-sender.packets

	err := <-timeoutErr
	var te *TimeoutError
	if !errors.As(err, &te) || !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if te.SequenceID != slow.SequenceID || te.Command != "Slow" {
		t.Fatalf("unexpected timeout error %v", te)
	}

	if c.Resolve(codec.IncomingPacket{CommandName: "Slow", SequenceID: slow.SequenceID}) {
		t.Fatal("timed out request was resolved")
	}
	if !c.Resolve(codec.IncomingPacket{CommandName: "Fast", SequenceID: fast.SequenceID}) {
		t.Fatal("fast request was not pending")
	}
	if err := <-okErr; err != nil {
		t.Fatal(err)
	}
}

func TestResolveCommandMismatch(t *testing.T) {
	sender := newEchoSender()
	c := New(sender, time.Second)

	done := make(chan error, 1)
	go func() {
		_, err := c.SendAndExpect(context.Background(), codec.Packet{CommandName: "Request"}, WithCommand("Response"))
		done <- err
	}()
	p := <-sender.packets

	if c.Resolve(codec.IncomingPacket{CommandName: "Request", SequenceID: p.SequenceID}) {
		t.Fatal("response of the wrong command was accepted")
	}
	if !c.Resolve(codec.IncomingPacket{CommandName: "Response", SequenceID: p.SequenceID}) {
		t.Fatal("response was not accepted")
	}
	if err := <-done; err != nil {
		t.Fatal(err)
	}
}

func TestResponseError(t *testing.T) {
	sender := newEchoSender()
	c := New(sender, time.Second)

	done := make(chan error, 1)
	go func() {
		_, err := c.SendAndExpect(context.Background(), codec.Packet{CommandName: "Cmd"})
		done <- err
	}()
	p := <-sender.packets

	retErr := &codec.ReturnCodeError{Command: "Cmd", Code: -1}
	c.Resolve(codec.IncomingPacket{CommandName: "Cmd", SequenceID: p.SequenceID, Err: retErr})

	var rce *codec.ReturnCodeError
	if err := <-done; !errors.As(err, &rce) || rce.Code != -1 {
		t.Fatalf("expected return code error, got %v", err)
	}
}

func TestClose(t *testing.T) {
	sender := newEchoSender()
	c := New(sender, time.Minute)

	const n = 4
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			_, err := c.SendAndExpect(context.Background(), codec.Packet{CommandName: "Cmd"})
			errs <- err
		}()
		<-sender.packets
	}

	cause := errors.New("read failed")
	c.Close(cause)
	c.Close(errors.New("ignored"))

	for i := 0; i < n; i++ {
		err := <-errs
		if !errors.Is(err, ErrConnectionClosed) || !errors.Is(err, cause) {
			t.Fatalf("expected closed error wrapping cause, got %v", err)
		}
	}

	if _, err := c.SendAndExpect(context.Background(), codec.Packet{CommandName: "Cmd"}); !errors.Is(err, ErrConnectionClosed) {
		t.Fatalf("expected closed error, got %v", err)
	}
}

func TestContextCancel(t *testing.T) {
	sender := newEchoSender()
	c := New(sender, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.SendAndExpect(ctx, codec.Packet{CommandName: "Cmd"})
		done <- err
	}()
	<-sender.packets
	cancel()

	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if pending := c.Pending(); pending != 0 {
		t.Fatalf("%d requests are still pending", pending)
	}
}

func TestSendFailure(t *testing.T) {
	sendErr := errors.New("broken pipe")
	c := New(SenderFunc(func(context.Context, codec.Packet) error { return sendErr }), 0)

	if _, err := c.SendAndExpect(context.Background(), codec.Packet{CommandName: "Cmd"}); !errors.Is(err, sendErr) {
		t.Fatalf("expected send error, got %v", err)
	}
	if pending := c.Pending(); pending != 0 {
		t.Fatalf("%d requests are still pending", pending)
	}
}
