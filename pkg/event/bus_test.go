// SPDX-FileCopyrightText: 2024 The hibiki-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package event

import (
	"testing"

	"github.com/hibiki-im/hibiki-go/pkg/message"
)

func TestPublishSubscribe(t *testing.T) {
	bus := NewBus()

	ch1, cancel1 := bus.Subscribe(4)
	ch2, cancel2 := bus.Subscribe(4)
	defer cancel2()

	bus.Publish(&Online{Account: "10001"})

	for _, ch := range []<-chan Event{ch1, ch2} {
		e := <-ch
		if online, ok := e.(*Online); !ok || online.Account != "10001" {
			t.Fatalf("unexpected event %v", e)
		}
	}

	cancel1()
	cancel1()
	if _, ok := <-ch1; ok {
		t.Fatal("channel of cancelled subscription is open")
	}

	bus.Publish(&Relogin{Account: "10001"})
	if e := <-ch2; e.Name() != "relogin" {
		t.Fatalf("unexpected event %v", e)
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe(1)
	defer cancel()

	for i := 0; i < 10; i++ {
		bus.Publish(&Offline{Account: "10001"})
	}

	if len(ch) != 1 {
		t.Fatalf("expected one buffered event, got %d", len(ch))
	}
}

func TestPreSendHooks(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe(1)
	defer cancel()

	var order []int
	bus.OnPreSend(func(*PreSend) { order = append(order, 1) })
	bus.OnPreSend(func(*PreSend) { panic("broken hook") })
	bus.OnPreSend(func(e *PreSend) {
		order = append(order, 3)
		if e.Chain.Content() == "spam" {
			e.Cancel()
		}
	})

	target := message.Target{Kind: message.Group, ID: 1}
	if bus.BroadcastPreSend(&PreSend{Target: target, Chain: message.PlainText("hello")}) {
		t.Fatal("message was cancelled")
	}
	if !bus.BroadcastPreSend(&PreSend{Target: target, Chain: message.PlainText("spam")}) {
		t.Fatal("message was not cancelled")
	}

	if len(order) != 4 || order[0] != 1 || order[1] != 3 {
		t.Fatalf("unexpected hook order %v", order)
	}
	if e := <-ch; e.Name() != "pre-send" {
		t.Fatalf("unexpected event %v", e)
	}
}

func TestClose(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe(1)

	bus.Close()
	bus.Close()
	cancel()

	if _, ok := <-ch; ok {
		t.Fatal("channel is open after Close")
	}

	bus.Publish(&Online{})

	late, _ := bus.Subscribe(1)
	if _, ok := <-late; ok {
		t.Fatal("subscription after Close is open")
	}
}
