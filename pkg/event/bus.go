// SPDX-FileCopyrightText: 2024 The hibiki-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package event

import (
	"sync"

	log "github.com/sirupsen/logrus"
)

// Bus multiplexes Events to all subscribers. Publishing never blocks: a
// subscriber whose buffer is full misses the Event.
type Bus struct {
	mutex sync.RWMutex

	subscribers map[uint64]chan Event
	nextID      uint64

	preSendHooks []func(*PreSend)

	closed bool
}

// NewBus without subscribers.
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[uint64]chan Event),
	}
}

// Subscribe to all future Events. The returned function unsubscribes and closes the channel.
func (bus *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	bus.mutex.Lock()
	defer bus.mutex.Unlock()

	ch := make(chan Event, buffer)
	if bus.closed {
		close(ch)
		return ch, func() {}
	}

	id := bus.nextID
	bus.nextID++
	bus.subscribers[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() { bus.unsubscribe(id) })
	}
}

func (bus *Bus) unsubscribe(id uint64) {
	bus.mutex.Lock()
	defer bus.mutex.Unlock()

	if ch, ok := bus.subscribers[id]; ok {
		delete(bus.subscribers, id)
		close(ch)
	}
}

// Publish an Event to all subscribers.
func (bus *Bus) Publish(e Event) {
	bus.mutex.RLock()
	defer bus.mutex.RUnlock()

	if bus.closed {
		return
	}

	for id, ch := range bus.subscribers {
		select {
		case ch <- e:
		default:
			log.WithFields(log.Fields{
				"event":      e.Name(),
				"subscriber": id,
			}).Warn("Subscriber is full, dropping event")
		}
	}
}

// OnPreSend registers a hook which is called synchronously before each message is sent.
func (bus *Bus) OnPreSend(hook func(*PreSend)) {
	bus.mutex.Lock()
	defer bus.mutex.Unlock()

	bus.preSendHooks = append(bus.preSendHooks, hook)
}

// BroadcastPreSend calls all hooks in their registration order and publishes
// the PreSend afterwards. The return value reports a cancellation.
func (bus *Bus) BroadcastPreSend(e *PreSend) (cancelled bool) {
	bus.mutex.RLock()
	hooks := append([]func(*PreSend){}, bus.preSendHooks...)
	bus.mutex.RUnlock()

	for _, hook := range hooks {
		runHook(hook, e)
	}

	bus.Publish(e)
	return e.Cancelled()
}

func runHook(hook func(*PreSend), e *PreSend) {
	defer func() {
		if r := recover(); r != nil {
			log.WithFields(log.Fields{
				"target": e.Target,
				"panic":  r,
			}).Warn("Pre-send hook panicked")
		}
	}()

	hook(e)
}

// Close the Bus and all subscriber channels. Later Events are discarded.
func (bus *Bus) Close() {
	bus.mutex.Lock()
	defer bus.mutex.Unlock()

	if bus.closed {
		return
	}
	bus.closed = true

	for id, ch := range bus.subscribers {
		delete(bus.subscribers, id)
		close(ch)
	}
}
