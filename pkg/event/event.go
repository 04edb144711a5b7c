// SPDX-FileCopyrightText: 2024 The hibiki-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package event broadcasts lifecycle and message events to observers.
package event

import (
	"fmt"
	"sync"

	"github.com/hibiki-im/hibiki-go/pkg/message"
)

// Event is one of *Online, *Relogin, *Offline, *StateChanged, *PreSend or *PostSend.
type Event interface {
	// Name of the event's type, e.g., "online".
	Name() string
}

// Online is published when a session reached the OK state for the first time.
type Online struct {
	Account string
}

func (*Online) Name() string { return "online" }

// Relogin is published when a session reached the OK state again after a reconnect.
type Relogin struct {
	Account string
}

func (*Relogin) Name() string { return "relogin" }

// Offline is published when an online connection was closed.
type Offline struct {
	Account string
	Cause   error
	// Reconnect is true if a new connection will be established.
	Reconnect bool
}

func (*Offline) Name() string { return "offline" }

func (o *Offline) String() string {
	return fmt.Sprintf("offline(%s, cause: %v, reconnect: %t)", o.Account, o.Cause, o.Reconnect)
}

// StateChanged is published for each state transition of a connection.
type StateChanged struct {
	Address  string
	From, To string
}

func (*StateChanged) Name() string { return "state" }

// PreSend is passed to the hooks registered by OnPreSend before a message is
// sent. Any hook might cancel the sending.
type PreSend struct {
	Target message.Target
	Chain  message.Chain

	mutex     sync.Mutex
	cancelled bool
}

func (*PreSend) Name() string { return "pre-send" }

// Cancel the sending of this message.
func (p *PreSend) Cancel() {
	p.mutex.Lock()
	p.cancelled = true
	p.mutex.Unlock()
}

// Cancelled reports whether some hook cancelled the sending.
func (p *PreSend) Cancelled() bool {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.cancelled
}

// PostSend is published after each sending attempt, successful or not.
type PostSend struct {
	Target   message.Target
	Chain    message.Chain
	Source   *message.Source
	Strategy string
	TraceID  string
	Err      error
}

func (*PostSend) Name() string { return "post-send" }
