// SPDX-FileCopyrightText: 2024 The hibiki-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package agent

import (
	"time"

	"github.com/hibiki-im/hibiki-go/pkg/event"
)

// EventMessage is the JSON representation of an event.Event sent by the WebSocketAgent.
type EventMessage struct {
	Type string    `json:"type"`
	Time time.Time `json:"time"`

	Account   string `json:"account,omitempty"`
	Address   string `json:"address,omitempty"`
	From      string `json:"from,omitempty"`
	To        string `json:"to,omitempty"`
	Reconnect bool   `json:"reconnect,omitempty"`

	Target   string   `json:"target,omitempty"`
	Content  string   `json:"content,omitempty"`
	Strategy string   `json:"strategy,omitempty"`
	TraceID  string   `json:"trace_id,omitempty"`
	IDs      []uint32 `json:"ids,omitempty"`

	Error string `json:"error,omitempty"`
}

// NewEventMessage converts an event.Event.
func NewEventMessage(e event.Event) EventMessage {
	msg := EventMessage{
		Type: e.Name(),
		Time: time.Now(),
	}

	switch e := e.(type) {
	case *event.Online:
		msg.Account = e.Account

	case *event.Relogin:
		msg.Account = e.Account

	case *event.Offline:
		msg.Account = e.Account
		msg.Reconnect = e.Reconnect
		if e.Cause != nil {
			msg.Error = e.Cause.Error()
		}

	case *event.StateChanged:
		msg.Address = e.Address
		msg.From = e.From
		msg.To = e.To

	case *event.PreSend:
		msg.Target = e.Target.String()
		msg.Content = e.Chain.Content()

	case *event.PostSend:
		msg.Target = e.Target.String()
		msg.Content = e.Chain.Content()
		msg.Strategy = e.Strategy
		msg.TraceID = e.TraceID
		if e.Source != nil {
			msg.IDs, _ = e.Source.IDs()
		}
		if e.Err != nil {
			msg.Error = e.Err.Error()
		}
	}

	return msg
}
