// SPDX-FileCopyrightText: 2024 The hibiki-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package agent

import (
	"context"

	"github.com/hibiki-im/hibiki-go/pkg/event"
	"github.com/hibiki-im/hibiki-go/pkg/message"
	"github.com/hibiki-im/hibiki-go/pkg/network"
	"github.com/hibiki-im/hibiki-go/pkg/pipeline"
)

// Controller is the client exposed by the agents.
type Controller interface {
	// State of the current connection.
	State() network.State

	// Servers known to the client, in no particular order.
	Servers() []string

	// SendMessage to a target.
	SendMessage(ctx context.Context, target message.Target, chain message.Chain) (*pipeline.Receipt, error)

	// Events of the client.
	Events() *event.Bus
}
