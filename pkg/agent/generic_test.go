// SPDX-FileCopyrightText: 2024 The hibiki-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package agent

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/hibiki-im/hibiki-go/pkg/event"
	"github.com/hibiki-im/hibiki-go/pkg/message"
	"github.com/hibiki-im/hibiki-go/pkg/network"
	"github.com/hibiki-im/hibiki-go/pkg/pipeline"
)

// mockController records sent messages and answers with a fixed result.
type mockController struct {
	sync.Mutex

	bus     *event.Bus
	state   network.State
	servers []string
	err     error

	sent []message.Chain
}

func newMockController() *mockController {
	return &mockController{
		bus:     event.NewBus(),
		state:   network.OK,
		servers: []string{"a:1", "b:2"},
	}
}

func (m *mockController) State() network.State {
	m.Lock()
	defer m.Unlock()
	return m.state
}

func (m *mockController) Servers() []string {
	return m.servers
}

func (m *mockController) SendMessage(_ context.Context, target message.Target, chain message.Chain) (*pipeline.Receipt, error) {
	m.Lock()
	m.sent = append(m.sent, chain)
	err := m.err
	m.Unlock()

	if err != nil {
		return nil, err
	}

	source := message.NewSource(target, 1, uint64(time.Now().Unix()))
	source.Resolve([]uint32{23})
	return &pipeline.Receipt{
		Target:   target,
		Source:   source,
		Strategy: pipeline.Simple,
		TraceID:  "trace",
		Time:     time.Now(),
	}, nil
}

func (m *mockController) Events() *event.Bus {
	return m.bus
}

func (m *mockController) Sent() []message.Chain {
	m.Lock()
	defer m.Unlock()
	return append([]message.Chain(nil), m.sent...)
}

func startAgent(t *testing.T, ctrl Controller) *Agent {
	t.Helper()

	a, err := Start("localhost:0", ctrl)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = a.Close() })
	return a
}
