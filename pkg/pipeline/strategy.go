// SPDX-FileCopyrightText: 2024 The hibiki-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package pipeline

import (
	"fmt"
	"sync"

	"github.com/hibiki-im/hibiki-go/pkg/message"
)

// Strategy to send a message.
type Strategy int

const (
	// Simple sends the chain within one packet.
	Simple Strategy = iota
	// Long uploads the chain and sends a reference to it.
	Long
	// Fragmented splits the chain into several packets.
	Fragmented
)

// strategyOrder is the fallback order.
var strategyOrder = [...]Strategy{Simple, Long, Fragmented}

func (s Strategy) String() string {
	switch s {
	case Simple:
		return "simple"
	case Long:
		return "long"
	case Fragmented:
		return "fragmented"
	default:
		return fmt.Sprintf("Strategy(%d)", int(s))
	}
}

// Strategies tracks the available strategies of one message. A strategy is
// used at most once and never revisited.
type Strategies struct {
	mutex     sync.Mutex
	available [len(strategyOrder)]bool
	position  int
	current   Strategy
	tried     []Strategy
}

// NewStrategies for a chain, honoring its Flags.
func NewStrategies(chain message.Chain) *Strategies {
	s := &Strategies{current: -1}
	for _, strategy := range strategyOrder {
		s.available[strategy] = true
	}

	if chain.Has(message.ForceAsLongMessage) {
		s.available[Simple] = false
		s.available[Fragmented] = false
	}
	if chain.Has(message.DontAsLongMessage) {
		s.available[Long] = false
	}
	return s
}

// Available reports whether a strategy might still be used.
func (s *Strategies) Available(strategy Strategy) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.available[strategy]
}

// Disable a strategy.
func (s *Strategies) Disable(strategy Strategy) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.available[strategy] = false
}

// Next strategy in fallback order. It returns false after all strategies were used.
func (s *Strategies) Next() (Strategy, bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for s.position < len(strategyOrder) {
		strategy := strategyOrder[s.position]
		s.position++

		if s.available[strategy] {
			s.available[strategy] = false
			s.current = strategy
			s.tried = append(s.tried, strategy)
			return strategy, true
		}
	}
	return -1, false
}

// Current strategy, false before the first call of Next.
func (s *Strategies) Current() (Strategy, bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.current, s.current >= 0
}

// Tried strategies in order.
func (s *Strategies) Tried() []Strategy {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return append([]Strategy(nil), s.tried...)
}

// Exhausted reports whether no strategy is left.
func (s *Strategies) Exhausted() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for _, strategy := range strategyOrder[s.position:] {
		if s.available[strategy] {
			return false
		}
	}
	return true
}
