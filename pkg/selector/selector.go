// SPDX-FileCopyrightText: 2024 The hibiki-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package selector keeps exactly one live network.Handler and replaces it
// after a recoverable failure.
package selector

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"

	"github.com/hibiki-im/hibiki-go/pkg/codec"
	"github.com/hibiki-im/hibiki-go/pkg/correlator"
	"github.com/hibiki-im/hibiki-go/pkg/network"
)

var (
	// ErrClosed is returned after Close was called.
	ErrClosed = errors.New("selector closed")

	// ErrNoAddresses is returned if no server address is known.
	ErrNoAddresses = errors.New("no server addresses")
)

// Factory creates a new Handler for a server address.
type Factory func(address string) (*network.Handler, error)

// Config of a Selector. Zero values select the defaults.
type Config struct {
	// Servers to connect to, before any pushed or discovered ones.
	Servers []string

	// Attempts is the number of rounds over all addresses. Defaults to 3.
	Attempts int

	// Backoff between two rounds, doubled each round. Defaults to two seconds.
	Backoff time.Duration

	// ConnectTimeout bounds connecting and logging in to one address. Defaults to 30 seconds.
	ConnectTimeout time.Duration

	// MaxRedirects within one round. Defaults to 3.
	MaxRedirects int
}

func (conf Config) withDefaults() Config {
	if conf.Attempts <= 0 {
		conf.Attempts = 3
	}
	if conf.Backoff <= 0 {
		conf.Backoff = 2 * time.Second
	}
	if conf.ConnectTimeout <= 0 {
		conf.ConnectTimeout = 30 * time.Second
	}
	if conf.MaxRedirects <= 0 {
		conf.MaxRedirects = 3
	}
	return conf
}

// attempt is an in-flight ResumeConnection shared by all its callers.
type attempt struct {
	done chan struct{}
	err  error
}

// Selector supervises the current Handler of a session.
type Selector struct {
	conf    Config
	factory Factory

	mutex      sync.Mutex
	current    *network.Handler
	inFlight   *attempt
	pushed     []string
	discovered []string
	closed     bool

	// stopSyn cancels in-flight attempts on Close.
	stopSyn chan struct{}
}

// New Selector. No connection is made before ResumeConnection.
func New(factory Factory, conf Config) *Selector {
	return &Selector{
		conf:    conf.withDefaults(),
		factory: factory,
		stopSyn: make(chan struct{}),
	}
}

func (s *Selector) log() *log.Entry {
	return log.WithField("selector", fmt.Sprintf("%p", s))
}

// SetServers replaces the list of server pushed addresses. It implements network.ServerListSink.
func (s *Selector) SetServers(servers []string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.pushed = append([]string(nil), servers...)
}

// AddDiscovered adds an address found by a discovery service.
func (s *Selector) AddDiscovered(address string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for _, known := range s.discovered {
		if known == address {
			return
		}
	}
	s.discovered = append(s.discovered, address)
}

// Addresses known to this Selector without duplicates: configured servers,
// followed by pushed and discovered ones.
func (s *Selector) Addresses() (addresses []string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	seen := make(map[string]struct{})
	for _, list := range [][]string{s.conf.Servers, s.pushed, s.discovered} {
		for _, address := range list {
			if _, ok := seen[address]; ok || address == "" {
				continue
			}
			seen[address] = struct{}{}
			addresses = append(addresses, address)
		}
	}
	return
}

// Current Handler, might be nil or closed.
func (s *Selector) Current() *network.Handler {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.current
}

// State of the logical connection across all Handlers.
func (s *Selector) State() network.State {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	switch {
	case s.closed:
		return network.Closed

	case s.inFlight != nil:
		if s.current != nil && s.current.State() == network.Loading {
			return network.Loading
		}
		return network.Connecting

	case s.current == nil:
		return network.Initialized

	default:
		return s.current.State()
	}
}

// ResumeConnection returns as soon as a Handler is OK. Concurrent callers
// share one in-flight attempt.
func (s *Selector) ResumeConnection(ctx context.Context) error {
	s.mutex.Lock()
	if s.closed {
		s.mutex.Unlock()
		return ErrClosed
	}
	if s.current != nil && s.current.State() == network.OK {
		s.mutex.Unlock()
		return nil
	}

	a := s.inFlight
	if a == nil {
		a = &attempt{done: make(chan struct{})}
		s.inFlight = a
		go s.run(a)
	}
	s.mutex.Unlock()

	select {
	case <-a.done:
		return a.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Selector) run(a *attempt) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-s.stopSyn:
			cancel()
		case <-ctx.Done():
		}
	}()

	err := s.connect(ctx)

	s.mutex.Lock()
	s.inFlight = nil
	s.mutex.Unlock()

	a.err = err
	close(a.done)
}

// connect iterates over all addresses in shuffled order for up to Attempts rounds.
func (s *Selector) connect(ctx context.Context) error {
	var errs *multierror.Error
	backoff := s.conf.Backoff

	for round := 0; round < s.conf.Attempts; round++ {
		if round > 0 {
			s.log().WithFields(log.Fields{
				"round":   round + 1,
				"backoff": backoff,
			}).Info("Retrying all addresses after backoff")

			select {
			case <-time.After(backoff):
				backoff *= 2
			case <-ctx.Done():
				return ErrClosed
			}
		}

		queue := s.Addresses()
		if len(queue) == 0 {
			return ErrNoAddresses
		}
		rand.Shuffle(len(queue), func(i, j int) { queue[i], queue[j] = queue[j], queue[i] })

		redirects := 0
		for len(queue) > 0 {
			address := queue[0]
			queue = queue[1:]

			err := s.tryAddress(ctx, address)
			if err == nil {
				return nil
			}
			if ctx.Err() != nil {
				return ErrClosed
			}

			logger := s.log().WithField("address", address).WithError(err)
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", address, err))

			var redirect *network.RedirectError
			switch {
			case errors.As(err, &redirect) && redirects < s.conf.MaxRedirects:
				logger.WithField("redirect", redirect.Address).Info("Following redirect")
				redirects++
				queue = append([]string{redirect.Address}, queue...)

			case !network.IsRecoverable(err):
				logger.Warn("Connecting failed unrecoverably")
				return err

			default:
				logger.Info("Connecting failed, trying next address")
			}
		}
	}

	return errs.ErrorOrNil()
}

// tryAddress replaces the current Handler by a new one for the address.
func (s *Selector) tryAddress(ctx context.Context, address string) error {
	h, err := s.factory(address)
	if err != nil {
		return err
	}

	s.mutex.Lock()
	if s.closed {
		s.mutex.Unlock()
		h.Close(nil)
		return ErrClosed
	}
	old := s.current
	s.current = h
	s.mutex.Unlock()

	if old != nil {
		old.Close(nil)
	}

	connectCtx, cancel := context.WithTimeout(ctx, s.conf.ConnectTimeout)
	defer cancel()

	if err := h.ResumeConnection(connectCtx); err != nil {
		h.Close(&network.NetworkError{Cause: err, Recoverable: true})
		return err
	}

	s.log().WithField("address", address).Info("Connection established")
	go s.watch(h)
	return nil
}

// watch reconnects after h closed with a recoverable cause.
func (s *Selector) watch(h *network.Handler) {
	select {
	case <-h.Done():
	case <-s.stopSyn:
		return
	}

	cause := h.Cause()
	logger := s.log().WithField("address", h.Address()).WithError(cause)

	if !network.IsRecoverable(cause) {
		logger.Info("Connection closed, not reconnecting")
		return
	}

	s.mutex.Lock()
	replaced := s.current != h
	s.mutex.Unlock()
	if replaced {
		return
	}

	logger.Info("Connection lost, reconnecting")
	if err := s.ResumeConnection(context.Background()); err != nil && !errors.Is(err, ErrClosed) {
		logger.WithField("reconnect", err).Error("Reconnecting failed")
	}
}

// SendAndExpect resumes the connection and sends through the current Handler.
func (s *Selector) SendAndExpect(ctx context.Context, packet codec.Packet, opts ...correlator.Option) (codec.IncomingPacket, error) {
	if err := s.ResumeConnection(ctx); err != nil {
		return codec.IncomingPacket{}, err
	}

	h := s.Current()
	if h == nil {
		return codec.IncomingPacket{}, ErrClosed
	}
	return h.SendAndExpect(ctx, packet, opts...)
}

// Close the Selector and its current Handler. No reconnects happen afterwards.
func (s *Selector) Close() {
	s.mutex.Lock()
	if s.closed {
		s.mutex.Unlock()
		return
	}
	s.closed = true
	h := s.current
	close(s.stopSyn)
	s.mutex.Unlock()

	if h != nil {
		h.Close(nil)
	}
}
