// SPDX-FileCopyrightText: 2024 The hibiki-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package correlator matches outgoing requests with their incoming responses
// by sequence id.
package correlator

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/hibiki-im/hibiki-go/pkg/codec"
)

// DefaultTimeout is used for a zero timeout passed to New.
const DefaultTimeout = 5 * time.Second

var (
	// ErrTimeout is matched by every *TimeoutError.
	ErrTimeout = errors.New("request timed out")

	// ErrConnectionClosed is returned for pending and new requests after Close.
	ErrConnectionClosed = errors.New("connection closed")
)

// TimeoutError is returned by SendAndExpect if no response arrived in time.
type TimeoutError struct {
	Command    string
	SequenceID uint32
	Timeout    time.Duration
}

func (err *TimeoutError) Error() string {
	return fmt.Sprintf("%s (seq %d) timed out after %v", err.Command, err.SequenceID, err.Timeout)
}

// Is ErrTimeout.
func (err *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// ClosedError wraps the cause of a Close.
type ClosedError struct {
	Cause error
}

func (err *ClosedError) Error() string {
	if err.Cause == nil {
		return ErrConnectionClosed.Error()
	}
	return fmt.Sprintf("%v: %v", ErrConnectionClosed, err.Cause)
}

// Is ErrConnectionClosed.
func (err *ClosedError) Is(target error) bool {
	return target == ErrConnectionClosed
}

func (err *ClosedError) Unwrap() error {
	return err.Cause
}

// Sender writes a packet to the wire.
type Sender interface {
	Send(ctx context.Context, packet codec.Packet) error
}

// SenderFunc adapts a function to a Sender.
type SenderFunc func(ctx context.Context, packet codec.Packet) error

func (f SenderFunc) Send(ctx context.Context, packet codec.Packet) error {
	return f(ctx, packet)
}

// Option for a single SendAndExpect call.
type Option func(*request)

// WithTimeout overrides the default timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(r *request) {
		r.timeout = timeout
	}
}

// WithCommand expects a response of another command than the request's.
func WithCommand(name string) Option {
	return func(r *request) {
		r.command = name
	}
}

type request struct {
	command string
	timeout time.Duration
	result  chan codec.IncomingPacket
}

// Correlator holds the table of pending requests of one connection.
type Correlator struct {
	sender         Sender
	defaultTimeout time.Duration

	nextSeq uint32
	pending sync.Map // map[uint32]*request

	closeSyn  chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// New Correlator sending through sender. A zero defaultTimeout selects DefaultTimeout.
func New(sender Sender, defaultTimeout time.Duration) *Correlator {
	if defaultTimeout <= 0 {
		defaultTimeout = DefaultTimeout
	}

	return &Correlator{
		sender:         sender,
		defaultTimeout: defaultTimeout,
		nextSeq:        uint32(rand.Int31n(100000)),
		closeSyn:       make(chan struct{}),
	}
}

// NextSequenceID allocates a sequence id. Ids of pending requests are skipped.
func (c *Correlator) NextSequenceID() uint32 {
	for {
		seq := atomic.AddUint32(&c.nextSeq, 1)
		if _, ok := c.pending.Load(seq); !ok {
			return seq
		}
	}
}

// register reserves a fresh sequence id for r.
func (c *Correlator) register(r *request) uint32 {
	for {
		seq := atomic.AddUint32(&c.nextSeq, 1)
		if _, loaded := c.pending.LoadOrStore(seq, r); !loaded {
			return seq
		}
	}
}

// SendAndExpect sends a packet under a new sequence id and waits for the response.
//
// The packet's own SequenceID is overwritten. A response carrying an error, e.g.,
// a *codec.ReturnCodeError, is returned together with this error.
func (c *Correlator) SendAndExpect(ctx context.Context, packet codec.Packet, opts ...Option) (codec.IncomingPacket, error) {
	r := &request{
		command: packet.CommandName,
		timeout: c.defaultTimeout,
		result:  make(chan codec.IncomingPacket, 1),
	}
	for _, opt := range opts {
		opt(r)
	}

	select {
	case <-c.closeSyn:
		return codec.IncomingPacket{}, c.closeErr
	default:
	}

	packet.SequenceID = c.register(r)
	defer c.pending.Delete(packet.SequenceID)

	logger := log.WithFields(log.Fields{
		"command": packet.CommandName,
		"seq":     packet.SequenceID,
	})

	if err := c.sender.Send(ctx, packet); err != nil {
		logger.WithError(err).Debug("Sending request failed")
		return codec.IncomingPacket{}, err
	}

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case resp := <-r.result:
		logger.Debug("Request resolved")
		return resp, resp.Err

	case <-timer.C:
		logger.WithField("timeout", r.timeout).Debug("Request timed out")
		return codec.IncomingPacket{}, &TimeoutError{Command: packet.CommandName, SequenceID: packet.SequenceID, Timeout: r.timeout}

	case <-ctx.Done():
		return codec.IncomingPacket{}, ctx.Err()

	case <-c.closeSyn:
		return codec.IncomingPacket{}, c.closeErr
	}
}

// Resolve hands an incoming packet to its waiting request. The return value
// reports whether such a request existed.
func (c *Correlator) Resolve(packet codec.IncomingPacket) bool {
	v, ok := c.pending.Load(packet.SequenceID)
	if !ok {
		return false
	}

	r := v.(*request)
	if r.command != packet.CommandName {
		log.WithFields(log.Fields{
			"seq":      packet.SequenceID,
			"expected": r.command,
			"command":  packet.CommandName,
		}).Debug("Sequence id matches a request of another command")
		return false
	}

	if _, loaded := c.pending.LoadAndDelete(packet.SequenceID); !loaded {
		return false
	}

	r.result <- packet
	return true
}

// Pending returns the number of requests awaiting a response.
func (c *Correlator) Pending() (n int) {
	c.pending.Range(func(_, _ interface{}) bool {
		n++
		return true
	})
	return
}

// Close fails all pending and future requests with an error wrapping cause.
// Subsequent calls are no-ops.
func (c *Correlator) Close(cause error) {
	c.closeOnce.Do(func() {
		c.closeErr = &ClosedError{Cause: cause}
		close(c.closeSyn)
	})
}
