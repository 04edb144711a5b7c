// SPDX-FileCopyrightText: 2024 The hibiki-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package network implements a single connection to the server: its state
// machine, the login procedure, heartbeats and server pushes.
package network

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/hibiki-im/hibiki-go/pkg/codec"
	"github.com/hibiki-im/hibiki-go/pkg/correlator"
	"github.com/hibiki-im/hibiki-go/pkg/event"
	"github.com/hibiki-im/hibiki-go/pkg/storage"
	"github.com/hibiki-im/hibiki-go/pkg/transport"
)

// Config of a Handler. Zero values select the defaults.
type Config struct {
	// HeartbeatInterval unless the server pushed another one. Defaults to one minute.
	HeartbeatInterval time.Duration
	// HeartbeatTimeout of a single heartbeat. Defaults to five seconds.
	HeartbeatTimeout time.Duration
	// RequestTimeout for SendAndExpect calls without their own. Defaults to five seconds.
	RequestTimeout time.Duration
	// KeyRefreshInterval of the persisted keys; zero disables refreshing.
	KeyRefreshInterval time.Duration
	// CompressAbove compresses outgoing bodies larger than this many bytes; zero disables it.
	CompressAbove int
}

func (conf Config) withDefaults() Config {
	if conf.HeartbeatInterval <= 0 {
		conf.HeartbeatInterval = time.Minute
	}
	if conf.HeartbeatTimeout <= 0 {
		conf.HeartbeatTimeout = 5 * time.Second
	}
	if conf.RequestTimeout <= 0 {
		conf.RequestTimeout = correlator.DefaultTimeout
	}
	return conf
}

// ServerListSink receives server lists pushed by the server.
type ServerListSink interface {
	SetServers(servers []string)
}

// Context bundles the collaborators of a Handler.
type Context struct {
	Dialer   transport.Dialer
	Address  string
	Registry *codec.Registry
	Session  *Session
	Bus      *event.Bus
	Sso      SsoProcessor

	// Store and ServerList are optional.
	Store      *storage.Store
	ServerList ServerListSink
}

// Handler owns one transport connection and drives it through the States.
type Handler struct {
	conf Config
	hctx Context

	codec      *codec.Codec
	correlator *correlator.Correlator

	stateMutex sync.RWMutex
	state      State
	cause      error
	channel    transport.Channel

	// started is accessed by sync.atomic functions; set by the first ResumeConnection call.
	started   uint32
	loginDone chan struct{}

	stopSyn chan struct{}

	reschedule chan time.Duration
}

// NewHandler in the Initialized state.
func NewHandler(conf Config, hctx Context) *Handler {
	conf = conf.withDefaults()
	if hctx.Bus == nil {
		hctx.Bus = event.NewBus()
	}
	if hctx.Sso == nil {
		hctx.Sso = NewSso(nil)
	}

	h := &Handler{
		conf: conf,
		hctx: hctx,

		codec: codec.NewCodec(hctx.Session, hctx.Registry),

		state:     Initialized,
		loginDone: make(chan struct{}),
		stopSyn:   make(chan struct{}),

		reschedule: make(chan time.Duration, 1),
	}
	h.codec.CompressAbove = conf.CompressAbove
	h.correlator = correlator.New(correlator.SenderFunc(h.send), conf.RequestTimeout)

	return h
}

func (h *Handler) log() *log.Entry {
	return log.WithFields(log.Fields{
		"handler": h.hctx.Address,
		"account": h.hctx.Session.Account(),
	})
}

// Address of the server.
func (h *Handler) Address() string {
	return h.hctx.Address
}

// Session shared by all Handlers of an account.
func (h *Handler) Session() *Session {
	return h.hctx.Session
}

// Registry of known commands.
func (h *Handler) Registry() *codec.Registry {
	return h.hctx.Registry
}

// State of this Handler.
func (h *Handler) State() State {
	h.stateMutex.RLock()
	defer h.stateMutex.RUnlock()
	return h.state
}

// Cause of the Closed state, nil otherwise.
func (h *Handler) Cause() error {
	h.stateMutex.RLock()
	defer h.stateMutex.RUnlock()
	return h.cause
}

// Done is closed when the Handler reaches the Closed state.
func (h *Handler) Done() <-chan struct{} {
	return h.stopSyn
}

// setState performs a legal transition. Closed is sticky; transitions out of
// it and illegal edges are ignored.
func (h *Handler) setState(to State, cause error) bool {
	h.stateMutex.Lock()
	from := h.state
	if from == Closed || !legalTransition(from, to) {
		h.stateMutex.Unlock()
		if from != Closed {
			h.log().WithFields(log.Fields{"from": from, "to": to}).Warn("Illegal state transition")
		}
		return false
	}

	h.state = to
	var channel transport.Channel
	if to == Closed {
		h.cause = cause
		channel = h.channel
		close(h.stopSyn)
	}
	h.stateMutex.Unlock()

	logger := h.log().WithFields(log.Fields{"from": from, "to": to})
	if cause != nil {
		logger = logger.WithError(cause)
	}
	logger.Info("Handler changed state")

	if to == Closed {
		h.correlator.Close(cause)
		if channel != nil {
			if err := channel.Close(); err != nil {
				h.log().WithError(err).Debug("Closing channel errored")
			}
		}
	}

	h.broadcast(from, to, cause)
	return true
}

// broadcast the lifecycle events of a transition.
func (h *Handler) broadcast(from, to State, cause error) {
	bus := h.hctx.Bus
	account := h.hctx.Session.Account()

	bus.Publish(&event.StateChanged{Address: h.hctx.Address, From: from.String(), To: to.String()})

	switch {
	case to == OK:
		if h.hctx.Session.markOnline() {
			bus.Publish(&event.Online{Account: account})
		} else {
			bus.Publish(&event.Relogin{Account: account})
		}

	case from == OK && to == Closed:
		bus.Publish(&event.Offline{Account: account, Cause: cause, Reconnect: IsRecoverable(cause)})
	}
}

// Close the Handler. A nil cause marks an explicit close by the user.
func (h *Handler) Close(cause error) {
	if cause == nil {
		cause = ErrHandlerClosed
	}
	h.setState(Closed, cause)
}

// ResumeConnection connects and logs in. The first caller drives the
// procedure, all others wait for its outcome. After the Handler was closed,
// its cause is returned.
func (h *Handler) ResumeConnection(ctx context.Context) error {
	if atomic.CompareAndSwapUint32(&h.started, 0, 1) {
		h.connect(ctx)
	}

	select {
	case <-h.loginDone:
	case <-ctx.Done():
		return ctx.Err()
	}

	if h.State() == Closed {
		return h.Cause()
	}
	return nil
}

func (h *Handler) connect(ctx context.Context) {
	defer close(h.loginDone)

	if !h.setState(Connecting, nil) {
		return
	}

	channel, err := h.hctx.Dialer.Dial(ctx, h.hctx.Address)
	if err != nil {
		h.setState(Closed, &NetworkError{Cause: err, Recoverable: true})
		return
	}

	h.stateMutex.Lock()
	if h.state == Closed {
		h.stateMutex.Unlock()
		_ = channel.Close()
		return
	}
	h.channel = channel
	h.stateMutex.Unlock()

	go h.readLoop(channel)

	if !h.setState(Loading, nil) {
		return
	}

	if err := h.hctx.Sso.Login(ctx, h); err != nil {
		var (
			loginErr    *LoginFailedError
			redirectErr *RedirectError
		)
		if !errors.As(err, &loginErr) && !errors.As(err, &redirectErr) {
			err = &NetworkError{Cause: err, Recoverable: true}
		}
		h.setState(Closed, err)
		return
	}

	if !h.setState(OK, nil) {
		return
	}

	go h.heartbeatLoop()
	if h.conf.KeyRefreshInterval > 0 {
		go h.keyRefreshLoop()
	}
}

// currentChannel returns the transport if one is established.
func (h *Handler) currentChannel() (transport.Channel, error) {
	h.stateMutex.RLock()
	defer h.stateMutex.RUnlock()

	switch {
	case h.state == Closed:
		return nil, &correlator.ClosedError{Cause: h.cause}
	case h.channel == nil:
		return nil, ErrNotConnected
	default:
		return h.channel, nil
	}
}

// send encodes and writes a Packet.
func (h *Handler) send(ctx context.Context, packet codec.Packet) error {
	channel, err := h.currentChannel()
	if err != nil {
		return err
	}

	frame, err := h.codec.Encode(packet)
	if err != nil {
		return err
	}

	h.log().WithField("packet", packet).Debug("Sending packet")

	if err := channel.Send(ctx, frame); err != nil {
		h.setState(Closed, &NetworkError{Cause: err, Recoverable: true})
		return err
	}
	return nil
}

// SendWithoutExpect sends a Packet without waiting for a response. A zero
// SequenceID is replaced by a fresh one.
func (h *Handler) SendWithoutExpect(ctx context.Context, packet codec.Packet) error {
	if packet.SequenceID == 0 {
		packet.SequenceID = h.correlator.NextSequenceID()
	}
	return h.send(ctx, packet)
}

// SendAndExpect sends a Packet and waits for its response.
func (h *Handler) SendAndExpect(ctx context.Context, packet codec.Packet, opts ...correlator.Option) (codec.IncomingPacket, error) {
	if _, err := h.currentChannel(); err != nil {
		return codec.IncomingPacket{}, err
	}
	return h.correlator.SendAndExpect(ctx, packet, opts...)
}

// readLoop reads frames and passes them to the decode queue.
func (h *Handler) readLoop(channel transport.Channel) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-h.stopSyn:
			cancel()
		case <-ctx.Done():
		}
	}()

	queue := make(chan []byte, 64)
	defer close(queue)
	go h.decodeLoop(queue)

	for {
		frame, err := channel.Read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				h.setState(Closed, &NetworkError{Cause: err, Recoverable: true})
			}
			return
		}

		select {
		case queue <- frame:
		case <-h.stopSyn:
			return
		}
	}
}

// decodeLoop decodes frames in order and dispatches each packet concurrently.
func (h *Handler) decodeLoop(queue <-chan []byte) {
	for frame := range queue {
		raw, err := h.codec.DecodeRaw(frame)
		if err != nil {
			h.log().WithError(err).WithField("length", len(frame)).Warn("Dropping undecodable frame")
			continue
		}

		go h.dispatch(h.codec.Process(raw))
	}
}

// dispatch an IncomingPacket to its waiting request or to a push handler.
func (h *Handler) dispatch(packet codec.IncomingPacket) {
	logger := h.log().WithField("packet", packet)

	var rce *codec.ReturnCodeError
	if errors.As(packet.Err, &rce) && rce.Fatal() {
		logger.Warn("Server rejected the session")
		h.invalidateSession()
		h.setState(Closed, &NetworkError{Cause: rce, Recoverable: true})
		return
	}

	if h.correlator.Resolve(packet) {
		logger.Debug("Resolved pending request")
		return
	}

	if packet.Err != nil {
		logger.Warn("Dropping erroneous packet")
		return
	}

	if !h.handlePush(packet) {
		logger.Debug("Ignoring unexpected packet")
	}
}

// invalidateSession drops persisted keys the server no longer accepts.
func (h *Handler) invalidateSession() {
	h.hctx.Session.ClearPersistedKeys()

	if h.hctx.Store != nil {
		if err := h.hctx.Store.DeleteSecrets(h.hctx.Session.Account()); err != nil {
			h.log().WithError(err).Warn("Failed to delete secrets")
		}
	}
}

// saveSecrets persists the Session's keys, if a Store is present.
func (h *Handler) saveSecrets() {
	if h.hctx.Store == nil {
		return
	}
	if err := h.hctx.Store.SaveSecrets(h.hctx.Session.Secrets()); err != nil {
		h.log().WithError(err).Warn("Failed to save secrets")
	}
}

// runCtx is cancelled when the Handler closes.
func (h *Handler) runCtx() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-h.stopSyn:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
