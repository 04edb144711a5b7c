// SPDX-FileCopyrightText: 2024 The hibiki-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package bot wires a session, its connections and the outgoing message
// pipeline into a single client.
package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"

	"github.com/hibiki-im/hibiki-go/pkg/codec"
	"github.com/hibiki-im/hibiki-go/pkg/ecdh"
	"github.com/hibiki-im/hibiki-go/pkg/event"
	"github.com/hibiki-im/hibiki-go/pkg/message"
	"github.com/hibiki-im/hibiki-go/pkg/network"
	"github.com/hibiki-im/hibiki-go/pkg/pipeline"
	"github.com/hibiki-im/hibiki-go/pkg/protocol"
	"github.com/hibiki-im/hibiki-go/pkg/selector"
	"github.com/hibiki-im/hibiki-go/pkg/storage"
	"github.com/hibiki-im/hibiki-go/pkg/transport"
)

// ErrClosed is returned after Close was called.
var ErrClosed = errors.New("bot closed")

// Config of a Bot.
type Config struct {
	Identity network.Identity

	// KeyExchange defaults to ecdh.New().
	KeyExchange ecdh.KeyExchange
	// InitialPublicKey of the server, defaults to ecdh.DefaultServerPublicKey.
	InitialPublicKey []byte

	// Transport of new connections, ignored if Dialer is set.
	Transport       transport.Kind
	TransportConfig transport.Config
	Dialer          transport.Dialer

	// StorePath of the secrets store. Secrets are not persisted without one.
	StorePath string

	// Solver answers login challenges. Without one, challenges fail the login.
	Solver network.LoginSolver

	Network  network.Config
	Selector selector.Config
	Pipeline pipeline.Config
}

// Bot is a client for one account.
type Bot struct {
	conf Config

	store    *storage.Store
	session  *network.Session
	bus      *event.Bus
	registry *codec.Registry
	dialer   transport.Dialer
	sso      *network.Sso

	selector *selector.Selector
	outgoing *pipeline.Outgoing

	closeOnce sync.Once
	closed    chan struct{}
}

// New Bot, not yet logged in.
func New(conf Config) (b *Bot, err error) {
	if conf.Identity.Account == "" {
		return nil, fmt.Errorf("missing account")
	}
	if conf.KeyExchange == nil {
		conf.KeyExchange = ecdh.New()
	}

	b = &Bot{
		conf:     conf,
		bus:      event.NewBus(),
		registry: protocol.NewRegistry(),
		sso:      network.NewSso(conf.Solver),
		closed:   make(chan struct{}),
	}

	if b.dialer = conf.Dialer; b.dialer == nil {
		if b.dialer, err = transport.NewDialer(conf.Transport, conf.TransportConfig); err != nil {
			return nil, err
		}
	}

	if b.session, err = network.NewSession(conf.Identity, conf.KeyExchange, conf.InitialPublicKey); err != nil {
		return nil, err
	}

	b.selector = selector.New(b.newHandler, conf.Selector)

	if conf.StorePath != "" {
		if b.store, err = storage.NewStore(conf.StorePath); err != nil {
			return nil, err
		}
		b.restoreSecrets()
	}

	b.outgoing = pipeline.NewOutgoing(conf.Pipeline, pipeline.Dependencies{
		Sender:   b.selector,
		Uploader: b,
		Images:   b,
		Bus:      b.bus,
		Registry: b.registry,
	})

	return b, nil
}

func (b *Bot) log() *log.Entry {
	return log.WithField("bot", b.conf.Identity.Account)
}

func (b *Bot) restoreSecrets() {
	b.store.DeleteExpired()

	secrets, err := b.store.LoadSecrets(b.conf.Identity.Account)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return
	case err != nil:
		b.log().WithError(err).Warn("Failed to load stored secrets")
		return
	}

	if !b.session.RestoreSecrets(secrets) {
		b.log().Info("Stored secrets belong to another device, ignoring them")
		return
	}
	if len(secrets.Servers) > 0 {
		b.selector.SetServers(secrets.Servers)
	}

	b.log().WithFields(log.Fields{
		"servers":    len(secrets.Servers),
		"fast-login": b.session.HasPersistedKeys(),
	}).Info("Restored stored secrets")
}

// newHandler is the selector.Factory.
func (b *Bot) newHandler(address string) (*network.Handler, error) {
	select {
	case <-b.closed:
		return nil, ErrClosed
	default:
	}

	return network.NewHandler(b.conf.Network, network.Context{
		Dialer:     b.dialer,
		Address:    address,
		Registry:   b.registry,
		Session:    b.session,
		Bus:        b.bus,
		Sso:        b.sso,
		Store:      b.store,
		ServerList: b.selector,
	}), nil
}

// Login connects and logs in, if not already online.
func (b *Bot) Login(ctx context.Context) error {
	return b.selector.ResumeConnection(ctx)
}

// SendMessage to a target.
func (b *Bot) SendMessage(ctx context.Context, target message.Target, chain message.Chain) (*pipeline.Receipt, error) {
	select {
	case <-b.closed:
		return nil, ErrClosed
	default:
	}
	return b.outgoing.Send(ctx, target, chain)
}

// State of the current connection.
func (b *Bot) State() network.State {
	return b.selector.State()
}

// Servers known to the Bot.
func (b *Bot) Servers() []string {
	return b.selector.Addresses()
}

// AddDiscovered server address, implementing discovery.Sink.
func (b *Bot) AddDiscovered(address string) {
	b.selector.AddDiscovered(address)
}

// Events of this Bot.
func (b *Bot) Events() *event.Bus {
	return b.bus
}

// Session of this Bot.
func (b *Bot) Session() *network.Session {
	return b.session
}

// Close the connection and the store.
func (b *Bot) Close() (err error) {
	b.closeOnce.Do(func() {
		close(b.closed)

		b.selector.Close()

		var errs *multierror.Error
		if b.store != nil {
			if b.session.HasPersistedKeys() {
				errs = multierror.Append(errs, b.store.SaveSecrets(b.session.Secrets()))
			}
			errs = multierror.Append(errs, b.store.Close())
		}
		b.bus.Close()

		err = errs.ErrorOrNil()
		b.log().Info("Bot closed")
	})
	return
}
