// SPDX-FileCopyrightText: 2024 The hibiki-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package transport provides the byte channels a connection is built upon.
//
// A Channel exchanges whole frames, as read by codec.ReadFrame. Three Dialers
// exist: plain TCP, WebSocket with one frame per binary message, and QUIC with
// a single bidirectional stream.
package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrClosed is returned by a Channel's methods after Close.
var ErrClosed = errors.New("transport: channel closed")

// Channel is a bidirectional, frame-oriented connection to a server.
type Channel interface {
	// Read blocks until the next frame arrives.
	Read(ctx context.Context) ([]byte, error)

	// Send a frame.
	Send(ctx context.Context, frame []byte) error

	// Close the Channel. Blocked Read and Send calls return.
	Close() error

	// RemoteAddr of the server.
	RemoteAddr() string
}

// Dialer establishes Channels.
type Dialer interface {
	Dial(ctx context.Context, address string) (Channel, error)
}

// Kind of a Dialer.
type Kind string

const (
	TCP       Kind = "tcp"
	WebSocket Kind = "websocket"
	QUIC      Kind = "quic"
)

// Config for all Dialers.
type Config struct {
	// ConnectTimeout bounds Dial, unless the context has an earlier deadline.
	ConnectTimeout time.Duration

	// QUICInsecure skips the server certificate verification of QUIC connections.
	QUICInsecure bool
}

const defaultConnectTimeout = 5 * time.Second

func (conf Config) connectTimeout() time.Duration {
	if conf.ConnectTimeout <= 0 {
		return defaultConnectTimeout
	}
	return conf.ConnectTimeout
}

// ParseKind of a configuration value. The empty string selects TCP.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(s)); k {
	case "":
		return TCP, nil
	case TCP, WebSocket, QUIC:
		return k, nil
	default:
		return "", fmt.Errorf("unknown transport %q", s)
	}
}

// NewDialer of the given Kind.
func NewDialer(kind Kind, conf Config) (Dialer, error) {
	switch kind {
	case TCP, "":
		return &TCPDialer{conf: conf}, nil
	case WebSocket:
		return &WebSocketDialer{conf: conf}, nil
	case QUIC:
		return &QUICDialer{conf: conf}, nil
	default:
		return nil, fmt.Errorf("unknown transport %q", kind)
	}
}

// DialerFunc adapts a function to a Dialer.
type DialerFunc func(ctx context.Context, address string) (Channel, error)

func (f DialerFunc) Dial(ctx context.Context, address string) (Channel, error) {
	return f(ctx, address)
}
