// SPDX-FileCopyrightText: 2024 The hibiki-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package nettest provides a scripted in-process server speaking the client's
// codec, for tests and local development.
//
// The Server mirrors a client using ecdh.Fallback: both sides derive the same
// share key without a real key exchange.
package nettest

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/dtn7/cboring"
	log "github.com/sirupsen/logrus"

	"github.com/hibiki-im/hibiki-go/pkg/codec"
	"github.com/hibiki-im/hibiki-go/pkg/ecdh"
	"github.com/hibiki-im/hibiki-go/pkg/protocol"
	"github.com/hibiki-im/hibiki-go/pkg/transport"
)

// Keys handed out by LoginSuccess.
var (
	D2Key            = []byte("0123456789abcdef")
	SessionTicketKey = []byte("fedcba9876543210")
)

// Reporter receives protocol violations, e.g., a *testing.T.
type Reporter interface {
	Errorf(format string, args ...interface{})
}

// LogReporter reports through logrus.
type LogReporter struct{}

func (LogReporter) Errorf(format string, args ...interface{}) {
	log.Errorf(format, args...)
}

type serverKeys struct {
	account string
}

func (k serverKeys) Account() string   { return k.account }
func (k serverKeys) SessionID() []byte { return nil }
func (k serverKeys) PublicKey() []byte { return ecdh.DefaultServerPublicKey }

func (k serverKeys) Key(kind codec.EncryptionKind) ([]byte, error) {
	switch kind {
	case codec.ShareKey:
		return ecdh.DefaultShareKey, nil
	case codec.SessionKey:
		return SessionTicketKey, nil
	case codec.PersistedKey:
		return D2Key, nil
	default:
		return nil, nil
	}
}

func (k serverKeys) PeerShareKey(_ []byte) ([]byte, error) {
	return ecdh.DefaultShareKey, nil
}

// HandlerFunc answers a request of one command.
type HandlerFunc func(c *Conn, raw codec.RawPacket)

// Server answers requests in order of arrival by the HandlerFunc registered
// for their command. Requests without a HandlerFunc are recorded only.
type Server struct {
	reporter Reporter
	codec    *codec.Codec

	mutex    sync.Mutex
	handlers map[string]HandlerFunc
	received map[string][]codec.RawPacket
	conns    []*Conn
	dials    int
	failDial bool
	closed   bool
}

// Conn is one client connection of a Server.
type Conn struct {
	server *Server
	conn   net.Conn

	writeMutex sync.Mutex
}

// NewServer for an account. It answers logins, registrations and heartbeats.
func NewServer(reporter Reporter, account string) *Server {
	s := &Server{
		reporter: reporter,
		codec:    codec.NewCodec(serverKeys{account}, protocol.NewRegistry()),
		handlers: make(map[string]HandlerFunc),
		received: make(map[string][]codec.RawPacket),
	}

	s.Handle(protocol.CmdLogin, func(c *Conn, raw codec.RawPacket) {
		c.ReplyLogin(raw, LoginSuccess())
	})
	s.Handle(protocol.CmdExchangeEmp, func(c *Conn, raw codec.RawPacket) {
		c.ReplyLogin(raw, LoginSuccess())
	})
	s.Handle(protocol.CmdRegister, func(c *Conn, raw codec.RawPacket) {
		c.Reply(raw, &protocol.RegisterResponse{OK: true})
	})
	s.Handle(protocol.CmdHeartbeat, func(c *Conn, raw codec.RawPacket) {
		var req protocol.HeartbeatRequest
		if err := protocol.Unmarshal(raw.Body, &req); err != nil {
			reporter.Errorf("heartbeat body: %v", err)
			return
		}
		c.Reply(raw, &protocol.HeartbeatResponse{Time: req.Time})
	})

	return s
}

// LoginSuccess with the Server's keys.
func LoginSuccess() *protocol.LoginSuccess {
	return &protocol.LoginSuccess{
		D2Key:            D2Key,
		SessionTicketKey: SessionTicketKey,
		TGT:              []byte("tgt"),
		Lifetime:         3600,
	}
}

// Handle replaces the HandlerFunc of a command.
func (s *Server) Handle(command string, handler HandlerFunc) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.handlers[command] = handler
}

// Received requests of a command.
func (s *Server) Received(command string) []codec.RawPacket {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return append([]codec.RawPacket(nil), s.received[command]...)
}

// Conn returns the latest connection or nil.
func (s *Server) Conn() *Conn {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if len(s.conns) == 0 {
		return nil
	}
	return s.conns[len(s.conns)-1]
}

// Dials counts the connection attempts through Dialer.
func (s *Server) Dials() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.dials
}

// SetFailDial lets all following dials fail.
func (s *Server) SetFailDial(fail bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.failDial = fail
}

// Dialer connects to this Server over in-memory pipes.
func (s *Server) Dialer() transport.Dialer {
	return transport.DialerFunc(func(_ context.Context, address string) (transport.Channel, error) {
		s.mutex.Lock()
		s.dials++
		fail := s.failDial
		s.mutex.Unlock()

		if fail {
			return nil, &net.OpError{Op: "dial", Net: "pipe", Err: net.UnknownNetworkError("refused")}
		}

		clientConn, serverConn := net.Pipe()
		s.Accept(serverConn)
		return transport.NewStreamChannel(clientConn, address, nil), nil
	})
}

// Accept serves a connection in the background.
func (s *Server) Accept(conn net.Conn) *Conn {
	c := &Conn{server: s, conn: conn}

	s.mutex.Lock()
	s.conns = append(s.conns, c)
	s.mutex.Unlock()

	go c.serve()
	return c
}

// Serve accepts connections of a listener until it is closed.
func (s *Server) Serve(l net.Listener) error {
	for {
		conn, err := l.Accept()
		if err != nil {
			s.mutex.Lock()
			closed := s.closed
			s.mutex.Unlock()

			if closed || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}

		log.WithField("peer", conn.RemoteAddr()).Debug("Server accepted connection")
		s.Accept(conn)
	}
}

// Close all connections.
func (s *Server) Close() {
	s.mutex.Lock()
	s.closed = true
	conns := s.conns
	s.mutex.Unlock()

	for _, c := range conns {
		_ = c.conn.Close()
	}
}

func (c *Conn) serve() {
	for {
		frame, err := codec.ReadFrame(c.conn)
		if err != nil {
			return
		}

		raw, err := c.server.codec.DecodeRaw(frame)
		if err != nil {
			c.server.reporter.Errorf("server failed to decode frame: %v", err)
			return
		}

		c.server.mutex.Lock()
		c.server.received[raw.CommandName] = append(c.server.received[raw.CommandName], raw)
		handler := c.server.handlers[raw.CommandName]
		c.server.mutex.Unlock()

		if handler != nil {
			handler(c, raw)
		}
	}
}

// Send a packet to the client.
func (c *Conn) Send(p codec.Packet) {
	frame, err := c.server.codec.Encode(p)
	if err != nil {
		c.server.reporter.Errorf("server failed to encode %v: %v", p, err)
		return
	}

	c.writeMutex.Lock()
	defer c.writeMutex.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(time.Second))
	_, _ = c.conn.Write(frame)
}

func (c *Conn) replyBody(raw codec.RawPacket, body []byte, code int32) {
	c.Send(codec.Packet{
		CommandName:    raw.CommandName,
		SequenceID:     raw.SequenceID,
		EncryptionKind: raw.EncryptionKind,
		Body:           body,
		ReturnCode:     code,
	})
}

// Reply to a request.
func (c *Conn) Reply(raw codec.RawPacket, m cboring.CborMarshaler) {
	body, err := protocol.Marshal(m)
	if err != nil {
		c.server.reporter.Errorf("marshalling %T: %v", m, err)
		return
	}
	c.replyBody(raw, body, 0)
}

// ReplyLogin answers a login request.
func (c *Conn) ReplyLogin(raw codec.RawPacket, resp protocol.LoginResponse) {
	body, err := protocol.MarshalLoginResponse(resp)
	if err != nil {
		c.server.reporter.Errorf("marshalling %T: %v", resp, err)
		return
	}
	c.replyBody(raw, body, 0)
}

// ReplySend answers a send request.
func (c *Conn) ReplySend(raw codec.RawPacket, resp protocol.SendResponse) {
	body, err := protocol.MarshalSendResponse(resp)
	if err != nil {
		c.server.reporter.Errorf("marshalling %T: %v", resp, err)
		return
	}
	c.replyBody(raw, body, 0)
}

// ReplyImage answers an image query.
func (c *Conn) ReplyImage(raw codec.RawPacket, resp protocol.ImageQueryResponse) {
	body, err := protocol.MarshalImageQueryResponse(resp)
	if err != nil {
		c.server.reporter.Errorf("marshalling %T: %v", resp, err)
		return
	}
	c.replyBody(raw, body, 0)
}

// ReplyCode answers with a bare return code.
func (c *Conn) ReplyCode(raw codec.RawPacket, code int32) {
	c.replyBody(raw, nil, code)
}

// Push a packet to the client.
func (c *Conn) Push(command string, sequenceID uint32, m cboring.CborMarshaler) {
	body, err := protocol.Marshal(m)
	if err != nil {
		c.server.reporter.Errorf("marshalling %T: %v", m, err)
		return
	}
	c.Send(codec.Packet{
		CommandName:    command,
		SequenceID:     sequenceID,
		EncryptionKind: codec.PersistedKey,
		Body:           body,
	})
}
