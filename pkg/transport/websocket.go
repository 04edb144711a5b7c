// SPDX-FileCopyrightText: 2024 The hibiki-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/hibiki-im/hibiki-go/pkg/codec"
)

// WebSocketDialer establishes WebSocket connections. Each binary message carries one frame.
type WebSocketDialer struct {
	conf Config
}

// websocketURL prefixes a bare host:port with the ws scheme.
func websocketURL(address string) string {
	if strings.HasPrefix(address, "ws://") || strings.HasPrefix(address, "wss://") {
		return address
	}
	return "ws://" + address + "/"
}

// Dial a host:port address or a ws:// or wss:// URL.
func (d *WebSocketDialer) Dial(ctx context.Context, address string) (Channel, error) {
	ctx, cancel := context.WithTimeout(ctx, d.conf.connectTimeout())
	defer cancel()

	dialer := &websocket.Dialer{
		HandshakeTimeout: d.conf.connectTimeout(),
		NetDialContext:   newNetDialer(d.conf.connectTimeout()).DialContext,
	}

	conn, _, err := dialer.DialContext(ctx, websocketURL(address), nil)
	if err != nil {
		return nil, err
	}

	log.WithField("address", address).Debug("Established WebSocket connection")
	return NewWebSocketChannel(conn), nil
}

// WebSocketChannel exchanges frames as binary messages of a *websocket.Conn.
type WebSocketChannel struct {
	conn        *websocket.Conn
	messageType int

	inChan chan []byte

	writeMutex sync.Mutex

	stopSyn   chan struct{}
	closeOnce sync.Once

	err error

	// finished is accessed by sync.atomic functions; zero means running, everything else indicates a finished state
	finished uint32
}

// NewWebSocketChannel for an established *websocket.Conn, used by both clients and servers.
func NewWebSocketChannel(conn *websocket.Conn) (wc *WebSocketChannel) {
	wc = &WebSocketChannel{
		conn:        conn,
		messageType: websocket.BinaryMessage,

		inChan: make(chan []byte, 32),

		stopSyn: make(chan struct{}),
	}

	go wc.handleIn()

	return
}

func (wc *WebSocketChannel) finish(err error) {
	if atomic.CompareAndSwapUint32(&wc.finished, 0, 1) {
		wc.err = err
		close(wc.stopSyn)
	}
}

func (wc *WebSocketChannel) handleIn() {
	for {
		mt, data, err := wc.conn.ReadMessage()
		if err != nil {
			wc.finish(fmt.Errorf("%w: %v", codec.ErrConnectionUnusable, err))
			return
		} else if mt != wc.messageType {
			wc.finish(fmt.Errorf("%w: expected message type %d instead of %d", codec.ErrConnectionUnusable, wc.messageType, mt))
			return
		}

		frame, err := codec.ReadFrame(bytes.NewReader(data))
		if err != nil {
			wc.finish(err)
			return
		}

		select {
		case wc.inChan <- frame:
		case <-wc.stopSyn:
			return
		}
	}
}

// Read the next frame.
func (wc *WebSocketChannel) Read(ctx context.Context) ([]byte, error) {
	select {
	case frame := <-wc.inChan:
		return frame, nil
	case <-wc.stopSyn:
		select {
		case frame := <-wc.inChan:
			return frame, nil
		default:
			return nil, wc.err
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Send a frame as one binary message.
func (wc *WebSocketChannel) Send(ctx context.Context, frame []byte) error {
	if atomic.LoadUint32(&wc.finished) != 0 {
		<-wc.stopSyn
		return wc.err
	}

	wc.writeMutex.Lock()
	defer wc.writeMutex.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		_ = wc.conn.SetWriteDeadline(deadline)
		defer func() { _ = wc.conn.SetWriteDeadline(time.Time{}) }()
	}

	if err := wc.conn.WriteMessage(wc.messageType, frame); err != nil {
		wc.finish(err)
		return err
	}
	return nil
}

// Close the WebSocket connection after sending a close message.
func (wc *WebSocketChannel) Close() (err error) {
	wc.finish(ErrClosed)

	wc.closeOnce.Do(func() {
		_ = wc.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))

		err = wc.conn.Close()
	})
	return
}

// RemoteAddr of the WebSocket's peer.
func (wc *WebSocketChannel) RemoteAddr() string {
	return wc.conn.RemoteAddr().String()
}
