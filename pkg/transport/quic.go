// SPDX-FileCopyrightText: 2024 The hibiki-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/quic-go/quic-go"
	log "github.com/sirupsen/logrus"
)

// QUICProtocol is the ALPN protocol name negotiated by QUIC connections.
const QUICProtocol = "hibiki-sso"

// QUIC application error codes.
const (
	QUICNoError        quic.ApplicationErrorCode = 0
	QUICLocalError     quic.ApplicationErrorCode = 1
	QUICClientShutdown quic.ApplicationErrorCode = 2
)

// QUICDialer establishes QUIC connections and opens a single stream on each.
type QUICDialer struct {
	conf Config
}

// QUICConfig used by both dialers and test listeners.
func QUICConfig() *quic.Config {
	return &quic.Config{
		KeepAlivePeriod: 10 * time.Second,
		MaxIdleTimeout:  30 * time.Second,
	}
}

func (d *QUICDialer) tlsConfig() *tls.Config {
	return &tls.Config{
		InsecureSkipVerify: d.conf.QUICInsecure,
		NextProtos:         []string{QUICProtocol},
		MinVersion:         tls.VersionTLS13,
	}
}

// Dial a host:port address.
func (d *QUICDialer) Dial(ctx context.Context, address string) (Channel, error) {
	ctx, cancel := context.WithTimeout(ctx, d.conf.connectTimeout())
	defer cancel()

	conn, err := quic.DialAddr(ctx, address, d.tlsConfig(), QUICConfig())
	if err != nil {
		return nil, err
	}

	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		_ = conn.CloseWithError(QUICLocalError, "opening stream failed")
		return nil, err
	}

	log.WithFields(log.Fields{
		"address": address,
		"stream":  stream.StreamID(),
	}).Debug("Established QUIC connection")

	return NewQUICChannel(conn, stream), nil
}

// NewQUICChannel exchanges frames over one stream of a QUIC connection.
// Closing the Channel closes the whole connection.
func NewQUICChannel(conn quic.Connection, stream quic.Stream) *StreamChannel {
	return NewStreamChannel(stream, conn.RemoteAddr().String(), func() error {
		return conn.CloseWithError(QUICClientShutdown, "client shutting down")
	})
}
