// SPDX-FileCopyrightText: 2024 The hibiki-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import (
	"context"

	log "github.com/sirupsen/logrus"
)

// TCPDialer establishes plain TCP connections.
type TCPDialer struct {
	conf Config
}

// Dial a host:port address.
func (d *TCPDialer) Dial(ctx context.Context, address string) (Channel, error) {
	ctx, cancel := context.WithTimeout(ctx, d.conf.connectTimeout())
	defer cancel()

	conn, err := newNetDialer(d.conf.connectTimeout()).DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"address": address,
		"local":   conn.LocalAddr(),
	}).Debug("Established TCP connection")

	return NewStreamChannel(conn, conn.RemoteAddr().String(), nil), nil
}
