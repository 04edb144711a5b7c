// SPDX-FileCopyrightText: 2024 The hibiki-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

//go:build linux
// +build linux

package transport

import (
	"net"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// Linux allows a faster detection of dead connections than the keepalive of
// net.Dialer. The options are described in tcp(7).

// dialControl sets the socket options of a dialed TCP connection.
func dialControl(_, _ string, rawConn syscall.RawConn) (err error) {
	const (
		// tcpKeepCnt is the number of unanswered keepalive probes before the connection is dropped.
		tcpKeepCnt int = 3

		// tcpKeepIdle is the idle time in seconds before probes are sent.
		tcpKeepIdle int = 30

		// tcpKeepIntvl is the time in seconds between two probes.
		tcpKeepIntvl int = 10

		// tcpUserTimeout is the time in milliseconds data may remain unacknowledged.
		tcpUserTimeout int = 30000
	)

	opts := map[int]int{
		unix.TCP_KEEPCNT:      tcpKeepCnt,
		unix.TCP_KEEPIDLE:     tcpKeepIdle,
		unix.TCP_KEEPINTVL:    tcpKeepIntvl,
		unix.TCP_USER_TIMEOUT: tcpUserTimeout,
	}

	ctrlErr := rawConn.Control(func(fd uintptr) {
		if err = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1); err != nil {
			return
		}
		for opt, value := range opts {
			if err = unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, opt, value); err != nil {
				return
			}
		}
	})
	if ctrlErr != nil {
		err = ctrlErr
	}

	return
}

func newNetDialer(timeout time.Duration) *net.Dialer {
	return &net.Dialer{
		Timeout: timeout,
		// The socket options replace Go's own keepalive.
		KeepAlive: -1,
		Control:   dialControl,
	}
}
