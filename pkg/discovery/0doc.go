// SPDX-FileCopyrightText: 2024 The hibiki-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package discovery finds servers within the local network through UDP
// multicast announcements, e.g., development servers without a fixed address.
package discovery

const (
	// address4 is the default multicast IPv4 address used for discovery.
	address4 = "224.23.23.42"

	// address6 is the default multicast IPv6 address used for discovery.
	address6 = "ff02::2342"

	// port is the default multicast UDP port used for discovery.
	port = 35042
)
