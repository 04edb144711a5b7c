// SPDX-FileCopyrightText: 2024 The hibiki-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package network

import "fmt"

// State of a Handler.
type State uint32

const (
	// Initialized is the state of a new Handler.
	Initialized State = iota
	// Connecting while the transport is established.
	Connecting
	// Loading while the login procedure runs.
	Loading
	// OK for an established, logged in session.
	OK
	// Closed is terminal.
	Closed
)

func (s State) String() string {
	switch s {
	case Initialized:
		return "Initialized"
	case Connecting:
		return "Connecting"
	case Loading:
		return "Loading"
	case OK:
		return "OK"
	case Closed:
		return "Closed"
	default:
		return fmt.Sprintf("State(%d)", uint32(s))
	}
}

// legalTransition of a single Handler. Replacing a failed OK connection by a
// new Connecting one happens in the selector across two Handlers.
func legalTransition(from, to State) bool {
	switch from {
	case Initialized:
		return to == Connecting || to == Closed
	case Connecting:
		return to == Loading || to == Closed
	case Loading:
		return to == OK || to == Closed
	case OK:
		return to == Closed
	default:
		return false
	}
}
