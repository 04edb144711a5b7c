// SPDX-FileCopyrightText: 2024 The hibiki-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package network

import (
	"errors"
	"fmt"
	"testing"
)

func TestLegalTransition(t *testing.T) {
	states := []State{Initialized, Connecting, Loading, OK, Closed}
	legal := map[[2]State]bool{
		{Initialized, Connecting}: true,
		{Initialized, Closed}:     true,
		{Connecting, Loading}:     true,
		{Connecting, Closed}:      true,
		{Loading, OK}:             true,
		{Loading, Closed}:         true,
		{OK, Closed}:              true,
	}

	for _, from := range states {
		for _, to := range states {
			if got := legalTransition(from, to); got != legal[[2]State{from, to}] {
				t.Errorf("%v -> %v: expected %t", from, to, !got)
			}
		}
	}
}

func TestIsRecoverable(t *testing.T) {
	tests := []struct {
		err         error
		recoverable bool
	}{
		{nil, false},
		{ErrHandlerClosed, false},
		{fmt.Errorf("wrapped: %w", ErrHandlerClosed), false},
		{&LoginFailedError{Code: 1}, false},
		{&ForceOfflineError{}, false},
		{&NetworkError{Cause: errors.New("x"), Recoverable: false}, false},
		{&NetworkError{Cause: errors.New("x"), Recoverable: true}, true},
		{&RedirectError{Address: "a:1"}, true},
		{&HeartbeatFailedError{Name: "hb", Cause: errors.New("timeout")}, true},
		{ErrServerRequestedReconnect, true},
	}

	for _, test := range tests {
		if got := IsRecoverable(test.err); got != test.recoverable {
			t.Errorf("%v: expected %t, got %t", test.err, test.recoverable, got)
		}
	}
}

func TestStateString(t *testing.T) {
	if s := OK.String(); s != "OK" {
		t.Fatalf("unexpected %q", s)
	}
	if s := State(42).String(); s != "State(42)" {
		t.Fatalf("unexpected %q", s)
	}
}
