// SPDX-FileCopyrightText: 2024 The hibiki-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package network

import (
	"errors"
	"fmt"
)

var (
	// ErrHandlerClosed is the cause of an explicitly closed Handler.
	ErrHandlerClosed = errors.New("handler closed")

	// ErrServerRequestedReconnect is the cause of a Handler closed by the server's reconnect push.
	ErrServerRequestedReconnect = errors.New("server requested reconnect")

	// ErrNotConnected is returned for sending on a Handler without an established transport.
	ErrNotConnected = errors.New("not connected")
)

// LoginFailedError is a terminal rejection of the login.
type LoginFailedError struct {
	Code    uint64
	Title   string
	Message string
	// Killed is set for accounts which must not try to login again, e.g., banned ones.
	Killed bool
}

func (err *LoginFailedError) Error() string {
	return fmt.Sprintf("login failed (%d): %s: %s", err.Code, err.Title, err.Message)
}

// RedirectError asks to connect to another server.
type RedirectError struct {
	Address string
}

func (err *RedirectError) Error() string {
	return fmt.Sprintf("redirected to %s", err.Address)
}

// HeartbeatFailedError is raised after a heartbeat and its retry failed.
type HeartbeatFailedError struct {
	Name  string
	Cause error
}

func (err *HeartbeatFailedError) Error() string {
	return fmt.Sprintf("%s failed: %v", err.Name, err.Cause)
}

func (err *HeartbeatFailedError) Unwrap() error {
	return err.Cause
}

// ForceOfflineError is raised when the server kicked this client.
type ForceOfflineError struct {
	Title   string
	Message string
}

func (err *ForceOfflineError) Error() string {
	return fmt.Sprintf("forced offline: %s: %s", err.Title, err.Message)
}

// NetworkError wraps transport failures.
type NetworkError struct {
	Cause       error
	Recoverable bool
}

func (err *NetworkError) Error() string {
	return fmt.Sprintf("network error: %v", err.Cause)
}

func (err *NetworkError) Unwrap() error {
	return err.Cause
}

// IsRecoverable reports whether a new connection might succeed after a Handler was closed with err.
func IsRecoverable(err error) bool {
	var (
		loginErr *LoginFailedError
		forceErr *ForceOfflineError
		netErr   *NetworkError
	)

	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrHandlerClosed):
		return false
	case errors.As(err, &loginErr), errors.As(err, &forceErr):
		return false
	case errors.As(err, &netErr):
		return netErr.Recoverable
	default:
		return true
	}
}
