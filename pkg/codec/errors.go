// SPDX-FileCopyrightText: 2024 The hibiki-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package codec

import (
	"errors"
	"fmt"
)

var (
	// ErrConnectionUnusable indicates a broken byte stream. Unlike all other
	// errors of this package, it concerns the connection and not a single packet.
	ErrConnectionUnusable = errors.New("codec: connection unusable")

	// ErrMalformedFrame is returned for frames violating the wire format.
	ErrMalformedFrame = errors.New("codec: malformed frame")

	// ErrUnknownEncryption is returned for unknown encryption kinds.
	ErrUnknownEncryption = errors.New("codec: unknown encryption kind")

	// ErrUnknownCompression is returned for unknown compression flags.
	ErrUnknownCompression = errors.New("codec: unknown compression")

	// ErrNoKey is returned if no key is known for an encryption kind yet.
	ErrNoKey = errors.New("codec: no key available")
)

// ReturnCodeError is a non-zero return code of an incoming SSO frame.
type ReturnCodeError struct {
	Command string
	Code    int32
}

func (e *ReturnCodeError) Error() string {
	return fmt.Sprintf("codec: %s returned code %d", e.Command, e.Code)
}

// Fatal codes signal a session the server no longer accepts.
func (e *ReturnCodeError) Fatal() bool {
	return e.Code <= -10000
}

// DecodeError wraps a command decoder's failure.
type DecodeError struct {
	Command    string
	SequenceID uint32
	Cause      error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("codec: decoding %s (seq %d) failed: %v", e.Command, e.SequenceID, e.Cause)
}

func (e *DecodeError) Unwrap() error {
	return e.Cause
}
