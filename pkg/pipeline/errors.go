// SPDX-FileCopyrightText: 2024 The hibiki-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiki-im/hibiki-go/pkg/message"
)

var (
	// ErrEmptyMessage is returned for chains without content.
	ErrEmptyMessage = errors.New("message is empty")

	// ErrSendCancelled is returned if a pre-send hook cancelled the message.
	ErrSendCancelled = errors.New("sending was cancelled")

	// ErrAllStrategiesTried is matched by *AllStrategiesTriedError.
	ErrAllStrategiesTried = errors.New("all strategies tried")
)

// MessageTooLargeError rejects a message exceeding a limit.
type MessageTooLargeError struct {
	Target message.Target
	Reason string
}

func (err *MessageTooLargeError) Error() string {
	return fmt.Sprintf("message to %v is too large: %s", err.Target, err.Reason)
}

// BotMutedError rejects a message to a group the account is muted in.
type BotMutedError struct {
	Group uint64
}

func (err *BotMutedError) Error() string {
	return fmt.Sprintf("muted in group %d", err.Group)
}

// SendFailedError is a generic failure of a send packet. It triggers a fallback.
type SendFailedError struct {
	Command string
	Code    uint64
	Message string
	Cause   error
}

func (err *SendFailedError) Error() string {
	if err.Cause != nil {
		return fmt.Sprintf("sending %s failed: %v", err.Command, err.Cause)
	}
	return fmt.Sprintf("sending %s failed with code %d: %s", err.Command, err.Code, err.Message)
}

func (err *SendFailedError) Unwrap() error {
	return err.Cause
}

// AllStrategiesTriedError ends a send after every strategy failed.
type AllStrategiesTriedError struct {
	Tried  []Strategy
	Causes error
}

func (err *AllStrategiesTriedError) Error() string {
	if err.Causes == nil {
		return fmt.Sprintf("%v after %v", ErrAllStrategiesTried, err.Tried)
	}
	return fmt.Sprintf("%v after %v: %v", ErrAllStrategiesTried, err.Tried, err.Causes)
}

func (err *AllStrategiesTriedError) Is(target error) bool {
	return target == ErrAllStrategiesTried
}

func (err *AllStrategiesTriedError) Unwrap() error {
	return err.Causes
}

// retriable reports whether a failure may be retried under another strategy.
func retriable(err error) bool {
	var (
		tooLarge *MessageTooLargeError
		muted    *BotMutedError
	)

	switch {
	case errors.As(err, &tooLarge), errors.As(err, &muted):
		return false
	case errors.Is(err, ErrAllStrategiesTried), errors.Is(err, ErrSendCancelled), errors.Is(err, ErrEmptyMessage):
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	default:
		return true
	}
}
