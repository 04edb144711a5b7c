// SPDX-FileCopyrightText: 2024 The hibiki-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package message

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrSourceUnresolved is returned by Source.IDs before the Source was resolved.
var ErrSourceUnresolved = errors.New("message source is not resolved yet")

// Source identifies a sent message. Its sequence ids are only known after the
// server acknowledged all packets, so a Source acts as a future.
type Source struct {
	Target Target
	Random uint32
	Time   uint64

	once  sync.Once
	done  chan struct{}
	ids   []uint32
	err   error
	mutex sync.Mutex
}

// NewSource for a message to be sent.
func NewSource(target Target, random uint32, time uint64) *Source {
	return &Source{
		Target: target,
		Random: random,
		Time:   time,
		done:   make(chan struct{}),
	}
}

// ResolvedSource of an already known message, e.g., for quoting.
func ResolvedSource(target Target, ids []uint32, time uint64) *Source {
	src := NewSource(target, 0, time)
	src.Resolve(ids)
	return src
}

func (src *Source) complete(ids []uint32, err error) {
	src.once.Do(func() {
		src.mutex.Lock()
		src.ids = append([]uint32(nil), ids...)
		src.err = err
		src.mutex.Unlock()
		close(src.done)
	})
}

// Resolve the Source with the server's sequence ids. Only the first call of Resolve or Fail counts.
func (src *Source) Resolve(ids []uint32) {
	src.complete(ids, nil)
}

// Fail the Source, e.g., when sending was aborted.
func (src *Source) Fail(err error) {
	src.complete(nil, err)
}

// Done is closed after the Source was resolved or failed.
func (src *Source) Done() <-chan struct{} {
	return src.done
}

// Await the resolution of the Source.
func (src *Source) Await(ctx context.Context) ([]uint32, error) {
	select {
	case <-src.done:
		return src.IDs()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// IDs returns the sequence ids without blocking.
func (src *Source) IDs() ([]uint32, error) {
	select {
	case <-src.done:
	default:
		return nil, ErrSourceUnresolved
	}

	src.mutex.Lock()
	defer src.mutex.Unlock()
	return append([]uint32(nil), src.ids...), src.err
}

func (src *Source) String() string {
	ids, err := src.IDs()
	if err != nil {
		return fmt.Sprintf("Source(%v, %v)", src.Target, err)
	}
	return fmt.Sprintf("Source(%v, %v)", src.Target, ids)
}
