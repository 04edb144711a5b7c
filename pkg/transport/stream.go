// SPDX-FileCopyrightText: 2024 The hibiki-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import (
	"bufio"
	"context"
	"io"
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"

	"github.com/hibiki-im/hibiki-go/pkg/codec"
)

// outFrame is a frame queued for the writer Goroutine.
type outFrame struct {
	data []byte
	done chan error
}

// StreamChannel exchanges frames over a byte stream, e.g., a TCP connection or a QUIC stream.
//
// One Goroutine reads frames into a channel, another one writes queued frames.
// The first error of either of them finishes the StreamChannel.
type StreamChannel struct {
	rwc    io.ReadWriteCloser
	remote string
	onStop func() error

	inChan  chan []byte
	outChan chan outFrame

	stopSyn   chan struct{}
	closeOnce sync.Once

	err error

	// finished is accessed by sync.atomic functions; zero means running, everything else indicates a finished state
	finished uint32
}

// NewStreamChannel for an established byte stream. The optional onStop is
// called once after the stream was closed.
func NewStreamChannel(rwc io.ReadWriteCloser, remote string, onStop func() error) (sc *StreamChannel) {
	sc = &StreamChannel{
		rwc:    rwc,
		remote: remote,
		onStop: onStop,

		inChan:  make(chan []byte, 32),
		outChan: make(chan outFrame, 32),

		stopSyn: make(chan struct{}),
	}

	go sc.handleIn()
	go sc.handleOut()

	return
}

func (sc *StreamChannel) log() *log.Entry {
	return log.WithField("channel", sc.remote)
}

// finish stores the first error and stops the StreamChannel.
func (sc *StreamChannel) finish(err error) {
	if atomic.CompareAndSwapUint32(&sc.finished, 0, 1) {
		sc.err = err
		close(sc.stopSyn)
	}
}

func (sc *StreamChannel) handleIn() {
	in := bufio.NewReader(sc.rwc)

	for {
		frame, err := codec.ReadFrame(in)
		if err != nil {
			sc.finish(err)
			return
		}

		select {
		case sc.inChan <- frame:
		case <-sc.stopSyn:
			return
		}
	}
}

func (sc *StreamChannel) handleOut() {
	out := bufio.NewWriter(sc.rwc)

	for {
		select {
		case <-sc.stopSyn:
			return

		case frame := <-sc.outChan:
			_, err := out.Write(frame.data)
			if err == nil {
				err = out.Flush()
			}
			frame.done <- err

			if err != nil {
				sc.finish(err)
				return
			}
		}
	}
}

// Read the next frame.
func (sc *StreamChannel) Read(ctx context.Context) ([]byte, error) {
	select {
	case frame := <-sc.inChan:
		return frame, nil
	case <-sc.stopSyn:
		// Frames read before the error are still delivered.
		select {
		case frame := <-sc.inChan:
			return frame, nil
		default:
			return nil, sc.err
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Send a frame and wait until it was written.
func (sc *StreamChannel) Send(ctx context.Context, frame []byte) error {
	done := make(chan error, 1)

	select {
	case sc.outChan <- outFrame{data: frame, done: done}:
	case <-sc.stopSyn:
		return sc.err
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-done:
		return err
	case <-sc.stopSyn:
		return sc.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close the underlying stream. Subsequent calls are no-ops.
func (sc *StreamChannel) Close() (err error) {
	sc.finish(ErrClosed)

	sc.closeOnce.Do(func() {
		err = sc.rwc.Close()
		if sc.onStop != nil {
			if stopErr := sc.onStop(); stopErr != nil && err == nil {
				err = stopErr
			}
		}

		sc.log().Debug("Closed stream channel")
	})
	return
}

// RemoteAddr of the stream's peer.
func (sc *StreamChannel) RemoteAddr() string {
	return sc.remote
}
