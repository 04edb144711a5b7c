// SPDX-FileCopyrightText: 2024 The hibiki-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MaxFrameSize limits a single incoming frame.
const MaxFrameSize = 16 << 20

// minFrameSize covers the length, marker, kind and an empty account field.
const minFrameSize = 4 + 1 + 1 + 4

// ReadFrame reads one length-prefixed frame from a byte stream. The returned
// slice includes the length prefix.
func ReadFrame(r io.Reader) ([]byte, error) {
	var head [4]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: %v", ErrConnectionUnusable, err)
		}
		return nil, err
	}

	size := binary.BigEndian.Uint32(head[:])
	if size == 0 {
		return nil, fmt.Errorf("%w: zero-length frame", ErrConnectionUnusable)
	} else if size < minFrameSize || size > MaxFrameSize {
		// The stream is out of sync, there is no way to find the next frame.
		return nil, fmt.Errorf("%w: frame length %d", ErrConnectionUnusable, size)
	}

	frame := make([]byte, size)
	copy(frame, head[:])
	if _, err := io.ReadFull(r, frame[4:]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionUnusable, err)
	}
	return frame, nil
}

// writer appends big-endian fields.
type writer struct {
	buf []byte
}

func (w *writer) u8(v byte) {
	w.buf = append(w.buf, v)
}

func (w *writer) u16(v uint16) {
	w.buf = binary.BigEndian.AppendUint16(w.buf, v)
}

func (w *writer) u32(v uint32) {
	w.buf = binary.BigEndian.AppendUint32(w.buf, v)
}

// lv writes a field prefixed by its length plus the four bytes of the prefix itself.
func (w *writer) lv(b []byte) {
	w.u32(uint32(len(b) + 4))
	w.buf = append(w.buf, b...)
}

// shortLv writes a field prefixed by its plain two byte length.
func (w *writer) shortLv(b []byte) {
	w.u16(uint16(len(b)))
	w.buf = append(w.buf, b...)
}

func (w *writer) bytes(b []byte) {
	w.buf = append(w.buf, b...)
}

// reader consumes big-endian fields. The first error sticks.
type reader struct {
	buf []byte
	err error
}

func (r *reader) fail(format string, a ...interface{}) {
	if r.err == nil {
		r.err = fmt.Errorf("%w: %s", ErrMalformedFrame, fmt.Sprintf(format, a...))
	}
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || n > len(r.buf) {
		r.fail("need %d bytes, %d left", n, len(r.buf))
		return nil
	}
	b := r.buf[:n]
	r.buf = r.buf[n:]
	return b
}

func (r *reader) u8() byte {
	if b := r.take(1); b != nil {
		return b[0]
	}
	return 0
}

func (r *reader) u16() uint16 {
	if b := r.take(2); b != nil {
		return binary.BigEndian.Uint16(b)
	}
	return 0
}

func (r *reader) u32() uint32 {
	if b := r.take(4); b != nil {
		return binary.BigEndian.Uint32(b)
	}
	return 0
}

func (r *reader) lv() []byte {
	l := r.u32()
	if r.err == nil && l < 4 {
		r.fail("length field %d is smaller than its prefix", l)
		return nil
	}
	return r.take(int(l) - 4)
}

func (r *reader) shortLv() []byte {
	return r.take(int(r.u16()))
}

func (r *reader) rest() []byte {
	b := r.buf
	r.buf = nil
	return b
}
