// SPDX-FileCopyrightText: 2024 The hibiki-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package codec

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"io"

	log "github.com/sirupsen/logrus"

	"github.com/hibiki-im/hibiki-go/pkg/tea"
)

// Compression flags of the SSO frame.
const (
	compressionNone  uint32 = 0
	compressionZlib  uint32 = 1
	compressionNone8 uint32 = 8
)

// Keys supplies the key material of a session.
type Keys interface {
	// Account identifies the logged in account in every frame.
	Account() string

	// SessionID is echoed within each SSO frame.
	SessionID() []byte

	// PublicKey is written into ShareKey frames.
	PublicKey() []byte

	// Key returns the key for an EncryptionKind, ErrNoKey if it is unknown yet.
	Key(kind EncryptionKind) ([]byte, error)

	// PeerShareKey returns the share key for a ShareKey frame sent by the given public key.
	PeerShareKey(peerPublicKey []byte) ([]byte, error)
}

// Codec frames Packets into bytes and back.
type Codec struct {
	keys     Keys
	registry *Registry

	// CompressAbove enables zlib compression for bodies larger than this many
	// bytes. Zero disables compression.
	CompressAbove int
}

// NewCodec for the given Keys and Registry.
func NewCodec(keys Keys, registry *Registry) *Codec {
	return &Codec{
		keys:     keys,
		registry: registry,
	}
}

// Registry of this Codec.
func (c *Codec) Registry() *Registry {
	return c.registry
}

// Encode a Packet into a frame.
func (c *Codec) Encode(p Packet) ([]byte, error) {
	if err := p.EncryptionKind.CheckValid(); err != nil {
		return nil, err
	}

	sso, err := c.encodeSso(p)
	if err != nil {
		return nil, err
	}

	body := sso
	if p.EncryptionKind != None {
		key, keyErr := c.keys.Key(p.EncryptionKind)
		if keyErr != nil {
			return nil, fmt.Errorf("encoding %v: %w", p, keyErr)
		}
		if body, err = tea.Encrypt(sso, key); err != nil {
			return nil, err
		}
	}

	w := &writer{buf: make([]byte, 4, 64+len(body))}
	w.u8(p.marker())
	w.u8(byte(p.EncryptionKind))
	w.lv([]byte(c.keys.Account()))
	if p.EncryptionKind == ShareKey {
		w.shortLv(c.keys.PublicKey())
	}
	w.bytes(body)

	binary.BigEndian.PutUint32(w.buf, uint32(len(w.buf)))
	return w.buf, nil
}

func (c *Codec) encodeSso(p Packet) ([]byte, error) {
	body := p.Body
	compression := compressionNone
	if c.CompressAbove > 0 && len(body) > c.CompressAbove {
		compressed, err := zlibCompress(body)
		if err != nil {
			return nil, err
		}
		body, compression = compressed, compressionZlib
	}

	head := &writer{}
	head.u32(p.SequenceID)
	head.u32(uint32(p.ReturnCode))
	head.lv(nil)
	head.lv([]byte(p.CommandName))
	head.lv(c.keys.SessionID())
	head.u32(compression)

	w := &writer{buf: make([]byte, 0, len(head.buf)+len(body)+8)}
	w.lv(head.buf)
	w.lv(body)
	return w.buf, nil
}

// DecodeRaw parses and decrypts a frame. Errors only concern this frame.
func (c *Codec) DecodeRaw(frame []byte) (raw RawPacket, err error) {
	r := &reader{buf: frame}

	if size := r.u32(); r.err == nil && int(size) != len(frame) {
		return raw, fmt.Errorf("%w: length field %d for %d bytes", ErrMalformedFrame, size, len(frame))
	}

	marker := r.u8()
	raw.EncryptionKind = EncryptionKind(r.u8())
	raw.Account = string(r.lv())
	if raw.EncryptionKind == ShareKey {
		raw.PublicKey = r.shortLv()
	}
	body := r.rest()

	if r.err != nil {
		return raw, r.err
	}
	if marker != markerLogin && marker != markerUni {
		return raw, fmt.Errorf("%w: marker 0x%02x", ErrMalformedFrame, marker)
	}
	if err = raw.EncryptionKind.CheckValid(); err != nil {
		return
	}

	if raw.EncryptionKind != None {
		var key []byte
		if raw.EncryptionKind == ShareKey {
			key, err = c.keys.PeerShareKey(raw.PublicKey)
		} else {
			key, err = c.keys.Key(raw.EncryptionKind)
		}
		if err != nil {
			return
		}

		if body, err = tea.Decrypt(body, key); err != nil {
			return
		}
	}

	err = c.decodeSso(body, &raw)
	return
}

func (c *Codec) decodeSso(sso []byte, raw *RawPacket) error {
	r := &reader{buf: sso}
	head := &reader{buf: r.lv()}
	if r.err != nil {
		return r.err
	}

	raw.SequenceID = head.u32()
	raw.ReturnCode = int32(head.u32())
	_ = head.lv() // extra data
	raw.CommandName = string(head.lv())
	raw.SessionID = head.lv()
	compression := head.u32()
	if head.err != nil {
		return head.err
	}

	switch compression {
	case compressionNone, compressionNone8:
		raw.Body = r.lv()
		if r.err != nil {
			return r.err
		}

	case compressionZlib:
		data := r.lv()
		if r.err != nil {
			return r.err
		}
		body, err := zlibDecompress(data)
		if err != nil {
			return fmt.Errorf("%w: zlib: %v", ErrMalformedFrame, err)
		}
		raw.Body = body

	default:
		return fmt.Errorf("%w: flag %d", ErrUnknownCompression, compression)
	}

	return nil
}

// Process a RawPacket with its registered Decoder. Unknown commands result in
// an IncomingPacket without a Payload.
func (c *Codec) Process(raw RawPacket) (packet IncomingPacket) {
	packet = IncomingPacket{
		CommandName: raw.CommandName,
		SequenceID:  raw.SequenceID,
		ReturnCode:  raw.ReturnCode,
	}

	if raw.ReturnCode != 0 {
		packet.Err = &ReturnCodeError{Command: raw.CommandName, Code: raw.ReturnCode}
		return
	}

	cmd, ok := c.registry.Lookup(raw.CommandName)
	if !ok || cmd.Decode == nil {
		log.WithFields(log.Fields{
			"command":  raw.CommandName,
			"sequence": raw.SequenceID,
		}).Debug("No decoder for incoming command")
		return
	}

	defer func() {
		if r := recover(); r != nil {
			packet.Payload = nil
			packet.Err = &DecodeError{raw.CommandName, raw.SequenceID, fmt.Errorf("panic: %v", r)}
		}
	}()

	if payload, err := cmd.Decode(raw.SequenceID, raw.Body); err != nil {
		packet.Err = &DecodeError{raw.CommandName, raw.SequenceID, err}
	} else {
		packet.Payload = payload
	}
	return
}

// Decode a frame into an IncomingPacket. A frame which cannot be parsed at all
// results in an error, everything else is reported within the IncomingPacket.
func (c *Codec) Decode(frame []byte) (IncomingPacket, error) {
	raw, err := c.DecodeRaw(frame)
	if err != nil {
		return IncomingPacket{}, err
	}
	return c.Process(raw), nil
}

func zlibCompress(data []byte) ([]byte, error) {
	buf := new(bytes.Buffer)
	zw := zlib.NewWriter(buf)
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func zlibDecompress(data []byte) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	return io.ReadAll(io.LimitReader(zr, MaxFrameSize))
}
