// SPDX-FileCopyrightText: 2024 The hibiki-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package codec

import "fmt"

// EncryptionKind selects the key a packet's body is encrypted with.
type EncryptionKind uint8

const (
	// None leaves the body unencrypted. Only used for liveness probes.
	None EncryptionKind = iota

	// ShareKey encrypts with the ECDH share key. The sender's public key is part of the frame.
	ShareKey

	// SessionKey encrypts with the session ticket key issued at login.
	SessionKey

	// PersistedKey encrypts with the long-lived d2 key.
	PersistedKey
)

func (kind EncryptionKind) String() string {
	switch kind {
	case None:
		return "none"
	case ShareKey:
		return "share key"
	case SessionKey:
		return "session key"
	case PersistedKey:
		return "persisted key"
	default:
		return fmt.Sprintf("unknown encryption kind %d", uint8(kind))
	}
}

// CheckValid returns an error for unknown kinds.
func (kind EncryptionKind) CheckValid() error {
	if kind > PersistedKey {
		return fmt.Errorf("%w: %d", ErrUnknownEncryption, uint8(kind))
	}
	return nil
}

const (
	// markerLogin tags frames of the login procedure.
	markerLogin byte = 0x0A

	// markerUni tags frames of an established session.
	markerUni byte = 0x0B
)

// Packet is an outgoing packet. Each Packet is encoded exactly once.
type Packet struct {
	CommandName    string
	SequenceID     uint32
	EncryptionKind EncryptionKind
	Body           []byte

	// ReturnCode is only set by servers; clients always send zero.
	ReturnCode int32
}

func (p Packet) marker() byte {
	if p.EncryptionKind == ShareKey || p.EncryptionKind == None {
		return markerLogin
	}
	return markerUni
}

func (p Packet) String() string {
	return fmt.Sprintf("Packet(%s,%d,%v,%d bytes)", p.CommandName, p.SequenceID, p.EncryptionKind, len(p.Body))
}

// RawPacket is a decrypted but not yet decoded incoming packet.
type RawPacket struct {
	CommandName    string
	SequenceID     uint32
	ReturnCode     int32
	EncryptionKind EncryptionKind
	Account        string
	// PublicKey is the sender's public key of a ShareKey frame.
	PublicKey []byte
	SessionID []byte
	Body      []byte
}

// IncomingPacket is the result of processing a RawPacket. Decoding errors are
// stored in Err instead of being returned, as they only concern this packet.
type IncomingPacket struct {
	CommandName string
	SequenceID  uint32
	ReturnCode  int32
	Payload     interface{}
	Err         error
}

func (p IncomingPacket) String() string {
	if p.Err != nil {
		return fmt.Sprintf("IncomingPacket(%s,%d,error=%v)", p.CommandName, p.SequenceID, p.Err)
	}
	return fmt.Sprintf("IncomingPacket(%s,%d,%T)", p.CommandName, p.SequenceID, p.Payload)
}
