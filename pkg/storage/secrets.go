// SPDX-FileCopyrightText: 2024 The hibiki-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package storage

import (
	"bytes"
	"encoding/binary"
	"errors"
	"time"

	"github.com/howeyc/crc16"
)

// ErrChecksumMismatch is returned for a Secrets record whose checksum does not match its content.
var ErrChecksumMismatch = errors.New("storage: secrets checksum mismatch")

var crc16table = crc16.MakeTable(crc16.CCITT)

// Secrets are the persisted keys of an account, allowing a fast login without
// the password. The Store operates on Secrets keyed by their Account.
type Secrets struct {
	Account string `badgerhold:"key"`

	DeviceGUID       []byte
	D2Key            []byte
	SessionTicketKey []byte
	TGT              []byte

	// Servers and HeartbeatInterval were pushed by the server and apply to future connections.
	Servers           []string
	HeartbeatInterval time.Duration

	Expires time.Time `badgerholdIndex:"Expires"`

	Checksum uint16
}

// Valid reports whether the Secrets allow a fast login.
func (s Secrets) Valid() bool {
	return len(s.D2Key) > 0 && len(s.TGT) > 0 && time.Now().Before(s.Expires)
}

// calcChecksum over all fields except the Checksum itself.
func (s Secrets) calcChecksum() uint16 {
	buf := new(bytes.Buffer)

	writeField := func(data []byte) {
		_ = binary.Write(buf, binary.BigEndian, uint32(len(data)))
		buf.Write(data)
	}

	writeField([]byte(s.Account))
	writeField(s.DeviceGUID)
	writeField(s.D2Key)
	writeField(s.SessionTicketKey)
	writeField(s.TGT)
	for _, server := range s.Servers {
		writeField([]byte(server))
	}
	_ = binary.Write(buf, binary.BigEndian, int64(s.HeartbeatInterval))
	_ = binary.Write(buf, binary.BigEndian, s.Expires.Unix())

	return crc16.Checksum(buf.Bytes(), crc16table)
}

// seal sets the Checksum.
func (s *Secrets) seal() {
	s.Checksum = s.calcChecksum()
}

// verify the Checksum.
func (s Secrets) verify() error {
	if s.Checksum != s.calcChecksum() {
		return ErrChecksumMismatch
	}
	return nil
}
