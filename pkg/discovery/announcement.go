// SPDX-FileCopyrightText: 2024 The hibiki-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package discovery

import (
	"bytes"
	"fmt"
	"io"

	"github.com/dtn7/cboring"

	"github.com/hibiki-im/hibiki-go/pkg/transport"
)

// Announcement of a server reachable at the sender's address.
type Announcement struct {
	Transport transport.Kind
	// Name of the server, used for logging only.
	Name string
	Port uint
}

// UnmarshalAnnouncements of a CBOR array.
func UnmarshalAnnouncements(data []byte) (announcements []Announcement, err error) {
	buff := bytes.NewBuffer(data)

	l, err := cboring.ReadArrayLength(buff)
	if err != nil {
		return nil, err
	}

	announcements = make([]Announcement, l)
	for i := range announcements {
		if err := cboring.Unmarshal(&announcements[i], buff); err != nil {
			return nil, fmt.Errorf("unmarshalling Announcement %d failed: %w", i, err)
		}
	}
	return announcements, nil
}

// MarshalAnnouncements into a CBOR array.
func MarshalAnnouncements(announcements []Announcement) ([]byte, error) {
	buff := new(bytes.Buffer)

	if err := cboring.WriteArrayLength(uint64(len(announcements)), buff); err != nil {
		return nil, err
	}

	for i := range announcements {
		if err := cboring.Marshal(&announcements[i], buff); err != nil {
			return nil, fmt.Errorf("marshalling Announcement %d (%v) failed: %w", i, announcements[i], err)
		}
	}
	return buff.Bytes(), nil
}

func (announcement *Announcement) MarshalCbor(w io.Writer) error {
	if err := cboring.WriteArrayLength(3, w); err != nil {
		return err
	}
	if err := cboring.WriteTextString(string(announcement.Transport), w); err != nil {
		return err
	}
	if err := cboring.WriteTextString(announcement.Name, w); err != nil {
		return err
	}
	return cboring.WriteUInt(uint64(announcement.Port), w)
}

func (announcement *Announcement) UnmarshalCbor(r io.Reader) error {
	if l, err := cboring.ReadArrayLength(r); err != nil {
		return err
	} else if l != 3 {
		return fmt.Errorf("wrong array length: %d instead of 3", l)
	}

	kind, err := cboring.ReadTextString(r)
	if err != nil {
		return err
	}
	if announcement.Transport, err = transport.ParseKind(kind); err != nil {
		return err
	}

	if announcement.Name, err = cboring.ReadTextString(r); err != nil {
		return err
	}

	n, err := cboring.ReadUInt(r)
	if err != nil {
		return err
	} else if n == 0 || n > 0xFFFF {
		return fmt.Errorf("invalid port %d", n)
	}
	announcement.Port = uint(n)

	return nil
}

func (announcement Announcement) String() string {
	return fmt.Sprintf("Announcement(%v,%s,%d)", announcement.Transport, announcement.Name, announcement.Port)
}
