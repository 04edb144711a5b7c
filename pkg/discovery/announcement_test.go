// SPDX-FileCopyrightText: 2024 The hibiki-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package discovery

import (
	"reflect"
	"testing"

	"github.com/hibiki-im/hibiki-go/pkg/transport"
)

func TestAnnouncementCbor(t *testing.T) {
	tests := []Announcement{
		{Transport: transport.TCP, Name: "dev", Port: 8000},
		{Transport: transport.WebSocket, Name: "", Port: 443},
		{Transport: transport.QUIC, Name: "quic-dev", Port: 65535},
	}

	for _, in := range tests {
		buff, err := MarshalAnnouncements([]Announcement{in})
		if err != nil {
			t.Fatalf("Encoding failed: %v", err)
		}

		out, err := UnmarshalAnnouncements(buff)
		if err != nil {
			t.Fatalf("Decoding failed: %v", err)
		}

		if l := len(out); l != 1 {
			t.Fatalf("Length of decoded Announcements is %d != 1", l)
		}
		if !reflect.DeepEqual(in, out[0]) {
			t.Fatalf("Decoded Announcement differs: %v became %v", in, out[0])
		}
	}
}

func TestAnnouncementInvalid(t *testing.T) {
	tests := []Announcement{
		{Transport: "carrier-pigeon", Port: 8000},
		{Transport: transport.TCP, Port: 0},
		{Transport: transport.TCP, Port: 70000},
	}

	for _, in := range tests {
		buff, err := MarshalAnnouncements([]Announcement{in})
		if err != nil {
			t.Fatal(err)
		}
		if _, err := UnmarshalAnnouncements(buff); err == nil {
			t.Fatalf("%v was accepted", in)
		}
	}
}
