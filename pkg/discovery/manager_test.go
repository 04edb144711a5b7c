// SPDX-FileCopyrightText: 2024 The hibiki-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package discovery

import (
	"reflect"
	"sort"
	"testing"

	"github.com/schollz/peerdiscovery"

	"github.com/hibiki-im/hibiki-go/pkg/transport"
)

func TestManagerNotify(t *testing.T) {
	var found []string
	manager := newManager(Config{Transport: transport.TCP}, SinkFunc(func(address string) {
		found = append(found, address)
	}))

	payload, err := MarshalAnnouncements([]Announcement{
		{Transport: transport.TCP, Name: "dev", Port: 8000},
		{Transport: transport.QUIC, Name: "dev", Port: 8001},
	})
	if err != nil {
		t.Fatal(err)
	}

	manager.notify(peerdiscovery.Discovered{Address: "192.168.1.2", Payload: payload})
	manager.notify(peerdiscovery.Discovered{Address: "fe80::1", Payload: payload})
	// Repeated announcements are reported once.
	manager.notify(peerdiscovery.Discovered{Address: "192.168.1.2", Payload: payload})
	// Garbage is dropped.
	manager.notify(peerdiscovery.Discovered{Address: "192.168.1.3", Payload: []byte{0xFF}})

	expected := []string{"192.168.1.2:8000", "[fe80::1]:8000"}
	if !reflect.DeepEqual(found, expected) {
		t.Fatalf("expected %v, got %v", expected, found)
	}

	discovered := manager.Discovered()
	sort.Strings(discovered)
	if !reflect.DeepEqual(discovered, expected) {
		t.Fatalf("expected %v, got %v", expected, discovered)
	}
}

func TestManagerClose(t *testing.T) {
	manager := newManager(Config{IPv4: true, IPv6: true}, SinkFunc(func(string) {}))

	// Closing twice must not block without a running discovery.
	manager.Close()
	manager.Close()
}
