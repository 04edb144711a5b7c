// SPDX-FileCopyrightText: 2024 The hibiki-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package discovery

import (
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/schollz/peerdiscovery"
	log "github.com/sirupsen/logrus"

	"github.com/hibiki-im/hibiki-go/pkg/transport"
)

// Sink receives the addresses of discovered servers, e.g., a selector.Selector.
type Sink interface {
	AddDiscovered(address string)
}

// SinkFunc is a function acting as a Sink.
type SinkFunc func(address string)

// AddDiscovered calls f.
func (f SinkFunc) AddDiscovered(address string) {
	f(address)
}

// Config of a Manager.
type Config struct {
	// Transport of interest. Announcements of other transports are ignored.
	Transport transport.Kind

	// Announcements to publish, only used by servers.
	Announcements []Announcement

	// Interval between two own multicast packets. Defaults to ten seconds.
	Interval time.Duration

	IPv4 bool
	IPv6 bool
}

// Manager publishes and receives Announcements.
type Manager struct {
	conf Config
	sink Sink

	mutex sync.Mutex
	known map[string]struct{}

	stopChan4 chan struct{}
	stopChan6 chan struct{}
}

// NewManager creates and starts a Manager, handing discovered servers to the sink.
func NewManager(conf Config, sink Sink) (*Manager, error) {
	if conf.Interval <= 0 {
		conf.Interval = 10 * time.Second
	}
	if conf.Transport == "" {
		conf.Transport = transport.TCP
	}

	manager := newManager(conf, sink)

	log.WithFields(log.Fields{
		"interval":      conf.Interval,
		"IPv4":          conf.IPv4,
		"IPv6":          conf.IPv6,
		"transport":     conf.Transport,
		"announcements": conf.Announcements,
	}).Info("Starting discovery")

	msg, err := MarshalAnnouncements(conf.Announcements)
	if err != nil {
		return nil, err
	}

	sets := []struct {
		active           bool
		multicastAddress string
		stopChan         chan struct{}
		ipVersion        peerdiscovery.IPVersion
	}{
		{conf.IPv4, address4, manager.stopChan4, peerdiscovery.IPv4},
		{conf.IPv6, address6, manager.stopChan6, peerdiscovery.IPv6},
	}

	for _, set := range sets {
		if !set.active {
			continue
		}

		settings := peerdiscovery.Settings{
			Limit:            -1,
			Port:             strconv.Itoa(port),
			MulticastAddress: set.multicastAddress,
			Payload:          msg,
			Delay:            conf.Interval,
			TimeLimit:        -1,
			StopChan:         set.stopChan,
			AllowSelf:        true,
			IPVersion:        set.ipVersion,
			Notify:           manager.notify,
		}

		discoverErrChan := make(chan error, 1)
		go func() {
			_, discoverErr := peerdiscovery.Discover(settings)
			discoverErrChan <- discoverErr
		}()

		// Discover only returns early on a setup failure.
		select {
		case discoverErr := <-discoverErrChan:
			if discoverErr != nil {
				manager.Close()
				return nil, discoverErr
			}

		case <-time.After(time.Second):
		}
	}

	return manager, nil
}

func newManager(conf Config, sink Sink) *Manager {
	manager := &Manager{
		conf:  conf,
		sink:  sink,
		known: make(map[string]struct{}),
	}
	if conf.IPv4 {
		manager.stopChan4 = make(chan struct{}, 1)
	}
	if conf.IPv6 {
		manager.stopChan6 = make(chan struct{}, 1)
	}
	return manager
}

func (manager *Manager) notify(discovered peerdiscovery.Discovered) {
	announcements, err := UnmarshalAnnouncements(discovered.Payload)
	if err != nil {
		log.WithError(err).WithField("peer", discovered.Address).Warn("Discovery failed to parse incoming package")
		return
	}

	for _, announcement := range announcements {
		manager.handleDiscovery(announcement, discovered.Address)
	}
}

func (manager *Manager) handleDiscovery(announcement Announcement, host string) {
	logger := log.WithFields(log.Fields{
		"peer":         host,
		"announcement": announcement,
	})

	if announcement.Transport != manager.conf.Transport {
		logger.Debug("Discovery ignores announcement of another transport")
		return
	}

	// JoinHostPort brackets IPv6 hosts.
	address := net.JoinHostPort(host, fmt.Sprint(announcement.Port))

	manager.mutex.Lock()
	_, seen := manager.known[address]
	manager.known[address] = struct{}{}
	manager.mutex.Unlock()

	if seen {
		return
	}

	logger.WithField("address", address).Info("Discovered server")
	manager.sink.AddDiscovered(address)
}

// Discovered returns all addresses found so far.
func (manager *Manager) Discovered() []string {
	manager.mutex.Lock()
	defer manager.mutex.Unlock()

	addresses := make([]string, 0, len(manager.known))
	for address := range manager.known {
		addresses = append(addresses, address)
	}
	return addresses
}

// Close this Manager.
func (manager *Manager) Close() {
	for _, c := range []chan struct{}{manager.stopChan4, manager.stopChan6} {
		if c == nil {
			continue
		}
		select {
		case c <- struct{}{}:
		default:
		}
	}
}
