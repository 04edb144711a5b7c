// SPDX-FileCopyrightText: 2024 The hibiki-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"net"
	"os"
	"os/signal"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/hibiki-im/hibiki-go/pkg/discovery"
	"github.com/hibiki-im/hibiki-go/pkg/network/nettest"
	"github.com/hibiki-im/hibiki-go/pkg/transport"
)

// startServe for the "serve" CLI option.
func startServe(args []string) {
	if len(args) != 2 {
		printUsage()
	}

	var (
		account = args[0]
		listen  = args[1]
	)

	listener, err := net.Listen("tcp", listen)
	if err != nil {
		printFatal(err, "Listening")
	}

	server := nettest.NewServer(nettest.LogReporter{}, account)
	mailbox := server.HandleMessages()

	go func() {
		if err := server.Serve(listener); err != nil {
			log.WithError(err).Error("Serving errored")
		}
	}()

	port := uint(listener.Addr().(*net.TCPAddr).Port)
	manager, err := discovery.NewManager(discovery.Config{
		Transport: transport.TCP,
		Announcements: []discovery.Announcement{{
			Transport: transport.TCP,
			Name:      "hibiki-tool",
			Port:      port,
		}},
		Interval: 5 * time.Second,
		IPv4:     true,
		IPv6:     true,
	}, discovery.SinkFunc(func(address string) {
		log.WithField("address", address).Info("Discovered another server")
	}))
	if err != nil {
		log.WithError(err).Warn("Starting discovery errored, serving without announcements")
	}

	log.WithFields(log.Fields{
		"account": account,
		"listen":  listener.Addr(),
	}).Info("Development server started")

	closeChan := make(chan os.Signal, 1)
	signal.Notify(closeChan, os.Interrupt)

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	seen := 0
	for {
		select {
		case <-closeChan:
			log.Info("Received interrupt signal")

			if manager != nil {
				manager.Close()
			}
			_ = listener.Close()
			server.Close()
			return

		case <-ticker.C:
			messages := mailbox.Messages()
			for _, msg := range messages[seen:] {
				log.WithFields(log.Fields{
					"command": msg.Command,
					"target":  msg.Request.TargetID,
					"content": msg.Chain.Content(),
				}).Info("Received message")
			}
			seen = len(messages)
		}
	}
}
