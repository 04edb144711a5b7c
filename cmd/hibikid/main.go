// SPDX-FileCopyrightText: 2024 The hibiki-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"context"
	"os"
	"os/signal"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/hibiki-im/hibiki-go/pkg/event"
)

// waitSigint blocks the current thread until a SIGINT appears.
func waitSigint() {
	signalSyn := make(chan os.Signal, 1)
	signalAck := make(chan struct{})

	signal.Notify(signalSyn, os.Interrupt)

	go func() {
		<-signalSyn
		close(signalAck)
	}()

	<-signalAck
}

// logEvents until the Bus is closed.
func logEvents(bus *event.Bus) {
	events, unsubscribe := bus.Subscribe(32)
	defer unsubscribe()

	for e := range events {
		switch e := e.(type) {
		case *event.Offline:
			log.WithFields(log.Fields{
				"cause":     e.Cause,
				"reconnect": e.Reconnect,
			}).Warn("Bot went offline")

		case *event.PostSend:
			if e.Err != nil {
				log.WithField("target", e.Target).WithError(e.Err).Info("Sending message failed")
			}

		default:
			log.WithField("event", e.Name()).Debug("Event")
		}
	}
}

func main() {
	if len(os.Args) != 2 {
		log.Fatalf("Usage: %s configuration.toml", os.Args[0])
	}

	d, err := parseDaemon(os.Args[1])
	if err != nil {
		log.WithFields(log.Fields{
			"error": err,
		}).Fatal("Failed to parse config")
	}

	go logEvents(d.bot.Events())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	if err := d.bot.Login(ctx); err != nil {
		log.WithError(err).Error("Initial login failed")
	}
	cancel()

	waitSigint()
	log.Info("Shutting down..")

	d.close()
}
