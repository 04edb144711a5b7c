// SPDX-FileCopyrightText: 2024 The hibiki-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"

	"github.com/hibiki-im/hibiki-go/pkg/agent"
	"github.com/hibiki-im/hibiki-go/pkg/message"
)

// outbox sends files dropped into a directory as messages.
type outbox struct {
	directory string
	sentDir   string
	target    message.Target
	client    *apiClient
	watcher   *fsnotify.Watcher

	closeChan chan os.Signal
}

// startWatch for the "watch" CLI option.
func startWatch(args []string) {
	if len(args) != 4 {
		printUsage()
	}

	target, err := parseTarget(args[1], args[2])
	if err != nil {
		printFatal(err, "Parsing target")
	}

	ob := &outbox{
		directory: args[3],
		sentDir:   filepath.Join(args[3], "sent"),
		target:    target,
		client:    newAPIClient(args[0]),
		closeChan: make(chan os.Signal, 1),
	}

	signal.Notify(ob.closeChan, os.Interrupt)

	if err = os.MkdirAll(ob.sentDir, 0755); err != nil {
		printFatal(err, "Creating sent directory")
	}

	if ob.watcher, err = fsnotify.NewWatcher(); err != nil {
		printFatal(err, "Starting file watcher")
	}
	if err = ob.watcher.Add(ob.directory); err != nil {
		printFatal(err, "Adding directory to file watcher")
	}

	ob.handler()
}

func (ob *outbox) handler() {
	defer func() { _ = ob.watcher.Close() }()

	for {
		select {
		case <-ob.closeChan:
			log.Info("Received interrupt signal")
			return

		case e, ok := <-ob.watcher.Events:
			if !ok {
				log.Error("fsnotify's Event channel was closed")
				return
			}

			if e.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				log.WithFields(log.Fields{
					"file":      e.Name,
					"operation": e.Op.String(),
				}).Debug("Ignoring fsnotify event")
				continue
			}
			if info, err := os.Stat(e.Name); err != nil || info.IsDir() {
				continue
			}

			ob.sendFile(e.Name)

		case err, ok := <-ob.watcher.Errors:
			if !ok {
				log.Error("fsnotify's Errors channel was closed")
				return
			}

			log.WithError(err).Error("fsnotify errored")
			return
		}
	}
}

// sendFile, retrying while the file might still be written.
func (ob *outbox) sendFile(name string) {
	logger := log.WithFields(log.Fields{
		"file":   name,
		"target": ob.target,
	})

	for i := 0; i < 5; i++ {
		data, err := os.ReadFile(name)
		if os.IsNotExist(err) {
			// Already sent and moved through an earlier event.
			return
		} else if err != nil {
			logger.WithError(err).Warn("Reading file errored, retrying..")
		} else if text := strings.TrimRight(string(data), "\n"); text == "" {
			logger.Debug("File is still empty, retrying..")
		} else if resp, err := ob.client.send(agent.RestSendRequest{
			Kind: ob.target.Kind.String(),
			ID:   ob.target.ID,
			Text: text,
		}); err != nil {
			logger.WithError(err).Error("Sending message errored")
			return
		} else {
			logger.WithFields(log.Fields{
				"strategy": resp.Strategy,
				"trace":    resp.TraceID,
			}).Info("Sent message")

			if err := os.Rename(name, filepath.Join(ob.sentDir, filepath.Base(name))); err != nil {
				logger.WithError(err).Warn("Moving sent file errored")
			}
			return
		}

		time.Sleep(time.Duration(math.Pow(2, float64(i))) * 100 * time.Millisecond)
	}

	logger.Error("Failed to process file, giving up.")
}
