// SPDX-FileCopyrightText: 2024 The hibiki-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package network

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/hibiki-im/hibiki-go/pkg/codec"
	"github.com/hibiki-im/hibiki-go/pkg/protocol"
)

// handlePush handles packets sent by the server on its own. It returns false
// for unknown payloads.
func (h *Handler) handlePush(packet codec.IncomingPacket) bool {
	switch push := packet.Payload.(type) {
	case *protocol.ConfigPush:
		h.handleConfigPush(packet.SequenceID, push)

	case *protocol.MsfOffline:
		h.log().WithField("reason", push.Reason).Info("Server requested a reconnect")
		h.setState(Closed, ErrServerRequestedReconnect)

	case *protocol.ForceOffline:
		h.log().WithFields(log.Fields{
			"title":   push.Title,
			"message": push.Message,
		}).Warn("Forced offline by server")
		h.setState(Closed, &ForceOfflineError{Title: push.Title, Message: push.Message})

	default:
		return false
	}
	return true
}

func (h *Handler) handleConfigPush(sequenceID uint32, push *protocol.ConfigPush) {
	logger := h.log().WithFields(log.Fields{
		"servers":  push.Servers,
		"interval": push.Interval(),
	})
	logger.Info("Received config push")

	if interval := push.Interval(); interval > 0 {
		h.hctx.Session.SetHeartbeatInterval(interval)

		// Only the latest interval matters.
		select {
		case <-h.reschedule:
		default:
		}
		select {
		case h.reschedule <- interval:
		default:
		}
	}

	if len(push.Servers) > 0 {
		h.hctx.Session.SetServers(push.Servers)

		if h.hctx.ServerList != nil {
			h.hctx.ServerList.SetServers(push.Servers)
		}
		if h.hctx.Store != nil {
			if err := h.hctx.Store.SaveServers(h.hctx.Session.Account(), push.Servers); err != nil {
				logger.WithError(err).Warn("Failed to save pushed servers")
			}
		}
	}

	body, err := protocol.Marshal(&protocol.ConfigAck{SequenceID: sequenceID})
	if err != nil {
		logger.WithError(err).Warn("Failed to encode config ack")
		return
	}
	ack := h.Registry().NewPacket(protocol.CmdConfigAck, body)
	ack.SequenceID = sequenceID

	if err := h.SendWithoutExpect(context.Background(), ack); err != nil {
		logger.WithError(err).Warn("Failed to acknowledge config push")
	}
}
