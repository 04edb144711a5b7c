// SPDX-FileCopyrightText: 2024 The hibiki-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package network

import (
	"context"
	"errors"
	"time"

	"github.com/hibiki-im/hibiki-go/pkg/correlator"
	"github.com/hibiki-im/hibiki-go/pkg/protocol"
)

// heartbeatInterval prefers the interval pushed by the server.
func (h *Handler) heartbeatInterval() time.Duration {
	if interval := h.hctx.Session.HeartbeatInterval(); interval > 0 {
		return interval
	}
	return h.conf.HeartbeatInterval
}

// heartbeatLoop sends heartbeats while the Handler is OK.
func (h *Handler) heartbeatLoop() {
	ctx, cancel := h.runCtx()
	defer cancel()

	timer := time.NewTimer(h.heartbeatInterval())
	defer timer.Stop()

	for {
		select {
		case <-h.stopSyn:
			return

		case interval := <-h.reschedule:
			if !timer.Stop() {
				<-timer.C
			}
			h.log().WithField("interval", interval).Debug("Rescheduled heartbeat")
			timer.Reset(interval)

		case <-timer.C:
			if err := h.heartbeat(ctx); err != nil {
				if ctx.Err() == nil {
					h.setState(Closed, err)
				}
				return
			}
			timer.Reset(h.heartbeatInterval())
		}
	}
}

// heartbeat retries exactly once after a timeout.
func (h *Handler) heartbeat(ctx context.Context) error {
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		if err = h.sendHeartbeat(ctx); err == nil {
			return nil
		}
		if !errors.Is(err, correlator.ErrTimeout) {
			break
		}
		h.log().WithError(err).WithField("attempt", attempt+1).Warn("Heartbeat timed out")
	}
	return &HeartbeatFailedError{Name: protocol.CmdHeartbeat, Cause: err}
}

func (h *Handler) sendHeartbeat(ctx context.Context) error {
	body, err := protocol.Marshal(&protocol.HeartbeatRequest{Time: uint64(time.Now().Unix())})
	if err != nil {
		return err
	}

	_, err = h.SendAndExpect(ctx, h.Registry().NewPacket(protocol.CmdHeartbeat, body),
		correlator.WithTimeout(h.conf.HeartbeatTimeout))
	return err
}

// keyRefreshLoop periodically renews the persisted keys. Failures are logged
// and retried at the next tick, as the current keys stay valid until they expire.
func (h *Handler) keyRefreshLoop() {
	ctx, cancel := h.runCtx()
	defer cancel()

	ticker := time.NewTicker(h.conf.KeyRefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stopSyn:
			return

		case <-ticker.C:
			if err := h.hctx.Sso.RefreshKeys(ctx, h); err != nil && ctx.Err() == nil {
				h.log().WithError(err).Warn("Refreshing keys failed")
			}
		}
	}
}
