// SPDX-FileCopyrightText: 2024 The hibiki-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/hibiki-im/hibiki-go/pkg/message"
	"github.com/hibiki-im/hibiki-go/pkg/network"
	"github.com/hibiki-im/hibiki-go/pkg/pipeline"
)

// restSendTimeout bounds a /send request.
const restSendTimeout = time.Minute

var restFlags = map[string]message.Flag{
	"force-long":    message.ForceAsLongMessage,
	"no-long":       message.DontAsLongMessage,
	"ignore-length": message.IgnoreLengthCheck,
}

// RestAgent is a RESTful interface to a Controller.
type RestAgent struct {
	router *mux.Router
	ctrl   Controller
}

// NewRestAgent registers its routes at the router.
func NewRestAgent(router *mux.Router, ctrl Controller) (ra *RestAgent) {
	ra = &RestAgent{
		router: router,
		ctrl:   ctrl,
	}

	ra.router.HandleFunc("/state", ra.handleState).Methods(http.MethodGet)
	ra.router.HandleFunc("/servers", ra.handleServers).Methods(http.MethodGet)
	ra.router.HandleFunc("/send", ra.handleSend).Methods(http.MethodPost)

	return ra
}

// ServeHTTP is a http.Handler to be bound to a HTTP endpoint, e.g., /rest.
func (ra *RestAgent) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ra.router.ServeHTTP(w, r)
}

func (ra *RestAgent) handleState(w http.ResponseWriter, _ *http.Request) {
	state := ra.ctrl.State()
	writeJSON(w, http.StatusOK, RestStateResponse{
		State:  state.String(),
		Online: state == network.OK,
	})
}

func (ra *RestAgent) handleServers(w http.ResponseWriter, _ *http.Request) {
	servers := ra.ctrl.Servers()
	if servers == nil {
		servers = []string{}
	}
	writeJSON(w, http.StatusOK, RestServersResponse{Servers: servers})
}

// parseSendRequest into a target and chain.
func parseSendRequest(req RestSendRequest) (target message.Target, chain message.Chain, err error) {
	kind, err := message.ParseTargetKind(req.Kind)
	if err != nil {
		return
	}
	if req.ID == 0 {
		err = fmt.Errorf("missing target id")
		return
	}
	target = message.Target{Kind: kind, ID: req.ID}

	elems := []message.Element{message.Text{Text: req.Text}}
	for _, name := range req.Flags {
		flag, ok := restFlags[name]
		if !ok {
			err = fmt.Errorf("unknown flag %q", name)
			return
		}
		elems = append(elems, flag)
	}
	chain = message.NewChain(elems...)
	return
}

// handleSend processes /send POST requests.
func (ra *RestAgent) handleSend(w http.ResponseWriter, r *http.Request) {
	var (
		sendRequest  RestSendRequest
		sendResponse RestSendResponse
	)

	if err := json.NewDecoder(r.Body).Decode(&sendRequest); err != nil {
		sendResponse.Error = err.Error()
		writeJSON(w, http.StatusBadRequest, sendResponse)
		return
	}

	target, chain, err := parseSendRequest(sendRequest)
	if err != nil {
		sendResponse.Error = err.Error()
		writeJSON(w, http.StatusBadRequest, sendResponse)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), restSendTimeout)
	defer cancel()

	receipt, err := ra.ctrl.SendMessage(ctx, target, chain)

	logger := log.WithFields(log.Fields{
		"target": target,
		"length": len(sendRequest.Text),
	})

	if err != nil {
		logger.WithError(err).Info("REST message was not sent")

		sendResponse.Error = err.Error()
		writeJSON(w, sendStatus(err), sendResponse)
		return
	}

	logger.WithField("trace", receipt.TraceID).Info("Sent REST message")

	sendResponse.TraceID = receipt.TraceID
	sendResponse.Strategy = receipt.Strategy.String()
	sendResponse.IDs, _ = receipt.Source.IDs()
	writeJSON(w, http.StatusOK, sendResponse)
}

// sendStatus maps a send error to a HTTP status code.
func sendStatus(err error) int {
	var (
		tooLarge *pipeline.MessageTooLargeError
		muted    *pipeline.BotMutedError
	)

	switch {
	case errors.Is(err, pipeline.ErrEmptyMessage), errors.As(err, &tooLarge):
		return http.StatusBadRequest
	case errors.As(err, &muted), errors.Is(err, pipeline.ErrSendCancelled):
		return http.StatusForbidden
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Warn("Failed to write REST response")
	}
}
