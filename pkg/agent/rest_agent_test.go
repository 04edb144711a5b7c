// SPDX-FileCopyrightText: 2024 The hibiki-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package agent

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"reflect"
	"testing"

	"github.com/hibiki-im/hibiki-go/pkg/message"
	"github.com/hibiki-im/hibiki-go/pkg/network"
	"github.com/hibiki-im/hibiki-go/pkg/pipeline"
)

func postSend(t *testing.T, addr string, req RestSendRequest) (int, RestSendResponse) {
	t.Helper()

	buf := new(bytes.Buffer)
	if err := json.NewEncoder(buf).Encode(req); err != nil {
		t.Fatal(err)
	}

	resp, err := http.Post(fmt.Sprintf("http://%s/rest/send", addr), "application/json", buf)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var sendResponse RestSendResponse
	if err := json.NewDecoder(resp.Body).Decode(&sendResponse); err != nil {
		t.Fatal(err)
	}
	return resp.StatusCode, sendResponse
}

func TestRestAgentState(t *testing.T) {
	ctrl := newMockController()
	a := startAgent(t, ctrl)

	for _, state := range []network.State{network.OK, network.Loading} {
		ctrl.Lock()
		ctrl.state = state
		ctrl.Unlock()

		resp, err := http.Get(fmt.Sprintf("http://%s/rest/state", a.Addr()))
		if err != nil {
			t.Fatal(err)
		}

		var stateResponse RestStateResponse
		err = json.NewDecoder(resp.Body).Decode(&stateResponse)
		resp.Body.Close()
		if err != nil {
			t.Fatal(err)
		}

		if stateResponse.State != state.String() || stateResponse.Online != (state == network.OK) {
			t.Fatalf("unexpected response %+v for %v", stateResponse, state)
		}
	}
}

func TestRestAgentServers(t *testing.T) {
	ctrl := newMockController()
	a := startAgent(t, ctrl)

	resp, err := http.Get(fmt.Sprintf("http://%s/rest/servers", a.Addr()))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var serversResponse RestServersResponse
	if err := json.NewDecoder(resp.Body).Decode(&serversResponse); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(serversResponse.Servers, ctrl.servers) {
		t.Fatalf("expected %v, got %v", ctrl.servers, serversResponse.Servers)
	}
}

func TestRestAgentSend(t *testing.T) {
	ctrl := newMockController()
	a := startAgent(t, ctrl)

	status, resp := postSend(t, a.Addr(), RestSendRequest{Kind: "group", ID: 42, Text: "hello", Flags: []string{"no-long"}})
	if status != http.StatusOK || resp.Error != "" {
		t.Fatalf("unexpected response %d %+v", status, resp)
	}
	if resp.TraceID != "trace" || resp.Strategy != "simple" || !reflect.DeepEqual(resp.IDs, []uint32{23}) {
		t.Fatalf("unexpected response %+v", resp)
	}

	sent := ctrl.Sent()
	if len(sent) != 1 || sent[0].Content() != "hello" || !sent[0].Has(message.DontAsLongMessage) {
		t.Fatalf("unexpected chains %v", sent)
	}
}

func TestRestAgentSendErrors(t *testing.T) {
	ctrl := newMockController()
	a := startAgent(t, ctrl)

	tests := []struct {
		name   string
		req    RestSendRequest
		err    error
		status int
	}{
		{"bad kind", RestSendRequest{Kind: "channel", ID: 1, Text: "x"}, nil, http.StatusBadRequest},
		{"missing id", RestSendRequest{Kind: "friend", Text: "x"}, nil, http.StatusBadRequest},
		{"bad flag", RestSendRequest{Kind: "friend", ID: 1, Text: "x", Flags: []string{"loud"}}, nil, http.StatusBadRequest},
		{"muted", RestSendRequest{Kind: "group", ID: 1, Text: "x"}, &pipeline.BotMutedError{Group: 1}, http.StatusForbidden},
		{"too large", RestSendRequest{Kind: "group", ID: 1, Text: "x"}, &pipeline.MessageTooLargeError{Reason: "big"}, http.StatusBadRequest},
		{"failed", RestSendRequest{Kind: "group", ID: 1, Text: "x"}, &pipeline.AllStrategiesTriedError{}, http.StatusBadGateway},
	}

	for _, test := range tests {
		ctrl.Lock()
		ctrl.err = test.err
		ctrl.Unlock()

		status, resp := postSend(t, a.Addr(), test.req)
		if status != test.status || resp.Error == "" {
			t.Fatalf("%s: unexpected response %d %+v", test.name, status, resp)
		}
	}

	if sent := ctrl.Sent(); len(sent) != 3 {
		t.Fatalf("expected three sent messages, got %d", len(sent))
	}
}
