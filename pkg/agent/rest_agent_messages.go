// SPDX-FileCopyrightText: 2024 The hibiki-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package agent

// RestStateResponse describes a JSON response for /state.
type RestStateResponse struct {
	State  string `json:"state"`
	Online bool   `json:"online"`
}

// RestSendRequest describes a JSON to be POSTed to /send.
type RestSendRequest struct {
	// Kind is either "friend" or "group".
	Kind string `json:"kind"`
	ID   uint64 `json:"id"`
	Text string `json:"text"`
	// Flags are any of "force-long", "no-long" and "ignore-length".
	Flags []string `json:"flags,omitempty"`
}

// RestSendResponse describes a JSON response for /send.
type RestSendResponse struct {
	Error    string   `json:"error,omitempty"`
	TraceID  string   `json:"trace_id,omitempty"`
	Strategy string   `json:"strategy,omitempty"`
	IDs      []uint32 `json:"ids,omitempty"`
}

// RestServersResponse describes a JSON response for /servers.
type RestServersResponse struct {
	Servers []string `json:"servers"`
}
