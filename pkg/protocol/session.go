// SPDX-FileCopyrightText: 2024 The hibiki-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package protocol

import (
	"io"
	"time"
)

// HeartbeatRequest is the body of a CmdHeartbeat packet.
type HeartbeatRequest struct {
	Time uint64
}

func (h *HeartbeatRequest) MarshalCbor(w io.Writer) error {
	return writeFields(w, h.Time)
}

func (h *HeartbeatRequest) UnmarshalCbor(r io.Reader) error {
	return readFields(r, &h.Time)
}

// HeartbeatResponse echoes the request's time.
type HeartbeatResponse struct {
	Time uint64
}

func (h *HeartbeatResponse) MarshalCbor(w io.Writer) error {
	return writeFields(w, h.Time)
}

func (h *HeartbeatResponse) UnmarshalCbor(r io.Reader) error {
	return readFields(r, &h.Time)
}

// RegisterRequest registers the client as online or offline.
type RegisterRequest struct {
	Online     bool
	DeviceGUID []byte
}

func (req *RegisterRequest) MarshalCbor(w io.Writer) error {
	return writeFields(w, req.Online, req.DeviceGUID)
}

func (req *RegisterRequest) UnmarshalCbor(r io.Reader) error {
	return readFields(r, &req.Online, &req.DeviceGUID)
}

// RegisterResponse to a RegisterRequest.
type RegisterResponse struct {
	OK      bool
	Message string
}

func (resp *RegisterResponse) MarshalCbor(w io.Writer) error {
	return writeFields(w, resp.OK, resp.Message)
}

func (resp *RegisterResponse) UnmarshalCbor(r io.Reader) error {
	return readFields(r, &resp.OK, &resp.Message)
}

// ConfigPush is pushed by the server after login. Both fields are optional.
type ConfigPush struct {
	Servers []string
	// HeartbeatInterval in seconds, zero keeps the current interval.
	HeartbeatInterval uint64
}

// Interval as a time.Duration.
func (push *ConfigPush) Interval() time.Duration {
	return time.Duration(push.HeartbeatInterval) * time.Second
}

func (push *ConfigPush) MarshalCbor(w io.Writer) error {
	return writeFields(w, push.Servers, push.HeartbeatInterval)
}

func (push *ConfigPush) UnmarshalCbor(r io.Reader) error {
	return readFields(r, &push.Servers, &push.HeartbeatInterval)
}

// ConfigAck acknowledges a ConfigPush.
type ConfigAck struct {
	SequenceID uint32
}

func (ack *ConfigAck) MarshalCbor(w io.Writer) error {
	return writeFields(w, ack.SequenceID)
}

func (ack *ConfigAck) UnmarshalCbor(r io.Reader) error {
	return readFields(r, &ack.SequenceID)
}

// ForceOffline is pushed when the account was logged in elsewhere or kicked.
type ForceOffline struct {
	Title   string
	Message string
}

func (f *ForceOffline) MarshalCbor(w io.Writer) error {
	return writeFields(w, f.Title, f.Message)
}

func (f *ForceOffline) UnmarshalCbor(r io.Reader) error {
	return readFields(r, &f.Title, &f.Message)
}

// MsfOffline asks the client to reconnect, e.g., before server maintenance.
type MsfOffline struct {
	Reason string
}

func (m *MsfOffline) MarshalCbor(w io.Writer) error {
	return writeFields(w, m.Reason)
}

func (m *MsfOffline) UnmarshalCbor(r io.Reader) error {
	return readFields(r, &m.Reason)
}
