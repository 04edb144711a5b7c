// SPDX-FileCopyrightText: 2024 The hibiki-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package protocol

import (
	"fmt"
	"io"
)

// SendRequest is the body of CmdSendMessage, CmdMusicShare and CmdFileMessage packets.
type SendRequest struct {
	TargetKind uint64
	TargetID   uint64
	// Chain is the CBOR encoded message chain or fragment thereof.
	Chain  []byte
	Random uint32

	// Fragmented messages share their DivSeq and are numbered by FragmentIndex.
	FragmentIndex uint32
	FragmentCount uint32
	DivSeq        uint32
}

func (req *SendRequest) MarshalCbor(w io.Writer) error {
	return writeFields(w, req.TargetKind, req.TargetID, req.Chain, req.Random,
		req.FragmentIndex, req.FragmentCount, req.DivSeq)
}

func (req *SendRequest) UnmarshalCbor(r io.Reader) error {
	return readFields(r, &req.TargetKind, &req.TargetID, &req.Chain, &req.Random,
		&req.FragmentIndex, &req.FragmentCount, &req.DivSeq)
}

// SendResponse is one of *SendSuccess, *SendTooLarge or *SendFailed.
type SendResponse interface {
	tagged
	sendResponse()
}

const (
	tagSendSuccess uint64 = iota
	tagSendTooLarge
	tagSendFailed
)

// SendSuccess acknowledges a sent message.
type SendSuccess struct {
	// MessageSeq is the server assigned sequence of the message.
	MessageSeq uint32
	Time       uint64
}

func (*SendSuccess) tag() uint64   { return tagSendSuccess }
func (*SendSuccess) sendResponse() {}

func (s *SendSuccess) MarshalCbor(w io.Writer) error {
	return writeFields(w, s.MessageSeq, s.Time)
}

func (s *SendSuccess) UnmarshalCbor(r io.Reader) error {
	return readFields(r, &s.MessageSeq, &s.Time)
}

// SendTooLarge rejects a message exceeding the server's limit.
type SendTooLarge struct{}

func (*SendTooLarge) tag() uint64   { return tagSendTooLarge }
func (*SendTooLarge) sendResponse() {}

func (*SendTooLarge) MarshalCbor(w io.Writer) error {
	return writeFields(w)
}

func (*SendTooLarge) UnmarshalCbor(r io.Reader) error {
	return readFields(r)
}

// ErrorCodeMuted is the SendFailed code for a muted sender within a group.
const ErrorCodeMuted uint64 = 120

// SendFailed rejects a message.
type SendFailed struct {
	Code    uint64
	Message string
}

func (*SendFailed) tag() uint64   { return tagSendFailed }
func (*SendFailed) sendResponse() {}

func (f *SendFailed) MarshalCbor(w io.Writer) error {
	return writeFields(w, f.Code, f.Message)
}

func (f *SendFailed) UnmarshalCbor(r io.Reader) error {
	return readFields(r, &f.Code, &f.Message)
}

// MarshalSendResponse encodes a SendResponse body.
func MarshalSendResponse(resp SendResponse) ([]byte, error) {
	return marshalTagged(resp)
}

// UnmarshalSendResponse decodes a SendResponse body.
func UnmarshalSendResponse(data []byte) (SendResponse, error) {
	v, err := unmarshalTagged(data, func(tag uint64) (tagged, error) {
		switch tag {
		case tagSendSuccess:
			return new(SendSuccess), nil
		case tagSendTooLarge:
			return new(SendTooLarge), nil
		case tagSendFailed:
			return new(SendFailed), nil
		default:
			return nil, fmt.Errorf("unknown send response tag %d", tag)
		}
	})
	if err != nil {
		return nil, err
	}
	return v.(SendResponse), nil
}

func decodeSendResponse(_ uint32, body []byte) (interface{}, error) {
	return UnmarshalSendResponse(body)
}

// UploadKind of an UploadRequest.
type UploadKind uint64

const (
	UploadLongMessage UploadKind = iota
	UploadForward
)

// UploadRequest stores a resource, e.g., a long message, on the server.
type UploadRequest struct {
	Kind       UploadKind
	TargetKind uint64
	TargetID   uint64
	Payload    []byte
}

func (req *UploadRequest) MarshalCbor(w io.Writer) error {
	return writeFields(w, uint64(req.Kind), req.TargetKind, req.TargetID, req.Payload)
}

func (req *UploadRequest) UnmarshalCbor(r io.Reader) error {
	var kind uint64
	if err := readFields(r, &kind, &req.TargetKind, &req.TargetID, &req.Payload); err != nil {
		return err
	}
	req.Kind = UploadKind(kind)
	return nil
}

// UploadResponse names the stored resource. A non-zero Code indicates a failure.
type UploadResponse struct {
	ResID   string
	Code    uint64
	Message string
}

func (resp *UploadResponse) MarshalCbor(w io.Writer) error {
	return writeFields(w, resp.ResID, resp.Code, resp.Message)
}

func (resp *UploadResponse) UnmarshalCbor(r io.Reader) error {
	return readFields(r, &resp.ResID, &resp.Code, &resp.Message)
}
