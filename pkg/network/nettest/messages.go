// SPDX-FileCopyrightText: 2024 The hibiki-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package nettest

import (
	"fmt"
	"sync"
	"time"

	"github.com/hibiki-im/hibiki-go/pkg/codec"
	"github.com/hibiki-im/hibiki-go/pkg/message"
	"github.com/hibiki-im/hibiki-go/pkg/protocol"
)

// Mailbox accepts all messages and uploads, keeping them for inspection.
type Mailbox struct {
	mutex    sync.Mutex
	seq      uint32
	messages []Delivered
	uploads  map[string]protocol.UploadRequest
	images   map[string]bool
}

// Delivered is a message received by a Mailbox.
type Delivered struct {
	Command string
	Request protocol.SendRequest
	Chain   message.Chain
}

// HandleMessages answers all send and upload commands through a new Mailbox.
func (s *Server) HandleMessages() *Mailbox {
	box := &Mailbox{
		uploads: make(map[string]protocol.UploadRequest),
		images:  make(map[string]bool),
	}

	for _, command := range []string{protocol.CmdSendMessage, protocol.CmdMusicShare, protocol.CmdFileMessage} {
		s.Handle(command, box.handleSend(s))
	}
	s.Handle(protocol.CmdUpload, box.handleUpload(s))
	s.Handle(protocol.CmdImageQuery, box.handleImageQuery(s))

	return box
}

func (box *Mailbox) handleSend(s *Server) HandlerFunc {
	return func(c *Conn, raw codec.RawPacket) {
		var req protocol.SendRequest
		if err := protocol.Unmarshal(raw.Body, &req); err != nil {
			s.reporter.Errorf("send body: %v", err)
			return
		}
		chain, err := message.UnmarshalChain(req.Chain)
		if err != nil {
			s.reporter.Errorf("send chain: %v", err)
			return
		}

		box.mutex.Lock()
		box.seq++
		seq := box.seq
		box.messages = append(box.messages, Delivered{Command: raw.CommandName, Request: req, Chain: chain})
		box.mutex.Unlock()

		c.ReplySend(raw, &protocol.SendSuccess{MessageSeq: seq, Time: uint64(time.Now().Unix())})
	}
}

func (box *Mailbox) handleUpload(s *Server) HandlerFunc {
	return func(c *Conn, raw codec.RawPacket) {
		var req protocol.UploadRequest
		if err := protocol.Unmarshal(raw.Body, &req); err != nil {
			s.reporter.Errorf("upload body: %v", err)
			return
		}

		box.mutex.Lock()
		resID := fmt.Sprintf("res-%d", len(box.uploads)+1)
		box.uploads[resID] = req
		box.mutex.Unlock()

		c.Reply(raw, &protocol.UploadResponse{ResID: resID})
	}
}

// AddImage makes an image known to all groups, as "group-<id>".
func (box *Mailbox) AddImage(id string) {
	box.mutex.Lock()
	defer box.mutex.Unlock()
	box.images[id] = true
}

func (box *Mailbox) handleImageQuery(s *Server) HandlerFunc {
	return func(c *Conn, raw codec.RawPacket) {
		var req protocol.ImageQueryRequest
		if err := protocol.Unmarshal(raw.Body, &req); err != nil {
			s.reporter.Errorf("image query body: %v", err)
			return
		}

		box.mutex.Lock()
		known := box.images[req.ImageID]
		box.mutex.Unlock()

		if !known {
			c.ReplyImage(raw, &protocol.ImageMissing{})
			return
		}
		c.ReplyImage(raw, &protocol.ImageExists{ResID: "group-" + req.ImageID})
	}
}

// Messages delivered so far.
func (box *Mailbox) Messages() []Delivered {
	box.mutex.Lock()
	defer box.mutex.Unlock()
	return append([]Delivered(nil), box.messages...)
}

// Upload returns the request stored under a resource id.
func (box *Mailbox) Upload(resID string) (protocol.UploadRequest, bool) {
	box.mutex.Lock()
	defer box.mutex.Unlock()
	req, ok := box.uploads[resID]
	return req, ok
}
