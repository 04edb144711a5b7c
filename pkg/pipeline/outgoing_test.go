// SPDX-FileCopyrightText: 2024 The hibiki-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hibiki-im/hibiki-go/pkg/codec"
	"github.com/hibiki-im/hibiki-go/pkg/correlator"
	"github.com/hibiki-im/hibiki-go/pkg/event"
	"github.com/hibiki-im/hibiki-go/pkg/message"
	"github.com/hibiki-im/hibiki-go/pkg/protocol"
)

// fakeServer answers send packets and uploads, recording the order of all calls.
type fakeServer struct {
	mutex   sync.Mutex
	trace   []string
	sent    []protocol.SendRequest
	chains  []message.Chain
	nextSeq uint32

	// respond returns the server's answer to the n-th send packet, counting from zero.
	respond func(n int, req protocol.SendRequest, chain message.Chain) (interface{}, error)
	// uploadErr fails all uploads.
	uploadErr error
}

func newFakeServer() *fakeServer {
	return &fakeServer{nextSeq: 100}
}

func (s *fakeServer) SendAndExpect(_ context.Context, packet codec.Packet, _ ...correlator.Option) (codec.IncomingPacket, error) {
	var req protocol.SendRequest
	if err := protocol.Unmarshal(packet.Body, &req); err != nil {
		return codec.IncomingPacket{}, err
	}
	chain, err := message.UnmarshalChain(req.Chain)
	if err != nil {
		return codec.IncomingPacket{}, err
	}

	s.mutex.Lock()
	n := len(s.sent)
	s.trace = append(s.trace, "send:"+packet.CommandName)
	s.sent = append(s.sent, req)
	s.chains = append(s.chains, chain)
	respond := s.respond
	s.nextSeq++
	seq := s.nextSeq
	s.mutex.Unlock()

	var payload interface{} = &protocol.SendSuccess{MessageSeq: seq, Time: 1700000000}
	if respond != nil {
		if payload, err = respond(n, req, chain); err != nil {
			return codec.IncomingPacket{}, err
		}
		if payload == nil {
			payload = &protocol.SendSuccess{MessageSeq: seq, Time: 1700000000}
		}
	}
	return codec.IncomingPacket{CommandName: packet.CommandName, SequenceID: packet.SequenceID, Payload: payload}, nil
}

func (s *fakeServer) UploadLongMessage(_ context.Context, _ message.Target, chain message.Chain) (string, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.trace = append(s.trace, "upload:long")
	if s.uploadErr != nil {
		return "", s.uploadErr
	}
	return fmt.Sprintf("res-%d", len(chain.Content())), nil
}

func (s *fakeServer) UploadForward(_ context.Context, _ message.Target, forward message.Forward) (string, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.trace = append(s.trace, "upload:forward")
	if s.uploadErr != nil {
		return "", s.uploadErr
	}
	return "forward-" + forward.Title, nil
}

func (s *fakeServer) CheckGroupImage(_ context.Context, group uint64, img message.Image) (message.Image, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.trace = append(s.trace, fmt.Sprintf("image:%d", group))
	img.ID = "group-" + img.ID
	return img, nil
}

func (s *fakeServer) Trace() []string {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return append([]string(nil), s.trace...)
}

func (s *fakeServer) Chains() []message.Chain {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return append([]message.Chain(nil), s.chains...)
}

// nextPostSend skips all events until the next PostSend.
func nextPostSend(t *testing.T, events <-chan event.Event) *event.PostSend {
	t.Helper()

	timeout := time.After(time.Second)
	for {
		select {
		case e := <-events:
			if post, ok := e.(*event.PostSend); ok {
				return post
			}
		case <-timeout:
			t.Fatal("no post-send event")
		}
	}
}

func newTestOutgoing(server *fakeServer, bus *event.Bus) *Outgoing {
	return NewOutgoing(Config{FragmentSize: 10}, Dependencies{
		Sender:   server,
		Uploader: server,
		Images:   server,
		Bus:      bus,
	})
}

var (
	friend = message.Target{Kind: message.Friend, ID: 10002}
	group  = message.Target{Kind: message.Group, ID: 20001}
)

func TestSendSimple(t *testing.T) {
	server := newFakeServer()
	bus := event.NewBus()
	defer bus.Close()

	events, unsubscribe := bus.Subscribe(8)
	defer unsubscribe()

	out := newTestOutgoing(server, bus)

	chain := message.NewChain(message.Text{Text: "hello "}, message.Text{}, message.Text{Text: "world"})
	receipt, err := out.Send(context.Background(), friend, chain)
	if err != nil {
		t.Fatal(err)
	}

	if receipt.Strategy != Simple || receipt.Target != friend || receipt.TraceID == "" {
		t.Fatalf("unexpected receipt %+v", receipt)
	}
	ids, err := receipt.Source.IDs()
	if err != nil || !reflect.DeepEqual(ids, []uint32{101}) {
		t.Fatalf("unexpected source ids %v: %v", ids, err)
	}

	chains := server.Chains()
	if len(chains) != 1 || chains[0].Len() != 1 || chains[0].Content() != "hello world" {
		t.Fatalf("texts were not merged: %v", chains)
	}

	post := nextPostSend(t, events)
	if post.Err != nil || post.Strategy != "simple" || post.TraceID != receipt.TraceID || post.Source != receipt.Source {
		t.Fatalf("unexpected event %+v", post)
	}
}

func TestSendEmpty(t *testing.T) {
	chains := []message.Chain{
		message.NewChain(message.DontAsLongMessage),
		message.PlainText(""),
		message.NewChain(message.Text{}, message.Text{}),
		message.NewChain(message.Text{}, message.IgnoreLengthCheck),
	}

	for _, chain := range chains {
		server := newFakeServer()
		out := newTestOutgoing(server, nil)

		_, err := out.Send(context.Background(), friend, chain)
		if !errors.Is(err, ErrEmptyMessage) {
			t.Fatalf("%v: expected %v, got %v", chain, ErrEmptyMessage, err)
		}
		if trace := server.Trace(); len(trace) != 0 {
			t.Fatalf("%v: empty message reached the server: %v", chain, trace)
		}
	}
}

func TestSendLongMessageUploadsFirst(t *testing.T) {
	server := newFakeServer()
	out := newTestOutgoing(server, nil)

	text := strings.Repeat("a", 5000)
	receipt, err := out.Send(context.Background(), group, message.PlainText(text))
	if err != nil {
		t.Fatal(err)
	}
	if receipt.Strategy != Long {
		t.Fatalf("expected %v, got %v", Long, receipt.Strategy)
	}

	if expected := []string{"upload:long", "send:" + protocol.CmdSendMessage}; !reflect.DeepEqual(server.Trace(), expected) {
		t.Fatalf("expected %v, got %v", expected, server.Trace())
	}

	ref, ok := message.Single[message.LongMessageRef](server.Chains()[0])
	if !ok {
		t.Fatalf("expected a long message reference, got %v", server.Chains()[0])
	}
	if ref.ResID != "res-5000" || ref.Brief != strings.Repeat("a", briefLength) {
		t.Fatalf("unexpected reference %+v", ref)
	}
}

func TestSendFallbackOrder(t *testing.T) {
	server := newFakeServer()
	server.respond = func(n int, _ protocol.SendRequest, _ message.Chain) (interface{}, error) {
		if n < 2 {
			return &protocol.SendFailed{Code: 1, Message: "try again"}, nil
		}
		return nil, nil
	}
	bus := event.NewBus()
	defer bus.Close()

	events, unsubscribe := bus.Subscribe(8)
	defer unsubscribe()

	out := newTestOutgoing(server, bus)

	text := strings.Repeat("b", 25)
	receipt, err := out.Send(context.Background(), friend, message.PlainText(text))
	if err != nil {
		t.Fatal(err)
	}
	if receipt.Strategy != Fragmented {
		t.Fatalf("expected %v, got %v", Fragmented, receipt.Strategy)
	}

	expected := []string{
		"send:" + protocol.CmdSendMessage, // simple
		"upload:long",
		"send:" + protocol.CmdSendMessage, // long
		"send:" + protocol.CmdSendMessage, // fragments
		"send:" + protocol.CmdSendMessage,
		"send:" + protocol.CmdSendMessage,
	}
	if !reflect.DeepEqual(server.Trace(), expected) {
		t.Fatalf("expected %v, got %v", expected, server.Trace())
	}

	server.mutex.Lock()
	fragments := server.sent[2:]
	server.mutex.Unlock()
	for i, req := range fragments {
		if req.FragmentIndex != uint32(i) || req.FragmentCount != 3 || req.DivSeq != fragments[0].DivSeq {
			t.Fatalf("fragment %d: unexpected %+v", i, req)
		}
		if req.Random != receipt.Source.Random {
			t.Fatalf("fragment %d: random %d, expected %d", i, req.Random, receipt.Source.Random)
		}
	}

	ids, _ := receipt.Source.IDs()
	if len(ids) != 3 {
		t.Fatalf("expected three ids, got %v", ids)
	}

	// Only one post-send event per message.
	if post := nextPostSend(t, events); post.Err != nil {
		t.Fatalf("unexpected error %v", post.Err)
	}
	for {
		select {
		case e := <-events:
			if _, ok := e.(*event.PostSend); ok {
				t.Fatalf("unexpected second event %v", e)
			}
			continue
		case <-time.After(50 * time.Millisecond):
		}
		break
	}
}

func TestSendAllStrategiesFail(t *testing.T) {
	server := newFakeServer()
	server.respond = func(int, protocol.SendRequest, message.Chain) (interface{}, error) {
		return nil, correlator.ErrTimeout
	}
	out := newTestOutgoing(server, nil)

	_, err := out.Send(context.Background(), friend, message.PlainText("doomed"))
	if !errors.Is(err, ErrAllStrategiesTried) {
		t.Fatalf("expected %v, got %v", ErrAllStrategiesTried, err)
	}
	if !errors.Is(err, correlator.ErrTimeout) {
		t.Fatalf("causes are lost: %v", err)
	}

	var allErr *AllStrategiesTriedError
	if !errors.As(err, &allErr) || !reflect.DeepEqual(allErr.Tried, []Strategy{Simple, Long, Fragmented}) {
		t.Fatalf("unexpected %v", err)
	}
}

func TestSendForcedLong(t *testing.T) {
	server := newFakeServer()
	server.uploadErr = errors.New("upload rejected")
	out := newTestOutgoing(server, nil)

	_, err := out.Send(context.Background(), friend, message.PlainText("short").With(message.ForceAsLongMessage))

	var allErr *AllStrategiesTriedError
	if !errors.As(err, &allErr) || !reflect.DeepEqual(allErr.Tried, []Strategy{Long}) {
		t.Fatalf("unexpected %v", err)
	}
	if !reflect.DeepEqual(server.Trace(), []string{"upload:long"}) {
		t.Fatalf("unexpected calls %v", server.Trace())
	}
}

func TestSendTooLarge(t *testing.T) {
	tests := []struct {
		name  string
		chain message.Chain
	}{
		{"content", message.PlainText(strings.Repeat("x", DefaultMaxMessageLength+1))},
		{"images", func() message.Chain {
			var c message.Chain
			for i := 0; i <= DefaultMaxImages; i++ {
				c = c.With(message.Image{ID: fmt.Sprint(i)})
			}
			return c
		}()},
		{"forward", message.NewChain(message.Forward{Title: "big", Nodes: make([]message.ForwardNode, DefaultMaxForwardNodes+1)})},
	}

	for _, test := range tests {
		server := newFakeServer()
		out := newTestOutgoing(server, nil)

		_, err := out.Send(context.Background(), friend, test.chain)
		var tooLarge *MessageTooLargeError
		if !errors.As(err, &tooLarge) {
			t.Fatalf("%s: expected MessageTooLargeError, got %v", test.name, err)
		}
		if trace := server.Trace(); len(trace) != 0 {
			t.Fatalf("%s: unexpected calls %v", test.name, trace)
		}
	}

	// The length check can be skipped, leaving the decision to the server.
	server := newFakeServer()
	server.respond = func(int, protocol.SendRequest, message.Chain) (interface{}, error) {
		return &protocol.SendTooLarge{}, nil
	}
	out := newTestOutgoing(server, nil)

	chain := message.PlainText(strings.Repeat("x", DefaultMaxMessageLength+1)).With(message.IgnoreLengthCheck, message.DontAsLongMessage)
	_, err := out.Send(context.Background(), friend, chain)
	var tooLarge *MessageTooLargeError
	if !errors.As(err, &tooLarge) {
		t.Fatalf("expected MessageTooLargeError, got %v", err)
	}
	if len(server.Trace()) != 1 {
		t.Fatalf("server rejection was retried: %v", server.Trace())
	}
}

func TestSendMuted(t *testing.T) {
	server := newFakeServer()
	server.respond = func(int, protocol.SendRequest, message.Chain) (interface{}, error) {
		return &protocol.SendFailed{Code: protocol.ErrorCodeMuted, Message: "muted"}, nil
	}
	out := newTestOutgoing(server, nil)

	_, err := out.Send(context.Background(), group, message.PlainText("hello"))
	var muted *BotMutedError
	if !errors.As(err, &muted) || muted.Group != group.ID {
		t.Fatalf("expected BotMutedError, got %v", err)
	}
	if len(server.Trace()) != 1 {
		t.Fatalf("muted send was retried: %v", server.Trace())
	}

	// The same code for a friend is an ordinary failure.
	server = newFakeServer()
	server.respond = func(int, protocol.SendRequest, message.Chain) (interface{}, error) {
		return &protocol.SendFailed{Code: protocol.ErrorCodeMuted}, nil
	}
	out = newTestOutgoing(server, nil)

	_, err = out.Send(context.Background(), friend, message.PlainText("hello"))
	if errors.As(err, &muted) || !errors.Is(err, ErrAllStrategiesTried) {
		t.Fatalf("unexpected %v", err)
	}
}

func TestSendCancelled(t *testing.T) {
	server := newFakeServer()
	bus := event.NewBus()
	defer bus.Close()

	bus.OnPreSend(func(pre *event.PreSend) {
		if strings.Contains(pre.Chain.Content(), "secret") {
			pre.Cancel()
			return
		}
		pre.Chain = pre.Chain.With(message.Text{Text: "!"})
	})
	out := newTestOutgoing(server, bus)

	if _, err := out.Send(context.Background(), friend, message.PlainText("secret")); !errors.Is(err, ErrSendCancelled) {
		t.Fatalf("expected %v, got %v", ErrSendCancelled, err)
	}
	if len(server.Trace()) != 0 {
		t.Fatalf("cancelled message was sent: %v", server.Trace())
	}

	if _, err := out.Send(context.Background(), friend, message.PlainText("hi")); err != nil {
		t.Fatal(err)
	}
	if content := server.Chains()[0].Content(); content != "hi!" {
		t.Fatalf("hook modification lost, got %q", content)
	}
}

func TestSendForwardAndGroupImages(t *testing.T) {
	server := newFakeServer()
	out := newTestOutgoing(server, nil)

	forward := message.Forward{
		Title: "chat",
		Nodes: []message.ForwardNode{
			{SenderID: 1, SenderName: "a", Chain: message.PlainText("one")},
			{SenderID: 2, SenderName: "b", Chain: message.PlainText("two")},
		},
	}
	if _, err := out.Send(context.Background(), group, message.NewChain(forward)); err != nil {
		t.Fatal(err)
	}

	ref, ok := message.Single[message.ForwardRef](server.Chains()[0])
	if !ok || ref.ResID != "forward-chat" || ref.Nodes != 2 {
		t.Fatalf("unexpected chain %v", server.Chains()[0])
	}

	chain := message.NewChain(message.Image{ID: "img", NeedsGroupCheck: true}, message.Image{ID: "known"})
	if _, err := out.Send(context.Background(), group, chain); err != nil {
		t.Fatal(err)
	}

	elems := server.Chains()[1].Elements()
	if img := elems[0].(message.Image); img.ID != "group-img" || img.NeedsGroupCheck {
		t.Fatalf("image was not checked: %+v", img)
	}
	if img := elems[1].(message.Image); img.ID != "known" {
		t.Fatalf("image was altered: %+v", img)
	}

	expected := []string{"upload:forward", "send:" + protocol.CmdSendMessage, "image:20001", "send:" + protocol.CmdSendMessage}
	if !reflect.DeepEqual(server.Trace(), expected) {
		t.Fatalf("expected %v, got %v", expected, server.Trace())
	}
}

func TestSendAwaitsQuotedSource(t *testing.T) {
	server := newFakeServer()
	out := newTestOutgoing(server, nil)

	quoted := message.NewSource(friend, 1, 0)
	go func() {
		time.Sleep(20 * time.Millisecond)
		quoted.Resolve([]uint32{7})
	}()

	if _, err := out.Send(context.Background(), friend, message.NewChain(message.Quote{Source: quoted}, message.Text{Text: "re"})); err != nil {
		t.Fatal(err)
	}

	failed := message.NewSource(friend, 2, 0)
	failed.Fail(errors.New("never sent"))

	if _, err := out.Send(context.Background(), friend, message.NewChain(message.Quote{Source: failed}, message.Text{Text: "re"})); err == nil {
		t.Fatal("quoting a failed message succeeded")
	}
	if len(server.Chains()) != 1 {
		t.Fatalf("unexpected sends %v", server.Trace())
	}
}

func TestSendMusicShare(t *testing.T) {
	server := newFakeServer()
	out := newTestOutgoing(server, nil)

	music := message.MusicShare{Kind: "netease", Title: "song", JumpURL: "https://example.com"}
	receipt, err := out.Send(context.Background(), friend, message.NewChain(music))
	if err != nil {
		t.Fatal(err)
	}
	if expected := []string{"send:" + protocol.CmdMusicShare}; !reflect.DeepEqual(server.Trace(), expected) {
		t.Fatalf("expected %v, got %v", expected, server.Trace())
	}
	if receipt.Strategy != Simple {
		t.Fatalf("expected %v, got %v", Simple, receipt.Strategy)
	}
}

func TestSendFailedSourceOnError(t *testing.T) {
	server := newFakeServer()
	server.respond = func(int, protocol.SendRequest, message.Chain) (interface{}, error) {
		return &protocol.SendTooLarge{}, nil
	}
	bus := event.NewBus()
	defer bus.Close()

	events, unsubscribe := bus.Subscribe(8)
	defer unsubscribe()

	out := newTestOutgoing(server, bus)
	if _, err := out.Send(context.Background(), friend, message.PlainText("x")); err == nil {
		t.Fatal("send succeeded")
	}

	post := nextPostSend(t, events)
	if post.Err == nil || post.Source == nil {
		t.Fatalf("unexpected event %+v", post)
	}
	if _, err := post.Source.IDs(); err == nil {
		t.Fatal("source of a failed message was not failed")
	}
}
