// SPDX-FileCopyrightText: 2024 The hibiki-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/hibiki-im/hibiki-go/pkg/codec"
	"github.com/hibiki-im/hibiki-go/pkg/correlator"
	"github.com/hibiki-im/hibiki-go/pkg/event"
	"github.com/hibiki-im/hibiki-go/pkg/message"
	"github.com/hibiki-im/hibiki-go/pkg/protocol"
)

// Sender sends packets and awaits their responses, e.g., a selector.Selector.
type Sender interface {
	SendAndExpect(ctx context.Context, packet codec.Packet, opts ...correlator.Option) (codec.IncomingPacket, error)
}

// Uploader stores resources out of band.
type Uploader interface {
	// UploadLongMessage returns the resource id of an uploaded chain.
	UploadLongMessage(ctx context.Context, target message.Target, chain message.Chain) (string, error)

	// UploadForward returns the resource id of an uploaded Forward.
	UploadForward(ctx context.Context, target message.Target, forward message.Forward) (string, error)
}

// ImageChecker ensures the server knows an image before it is sent to a group.
type ImageChecker interface {
	CheckGroupImage(ctx context.Context, group uint64, image message.Image) (message.Image, error)
}

// Config of Outgoing. Zero values select the defaults.
type Config struct {
	// LongMessageThreshold in bytes of content. Longer chains are sent as long messages. Defaults to 4500.
	LongMessageThreshold int
	// FragmentSize in runes of content of a fragment. Defaults to 2000.
	FragmentSize int
	// MaxForwardNodes of a Forward. Defaults to 200.
	MaxForwardNodes int
	// MaxMessageLength in runes of content. Defaults to 15000.
	MaxMessageLength int
	// MaxImages per message. Defaults to 50.
	MaxImages int
	// SendTimeout of each send packet. Defaults to the Sender's timeout.
	SendTimeout time.Duration
	// SourceTimeout bounds waiting for a quoted message's sequence ids. Defaults to five seconds.
	SourceTimeout time.Duration
}

// Defaults of Config.
const (
	DefaultLongMessageThreshold = 4500
	DefaultFragmentSize         = 2000
	DefaultMaxForwardNodes      = 200
	DefaultMaxMessageLength     = 15000
	DefaultMaxImages            = 50

	// briefLength of a long message's preview in runes.
	briefLength = 27
)

func (conf Config) withDefaults() Config {
	if conf.LongMessageThreshold <= 0 {
		conf.LongMessageThreshold = DefaultLongMessageThreshold
	}
	if conf.FragmentSize <= 0 {
		conf.FragmentSize = DefaultFragmentSize
	}
	if conf.MaxForwardNodes <= 0 {
		conf.MaxForwardNodes = DefaultMaxForwardNodes
	}
	if conf.MaxMessageLength <= 0 {
		conf.MaxMessageLength = DefaultMaxMessageLength
	}
	if conf.MaxImages <= 0 {
		conf.MaxImages = DefaultMaxImages
	}
	if conf.SourceTimeout <= 0 {
		conf.SourceTimeout = 5 * time.Second
	}
	return conf
}

// Dependencies of Outgoing. Images and Bus are optional.
type Dependencies struct {
	Sender   Sender
	Uploader Uploader
	Images   ImageChecker
	Bus      *event.Bus
	Registry *codec.Registry
}

// Receipt of a sent message.
type Receipt struct {
	Target   message.Target
	Source   *message.Source
	Strategy Strategy
	TraceID  string
	Time     time.Time
}

// Attributes of the Outgoing pipeline.
var (
	KeyTarget     = NewKey[message.Target]("target")
	KeyOriginal   = NewKey[message.Chain]("original-message")
	KeyFinalChain = NewKey[message.Chain]("final-message-chain")
	KeyStrategies = NewKey[*Strategies]("strategies")
	KeySource     = NewKey[*message.Source]("message-source")
	KeyTraceID    = NewKey[string]("trace-id")
	KeyReceipt    = NewKey[*Receipt]("receipt")

	keyCancel = NewKey[context.CancelFunc]("cancel")
)

// Outgoing sends message chains.
type Outgoing struct {
	conf     Config
	deps     Dependencies
	pipeline *Pipeline
}

// NewOutgoing message pipeline.
func NewOutgoing(conf Config, deps Dependencies) *Outgoing {
	if deps.Registry == nil {
		deps.Registry = protocol.NewRegistry()
	}

	o := &Outgoing{
		conf: conf.withDefaults(),
		deps: deps,
	}

	o.pipeline = &Pipeline{
		Name: "outgoing",
		Nodes: []Node{
			{Phase: NewPhase("Begin", o.begin)},
			{Phase: NewPhase("Preconditions", o.preconditions)},
			{Phase: NewPhase("ToMessageChain", o.toMessageChain)},
			{Phase: NewPhase("BroadcastPreSend", o.broadcastPreSend)},
			{Phase: NewPhase("CheckLength", o.checkLength)},
			{Phase: NewPhase("EnsureSequenceIDAvailable", o.ensureSequenceIDAvailable)},
			{Phase: NewPhase("UploadForwardMessages", o.uploadForwardMessages)},
			{Phase: NewPhase("FixGroupImages", o.fixGroupImages)},
			Savepoint(1),
			{Phase: NewPhase("ConvertToLongMessage", o.convertToLongMessage), OnFailureJumpTo: 1},
			{Phase: NewPhase("StartCreatePackets", o.startCreatePackets)},
			{Phase: NewPhase("CreatePacketsForMusicShare", o.createPacketsForMusicShare)},
			{Phase: NewPhase("CreatePacketsForFile", o.createPacketsForFile)},
			{Phase: NewPhase("CreatePacketsGeneric", o.createPacketsGeneric)},
			{Phase: NewPhase("LogMessageSent", o.logMessageSent)},
			{Phase: NewPhase("SendPacketsAndCreateReceipt", o.sendPacketsAndCreateReceipt), OnFailureJumpTo: 1},
		},
		Finally: []FinallyPhase{
			{Name: "BroadcastPostSend", Run: o.broadcastPostSend},
			{Name: "CloseContext", Run: o.closeContext},
			{Name: "ThrowExceptions", Run: o.throwExceptions},
		},
		OnJump: func(_ *Context, _ Node, err error) bool {
			return retriable(err)
		},
		MaxJumps: len(strategyOrder),
	}

	return o
}

// Send a chain to a target.
func (o *Outgoing) Send(ctx context.Context, target message.Target, chain message.Chain) (*Receipt, error) {
	traceID := uuid.NewString()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	pc := NewContext(log.WithFields(log.Fields{
		"target": target,
		"trace":  traceID,
	}))
	KeyTarget.Set(pc.Attributes, target)
	KeyTraceID.Set(pc.Attributes, traceID)
	KeyStrategies.Set(pc.Attributes, NewStrategies(chain))
	keyCancel.Set(pc.Attributes, cancel)

	if _, err := o.pipeline.Execute(ctx, pc, chain); err != nil {
		return nil, err
	}
	return KeyReceipt.MustGet(pc.Attributes), nil
}

func (o *Outgoing) begin(_ context.Context, pc *Context, chain message.Chain) (message.Chain, error) {
	KeyOriginal.Set(pc.Attributes, chain)
	return chain, nil
}

func (o *Outgoing) preconditions(_ context.Context, _ *Context, chain message.Chain) (message.Chain, error) {
	if chain.IsEmpty() {
		return chain, ErrEmptyMessage
	}
	return chain, nil
}

// toMessageChain merges adjacent Texts and drops empty ones.
func (o *Outgoing) toMessageChain(_ context.Context, _ *Context, chain message.Chain) (message.Chain, error) {
	var elems []message.Element
	for _, elem := range chain.Elements() {
		text, isText := elem.(message.Text)
		if isText && text.Text == "" {
			continue
		}

		if n := len(elems); isText && n > 0 {
			if prev, ok := elems[n-1].(message.Text); ok {
				elems[n-1] = message.Text{Text: prev.Text + text.Text}
				continue
			}
		}
		elems = append(elems, elem)
	}
	return message.NewChain(elems...), nil
}

func (o *Outgoing) broadcastPreSend(_ context.Context, pc *Context, chain message.Chain) (message.Chain, error) {
	if o.deps.Bus == nil {
		return chain, nil
	}

	pre := &event.PreSend{Target: KeyTarget.MustGet(pc.Attributes), Chain: chain}
	if o.deps.Bus.BroadcastPreSend(pre) {
		return chain, ErrSendCancelled
	}
	return pre.Chain, nil
}

func (o *Outgoing) checkLength(_ context.Context, pc *Context, chain message.Chain) (message.Chain, error) {
	if chain.Has(message.IgnoreLengthCheck) {
		return chain, nil
	}

	target := KeyTarget.MustGet(pc.Attributes)

	if forward, ok := message.Single[message.Forward](chain); ok && len(forward.Nodes) > o.conf.MaxForwardNodes {
		return chain, &MessageTooLargeError{
			Target: target,
			Reason: fmt.Sprintf("forward allows up to %d nodes, but found %d", o.conf.MaxForwardNodes, len(forward.Nodes)),
		}
	}

	if length := utf8.RuneCountInString(chain.Content()); length > o.conf.MaxMessageLength {
		return chain, &MessageTooLargeError{
			Target: target,
			Reason: fmt.Sprintf("content of %d characters exceeds %d", length, o.conf.MaxMessageLength),
		}
	}

	images := 0
	for _, elem := range chain.Elements() {
		if _, ok := elem.(message.Image); ok {
			images++
		}
	}
	if images > o.conf.MaxImages {
		return chain, &MessageTooLargeError{
			Target: target,
			Reason: fmt.Sprintf("%d images exceed %d", images, o.conf.MaxImages),
		}
	}

	return chain, nil
}

func (o *Outgoing) ensureSequenceIDAvailable(ctx context.Context, _ *Context, chain message.Chain) (message.Chain, error) {
	quote, ok := message.First[message.Quote](chain)
	if !ok || quote.Source == nil {
		return chain, nil
	}

	ctx, cancel := context.WithTimeout(ctx, o.conf.SourceTimeout)
	defer cancel()

	if _, err := quote.Source.Await(ctx); err != nil {
		return chain, fmt.Errorf("quoted message: %w", err)
	}
	return chain, nil
}

func (o *Outgoing) uploadForwardMessages(ctx context.Context, pc *Context, chain message.Chain) (message.Chain, error) {
	if _, ok := message.First[message.Forward](chain); !ok {
		return chain, nil
	}

	target := KeyTarget.MustGet(pc.Attributes)
	elems := chain.Elements()
	for i, elem := range elems {
		forward, ok := elem.(message.Forward)
		if !ok {
			continue
		}

		resID, err := o.deps.Uploader.UploadForward(ctx, target, forward)
		if err != nil {
			return chain, fmt.Errorf("uploading forward: %w", err)
		}
		elems[i] = message.ForwardRef{
			ResID:   resID,
			Title:   forward.Title,
			Preview: forward.Preview(),
			Nodes:   uint64(len(forward.Nodes)),
		}
	}
	return message.NewChain(elems...), nil
}

func (o *Outgoing) fixGroupImages(ctx context.Context, pc *Context, chain message.Chain) (message.Chain, error) {
	target := KeyTarget.MustGet(pc.Attributes)
	if target.Kind != message.Group || o.deps.Images == nil {
		return chain, nil
	}

	elems := chain.Elements()
	for i, elem := range elems {
		img, ok := elem.(message.Image)
		if !ok || !img.NeedsGroupCheck {
			continue
		}

		fixed, err := o.deps.Images.CheckGroupImage(ctx, target.ID, img)
		if err != nil {
			return chain, fmt.Errorf("checking image %s: %w", img.ID, err)
		}
		fixed.NeedsGroupCheck = false
		elems[i] = fixed
	}
	return message.NewChain(elems...), nil
}

// convertToLongMessage selects the next strategy and uploads the chain for Long.
func (o *Outgoing) convertToLongMessage(ctx context.Context, pc *Context, chain message.Chain) (message.Chain, error) {
	strategies := KeyStrategies.MustGet(pc.Attributes)

	if length := len(chain.Content()); length > o.conf.LongMessageThreshold && strategies.Available(Simple) && strategies.Available(Long) {
		pc.Logger().WithField("length", length).Debug("Message exceeds the long message threshold")
		strategies.Disable(Simple)
	}

	strategy, ok := strategies.Next()
	if !ok {
		return chain, &AllStrategiesTriedError{Tried: strategies.Tried(), Causes: pc.Collected()}
	}

	if strategy != Long {
		return chain, nil
	}

	target := KeyTarget.MustGet(pc.Attributes)
	resID, err := o.deps.Uploader.UploadLongMessage(ctx, target, chain)
	if err != nil {
		return chain, fmt.Errorf("uploading long message: %w", err)
	}

	return message.NewChain(message.LongMessageRef{
		ResID: resID,
		Brief: chain.TakeContent(briefLength),
	}), nil
}

func (o *Outgoing) startCreatePackets(_ context.Context, pc *Context, chain message.Chain) ([]codec.Packet, error) {
	KeyFinalChain.Set(pc.Attributes, chain)
	KeySource.Set(pc.Attributes, message.NewSource(KeyTarget.MustGet(pc.Attributes), rand.Uint32(), uint64(time.Now().Unix())))
	return nil, nil
}

func (o *Outgoing) newSendPacket(command string, target message.Target, chain message.Chain, req protocol.SendRequest) (codec.Packet, error) {
	data, err := message.MarshalChain(chain)
	if err != nil {
		return codec.Packet{}, err
	}

	req.TargetKind = uint64(target.Kind)
	req.TargetID = target.ID
	req.Chain = data

	body, err := protocol.Marshal(&req)
	if err != nil {
		return codec.Packet{}, err
	}
	return o.deps.Registry.NewPacket(command, body), nil
}

func (o *Outgoing) createPacketsForMusicShare(_ context.Context, pc *Context, packets []codec.Packet) ([]codec.Packet, error) {
	if packets != nil {
		return packets, nil
	}

	chain := KeyFinalChain.MustGet(pc.Attributes)
	music, ok := message.Single[message.MusicShare](chain)
	if !ok {
		return nil, nil
	}

	source := KeySource.MustGet(pc.Attributes)
	p, err := o.newSendPacket(protocol.CmdMusicShare, source.Target, message.NewChain(music), protocol.SendRequest{Random: source.Random})
	if err != nil {
		return nil, err
	}
	return []codec.Packet{p}, nil
}

func (o *Outgoing) createPacketsForFile(_ context.Context, pc *Context, packets []codec.Packet) ([]codec.Packet, error) {
	if packets != nil {
		return packets, nil
	}

	chain := KeyFinalChain.MustGet(pc.Attributes)
	file, ok := message.Single[message.File](chain)
	if !ok {
		return nil, nil
	}

	source := KeySource.MustGet(pc.Attributes)
	p, err := o.newSendPacket(protocol.CmdFileMessage, source.Target, message.NewChain(file), protocol.SendRequest{Random: source.Random})
	if err != nil {
		return nil, err
	}
	return []codec.Packet{p}, nil
}

func (o *Outgoing) createPacketsGeneric(_ context.Context, pc *Context, packets []codec.Packet) ([]codec.Packet, error) {
	if packets != nil {
		return packets, nil
	}

	chain := KeyFinalChain.MustGet(pc.Attributes)
	source := KeySource.MustGet(pc.Attributes)
	strategy, _ := KeyStrategies.MustGet(pc.Attributes).Current()

	if strategy != Fragmented {
		p, err := o.newSendPacket(protocol.CmdSendMessage, source.Target, chain, protocol.SendRequest{Random: source.Random})
		if err != nil {
			return nil, err
		}
		return []codec.Packet{p}, nil
	}

	fragments := Fragment(chain, o.conf.FragmentSize)
	divSeq := rand.Uint32()
	for i, fragment := range fragments {
		p, err := o.newSendPacket(protocol.CmdSendMessage, source.Target, fragment, protocol.SendRequest{
			Random:        source.Random,
			FragmentIndex: uint32(i),
			FragmentCount: uint32(len(fragments)),
			DivSeq:        divSeq,
		})
		if err != nil {
			return nil, err
		}
		packets = append(packets, p)
	}
	return packets, nil
}

func (o *Outgoing) logMessageSent(_ context.Context, pc *Context, packets []codec.Packet) ([]codec.Packet, error) {
	strategy, _ := KeyStrategies.MustGet(pc.Attributes).Current()
	pc.Logger().WithFields(log.Fields{
		"strategy": strategy,
		"packets":  len(packets),
		"content":  KeyOriginal.MustGet(pc.Attributes).TakeContent(30),
	}).Info("Sending message")
	return packets, nil
}

func (o *Outgoing) sendPacketsAndCreateReceipt(ctx context.Context, pc *Context, packets []codec.Packet) (*Receipt, error) {
	if len(packets) == 0 {
		return nil, errors.New("pipeline: no packets created")
	}

	target := KeyTarget.MustGet(pc.Attributes)
	var opts []correlator.Option
	if o.conf.SendTimeout > 0 {
		opts = append(opts, correlator.WithTimeout(o.conf.SendTimeout))
	}

	ids := make([]uint32, 0, len(packets))
	for _, packet := range packets {
		resp, err := o.deps.Sender.SendAndExpect(ctx, packet, opts...)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, &SendFailedError{Command: packet.CommandName, Cause: err}
		}

		switch result := resp.Payload.(type) {
		case *protocol.SendSuccess:
			ids = append(ids, result.MessageSeq)

		case *protocol.SendTooLarge:
			return nil, &MessageTooLargeError{
				Target: target,
				Reason: fmt.Sprintf("rejected by server: %q", KeyFinalChain.MustGet(pc.Attributes).TakeContent(10)),
			}

		case *protocol.SendFailed:
			if result.Code == protocol.ErrorCodeMuted && target.Kind == message.Group {
				return nil, &BotMutedError{Group: target.ID}
			}
			return nil, &SendFailedError{Command: packet.CommandName, Code: result.Code, Message: result.Message}

		default:
			return nil, &SendFailedError{Command: packet.CommandName, Cause: fmt.Errorf("unexpected response %T", resp.Payload)}
		}
	}

	source := KeySource.MustGet(pc.Attributes)
	source.Resolve(ids)

	strategy, _ := KeyStrategies.MustGet(pc.Attributes).Current()
	receipt := &Receipt{
		Target:   target,
		Source:   source,
		Strategy: strategy,
		TraceID:  KeyTraceID.MustGet(pc.Attributes),
		Time:     time.Now(),
	}
	KeyReceipt.Set(pc.Attributes, receipt)
	return receipt, nil
}

func (o *Outgoing) broadcastPostSend(_ context.Context, pc *Context) error {
	if o.deps.Bus == nil {
		return nil
	}

	// Messages rejected before they were ever sent are not reported.
	chain, ok := KeyFinalChain.Get(pc.Attributes)
	if !ok {
		return nil
	}

	post := &event.PostSend{
		Target:  KeyTarget.MustGet(pc.Attributes),
		Chain:   chain,
		TraceID: KeyTraceID.MustGet(pc.Attributes),
		Err:     pc.Err(),
	}
	if source, ok := KeySource.Get(pc.Attributes); ok {
		post.Source = source
	}
	if strategy, ok := KeyStrategies.MustGet(pc.Attributes).Current(); ok {
		post.Strategy = strategy.String()
	}

	o.deps.Bus.Publish(post)
	return nil
}

func (o *Outgoing) closeContext(_ context.Context, pc *Context) error {
	if source, ok := KeySource.Get(pc.Attributes); ok {
		if err := pc.Err(); err != nil {
			source.Fail(err)
		}
	}
	if cancel, ok := keyCancel.Get(pc.Attributes); ok {
		cancel()
	}
	return nil
}

// throwExceptions surfaces the error which terminated the send.
func (o *Outgoing) throwExceptions(_ context.Context, pc *Context) error {
	return pc.Err()
}
