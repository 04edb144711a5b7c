// SPDX-FileCopyrightText: 2024 The hibiki-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package message

import (
	"fmt"
	"strings"
)

// Element of a Chain. All implementations are immutable values.
type Element interface {
	// Content is the textual representation used for previews and length checks.
	Content() string

	elementType() elementType
}

type elementType uint64

const (
	typeText elementType = iota
	typeAt
	typeFace
	typeImage
	typeQuote
	typeForward
	typeForwardRef
	typeMusicShare
	typeFile
	typeLongMessageRef
	typeFlag
)

// Text is plain text.
type Text struct {
	Text string
}

func (t Text) Content() string        { return t.Text }
func (Text) elementType() elementType { return typeText }

// At mentions a group member. A zero Target mentions everyone.
type At struct {
	Target  uint64
	Display string
}

func (a At) Content() string {
	if a.Target == 0 {
		return "@all"
	}
	if a.Display != "" {
		return "@" + a.Display
	}
	return fmt.Sprintf("@%d", a.Target)
}
func (At) elementType() elementType { return typeAt }

// Face is a builtin emoticon.
type Face struct {
	ID uint32
}

func (f Face) Content() string        { return fmt.Sprintf("[face:%d]", f.ID) }
func (Face) elementType() elementType { return typeFace }

// Image references an uploaded image.
type Image struct {
	ID   string
	Size uint64
	// NeedsGroupCheck marks images uploaded for private messages whose
	// existence must be checked before they can be sent to a group.
	NeedsGroupCheck bool
}

func (img Image) Content() string      { return "[image]" }
func (Image) elementType() elementType { return typeImage }

// Quote replies to an earlier message.
type Quote struct {
	Source *Source
}

func (Quote) Content() string          { return "[quote]" }
func (Quote) elementType() elementType { return typeQuote }

// ForwardNode is one message of a Forward bundle.
type ForwardNode struct {
	SenderID   uint64
	SenderName string
	Time       uint64
	Chain      Chain
}

// Forward bundles several messages. It is uploaded before sending and replaced by a ForwardRef.
type Forward struct {
	Title string
	Nodes []ForwardNode
}

func (f Forward) Content() string        { return "[forward]" }
func (Forward) elementType() elementType { return typeForward }

// Preview lists the first nodes of the Forward.
func (f Forward) Preview() string {
	var b strings.Builder
	for i, node := range f.Nodes {
		if i == 4 {
			break
		} else if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(node.SenderName)
		b.WriteString(": ")
		b.WriteString(node.Chain.TakeContent(30))
	}
	return b.String()
}

// ForwardRef references an uploaded Forward.
type ForwardRef struct {
	ResID   string
	Title   string
	Preview string
	Nodes   uint64
}

func (f ForwardRef) Content() string        { return "[forward]" }
func (ForwardRef) elementType() elementType { return typeForwardRef }

// MusicShare is a rich card sharing a song. It is sent by a dedicated command.
type MusicShare struct {
	Kind     string
	Title    string
	Summary  string
	JumpURL  string
	MusicURL string
}

func (m MusicShare) Content() string        { return "[music]" + m.Title }
func (MusicShare) elementType() elementType { return typeMusicShare }

// File references an uploaded file. It is sent by a dedicated command.
type File struct {
	ID   string
	Name string
	Size uint64
}

func (f File) Content() string        { return "[file]" + f.Name }
func (File) elementType() elementType { return typeFile }

// LongMessageRef references an uploaded long message.
type LongMessageRef struct {
	ResID string
	Brief string
}

func (l LongMessageRef) Content() string        { return l.Brief }
func (LongMessageRef) elementType() elementType { return typeLongMessageRef }

// Flag elements change how a Chain is sent. They have no content.
type Flag uint64

const (
	// ForceAsLongMessage sends a Chain as long message, regardless of its length.
	ForceAsLongMessage Flag = iota + 1
	// DontAsLongMessage never sends a Chain as long message.
	DontAsLongMessage
	// IgnoreLengthCheck skips the length check.
	IgnoreLengthCheck
)

func (Flag) Content() string          { return "" }
func (Flag) elementType() elementType { return typeFlag }

func (f Flag) String() string {
	switch f {
	case ForceAsLongMessage:
		return "ForceAsLongMessage"
	case DontAsLongMessage:
		return "DontAsLongMessage"
	case IgnoreLengthCheck:
		return "IgnoreLengthCheck"
	default:
		return fmt.Sprintf("Flag(%d)", uint64(f))
	}
}
