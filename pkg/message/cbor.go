// SPDX-FileCopyrightText: 2024 The hibiki-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package message

import (
	"bytes"
	"fmt"
	"io"

	"github.com/dtn7/cboring"
)

// MarshalCbor writes the Chain as CBOR array of Elements. Each Element is an
// array of its type code followed by its fields.
func (c *Chain) MarshalCbor(w io.Writer) error {
	if err := cboring.WriteArrayLength(uint64(len(c.elems)), w); err != nil {
		return err
	}
	for i, elem := range c.elems {
		if err := marshalElement(elem, w); err != nil {
			return fmt.Errorf("element %d (%T): %w", i, elem, err)
		}
	}
	return nil
}

// UnmarshalCbor reads a Chain written by MarshalCbor.
func (c *Chain) UnmarshalCbor(r io.Reader) error {
	l, err := cboring.ReadArrayLength(r)
	if err != nil {
		return err
	}

	elems := make([]Element, 0, l)
	for i := uint64(0); i < l; i++ {
		elem, err := unmarshalElement(r)
		if err != nil {
			return fmt.Errorf("element %d: %w", i, err)
		}
		elems = append(elems, elem)
	}
	c.elems = elems
	return nil
}

// MarshalChain into a byte slice.
func MarshalChain(c Chain) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := cboring.Marshal(&c, buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalChain from a byte slice.
func UnmarshalChain(data []byte) (c Chain, err error) {
	err = cboring.Unmarshal(&c, bytes.NewReader(data))
	return
}

func writeHead(w io.Writer, t elementType, fields int) error {
	if err := cboring.WriteArrayLength(uint64(fields+1), w); err != nil {
		return err
	}
	return cboring.WriteUInt(uint64(t), w)
}

func writeTexts(w io.Writer, texts ...string) error {
	for _, text := range texts {
		if err := cboring.WriteTextString(text, w); err != nil {
			return err
		}
	}
	return nil
}

func writeUInts(w io.Writer, ns ...uint64) error {
	for _, n := range ns {
		if err := cboring.WriteUInt(n, w); err != nil {
			return err
		}
	}
	return nil
}

func readTexts(r io.Reader, texts ...*string) (err error) {
	for _, text := range texts {
		if *text, err = cboring.ReadTextString(r); err != nil {
			return
		}
	}
	return
}

func readUInts(r io.Reader, ns ...*uint64) (err error) {
	for _, n := range ns {
		if *n, err = cboring.ReadUInt(r); err != nil {
			return
		}
	}
	return
}

func marshalElement(elem Element, w io.Writer) error {
	switch e := elem.(type) {
	case Text:
		if err := writeHead(w, typeText, 1); err != nil {
			return err
		}
		return writeTexts(w, e.Text)

	case At:
		if err := writeHead(w, typeAt, 2); err != nil {
			return err
		}
		if err := writeUInts(w, e.Target); err != nil {
			return err
		}
		return writeTexts(w, e.Display)

	case Face:
		if err := writeHead(w, typeFace, 1); err != nil {
			return err
		}
		return writeUInts(w, uint64(e.ID))

	case Image:
		if err := writeHead(w, typeImage, 3); err != nil {
			return err
		}
		if err := writeTexts(w, e.ID); err != nil {
			return err
		}
		if err := writeUInts(w, e.Size); err != nil {
			return err
		}
		return cboring.WriteBoolean(e.NeedsGroupCheck, w)

	case Quote:
		if e.Source == nil {
			return fmt.Errorf("quote without source")
		}
		ids, err := e.Source.IDs()
		if err != nil {
			return err
		}
		if err := writeHead(w, typeQuote, 4); err != nil {
			return err
		}
		if err := writeUInts(w, uint64(e.Source.Target.Kind), e.Source.Target.ID, e.Source.Time); err != nil {
			return err
		}
		if err := cboring.WriteArrayLength(uint64(len(ids)), w); err != nil {
			return err
		}
		for _, id := range ids {
			if err := cboring.WriteUInt(uint64(id), w); err != nil {
				return err
			}
		}
		return nil

	case Forward:
		if err := writeHead(w, typeForward, 2); err != nil {
			return err
		}
		if err := writeTexts(w, e.Title); err != nil {
			return err
		}
		if err := cboring.WriteArrayLength(uint64(len(e.Nodes)), w); err != nil {
			return err
		}
		for _, node := range e.Nodes {
			if err := cboring.WriteArrayLength(4, w); err != nil {
				return err
			}
			if err := writeUInts(w, node.SenderID); err != nil {
				return err
			}
			if err := writeTexts(w, node.SenderName); err != nil {
				return err
			}
			if err := writeUInts(w, node.Time); err != nil {
				return err
			}
			chain := node.Chain
			if err := chain.MarshalCbor(w); err != nil {
				return err
			}
		}
		return nil

	case ForwardRef:
		if err := writeHead(w, typeForwardRef, 4); err != nil {
			return err
		}
		if err := writeTexts(w, e.ResID, e.Title, e.Preview); err != nil {
			return err
		}
		return writeUInts(w, e.Nodes)

	case MusicShare:
		if err := writeHead(w, typeMusicShare, 5); err != nil {
			return err
		}
		return writeTexts(w, e.Kind, e.Title, e.Summary, e.JumpURL, e.MusicURL)

	case File:
		if err := writeHead(w, typeFile, 3); err != nil {
			return err
		}
		if err := writeTexts(w, e.ID, e.Name); err != nil {
			return err
		}
		return writeUInts(w, e.Size)

	case LongMessageRef:
		if err := writeHead(w, typeLongMessageRef, 2); err != nil {
			return err
		}
		return writeTexts(w, e.ResID, e.Brief)

	case Flag:
		if err := writeHead(w, typeFlag, 1); err != nil {
			return err
		}
		return writeUInts(w, uint64(e))

	default:
		return fmt.Errorf("unsupported element type %T", elem)
	}
}

// elementFields is the number of fields following the type code.
var elementFields = map[elementType]uint64{
	typeText:           1,
	typeAt:             2,
	typeFace:           1,
	typeImage:          3,
	typeQuote:          4,
	typeForward:        2,
	typeForwardRef:     4,
	typeMusicShare:     5,
	typeFile:           3,
	typeLongMessageRef: 2,
	typeFlag:           1,
}

func unmarshalElement(r io.Reader) (Element, error) {
	l, err := cboring.ReadArrayLength(r)
	if err != nil {
		return nil, err
	}

	n, err := cboring.ReadUInt(r)
	if err != nil {
		return nil, err
	}

	t := elementType(n)
	if fields, ok := elementFields[t]; !ok {
		return nil, fmt.Errorf("unknown element type %d", t)
	} else if l != fields+1 {
		return nil, fmt.Errorf("element type %d has %d fields instead of %d", t, l-1, fields)
	}

	switch t {
	case typeText:
		var e Text
		err = readTexts(r, &e.Text)
		return e, err

	case typeAt:
		var e At
		if err = readUInts(r, &e.Target); err == nil {
			err = readTexts(r, &e.Display)
		}
		return e, err

	case typeFace:
		var id uint64
		err = readUInts(r, &id)
		return Face{ID: uint32(id)}, err

	case typeImage:
		var e Image
		if err = readTexts(r, &e.ID); err != nil {
			return nil, err
		}
		if err = readUInts(r, &e.Size); err != nil {
			return nil, err
		}
		e.NeedsGroupCheck, err = cboring.ReadBoolean(r)
		return e, err

	case typeQuote:
		var kind, id, time uint64
		if err = readUInts(r, &kind, &id, &time); err != nil {
			return nil, err
		}
		n, err := cboring.ReadArrayLength(r)
		if err != nil {
			return nil, err
		}
		ids := make([]uint32, n)
		for i := range ids {
			seq, err := cboring.ReadUInt(r)
			if err != nil {
				return nil, err
			}
			ids[i] = uint32(seq)
		}
		return Quote{Source: ResolvedSource(Target{Kind: TargetKind(kind), ID: id}, ids, time)}, nil

	case typeForward:
		var e Forward
		if err = readTexts(r, &e.Title); err != nil {
			return nil, err
		}
		n, err := cboring.ReadArrayLength(r)
		if err != nil {
			return nil, err
		}
		e.Nodes = make([]ForwardNode, n)
		for i := range e.Nodes {
			node := &e.Nodes[i]
			if l, err := cboring.ReadArrayLength(r); err != nil {
				return nil, err
			} else if l != 4 {
				return nil, fmt.Errorf("forward node has %d fields instead of 4", l)
			}
			if err = readUInts(r, &node.SenderID); err != nil {
				return nil, err
			}
			if err = readTexts(r, &node.SenderName); err != nil {
				return nil, err
			}
			if err = readUInts(r, &node.Time); err != nil {
				return nil, err
			}
			if err = node.Chain.UnmarshalCbor(r); err != nil {
				return nil, err
			}
		}
		return e, nil

	case typeForwardRef:
		var e ForwardRef
		if err = readTexts(r, &e.ResID, &e.Title, &e.Preview); err == nil {
			err = readUInts(r, &e.Nodes)
		}
		return e, err

	case typeMusicShare:
		var e MusicShare
		err = readTexts(r, &e.Kind, &e.Title, &e.Summary, &e.JumpURL, &e.MusicURL)
		return e, err

	case typeFile:
		var e File
		if err = readTexts(r, &e.ID, &e.Name); err == nil {
			err = readUInts(r, &e.Size)
		}
		return e, err

	case typeLongMessageRef:
		var e LongMessageRef
		err = readTexts(r, &e.ResID, &e.Brief)
		return e, err

	default: // typeFlag
		var flag uint64
		err = readUInts(r, &flag)
		return Flag(flag), err
	}
}
