// SPDX-FileCopyrightText: 2024 The hibiki-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package protocol

import (
	"bytes"
	"fmt"
	"io"

	"github.com/dtn7/cboring"
)

// writeFields writes a CBOR array of the given values. Supported types are
// string, []byte, bool, uint32, uint64 and []string.
func writeFields(w io.Writer, fields ...interface{}) error {
	if err := cboring.WriteArrayLength(uint64(len(fields)), w); err != nil {
		return err
	}

	for i, field := range fields {
		var err error
		switch v := field.(type) {
		case string:
			err = cboring.WriteTextString(v, w)
		case []byte:
			err = cboring.WriteByteString(v, w)
		case bool:
			err = cboring.WriteBoolean(v, w)
		case uint32:
			err = cboring.WriteUInt(uint64(v), w)
		case uint64:
			err = cboring.WriteUInt(v, w)
		case []string:
			if err = cboring.WriteArrayLength(uint64(len(v)), w); err == nil {
				for _, s := range v {
					if err = cboring.WriteTextString(s, w); err != nil {
						break
					}
				}
			}
		default:
			err = fmt.Errorf("unsupported field type %T", v)
		}

		if err != nil {
			return fmt.Errorf("field %d: %w", i, err)
		}
	}
	return nil
}

// readFields reads a CBOR array into the given pointers, the counterpart of writeFields.
func readFields(r io.Reader, fields ...interface{}) error {
	if l, err := cboring.ReadArrayLength(r); err != nil {
		return err
	} else if int(l) != len(fields) {
		return fmt.Errorf("wrong array length: %d instead of %d", l, len(fields))
	}

	for i, field := range fields {
		var err error
		switch v := field.(type) {
		case *string:
			*v, err = cboring.ReadTextString(r)
		case *[]byte:
			*v, err = cboring.ReadByteString(r)
		case *bool:
			*v, err = cboring.ReadBoolean(r)
		case *uint32:
			var n uint64
			n, err = cboring.ReadUInt(r)
			*v = uint32(n)
		case *uint64:
			*v, err = cboring.ReadUInt(r)
		case *[]string:
			var l uint64
			if l, err = cboring.ReadArrayLength(r); err == nil {
				*v = make([]string, l)
				for j := range *v {
					if (*v)[j], err = cboring.ReadTextString(r); err != nil {
						break
					}
				}
			}
		default:
			err = fmt.Errorf("unsupported field type %T", v)
		}

		if err != nil {
			return fmt.Errorf("field %d: %w", i, err)
		}
	}
	return nil
}

// Marshal a CborMarshaler into a byte slice.
func Marshal(m cboring.CborMarshaler) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := cboring.Marshal(m, buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal data into a CborMarshaler.
func Unmarshal(data []byte, m cboring.CborMarshaler) error {
	return cboring.Unmarshal(m, bytes.NewReader(data))
}

// tagged is a variant of a sum type, identified by its tag.
type tagged interface {
	cboring.CborMarshaler
	tag() uint64
}

// marshalTagged writes a two element array of the variant's tag and fields.
func marshalTagged(v tagged) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := cboring.WriteArrayLength(2, buf); err != nil {
		return nil, err
	}
	if err := cboring.WriteUInt(v.tag(), buf); err != nil {
		return nil, err
	}
	if err := cboring.Marshal(v, buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// unmarshalTagged reads a variant, created by the factory for its tag.
func unmarshalTagged(data []byte, factory func(tag uint64) (tagged, error)) (tagged, error) {
	r := bytes.NewReader(data)
	if l, err := cboring.ReadArrayLength(r); err != nil {
		return nil, err
	} else if l != 2 {
		return nil, fmt.Errorf("wrong array length: %d instead of 2", l)
	}

	tag, err := cboring.ReadUInt(r)
	if err != nil {
		return nil, err
	}

	v, err := factory(tag)
	if err != nil {
		return nil, err
	}
	if err := cboring.Unmarshal(v, r); err != nil {
		return nil, err
	}
	return v, nil
}
