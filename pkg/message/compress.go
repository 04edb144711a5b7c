// SPDX-FileCopyrightText: 2024 The hibiki-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package message

import (
	"bytes"
	"io"

	"github.com/ulikunitz/xz"
)

// CompressPayload compresses an upload payload, e.g., a marshalled Chain, with xz.
func CompressPayload(data []byte) ([]byte, error) {
	buf := new(bytes.Buffer)

	w, err := xz.NewWriter(buf)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecompressPayload reverses CompressPayload.
func DecompressPayload(data []byte) ([]byte, error) {
	r, err := xz.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return io.ReadAll(r)
}

// MarshalPayload marshals and compresses a Chain for an upload.
func MarshalPayload(c Chain) ([]byte, error) {
	data, err := MarshalChain(c)
	if err != nil {
		return nil, err
	}
	return CompressPayload(data)
}

// UnmarshalPayload reverses MarshalPayload.
func UnmarshalPayload(data []byte) (Chain, error) {
	raw, err := DecompressPayload(data)
	if err != nil {
		return Chain{}, err
	}
	return UnmarshalChain(raw)
}
