// SPDX-FileCopyrightText: 2024 The hibiki-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package protocol

import (
	"fmt"
	"io"
)

// ImageQueryRequest asks whether an uploaded image is available within a group.
type ImageQueryRequest struct {
	GroupID uint64
	ImageID string
	Size    uint64
}

func (req *ImageQueryRequest) MarshalCbor(w io.Writer) error {
	return writeFields(w, req.GroupID, req.ImageID, req.Size)
}

func (req *ImageQueryRequest) UnmarshalCbor(r io.Reader) error {
	return readFields(r, &req.GroupID, &req.ImageID, &req.Size)
}

// ImageQueryResponse is one of *ImageExists, *ImageMissing or *ImageFailed.
type ImageQueryResponse interface {
	tagged
	imageQueryResponse()
}

const (
	tagImageExists uint64 = iota
	tagImageMissing
	tagImageFailed
)

// ImageExists names the image's id within the group.
type ImageExists struct {
	ResID string
}

func (*ImageExists) tag() uint64         { return tagImageExists }
func (*ImageExists) imageQueryResponse() {}

func (e *ImageExists) MarshalCbor(w io.Writer) error {
	return writeFields(w, e.ResID)
}

func (e *ImageExists) UnmarshalCbor(r io.Reader) error {
	return readFields(r, &e.ResID)
}

// ImageMissing reports an image unknown to the server; it must be uploaded again.
type ImageMissing struct{}

func (*ImageMissing) tag() uint64         { return tagImageMissing }
func (*ImageMissing) imageQueryResponse() {}

func (*ImageMissing) MarshalCbor(w io.Writer) error {
	return writeFields(w)
}

func (*ImageMissing) UnmarshalCbor(r io.Reader) error {
	return readFields(r)
}

// ImageFailed rejects the query.
type ImageFailed struct {
	Code    uint64
	Message string
}

func (*ImageFailed) tag() uint64         { return tagImageFailed }
func (*ImageFailed) imageQueryResponse() {}

func (f *ImageFailed) MarshalCbor(w io.Writer) error {
	return writeFields(w, f.Code, f.Message)
}

func (f *ImageFailed) UnmarshalCbor(r io.Reader) error {
	return readFields(r, &f.Code, &f.Message)
}

// MarshalImageQueryResponse encodes an ImageQueryResponse body.
func MarshalImageQueryResponse(resp ImageQueryResponse) ([]byte, error) {
	return marshalTagged(resp)
}

// UnmarshalImageQueryResponse decodes an ImageQueryResponse body.
func UnmarshalImageQueryResponse(data []byte) (ImageQueryResponse, error) {
	v, err := unmarshalTagged(data, func(tag uint64) (tagged, error) {
		switch tag {
		case tagImageExists:
			return new(ImageExists), nil
		case tagImageMissing:
			return new(ImageMissing), nil
		case tagImageFailed:
			return new(ImageFailed), nil
		default:
			return nil, fmt.Errorf("unknown image query response tag %d", tag)
		}
	})
	if err != nil {
		return nil, err
	}
	return v.(ImageQueryResponse), nil
}

func decodeImageQueryResponse(_ uint32, body []byte) (interface{}, error) {
	return UnmarshalImageQueryResponse(body)
}
