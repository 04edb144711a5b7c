// SPDX-FileCopyrightText: 2024 The hibiki-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bot

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/hibiki-im/hibiki-go/pkg/message"
	"github.com/hibiki-im/hibiki-go/pkg/protocol"
)

// UploadFailedError is returned for an upload rejected by the server.
type UploadFailedError struct {
	Code    uint64
	Message string
}

func (err *UploadFailedError) Error() string {
	return fmt.Sprintf("upload failed with code %d: %s", err.Code, err.Message)
}

// ImageMissingError is returned for an image the server no longer knows.
type ImageMissingError struct {
	Group   uint64
	ImageID string
}

func (err *ImageMissingError) Error() string {
	return fmt.Sprintf("image %s is missing for group %d", err.ImageID, err.Group)
}

// ImageQueryFailedError is returned for a rejected image query.
type ImageQueryFailedError struct {
	Code    uint64
	Message string
}

func (err *ImageQueryFailedError) Error() string {
	return fmt.Sprintf("image query failed with code %d: %s", err.Code, err.Message)
}

func (b *Bot) upload(ctx context.Context, kind protocol.UploadKind, target message.Target, chain message.Chain) (string, error) {
	payload, err := message.MarshalPayload(chain)
	if err != nil {
		return "", err
	}

	body, err := protocol.Marshal(&protocol.UploadRequest{
		Kind:       kind,
		TargetKind: uint64(target.Kind),
		TargetID:   target.ID,
		Payload:    payload,
	})
	if err != nil {
		return "", err
	}

	resp, err := b.selector.SendAndExpect(ctx, b.registry.NewPacket(protocol.CmdUpload, body))
	if err != nil {
		return "", err
	}

	result, ok := resp.Payload.(*protocol.UploadResponse)
	if !ok {
		return "", fmt.Errorf("unexpected upload response %T", resp.Payload)
	}
	if result.Code != 0 {
		return "", &UploadFailedError{Code: result.Code, Message: result.Message}
	}

	b.log().WithFields(log.Fields{
		"target":   target,
		"resource": result.ResID,
		"size":     len(payload),
	}).Debug("Uploaded resource")
	return result.ResID, nil
}

// UploadLongMessage implements pipeline.Uploader.
func (b *Bot) UploadLongMessage(ctx context.Context, target message.Target, chain message.Chain) (string, error) {
	return b.upload(ctx, protocol.UploadLongMessage, target, chain)
}

// UploadForward implements pipeline.Uploader.
func (b *Bot) UploadForward(ctx context.Context, target message.Target, forward message.Forward) (string, error) {
	return b.upload(ctx, protocol.UploadForward, target, message.NewChain(forward))
}

// CheckGroupImage implements pipeline.ImageChecker. It asks the server for
// the image's id within the group.
func (b *Bot) CheckGroupImage(ctx context.Context, group uint64, img message.Image) (message.Image, error) {
	body, err := protocol.Marshal(&protocol.ImageQueryRequest{
		GroupID: group,
		ImageID: img.ID,
		Size:    img.Size,
	})
	if err != nil {
		return img, err
	}

	resp, err := b.selector.SendAndExpect(ctx, b.registry.NewPacket(protocol.CmdImageQuery, body))
	if err != nil {
		return img, err
	}

	switch result := resp.Payload.(type) {
	case *protocol.ImageExists:
		b.log().WithFields(log.Fields{
			"group": group,
			"image": img.ID,
			"id":    result.ResID,
		}).Debug("Image is available within group")

		img.ID = result.ResID
		return img, nil

	case *protocol.ImageMissing:
		return img, &ImageMissingError{Group: group, ImageID: img.ID}

	case *protocol.ImageFailed:
		return img, &ImageQueryFailedError{Code: result.Code, Message: result.Message}

	default:
		return img, fmt.Errorf("unexpected image query response %T", resp.Payload)
	}
}
