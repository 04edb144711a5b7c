// SPDX-FileCopyrightText: 2024 The hibiki-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package protocol contains the commands spoken by the client core together
// with their CBOR encoded bodies.
package protocol

import (
	"github.com/dtn7/cboring"

	"github.com/hibiki-im/hibiki-go/pkg/codec"
)

// Command names.
const (
	CmdLogin        = "wtlogin.login"
	CmdExchangeEmp  = "wtlogin.exchange_emp"
	CmdRegister     = "StatSvc.register"
	CmdHeartbeat    = "Heartbeat.Alive"
	CmdConfigPush   = "ConfigPushSvc.PushReq"
	CmdConfigAck    = "ConfigPushSvc.PushResp"
	CmdForceOffline = "MessageSvc.PushForceOffline"
	CmdMsfOffline   = "StatSvc.ReqMSFOffline"
	CmdSendMessage  = "MessageSvc.PbSendMsg"
	CmdMusicShare   = "MusicShare.Send"
	CmdFileMessage  = "FileMsg.Send"
	CmdUpload       = "MultiMsg.ApplyUp"
	CmdImageQuery   = "ImgStore.GroupPicUp"
)

// RegisterCommands binds all known commands to a codec.Registry.
func RegisterCommands(registry *codec.Registry) {
	commands := []codec.Command{
		{Name: CmdLogin, Kind: codec.ShareKey, Decode: decodeLoginResponse},
		{Name: CmdExchangeEmp, Kind: codec.SessionKey, Decode: decodeLoginResponse},
		{Name: CmdRegister, Kind: codec.PersistedKey, Decode: decodeInto(func() cboring.CborMarshaler { return new(RegisterResponse) })},
		{Name: CmdHeartbeat, Kind: codec.None, Decode: decodeInto(func() cboring.CborMarshaler { return new(HeartbeatResponse) })},
		{Name: CmdConfigPush, Kind: codec.PersistedKey, Decode: decodeInto(func() cboring.CborMarshaler { return new(ConfigPush) })},
		{Name: CmdConfigAck, Kind: codec.PersistedKey},
		{Name: CmdForceOffline, Kind: codec.PersistedKey, Decode: decodeInto(func() cboring.CborMarshaler { return new(ForceOffline) })},
		{Name: CmdMsfOffline, Kind: codec.PersistedKey, Decode: decodeInto(func() cboring.CborMarshaler { return new(MsfOffline) })},
		{Name: CmdSendMessage, Kind: codec.PersistedKey, Decode: decodeSendResponse},
		{Name: CmdMusicShare, Kind: codec.PersistedKey, Decode: decodeSendResponse},
		{Name: CmdFileMessage, Kind: codec.PersistedKey, Decode: decodeSendResponse},
		{Name: CmdUpload, Kind: codec.PersistedKey, Decode: decodeInto(func() cboring.CborMarshaler { return new(UploadResponse) })},
		{Name: CmdImageQuery, Kind: codec.PersistedKey, Decode: decodeImageQueryResponse},
	}

	for _, cmd := range commands {
		registry.Register(cmd)
	}
}

// NewRegistry with all known commands.
func NewRegistry() *codec.Registry {
	registry := codec.NewRegistry()
	RegisterCommands(registry)
	return registry
}

// decodeInto creates a codec.Decoder unmarshalling into a fresh value.
func decodeInto(factory func() cboring.CborMarshaler) codec.Decoder {
	return func(_ uint32, body []byte) (interface{}, error) {
		v := factory()
		if err := Unmarshal(body, v); err != nil {
			return nil, err
		}
		return v, nil
	}
}
