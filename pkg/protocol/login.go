// SPDX-FileCopyrightText: 2024 The hibiki-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package protocol

import (
	"fmt"
	"io"
	"time"
)

// LoginRequestKind distinguishes the submissions of the login procedure.
type LoginRequestKind uint64

const (
	// LoginPassword starts a slow login with the password hash.
	LoginPassword LoginRequestKind = iota
	// LoginSubmitCaptcha answers a LoginCaptcha.
	LoginSubmitCaptcha
	// LoginSubmitDeviceLock confirms a LoginDeviceLock.
	LoginSubmitDeviceLock
	// LoginSubmitSMS answers a LoginSMSRequired with the received code.
	LoginSubmitSMS
	// LoginFast uses the persisted TGT instead of the password.
	LoginFast
	// LoginRefresh exchanges the TGT for fresh keys of an online session.
	LoginRefresh
)

// LoginRequest is the body of CmdLogin and CmdExchangeEmp packets.
type LoginRequest struct {
	Kind        LoginRequestKind
	Account     string
	PasswordMD5 []byte
	DeviceGUID  []byte
	// Ticket carries the captcha ticket or SMS code of a submission.
	Ticket string
	// Sign echoes LoginCaptcha.Sign.
	Sign []byte
	TGT  []byte
}

func (req *LoginRequest) MarshalCbor(w io.Writer) error {
	return writeFields(w, uint64(req.Kind), req.Account, req.PasswordMD5, req.DeviceGUID, req.Ticket, req.Sign, req.TGT)
}

func (req *LoginRequest) UnmarshalCbor(r io.Reader) error {
	var kind uint64
	if err := readFields(r, &kind, &req.Account, &req.PasswordMD5, &req.DeviceGUID, &req.Ticket, &req.Sign, &req.TGT); err != nil {
		return err
	}
	req.Kind = LoginRequestKind(kind)
	return nil
}

// LoginResponse is one of the possible answers to a LoginRequest:
// *LoginSuccess, *LoginCaptcha, *LoginKeyRotation, *LoginDeviceLock,
// *LoginSMSRequired, *LoginUnsafe, *LoginRedirect or *LoginError.
type LoginResponse interface {
	tagged
	loginResponse()
}

const (
	tagLoginSuccess uint64 = iota
	tagLoginCaptcha
	tagLoginKeyRotation
	tagLoginDeviceLock
	tagLoginSMSRequired
	tagLoginUnsafe
	tagLoginRedirect
	tagLoginError
)

// LoginSuccess carries the keys of a new session.
type LoginSuccess struct {
	D2Key            []byte
	SessionTicketKey []byte
	TGT              []byte
	// Lifetime of the issued keys in seconds.
	Lifetime uint64
}

func (*LoginSuccess) tag() uint64    { return tagLoginSuccess }
func (*LoginSuccess) loginResponse() {}

// Expires returns the point in time the issued keys expire, relative to now.
func (s *LoginSuccess) Expires() time.Time {
	return time.Now().Add(time.Duration(s.Lifetime) * time.Second)
}

func (s *LoginSuccess) MarshalCbor(w io.Writer) error {
	return writeFields(w, s.D2Key, s.SessionTicketKey, s.TGT, s.Lifetime)
}

func (s *LoginSuccess) UnmarshalCbor(r io.Reader) error {
	return readFields(r, &s.D2Key, &s.SessionTicketKey, &s.TGT, &s.Lifetime)
}

// CaptchaKind of a LoginCaptcha.
type CaptchaKind uint64

const (
	CaptchaPicture CaptchaKind = iota
	CaptchaSlider
)

func (kind CaptchaKind) String() string {
	if kind == CaptchaSlider {
		return "slider"
	}
	return "picture"
}

// LoginCaptcha requests a solved captcha.
type LoginCaptcha struct {
	Kind CaptchaKind
	// Data is the picture for CaptchaPicture.
	Data []byte
	// URL is the slider page for CaptchaSlider.
	URL  string
	Sign []byte
}

func (*LoginCaptcha) tag() uint64    { return tagLoginCaptcha }
func (*LoginCaptcha) loginResponse() {}

func (c *LoginCaptcha) MarshalCbor(w io.Writer) error {
	return writeFields(w, uint64(c.Kind), c.Data, c.URL, c.Sign)
}

func (c *LoginCaptcha) UnmarshalCbor(r io.Reader) error {
	var kind uint64
	if err := readFields(r, &kind, &c.Data, &c.URL, &c.Sign); err != nil {
		return err
	}
	c.Kind = CaptchaKind(kind)
	return nil
}

// LoginKeyRotation tells the client to restart the key exchange against a new server key.
type LoginKeyRotation struct {
	PublicKey []byte
}

func (*LoginKeyRotation) tag() uint64    { return tagLoginKeyRotation }
func (*LoginKeyRotation) loginResponse() {}

func (k *LoginKeyRotation) MarshalCbor(w io.Writer) error {
	return writeFields(w, k.PublicKey)
}

func (k *LoginKeyRotation) UnmarshalCbor(r io.Reader) error {
	return readFields(r, &k.PublicKey)
}

// LoginDeviceLock requires a confirmation of this device, e.g., on another trusted device.
type LoginDeviceLock struct {
	URL string
}

func (*LoginDeviceLock) tag() uint64    { return tagLoginDeviceLock }
func (*LoginDeviceLock) loginResponse() {}

func (d *LoginDeviceLock) MarshalCbor(w io.Writer) error {
	return writeFields(w, d.URL)
}

func (d *LoginDeviceLock) UnmarshalCbor(r io.Reader) error {
	return readFields(r, &d.URL)
}

// LoginSMSRequired requires a code sent to the account's phone.
type LoginSMSRequired struct {
	Phone string
}

func (*LoginSMSRequired) tag() uint64    { return tagLoginSMSRequired }
func (*LoginSMSRequired) loginResponse() {}

func (s *LoginSMSRequired) MarshalCbor(w io.Writer) error {
	return writeFields(w, s.Phone)
}

func (s *LoginSMSRequired) UnmarshalCbor(r io.Reader) error {
	return readFields(r, &s.Phone)
}

// LoginUnsafe reports an account flagged as unsafe; it must be unlocked manually.
type LoginUnsafe struct {
	URL string
}

func (*LoginUnsafe) tag() uint64    { return tagLoginUnsafe }
func (*LoginUnsafe) loginResponse() {}

func (u *LoginUnsafe) MarshalCbor(w io.Writer) error {
	return writeFields(w, u.URL)
}

func (u *LoginUnsafe) UnmarshalCbor(r io.Reader) error {
	return readFields(r, &u.URL)
}

// LoginRedirect asks the client to connect to another server.
type LoginRedirect struct {
	Address string
}

func (*LoginRedirect) tag() uint64    { return tagLoginRedirect }
func (*LoginRedirect) loginResponse() {}

func (rd *LoginRedirect) MarshalCbor(w io.Writer) error {
	return writeFields(w, rd.Address)
}

func (rd *LoginRedirect) UnmarshalCbor(r io.Reader) error {
	return readFields(r, &rd.Address)
}

// LoginError is a terminal login failure.
type LoginError struct {
	Code    uint64
	Title   string
	Message string
}

func (*LoginError) tag() uint64    { return tagLoginError }
func (*LoginError) loginResponse() {}

func (e *LoginError) MarshalCbor(w io.Writer) error {
	return writeFields(w, e.Code, e.Title, e.Message)
}

func (e *LoginError) UnmarshalCbor(r io.Reader) error {
	return readFields(r, &e.Code, &e.Title, &e.Message)
}

// MarshalLoginResponse encodes a LoginResponse body.
func MarshalLoginResponse(resp LoginResponse) ([]byte, error) {
	return marshalTagged(resp)
}

// UnmarshalLoginResponse decodes a LoginResponse body.
func UnmarshalLoginResponse(data []byte) (LoginResponse, error) {
	v, err := unmarshalTagged(data, func(tag uint64) (tagged, error) {
		switch tag {
		case tagLoginSuccess:
			return new(LoginSuccess), nil
		case tagLoginCaptcha:
			return new(LoginCaptcha), nil
		case tagLoginKeyRotation:
			return new(LoginKeyRotation), nil
		case tagLoginDeviceLock:
			return new(LoginDeviceLock), nil
		case tagLoginSMSRequired:
			return new(LoginSMSRequired), nil
		case tagLoginUnsafe:
			return new(LoginUnsafe), nil
		case tagLoginRedirect:
			return new(LoginRedirect), nil
		case tagLoginError:
			return new(LoginError), nil
		default:
			return nil, fmt.Errorf("unknown login response tag %d", tag)
		}
	})
	if err != nil {
		return nil, err
	}
	return v.(LoginResponse), nil
}

func decodeLoginResponse(_ uint32, body []byte) (interface{}, error) {
	return UnmarshalLoginResponse(body)
}
