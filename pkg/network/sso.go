// SPDX-FileCopyrightText: 2024 The hibiki-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package network

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/hibiki-im/hibiki-go/pkg/codec"
	"github.com/hibiki-im/hibiki-go/pkg/correlator"
	"github.com/hibiki-im/hibiki-go/pkg/protocol"
)

// SsoProcessor performs the login procedure of a Handler in its Loading state.
type SsoProcessor interface {
	// Login authenticates the Session and registers the client as online.
	Login(ctx context.Context, h *Handler) error

	// RefreshKeys exchanges the persisted keys of an online Handler for fresh ones.
	RefreshKeys(ctx context.Context, h *Handler) error
}

// LoginSolver answers the interactive challenges of a slow login.
type LoginSolver interface {
	// SolveCaptcha returns the ticket of a solved captcha.
	SolveCaptcha(ctx context.Context, captcha *protocol.LoginCaptcha) (ticket string, err error)

	// ConfirmDeviceLock returns after the device was confirmed.
	ConfirmDeviceLock(ctx context.Context, lock *protocol.LoginDeviceLock) error

	// SolveSMS returns the code sent to the account's phone.
	SolveSMS(ctx context.Context, sms *protocol.LoginSMSRequired) (code string, err error)
}

// DefaultMaxLoginRounds bounds the request/response rounds of a slow login.
const DefaultMaxLoginRounds = 10

// Sso is the default SsoProcessor.
type Sso struct {
	Solver    LoginSolver
	MaxRounds int
}

// NewSso with an optional LoginSolver. Without one, any challenge fails the login.
func NewSso(solver LoginSolver) *Sso {
	return &Sso{
		Solver:    solver,
		MaxRounds: DefaultMaxLoginRounds,
	}
}

func (sso *Sso) maxRounds() int {
	if sso.MaxRounds <= 0 {
		return DefaultMaxLoginRounds
	}
	return sso.MaxRounds
}

// Login tries a fast login with persisted keys first and falls back to a slow login.
func (sso *Sso) Login(ctx context.Context, h *Handler) error {
	sess := h.Session()
	logger := h.log()

	fast := false
	if sess.HasPersistedKeys() {
		err := sso.fastLogin(ctx, h)
		switch {
		case err == nil:
			fast = true

		case ctx.Err() != nil, errors.Is(err, correlator.ErrConnectionClosed):
			return err

		default:
			logger.WithError(err).Info("Fast login failed, falling back to slow login")
			sess.ClearPersistedKeys()
		}
	}

	if !fast {
		if err := sso.slowLogin(ctx, h); err != nil {
			return err
		}
	}

	h.saveSecrets()
	return sso.register(ctx, h)
}

// RefreshKeys exchanges the TGT for fresh keys and saves them.
func (sso *Sso) RefreshKeys(ctx context.Context, h *Handler) error {
	req := &protocol.LoginRequest{
		Kind:       protocol.LoginRefresh,
		Account:    h.Session().Account(),
		DeviceGUID: h.Session().Identity().DeviceGUID,
		TGT:        h.Session().TGT(),
	}

	resp, err := sso.exchange(ctx, h, protocol.CmdExchangeEmp, req)
	if err != nil {
		return err
	}

	success, ok := resp.(*protocol.LoginSuccess)
	if !ok {
		return fmt.Errorf("refreshing keys: unexpected response %T", resp)
	}

	h.Session().SetPersistedKeys(success.D2Key, success.SessionTicketKey, success.TGT, success.Expires())
	h.saveSecrets()
	h.log().Info("Refreshed persisted keys")
	return nil
}

func (sso *Sso) fastLogin(ctx context.Context, h *Handler) error {
	req := &protocol.LoginRequest{
		Kind:       protocol.LoginFast,
		Account:    h.Session().Account(),
		DeviceGUID: h.Session().Identity().DeviceGUID,
		TGT:        h.Session().TGT(),
	}

	resp, err := sso.exchange(ctx, h, protocol.CmdExchangeEmp, req)
	if err != nil {
		return err
	}

	success, ok := resp.(*protocol.LoginSuccess)
	if !ok {
		return fmt.Errorf("fast login: unexpected response %T", resp)
	}

	h.Session().SetPersistedKeys(success.D2Key, success.SessionTicketKey, success.TGT, success.Expires())
	h.log().Info("Fast login succeeded")
	return nil
}

func (sso *Sso) passwordRequest(h *Handler) *protocol.LoginRequest {
	identity := h.Session().Identity()
	return &protocol.LoginRequest{
		Kind:        protocol.LoginPassword,
		Account:     identity.Account,
		PasswordMD5: identity.PasswordMD5,
		DeviceGUID:  identity.DeviceGUID,
	}
}

func (sso *Sso) slowLogin(ctx context.Context, h *Handler) error {
	identity := h.Session().Identity()
	req := sso.passwordRequest(h)

	for round := 1; round <= sso.maxRounds(); round++ {
		resp, err := sso.exchange(ctx, h, protocol.CmdLogin, req)
		if err != nil {
			return err
		}

		logger := h.log().WithFields(log.Fields{
			"round":    round,
			"response": fmt.Sprintf("%T", resp),
		})
		logger.Debug("Received login response")

		switch resp := resp.(type) {
		case *protocol.LoginSuccess:
			h.Session().SetPersistedKeys(resp.D2Key, resp.SessionTicketKey, resp.TGT, resp.Expires())
			logger.Info("Slow login succeeded")
			return nil

		case *protocol.LoginCaptcha:
			if sso.Solver == nil {
				return &LoginFailedError{Title: "captcha", Message: "no solver to answer a captcha"}
			}
			ticket, err := sso.Solver.SolveCaptcha(ctx, resp)
			if err != nil {
				return fmt.Errorf("solving %v captcha: %w", resp.Kind, err)
			}
			req = &protocol.LoginRequest{
				Kind:       protocol.LoginSubmitCaptcha,
				Account:    identity.Account,
				DeviceGUID: identity.DeviceGUID,
				Ticket:     ticket,
				Sign:       resp.Sign,
			}

		case *protocol.LoginDeviceLock:
			if sso.Solver == nil {
				return &LoginFailedError{Title: "device lock", Message: resp.URL}
			}
			if err := sso.Solver.ConfirmDeviceLock(ctx, resp); err != nil {
				return fmt.Errorf("confirming device lock: %w", err)
			}
			req = &protocol.LoginRequest{
				Kind:       protocol.LoginSubmitDeviceLock,
				Account:    identity.Account,
				DeviceGUID: identity.DeviceGUID,
			}

		case *protocol.LoginSMSRequired:
			if sso.Solver == nil {
				return &LoginFailedError{Title: "sms", Message: "no solver to answer an SMS request"}
			}
			code, err := sso.Solver.SolveSMS(ctx, resp)
			if err != nil {
				return fmt.Errorf("solving SMS request: %w", err)
			}
			req = &protocol.LoginRequest{
				Kind:       protocol.LoginSubmitSMS,
				Account:    identity.Account,
				DeviceGUID: identity.DeviceGUID,
				Ticket:     code,
			}

		case *protocol.LoginKeyRotation:
			logger.Info("Server rotated its public key")
			if err := h.Session().RotateKeyPair(resp.PublicKey); err != nil {
				return err
			}
			req = sso.passwordRequest(h)

		case *protocol.LoginUnsafe:
			return &LoginFailedError{Title: "unsafe account", Message: resp.URL, Killed: true}

		case *protocol.LoginRedirect:
			return &RedirectError{Address: resp.Address}

		case *protocol.LoginError:
			return &LoginFailedError{Code: resp.Code, Title: resp.Title, Message: resp.Message}

		default:
			return fmt.Errorf("unexpected login response %T", resp)
		}
	}

	return &LoginFailedError{Title: "too many rounds", Message: fmt.Sprintf("no result after %d rounds", sso.maxRounds())}
}

// exchange sends a LoginRequest and returns the decoded LoginResponse.
func (sso *Sso) exchange(ctx context.Context, h *Handler, command string, req *protocol.LoginRequest) (protocol.LoginResponse, error) {
	body, err := protocol.Marshal(req)
	if err != nil {
		return nil, err
	}

	resp, err := h.SendAndExpect(ctx, h.Registry().NewPacket(command, body))
	if err != nil {
		return nil, err
	}

	loginResp, ok := resp.Payload.(protocol.LoginResponse)
	if !ok {
		return nil, &codec.DecodeError{Command: command, SequenceID: resp.SequenceID, Cause: fmt.Errorf("payload %T", resp.Payload)}
	}
	return loginResp, nil
}

// register the client as online.
func (sso *Sso) register(ctx context.Context, h *Handler) error {
	body, err := protocol.Marshal(&protocol.RegisterRequest{
		Online:     true,
		DeviceGUID: h.Session().Identity().DeviceGUID,
	})
	if err != nil {
		return err
	}

	resp, err := h.SendAndExpect(ctx, h.Registry().NewPacket(protocol.CmdRegister, body))
	if err != nil {
		return fmt.Errorf("registering online: %w", err)
	}

	if reg, ok := resp.Payload.(*protocol.RegisterResponse); !ok || !reg.OK {
		return fmt.Errorf("registering online: rejected: %v", resp.Payload)
	}
	return nil
}
