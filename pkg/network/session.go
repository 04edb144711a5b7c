// SPDX-FileCopyrightText: 2024 The hibiki-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package network

import (
	"bytes"
	"crypto/md5"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/hibiki-im/hibiki-go/pkg/codec"
	"github.com/hibiki-im/hibiki-go/pkg/ecdh"
	"github.com/hibiki-im/hibiki-go/pkg/storage"
)

// Identity of an account and its device, supplied by the user.
type Identity struct {
	Account     string
	PasswordMD5 []byte
	DeviceGUID  []byte
}

// PasswordMD5 hashes a plain text password.
func PasswordMD5(password string) []byte {
	sum := md5.Sum([]byte(password))
	return sum[:]
}

// Session holds the key material of an account across connections. It
// implements codec.Keys.
type Session struct {
	identity Identity
	kex      ecdh.KeyExchange

	mutex sync.RWMutex

	initialPublicKey []byte
	keyPair          ecdh.KeyPair
	sessionID        []byte

	d2Key            []byte
	sessionTicketKey []byte
	tgt              []byte
	expires          time.Time

	servers           []string
	heartbeatInterval time.Duration

	firstLoginSucceeded bool
}

// NewSession for an Identity. A nil initialPublicKey selects ecdh.DefaultServerPublicKey.
func NewSession(identity Identity, kex ecdh.KeyExchange, initialPublicKey []byte) (*Session, error) {
	if initialPublicKey == nil {
		initialPublicKey = ecdh.DefaultServerPublicKey
	}

	sess := &Session{
		identity:         identity,
		kex:              kex,
		initialPublicKey: append([]byte(nil), initialPublicKey...),
	}
	if err := sess.RotateKeyPair(initialPublicKey); err != nil {
		return nil, err
	}
	return sess, nil
}

// Identity of this Session.
func (sess *Session) Identity() Identity {
	return sess.identity
}

// KeyExchange of this Session.
func (sess *Session) KeyExchange() ecdh.KeyExchange {
	return sess.kex
}

// RotateKeyPair replaces the KeyPair by a new one against the server's public key.
func (sess *Session) RotateKeyPair(serverPublicKey []byte) error {
	kp, err := sess.kex.GenerateKeyPair(serverPublicKey)
	if err != nil {
		return fmt.Errorf("generating key pair: %w", err)
	}

	sessionID := make([]byte, 4)
	if _, err := rand.Read(sessionID); err != nil {
		return err
	}

	sess.mutex.Lock()
	defer sess.mutex.Unlock()

	sess.initialPublicKey = append([]byte(nil), serverPublicKey...)
	sess.keyPair = kp
	sess.sessionID = sessionID
	return nil
}

// KeyPair currently used for ShareKey packets.
func (sess *Session) KeyPair() ecdh.KeyPair {
	sess.mutex.RLock()
	defer sess.mutex.RUnlock()
	return sess.keyPair
}

// SetPersistedKeys after a successful login or key refresh.
func (sess *Session) SetPersistedKeys(d2Key, sessionTicketKey, tgt []byte, expires time.Time) {
	sess.mutex.Lock()
	defer sess.mutex.Unlock()

	sess.d2Key = append([]byte(nil), d2Key...)
	sess.sessionTicketKey = append([]byte(nil), sessionTicketKey...)
	sess.tgt = append([]byte(nil), tgt...)
	sess.expires = expires
}

// ClearPersistedKeys after the server rejected them.
func (sess *Session) ClearPersistedKeys() {
	sess.mutex.Lock()
	defer sess.mutex.Unlock()

	sess.d2Key, sess.sessionTicketKey, sess.tgt = nil, nil, nil
	sess.expires = time.Time{}
}

// HasPersistedKeys reports whether a fast login might be possible.
func (sess *Session) HasPersistedKeys() bool {
	sess.mutex.RLock()
	defer sess.mutex.RUnlock()

	return len(sess.d2Key) > 0 && len(sess.tgt) > 0 && time.Now().Before(sess.expires)
}

// TGT is the ticket granting ticket of the last login.
func (sess *Session) TGT() []byte {
	sess.mutex.RLock()
	defer sess.mutex.RUnlock()
	return append([]byte(nil), sess.tgt...)
}

// Servers pushed by the server, if any.
func (sess *Session) Servers() []string {
	sess.mutex.RLock()
	defer sess.mutex.RUnlock()
	return append([]string(nil), sess.servers...)
}

// SetServers pushed by the server.
func (sess *Session) SetServers(servers []string) {
	sess.mutex.Lock()
	defer sess.mutex.Unlock()
	sess.servers = append([]string(nil), servers...)
}

// HeartbeatInterval pushed by the server. Zero means unset.
func (sess *Session) HeartbeatInterval() time.Duration {
	sess.mutex.RLock()
	defer sess.mutex.RUnlock()
	return sess.heartbeatInterval
}

// SetHeartbeatInterval pushed by the server.
func (sess *Session) SetHeartbeatInterval(interval time.Duration) {
	sess.mutex.Lock()
	defer sess.mutex.Unlock()
	sess.heartbeatInterval = interval
}

// markOnline records a successful login. It returns true for the first one.
func (sess *Session) markOnline() (first bool) {
	sess.mutex.Lock()
	defer sess.mutex.Unlock()

	first = !sess.firstLoginSucceeded
	sess.firstLoginSucceeded = true
	return
}

// FirstLoginSucceeded reports whether any connection of this Session reached OK.
func (sess *Session) FirstLoginSucceeded() bool {
	sess.mutex.RLock()
	defer sess.mutex.RUnlock()
	return sess.firstLoginSucceeded
}

// Secrets to be persisted.
func (sess *Session) Secrets() storage.Secrets {
	sess.mutex.RLock()
	defer sess.mutex.RUnlock()

	return storage.Secrets{
		Account:           sess.identity.Account,
		DeviceGUID:        append([]byte(nil), sess.identity.DeviceGUID...),
		D2Key:             append([]byte(nil), sess.d2Key...),
		SessionTicketKey:  append([]byte(nil), sess.sessionTicketKey...),
		TGT:               append([]byte(nil), sess.tgt...),
		Servers:           append([]string(nil), sess.servers...),
		HeartbeatInterval: sess.heartbeatInterval,
		Expires:           sess.expires,
	}
}

// RestoreSecrets of an earlier session. Secrets of another account or device are ignored.
func (sess *Session) RestoreSecrets(secrets storage.Secrets) bool {
	if secrets.Account != sess.identity.Account || !bytes.Equal(secrets.DeviceGUID, sess.identity.DeviceGUID) {
		return false
	}

	sess.mutex.Lock()
	sess.servers = append([]string(nil), secrets.Servers...)
	sess.heartbeatInterval = secrets.HeartbeatInterval
	sess.mutex.Unlock()

	if secrets.Valid() {
		sess.SetPersistedKeys(secrets.D2Key, secrets.SessionTicketKey, secrets.TGT, secrets.Expires)
	}
	return true
}

// Account implements codec.Keys.
func (sess *Session) Account() string {
	return sess.identity.Account
}

// SessionID implements codec.Keys.
func (sess *Session) SessionID() []byte {
	sess.mutex.RLock()
	defer sess.mutex.RUnlock()
	return sess.sessionID
}

// PublicKey implements codec.Keys.
func (sess *Session) PublicKey() []byte {
	return sess.KeyPair().PublicKey
}

// Key implements codec.Keys.
func (sess *Session) Key(kind codec.EncryptionKind) ([]byte, error) {
	sess.mutex.RLock()
	defer sess.mutex.RUnlock()

	var key []byte
	switch kind {
	case codec.None:
		return nil, nil
	case codec.ShareKey:
		key = sess.keyPair.InitialShareKey
	case codec.SessionKey:
		key = sess.sessionTicketKey
	case codec.PersistedKey:
		key = sess.d2Key
	default:
		return nil, fmt.Errorf("%w: %d", codec.ErrUnknownEncryption, uint8(kind))
	}

	if len(key) == 0 {
		return nil, fmt.Errorf("%w: %v", codec.ErrNoKey, kind)
	}
	return key, nil
}

// PeerShareKey implements codec.Keys.
func (sess *Session) PeerShareKey(peerPublicKey []byte) ([]byte, error) {
	sess.mutex.RLock()
	initial, kp := sess.initialPublicKey, sess.keyPair
	sess.mutex.RUnlock()

	if len(peerPublicKey) == 0 || bytes.Equal(peerPublicKey, initial) {
		return kp.InitialShareKey, nil
	}
	return sess.kex.CalculateShareKey(kp.PrivateKey, peerPublicKey)
}
