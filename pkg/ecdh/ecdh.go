// SPDX-FileCopyrightText: 2024 The hibiki-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package ecdh

import (
	"bytes"
	goecdh "crypto/ecdh"
	"crypto/elliptic"
	"crypto/md5"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
)

// ShareKeySize is the length of a derived share key, usable as a TEA key.
const ShareKeySize = md5.Size

var (
	// ErrInvalidPublicKey is returned for peer keys which are no valid P-256 points.
	ErrInvalidPublicKey = errors.New("ecdh: invalid public key")

	// ErrUnavailable is returned by a Fallback when a real key agreement was requested.
	ErrUnavailable = errors.New("ecdh: key agreement unavailable")
)

var (
	// DefaultServerPublicKey is the server's well-known initial public key.
	DefaultServerPublicKey = mustHex("04056e2d109feaed1514505d4d7beb7748a78e5b9c2b94005c179838081e4ff64e" +
		"11d6eadbd2fc4c6956af91f7331c56bb96019114f1c0598c3dcd338e2a1c9775")

	// DefaultPublicKey is the static client public key used when ECDH is unavailable.
	DefaultPublicKey = mustHex("04788399b69614f2b13efe59475d5840cfb994998cf31e788625d0c54a102b05ff" +
		"1a2c60ad29b93dbfc71ee52e6d03520c3d3728e4a50c68fd7499ff444154a447")

	// DefaultShareKey belongs to DefaultPublicKey and DefaultServerPublicKey.
	DefaultShareKey = mustHex("4494584ca514a772859bb2307bce3470")
)

func mustHex(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic(err)
	}
	return b
}

// KeyPair is an ephemeral client key pair together with the share key derived
// against the initial server public key. A KeyPair is never altered after its
// creation; key rotations create a new one.
type KeyPair struct {
	// PrivateKey is nil for a KeyPair created by a Fallback.
	PrivateKey *goecdh.PrivateKey

	// PublicKey in its uncompressed form.
	PublicKey []byte

	// InitialShareKey is the share key against the initial server public key.
	InitialShareKey []byte
}

func (kp KeyPair) String() string {
	return fmt.Sprintf("KeyPair(%x)", kp.PublicKey)
}

// KeyExchange derives symmetric keys from an elliptic curve key agreement.
type KeyExchange interface {
	// GenerateKeyPair creates a fresh KeyPair against the server's initial public key.
	GenerateKeyPair(initialPublicKey []byte) (KeyPair, error)

	// CalculateShareKey derives a 16 byte key from a private key and a peer's public key.
	CalculateShareKey(privateKey *goecdh.PrivateKey, peerPublicKey []byte) ([]byte, error)

	// IsECDHAvailable reports if generated keys are session-unique.
	IsECDHAvailable() bool
}

// New returns a P-256 KeyExchange or a Fallback if the curve does not work on this platform.
func New() KeyExchange {
	p := P256{}
	if err := p.selfTest(); err != nil {
		log.WithError(err).Warn("ECDH self test failed, falling back to static keys")
		return Fallback{}
	}
	return p
}

// P256 implements KeyExchange on the NIST P-256 curve.
type P256 struct{}

// GenerateKeyPair creates a new random private key.
func (p P256) GenerateKeyPair(initialPublicKey []byte) (kp KeyPair, err error) {
	priv, err := goecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return
	}
	return p.keyPair(priv, initialPublicKey)
}

// KeyPairFromPrivate rebuilds a KeyPair from an existing private key.
func (p P256) KeyPairFromPrivate(privateKey []byte, initialPublicKey []byte) (kp KeyPair, err error) {
	priv, err := goecdh.P256().NewPrivateKey(privateKey)
	if err != nil {
		return
	}
	return p.keyPair(priv, initialPublicKey)
}

func (p P256) keyPair(priv *goecdh.PrivateKey, initialPublicKey []byte) (kp KeyPair, err error) {
	shareKey, err := p.CalculateShareKey(priv, initialPublicKey)
	if err != nil {
		return
	}

	kp = KeyPair{
		PrivateKey:      priv,
		PublicKey:       priv.PublicKey().Bytes(),
		InitialShareKey: shareKey,
	}
	return
}

// CalculateShareKey returns the MD5 hash of the first 16 bytes of the shared secret.
func (P256) CalculateShareKey(privateKey *goecdh.PrivateKey, peerPublicKey []byte) ([]byte, error) {
	if privateKey == nil {
		return nil, ErrUnavailable
	}

	pub, err := ParsePublicKey(peerPublicKey)
	if err != nil {
		return nil, err
	}

	secret, err := privateKey.ECDH(pub)
	if err != nil {
		return nil, err
	}

	sum := md5.Sum(secret[:16])
	return sum[:], nil
}

// IsECDHAvailable is always true.
func (P256) IsECDHAvailable() bool {
	return true
}

func (p P256) selfTest() error {
	a, err := p.GenerateKeyPair(DefaultServerPublicKey)
	if err != nil {
		return err
	}
	b, err := p.GenerateKeyPair(DefaultServerPublicKey)
	if err != nil {
		return err
	}

	ab, err := p.CalculateShareKey(a.PrivateKey, b.PublicKey)
	if err != nil {
		return err
	}
	ba, err := p.CalculateShareKey(b.PrivateKey, a.PublicKey)
	if err != nil {
		return err
	}

	if !bytes.Equal(ab, ba) {
		return errors.New("ecdh: share keys differ")
	}
	return nil
}

// Fallback implements KeyExchange with the static default key pair.
type Fallback struct{}

// GenerateKeyPair always returns the default key pair.
func (Fallback) GenerateKeyPair(_ []byte) (KeyPair, error) {
	return KeyPair{
		PublicKey:       append([]byte(nil), DefaultPublicKey...),
		InitialShareKey: append([]byte(nil), DefaultShareKey...),
	}, nil
}

// CalculateShareKey returns ErrUnavailable, as there is no private key to agree with.
func (Fallback) CalculateShareKey(_ *goecdh.PrivateKey, _ []byte) ([]byte, error) {
	return nil, ErrUnavailable
}

// IsECDHAvailable is always false.
func (Fallback) IsECDHAvailable() bool {
	return false
}

// ParsePublicKey accepts uncompressed (65 bytes) and compressed (33 bytes) P-256 points.
func ParsePublicKey(b []byte) (*goecdh.PublicKey, error) {
	switch len(b) {
	case 65:
		// uncompressed

	case 33:
		x, y := elliptic.UnmarshalCompressed(elliptic.P256(), b)
		if x == nil {
			return nil, ErrInvalidPublicKey
		}
		//nolint:staticcheck // crypto/ecdh has no point decompression
		b = elliptic.Marshal(elliptic.P256(), x, y)

	default:
		return nil, fmt.Errorf("%w: length %d", ErrInvalidPublicKey, len(b))
	}

	pub, err := goecdh.P256().NewPublicKey(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	return pub, nil
}
