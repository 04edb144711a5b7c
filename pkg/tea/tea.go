// SPDX-FileCopyrightText: 2024 The hibiki-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package tea

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/crypto/tea"
)

const (
	// KeySize is the number of key bytes in use. Longer keys are truncated.
	KeySize = 16

	// BlockSize of the underlying TEA block function.
	BlockSize = tea.BlockSize

	// rounds is the amount of Feistel rounds, as counted by x/crypto/tea. Two
	// rounds make up one TEA cycle, resulting in 16 cycles.
	rounds = 32

	// zeroTail is the amount of trailing zero bytes used for validation.
	zeroTail = 7
)

var (
	// ErrDecryptionFailed is returned for ciphertexts which do not decode to a valid plaintext.
	ErrDecryptionFailed = errors.New("tea: decryption failed")

	// ErrKeyTooShort is returned for keys shorter than KeySize.
	ErrKeyTooShort = errors.New("tea: key must be at least 16 bytes")

	// ZeroKey consists of 16 zero bytes.
	ZeroKey = make([]byte, KeySize)
)

// BlockCipher encrypts and decrypts whole packet bodies.
type BlockCipher interface {
	Encrypt(plain []byte) ([]byte, error)
	Decrypt(data []byte) ([]byte, error)
}

// Cipher wraps a TEA block function with its random prefix and chaining layout.
// A Cipher is safe for concurrent use.
type Cipher struct {
	block cipher.Block
}

// NewCipher for the first 16 bytes of key.
func NewCipher(key []byte) (*Cipher, error) {
	if len(key) < KeySize {
		return nil, ErrKeyTooShort
	}

	block, err := tea.NewCipherWithRounds(key[:KeySize], rounds)
	if err != nil {
		return nil, err
	}
	return &Cipher{block: block}, nil
}

// Encrypt plain with key. See Cipher.Encrypt.
func Encrypt(plain, key []byte) ([]byte, error) {
	c, err := NewCipher(key)
	if err != nil {
		return nil, err
	}
	return c.Encrypt(plain)
}

// Decrypt data with key. See Cipher.Decrypt.
func Decrypt(data, key []byte) ([]byte, error) {
	c, err := NewCipher(key)
	if err != nil {
		return nil, err
	}
	return c.Decrypt(data)
}

// Encrypt plain. The output starts with a header byte whose lowest three bits
// store the amount of random padding, followed by the padding, two random salt
// bytes, the plaintext and seven zero bytes.
func (c *Cipher) Encrypt(plain []byte) ([]byte, error) {
	fill := 10 - (len(plain)+1)%8
	dst := make([]byte, fill+len(plain)+zeroTail)

	if _, err := rand.Read(dst[:fill]); err != nil {
		return nil, fmt.Errorf("tea: reading random prefix: %w", err)
	}
	dst[0] = dst[0]&0xF8 | byte(fill-3)
	copy(dst[fill:], plain)

	var (
		prevCipher uint64
		prevPlain  uint64
		buf        [BlockSize]byte
	)
	for i := 0; i < len(dst); i += BlockSize {
		mixed := binary.BigEndian.Uint64(dst[i:]) ^ prevCipher

		binary.BigEndian.PutUint64(buf[:], mixed)
		c.block.Encrypt(buf[:], buf[:])

		prevCipher = binary.BigEndian.Uint64(buf[:]) ^ prevPlain
		prevPlain = mixed
		binary.BigEndian.PutUint64(dst[i:], prevCipher)
	}

	return dst, nil
}

// Decrypt data, which must be a multiple of eight and at least 16 bytes long.
func (c *Cipher) Decrypt(data []byte) ([]byte, error) {
	if len(data)%BlockSize != 0 || len(data) < 2*BlockSize {
		return nil, ErrDecryptionFailed
	}

	var (
		dst        = make([]byte, len(data))
		prevCipher uint64
		prevPlain  uint64
		buf        [BlockSize]byte
	)
	for i := 0; i < len(data); i += BlockSize {
		block := binary.BigEndian.Uint64(data[i:])

		binary.BigEndian.PutUint64(buf[:], block^prevPlain)
		c.block.Decrypt(buf[:], buf[:])

		prevPlain = binary.BigEndian.Uint64(buf[:])
		binary.BigEndian.PutUint64(dst[i:], prevPlain^prevCipher)
		prevCipher = block
	}

	for _, b := range dst[len(dst)-zeroTail:] {
		if b != 0 {
			return nil, ErrDecryptionFailed
		}
	}

	start := int(dst[0]&0x07) + 3
	end := len(dst) - zeroTail
	if start > end {
		return nil, ErrDecryptionFailed
	}
	return dst[start:end], nil
}
