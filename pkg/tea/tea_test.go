// SPDX-FileCopyrightText: 2024 The hibiki-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package tea

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"testing"
)

// referenceEncode is the plain 16 cycle TEA round function.
func referenceEncode(key, block []byte) []byte {
	var k [4]uint32
	for i := range k {
		k[i] = binary.BigEndian.Uint32(key[i*4:])
	}

	v0, v1 := binary.BigEndian.Uint32(block), binary.BigEndian.Uint32(block[4:])
	var sum uint32
	for i := 0; i < 16; i++ {
		sum += 0x9E3779B9
		v0 += ((v1 << 4) + k[0]) ^ (v1 + sum) ^ ((v1 >> 5) + k[1])
		v1 += ((v0 << 4) + k[2]) ^ (v0 + sum) ^ ((v0 >> 5) + k[3])
	}

	out := make([]byte, 8)
	binary.BigEndian.PutUint32(out, v0)
	binary.BigEndian.PutUint32(out[4:], v1)
	return out
}

func TestBlockFunction(t *testing.T) {
	key := []byte("0123456789abcdef")
	c, err := NewCipher(key)
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 64; i++ {
		block := make([]byte, BlockSize)
		if _, err := rand.Read(block); err != nil {
			t.Fatal(err)
		}

		out := make([]byte, BlockSize)
		c.block.Encrypt(out, block)

		if expected := referenceEncode(key, block); !bytes.Equal(out, expected) {
			t.Fatalf("block %x: expected %x, got %x", block, expected, out)
		}
	}
}

func TestEncryptDecrypt(t *testing.T) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		t.Fatal(err)
	}

	for l := 0; l < 128; l++ {
		plain := make([]byte, l)
		if _, err := rand.Read(plain); err != nil {
			t.Fatal(err)
		}

		data, err := Encrypt(plain, key)
		if err != nil {
			t.Fatal(err)
		}

		if len(data)%BlockSize != 0 || len(data) < 2*BlockSize {
			t.Fatalf("length %d: invalid ciphertext length %d", l, len(data))
		}

		padLen := (l + 10) % 8
		if padLen != 0 {
			padLen = 8 - padLen
		}
		if expected := padLen + l + 10; len(data) != expected {
			t.Fatalf("length %d: expected ciphertext length %d, got %d", l, expected, len(data))
		}

		if decrypted, err := Decrypt(data, key); err != nil {
			t.Fatalf("length %d: %v", l, err)
		} else if !bytes.Equal(decrypted, plain) {
			t.Fatalf("length %d: expected %x, got %x", l, plain, decrypted)
		}
	}
}

func TestEncryptHelloZeroKey(t *testing.T) {
	data, err := Encrypt([]byte("hello"), ZeroKey)
	if err != nil {
		t.Fatal(err)
	}

	if plain, err := Decrypt(data, ZeroKey); err != nil {
		t.Fatal(err)
	} else if string(plain) != "hello" {
		t.Fatalf("expected hello, got %q", plain)
	}
}

func TestEncryptRandomized(t *testing.T) {
	a, _ := Encrypt([]byte("same input"), ZeroKey)
	b, _ := Encrypt([]byte("same input"), ZeroKey)

	if bytes.Equal(a, b) {
		t.Fatal("two encryptions of the same plaintext are identical")
	}
}

func TestDecryptTampered(t *testing.T) {
	key := []byte("tamper detection")
	data, err := Encrypt(bytes.Repeat([]byte{0x42}, 40), key)
	if err != nil {
		t.Fatal(err)
	}

	for i := range data {
		tampered := append([]byte(nil), data...)
		tampered[i] ^= 0x01

		if _, err := Decrypt(tampered, key); !errors.Is(err, ErrDecryptionFailed) {
			t.Fatalf("flipped byte %d was not detected: %v", i, err)
		}
	}
}

func TestDecryptWrongKey(t *testing.T) {
	data, err := Encrypt([]byte("secret"), []byte("aaaaaaaaaaaaaaaa"))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := Decrypt(data, []byte("bbbbbbbbbbbbbbbb")); !errors.Is(err, ErrDecryptionFailed) {
		t.Fatalf("expected ErrDecryptionFailed, got %v", err)
	}
}

func TestDecryptInvalidLength(t *testing.T) {
	tests := []struct {
		name string
		size int
	}{
		{"empty", 0},
		{"single block", 8},
		{"unaligned", 17},
		{"unaligned large", 31},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if _, err := Decrypt(make([]byte, test.size), ZeroKey); !errors.Is(err, ErrDecryptionFailed) {
				t.Fatalf("expected ErrDecryptionFailed, got %v", err)
			}
		})
	}
}

func TestKeySize(t *testing.T) {
	if _, err := NewCipher(make([]byte, 15)); !errors.Is(err, ErrKeyTooShort) {
		t.Fatalf("expected ErrKeyTooShort, got %v", err)
	}

	long := append([]byte("0123456789abcdef"), []byte("ignored suffix")...)
	data, err := Encrypt([]byte("payload"), long)
	if err != nil {
		t.Fatal(err)
	}
	if plain, err := Decrypt(data, long[:KeySize]); err != nil {
		t.Fatal(err)
	} else if string(plain) != "payload" {
		t.Fatalf("unexpected plaintext %q", plain)
	}
}
