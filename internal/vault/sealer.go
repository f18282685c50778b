// Package vault seals session secrets at rest with AES-256-GCM under a key derived from
// a user-provided store secret.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

// Prefix marks a sealed value in a persisted record.
const Prefix = "sealed:v1:"

var ErrOpen = errors.New("decryption failed (wrong secret or tampered data)")

// Sealer encrypts and decrypts small secrets. A nil *Sealer passes values through unchanged.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer derives the sealing key from secret. An empty secret disables sealing.
func NewSealer(secret []byte, info string) (*Sealer, error) {
	if len(secret) == 0 {
		return nil, nil
	}
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, []byte("scriptvault-store-kdf"), []byte(info)), key); err != nil {
		return nil, fmt.Errorf("derive sealing key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Sealer{aead: gcm}, nil
}

// Enabled reports whether values are actually sealed.
func (s *Sealer) Enabled() bool {
	return s != nil
}

// Seal returns the printable sealed form of plaintext.
func (s *Sealer) Seal(plaintext []byte) (string, error) {
	if s == nil {
		return hex.EncodeToString(plaintext), nil
	}
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	// The nonce is prepended so Open can find it.
	ciphertext := s.aead.Seal(nonce, nonce, plaintext, nil)
	return Prefix + hex.EncodeToString(ciphertext), nil
}

// Open reverses Seal. Unsealed values are accepted so a store can be upgraded in place.
func (s *Sealer) Open(value string) ([]byte, error) {
	body, sealed := strings.CutPrefix(value, Prefix)
	raw, err := hex.DecodeString(body)
	if err != nil {
		return nil, fmt.Errorf("decode sealed value: %w", err)
	}
	if !sealed {
		return raw, nil
	}
	if s == nil {
		return nil, fmt.Errorf("%w: value is sealed but no secret is configured", ErrOpen)
	}
	n := s.aead.NonceSize()
	if len(raw) < n {
		return nil, fmt.Errorf("%w: ciphertext too short", ErrOpen)
	}
	plaintext, err := s.aead.Open(nil, raw[:n], raw[n:], nil)
	if err != nil {
		return nil, ErrOpen
	}
	return plaintext, nil
}
