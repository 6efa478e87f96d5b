// Package encryption turns a session key and a payload into a self
// describing envelope: base64(nonce || ciphertext || tag) under AES-256-GCM.
package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"phantom_chat/internal/cryptographic/random"
)

const (
	KeySize   = 32
	NonceSize = 12
	TagSize   = 16
)

var (
	ErrAuthenticationFailure = errors.New("envelope authentication failed")
	ErrInvalidKey            = errors.New("session key must be 32 bytes")
)

func newAEAD(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes.NewCipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// SealBytes encrypts plaintext under a nonce drawn fresh from the secure RNG
// on every call and returns nonce || ciphertext || tag.
func SealBytes(key, plaintext, aad []byte) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, NonceSize, NonceSize+len(plaintext)+TagSize)
	if _, err := io.ReadFull(random.Reader, out); err != nil {
		return nil, fmt.Errorf("read nonce: %w", err)
	}
	return aead.Seal(out, out[:NonceSize], plaintext, aad), nil
}

// OpenBytes reverses SealBytes. Nothing is returned unless the tag verifies.
func OpenBytes(key, sealed, aad []byte) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	if len(sealed) < NonceSize+TagSize {
		return nil, fmt.Errorf("%w: envelope too short", ErrAuthenticationFailure)
	}
	plain, err := aead.Open(nil, sealed[:NonceSize], sealed[NonceSize:], aad)
	if err != nil {
		return nil, ErrAuthenticationFailure
	}
	return plain, nil
}

// Seal returns the transport encoded envelope for plaintext.
func Seal(plaintext, key []byte) (string, error) {
	sealed, err := SealBytes(key, plaintext, nil)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decodes and authenticates an envelope produced by Seal.
func Open(envelope string, key []byte) ([]byte, error) {
	sealed, err := base64.StdEncoding.DecodeString(envelope)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthenticationFailure, err)
	}
	return OpenBytes(key, sealed, nil)
}
