// Package kem wraps ML-KEM-768, the post-quantum half of the hybrid
// exchange (FIPS 203, security category 3).
package kem

import (
	"errors"
	"fmt"
	"io"
	"phantom_chat/internal/cryptographic/random"

	circlkem "github.com/cloudflare/circl/kem"
	"github.com/cloudflare/circl/kem/mlkem/mlkem768"
)

const (
	PublicKeySize    = mlkem768.PublicKeySize
	PrivateKeySize   = mlkem768.PrivateKeySize
	CiphertextSize   = mlkem768.CiphertextSize
	SharedSecretSize = mlkem768.SharedKeySize
)

var (
	ErrInvalidPublicKey = errors.New("invalid ML-KEM public key")
	ErrDecapsulation    = errors.New("ML-KEM decapsulation failed")
)

type KeyPair struct {
	Public  circlkem.PublicKey
	Private circlkem.PrivateKey
}

func scheme() circlkem.Scheme {
	return mlkem768.Scheme()
}

func GenerateKeyPair() (*KeyPair, error) {
	pub, priv, err := mlkem768.GenerateKeyPair(random.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ML-KEM key pair: %w", err)
	}
	return &KeyPair{Public: pub, Private: priv}, nil
}

func MarshalPublic(kp *KeyPair) ([]byte, error) {
	return kp.Public.MarshalBinary()
}

func MarshalPrivate(kp *KeyPair) ([]byte, error) {
	return kp.Private.MarshalBinary()
}

// UnmarshalKeyPair restores a key pair from its packed private key.
func UnmarshalKeyPair(priv []byte) (*KeyPair, error) {
	sk, err := scheme().UnmarshalBinaryPrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("unmarshal ML-KEM private key: %w", err)
	}
	return &KeyPair{Public: sk.Public(), Private: sk}, nil
}

func ParsePublicKey(b []byte) (circlkem.PublicKey, error) {
	if len(b) != PublicKeySize {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidPublicKey, PublicKeySize, len(b))
	}
	pk, err := scheme().UnmarshalBinaryPublicKey(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	return pk, nil
}

// Encapsulate produces a fresh ciphertext for the peer and the 32 byte
// secret it carries.
func Encapsulate(peer []byte) (ciphertext, secret []byte, err error) {
	pk, err := ParsePublicKey(peer)
	if err != nil {
		return nil, nil, err
	}

	s := scheme()
	seed := make([]byte, s.EncapsulationSeedSize())
	if _, err := io.ReadFull(random.Reader, seed); err != nil {
		return nil, nil, err
	}

	ciphertext, secret, err = s.EncapsulateDeterministically(pk, seed)
	if err != nil {
		return nil, nil, fmt.Errorf("ML-KEM encapsulation failed: %w", err)
	}
	return ciphertext, secret, nil
}

// Decapsulate recovers the secret. A well-formed but tampered ciphertext is
// handled by ML-KEM's implicit rejection and yields an unrelated secret; only
// structural problems surface as ErrDecapsulation here.
func Decapsulate(kp *KeyPair, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) != CiphertextSize {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrDecapsulation, CiphertextSize, len(ciphertext))
	}
	secret, err := scheme().Decapsulate(kp.Private, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecapsulation, err)
	}
	return secret, nil
}
