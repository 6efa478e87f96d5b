package dh

import (
	"crypto/ecdh"
	"errors"
	"fmt"
	"phantom_chat/internal/cryptographic/random"
)

// PublicKeySize is the length of an uncompressed P-256 point.
const PublicKeySize = 65

var ErrInvalidPeerKey = errors.New("invalid peer public key")

func curve() ecdh.Curve {
	return ecdh.P256()
}

// Generate a new P-256 key pair
func NewP256KeyPair() (*ecdh.PrivateKey, error) {
	priv, err := curve().GenerateKey(random.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate private key: %w", err)
	}
	return priv, nil
}

// ParsePublicKey accepts an uncompressed point and rejects anything that is
// not on the curve.
func ParsePublicKey(b []byte) (*ecdh.PublicKey, error) {
	pub, err := curve().NewPublicKey(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPeerKey, err)
	}
	return pub, nil
}

func ParsePrivateKey(b []byte) (*ecdh.PrivateKey, error) {
	return curve().NewPrivateKey(b)
}

// SharedSecret performs ECDH: priv * peer.
func SharedSecret(priv *ecdh.PrivateKey, peer []byte) ([]byte, error) {
	pub, err := ParsePublicKey(peer)
	if err != nil {
		return nil, err
	}
	secret, err := priv.ECDH(pub)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPeerKey, err)
	}
	return secret, nil
}
