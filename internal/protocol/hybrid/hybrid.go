// Package hybrid derives one session key from a P-256 ECDH agreement and an
// ML-KEM-768 encapsulation. The key stays secret as long as either half does.
package hybrid

import (
	"crypto/ecdh"
	"encoding/base64"
	"fmt"
	"phantom_chat/internal/cryptographic/dh"
	"phantom_chat/internal/cryptographic/kdf"
	"phantom_chat/internal/cryptographic/kem"
	"phantom_chat/internal/cryptographic/memzero"
	"phantom_chat/internal/model"
)

const SessionKeySize = 32

var (
	combineSalt = []byte("phantom-chat/hybrid-kem/v1/salt")
	combineInfo = []byte("phantom-chat/hybrid-kem/v1/session-key")
)

type (
	KeyPair struct {
		ECDH  *ecdh.PrivateKey
		Kyber *kem.KeyPair
	}

	// Initiation is what the initiator ends up with: the session key and the
	// artifact the responder needs.
	Initiation struct {
		SessionKey []byte
		Ciphertext []byte
	}
)

// GenerateKeyPair creates fresh classical and post-quantum key pairs. An
// unavailable RNG is returned as random.ErrRngUnavailable.
func GenerateKeyPair() (*KeyPair, error) {
	ec, err := dh.NewP256KeyPair()
	if err != nil {
		return nil, err
	}
	pq, err := kem.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	return &KeyPair{ECDH: ec, Kyber: pq}, nil
}

func ExportPublic(kp *KeyPair) (*model.PublicKeys, error) {
	pq, err := kem.MarshalPublic(kp.Kyber)
	if err != nil {
		return nil, err
	}
	return &model.PublicKeys{
		ECDH:  base64.StdEncoding.EncodeToString(kp.ECDH.PublicKey().Bytes()),
		Kyber: base64.StdEncoding.EncodeToString(pq),
	}, nil
}

type peerPublic struct {
	ecdh  []byte
	kyber []byte
}

func decodePeer(keys *model.PublicKeys) (*peerPublic, error) {
	if keys == nil {
		return nil, dh.ErrInvalidPeerKey
	}
	ec, err := base64.StdEncoding.DecodeString(keys.ECDH)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", dh.ErrInvalidPeerKey, err)
	}
	pq, err := base64.StdEncoding.DecodeString(keys.Kyber)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", kem.ErrInvalidPublicKey, err)
	}
	return &peerPublic{ecdh: ec, kyber: pq}, nil
}

func Encapsulate(peerKyber []byte) (ciphertext, secret []byte, err error) {
	return kem.Encapsulate(peerKyber)
}

func Decapsulate(ciphertext []byte, kp *KeyPair) ([]byte, error) {
	return kem.Decapsulate(kp.Kyber, ciphertext)
}

func ClassicalAgree(own *ecdh.PrivateKey, peer []byte) ([]byte, error) {
	return dh.SharedSecret(own, peer)
}

// Combine runs ecdh || pq through HKDF-SHA256 with fixed domain separation.
func Combine(ecSecret, pqSecret []byte) ([]byte, error) {
	ikm := make([]byte, 0, len(ecSecret)+len(pqSecret))
	ikm = append(ikm, ecSecret...)
	ikm = append(ikm, pqSecret...)
	defer memzero.Wipe(ikm)

	return kdf.Derive(ikm, combineSalt, combineInfo, SessionKeySize)
}

// DeriveAsInitiator encapsulates to the peer and derives the session key.
func DeriveAsInitiator(kp *KeyPair, peer *model.PublicKeys) (*Initiation, error) {
	p, err := decodePeer(peer)
	if err != nil {
		return nil, err
	}

	ecSecret, err := ClassicalAgree(kp.ECDH, p.ecdh)
	if err != nil {
		return nil, err
	}
	ct, pqSecret, err := Encapsulate(p.kyber)
	if err != nil {
		memzero.Wipe(ecSecret)
		return nil, err
	}
	defer memzero.Wipe(ecSecret, pqSecret)

	key, err := Combine(ecSecret, pqSecret)
	if err != nil {
		return nil, err
	}
	return &Initiation{SessionKey: key, Ciphertext: ct}, nil
}

// DeriveAsResponder decapsulates the initiator's artifact and derives the
// same session key.
func DeriveAsResponder(kp *KeyPair, peer *model.PublicKeys, ciphertext []byte) ([]byte, error) {
	p, err := decodePeer(peer)
	if err != nil {
		return nil, err
	}

	ecSecret, err := ClassicalAgree(kp.ECDH, p.ecdh)
	if err != nil {
		return nil, err
	}
	pqSecret, err := Decapsulate(ciphertext, kp)
	if err != nil {
		memzero.Wipe(ecSecret)
		return nil, err
	}
	defer memzero.Wipe(ecSecret, pqSecret)

	return Combine(ecSecret, pqSecret)
}

func EncodeCiphertext(ct []byte) *model.Encapsulation {
	return &model.Encapsulation{Ciphertext: base64.StdEncoding.EncodeToString(ct)}
}

func DecodeCiphertext(e *model.Encapsulation) ([]byte, error) {
	if e == nil {
		return nil, kem.ErrDecapsulation
	}
	ct, err := base64.StdEncoding.DecodeString(e.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", kem.ErrDecapsulation, err)
	}
	return ct, nil
}

// Marshal packs the private halves for a session key cache.
func (kp *KeyPair) Marshal() (ecPriv, pqPriv []byte, err error) {
	pqPriv, err = kem.MarshalPrivate(kp.Kyber)
	if err != nil {
		return nil, nil, err
	}
	return kp.ECDH.Bytes(), pqPriv, nil
}

func UnmarshalKeyPair(ecPriv, pqPriv []byte) (*KeyPair, error) {
	ec, err := dh.ParsePrivateKey(ecPriv)
	if err != nil {
		return nil, err
	}
	pq, err := kem.UnmarshalKeyPair(pqPriv)
	if err != nil {
		return nil, err
	}
	return &KeyPair{ECDH: ec, Kyber: pq}, nil
}
