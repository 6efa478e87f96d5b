package model

type (
	// PublicKeys is the transport form of one participant's hybrid public
	// keys, both base64.
	PublicKeys struct {
		ECDH  string `json:"ecdh" validate:"required"`
		Kyber string `json:"kyber" validate:"required"`
	}

	// PeerKeys is what a participant sees of the other participant's keys.
	PeerKeys struct {
		Participant string `json:"participant"`
		PublicKeys
	}

	// Encapsulation is the ML-KEM ciphertext the initiator produces for the
	// responder, base64.
	Encapsulation struct {
		Ciphertext string `json:"ciphertext" validate:"required"`
	}
)
