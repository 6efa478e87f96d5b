package room

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"phantom_chat/internal/cryptographic/dh"
	"phantom_chat/internal/cryptographic/kem"
	"phantom_chat/internal/metrics"
	"phantom_chat/internal/model"
)

func checkEncoded(field, value string, size int) error {
	b, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return fmt.Errorf("%w: %s is not base64", model.ErrMalformed, field)
	}
	if len(b) != size {
		return fmt.Errorf("%w: %s must be %d bytes, got %d", model.ErrMalformed, field, size, len(b))
	}
	return nil
}

// SubmitPublicKeys stores the caller's public keys and tells the room.
// Resubmitting replaces the previous entry.
func (s *RoomService) SubmitPublicKeys(ctx context.Context, roomID, token string, keys *model.PublicKeys) error {
	if keys == nil {
		return model.ErrMalformed
	}
	if err := checkEncoded("ecdh", keys.ECDH, dh.PublicKeySize); err != nil {
		return err
	}
	if err := checkEncoded("kyber", keys.Kyber, kem.PublicKeySize); err != nil {
		return err
	}

	data, err := json.Marshal(keys)
	if err != nil {
		return err
	}
	if err := s.repo.PutKeys(ctx, roomID, token, string(data)); err != nil {
		return err
	}

	metrics.KeyMaterial(metrics.KindPublicKeys)
	s.notify(ctx, model.EventKeyMaterial, roomID, model.ParticipantID(token), nil)
	return nil
}

// PeerPublicKeys returns the other participant's keys, or nil when they
// have not published any yet. The caller's own entry is never returned.
func (s *RoomService) PeerPublicKeys(ctx context.Context, roomID, token string) (*model.PeerKeys, error) {
	owner, payload, err := s.repo.PeerKeys(ctx, roomID, token)
	if err != nil || owner == "" {
		return nil, err
	}

	peer := &model.PeerKeys{Participant: model.ParticipantID(owner)}
	if err := json.Unmarshal([]byte(payload), &peer.PublicKeys); err != nil {
		return nil, err
	}
	return peer, nil
}

// SubmitEncapsulation stores the artifact for the other participant.
func (s *RoomService) SubmitEncapsulation(ctx context.Context, roomID, token string, e *model.Encapsulation) error {
	if e == nil {
		return model.ErrMalformed
	}
	if err := checkEncoded("ciphertext", e.Ciphertext, kem.CiphertextSize); err != nil {
		return err
	}

	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	recipient, err := s.repo.PutEncapsulation(ctx, roomID, token, string(data))
	if err != nil {
		return err
	}

	metrics.KeyMaterial(metrics.KindEncapsulation)
	s.notify(ctx, model.EventEncapsulationPosted, roomID, model.ParticipantID(token),
		&model.EncapsulationData{Recipient: model.ParticipantID(recipient)})
	return nil
}

// Encapsulation returns the artifact addressed to the caller, or nil.
func (s *RoomService) Encapsulation(ctx context.Context, roomID, token string) (*model.Encapsulation, error) {
	payload, err := s.repo.Encapsulation(ctx, roomID, token)
	if err != nil || payload == "" {
		return nil, err
	}

	var e model.Encapsulation
	if err := json.Unmarshal([]byte(payload), &e); err != nil {
		return nil, err
	}
	return &e, nil
}
