package model

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// MaxParticipants is the admission set capacity of every room.
const MaxParticipants = 2

type (
	RoomState int

	Room struct {
		ID        string        `json:"roomId"`
		CreatedAt time.Time     `json:"createdAt"`
		TTL       time.Duration `json:"-"`
		State     RoomState     `json:"-"`
	}

	// Admission is the result of a successful admit: the token the caller
	// must present from now on and its public fingerprint.
	Admission struct {
		Token       string `json:"token"`
		Participant string `json:"participant"`
		Existing    bool   `json:"existing"`
	}

	DestroyReason string
)

const (
	RoomActive RoomState = iota
	RoomDestroyed
)

const (
	DestroyExpired DestroyReason = "expired"
	DestroyManual  DestroyReason = "manual"
	// DestroyUnknown is seen by a client that found the room gone without
	// receiving the destruction event.
	DestroyUnknown DestroyReason = "unknown"
)

func (s RoomState) String() string {
	switch s {
	case RoomActive:
		return "ACTIVE"
	case RoomDestroyed:
		return "DESTROYED"
	}
	return "UNKNOWN"
}

// ParticipantID is the public fingerprint of a token. It is safe to show to
// the other participant and is what key exchange roles are decided on.
func ParticipantID(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:16])
}
