package model

import "time"

// DefaultMaxBodyBytes is the relay's default limit on a request body.
const DefaultMaxBodyBytes = 28 << 20

type MessageType string

const (
	MessageText  MessageType = "text"
	MessageImage MessageType = "image"
)

type (
	// MessageMeta is non-secret information stored next to an envelope.
	MessageMeta struct {
		MimeType string `json:"mimeType,omitempty"`
		Width    int    `json:"width,omitempty"`
		Height   int    `json:"height,omitempty"`
	}

	Message struct {
		ID        string       `json:"id"`
		RoomID    string       `json:"roomId"`
		Token     string       `json:"token,omitempty"`
		Sender    string       `json:"sender"`
		Envelope  string       `json:"envelope" validate:"required"`
		Type      MessageType  `json:"type"`
		Meta      *MessageMeta `json:"meta,omitempty"`
		Timestamp int64        `json:"timestamp"`
		Own       bool         `json:"own"`
	}

	OutgoingMessage struct {
		Envelope string       `json:"envelope" validate:"required"`
		Type     MessageType  `json:"type"`
		Meta     *MessageMeta `json:"meta,omitempty"`
	}
)

func (m *Message) Time() time.Time {
	return time.UnixMilli(m.Timestamp)
}

// ForViewer returns a copy annotated for the participant holding token, with
// the sender's token removed.
func (m Message) ForViewer(token string) Message {
	m.Own = token != "" && m.Token == token
	m.Token = ""
	return m
}

func (t MessageType) Valid() bool {
	return t == MessageText || t == MessageImage
}
