package model

import "encoding/json"

type EventType string

const (
	EventNewMessage          EventType = "new-message"
	EventRoomDestroyed       EventType = "room-destroyed"
	EventKeyMaterial         EventType = "key-material-available"
	EventEncapsulationPosted EventType = "encapsulation-available"
)

type (
	Event struct {
		Type   EventType       `json:"type"`
		RoomID string          `json:"roomId"`
		Origin string          `json:"origin,omitempty"`
		Data   json.RawMessage `json:"data,omitempty"`
	}

	DestroyedData struct {
		Reason DestroyReason `json:"reason"`
	}

	EncapsulationData struct {
		Recipient string `json:"recipient"`
	}
)

func NewEvent(t EventType, roomID, origin string, data any) (*Event, error) {
	e := &Event{Type: t, RoomID: roomID, Origin: origin}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		e.Data = raw
	}
	return e, nil
}
