package room

import (
	"context"
	"encoding/json"
	"fmt"
	"phantom_chat/internal/cryptographic/random"
	"phantom_chat/internal/metrics"
	"phantom_chat/internal/model"
	"phantom_chat/internal/utils/log"

	"go.uber.org/zap"
)

// AppendMessage adds an envelope to the end of the room's log and announces
// it. The returned record is annotated for the sender.
func (s *RoomService) AppendMessage(ctx context.Context, roomID, token string, out *model.OutgoingMessage) (*model.Message, error) {
	if out == nil || out.Envelope == "" {
		return nil, model.ErrMalformed
	}
	if out.Type == "" {
		out.Type = model.MessageText
	}
	if !out.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown message type %q", model.ErrMalformed, out.Type)
	}

	id, err := random.ID(IDLength)
	if err != nil {
		return nil, err
	}
	msg := model.Message{
		ID:        id,
		RoomID:    roomID,
		Token:     token,
		Sender:    model.ParticipantID(token),
		Envelope:  out.Envelope,
		Type:      out.Type,
		Meta:      out.Meta,
		Timestamp: s.now().UnixMilli(),
	}

	data, err := json.Marshal(&msg)
	if err != nil {
		return nil, err
	}
	if err := s.repo.AppendMessage(ctx, roomID, token, string(data)); err != nil {
		return nil, err
	}

	metrics.MessageAppended()
	public := msg.ForViewer("")
	s.notify(ctx, model.EventNewMessage, roomID, msg.Sender, &public)

	own := msg.ForViewer(token)
	return &own, nil
}

// ListMessages returns the room's log in insertion order, with the caller's
// own records marked.
func (s *RoomService) ListMessages(ctx context.Context, roomID, token string) ([]model.Message, error) {
	records, err := s.repo.ListMessages(ctx, roomID, token)
	if err != nil {
		return nil, err
	}

	messages := make([]model.Message, 0, len(records))
	for _, record := range records {
		var m model.Message
		if err := json.Unmarshal([]byte(record), &m); err != nil {
			log.Warn("skipping undecodable message record", zap.String("room", roomID), zap.Error(err))
			continue
		}
		messages = append(messages, m.ForViewer(token))
	}
	return messages, nil
}
