package client

import (
	"context"
	"encoding/json"
	"errors"
	"phantom_chat/internal/model"
	"phantom_chat/internal/protocol/exchange"
	"phantom_chat/internal/utils/log"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	reconnectMinDelay = 200 * time.Millisecond
	reconnectMaxDelay = 5 * time.Second
)

type (
	// Entry is one message as the user sees it. Err is set, and Plaintext
	// empty, when the envelope could not be opened.
	Entry struct {
		Message   model.Message
		Plaintext []byte
		Err       error
	}

	// Session runs the key exchange for a joined room and encrypts and
	// decrypts its messages.
	Session struct {
		room  *Room
		coord *exchange.Coordinator

		cancel    context.CancelFunc
		incoming  chan Entry
		destroyed chan struct{}
		done      chan struct{}
		closeOnce sync.Once
		reason    model.DestroyReason

		mu   sync.Mutex
		seen map[string]struct{}
	}
)

func NewSession(room *Room, opts ...exchange.Option) (*Session, error) {
	coord, err := exchange.New(room.ID, room.Participant, room, opts...)
	if err != nil {
		return nil, err
	}
	return &Session{
		room:      room,
		coord:     coord,
		incoming:  make(chan Entry, 64),
		destroyed: make(chan struct{}),
		done:      make(chan struct{}),
		seen:      make(map[string]struct{}),
	}, nil
}

func (s *Session) Room() *Room {
	return s.room
}

func (s *Session) Coordinator() *exchange.Coordinator {
	return s.coord
}

// Start subscribes to the room, publishes our keys and picks up whatever
// the peer published before we were listening.
func (s *Session) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())

	events, err := s.room.Events(runCtx)
	if err != nil {
		cancel()
		return err
	}
	if err := s.coord.Start(ctx); err != nil {
		cancel()
		return err
	}
	if err := s.refresh(ctx); err != nil {
		cancel()
		return err
	}

	s.cancel = cancel
	go s.loop(runCtx, events)
	return nil
}

func (s *Session) refresh(ctx context.Context) error {
	peer, err := s.room.PeerKeys(ctx)
	if err != nil {
		return err
	}
	if err := s.coord.HandlePeerKeys(ctx, peer); err != nil {
		return err
	}

	e, err := s.room.Encapsulation(ctx)
	if err != nil {
		return err
	}
	return s.coord.HandleEncapsulation(ctx, e)
}

// loop handles events until the room is destroyed or the session closed,
// reconnecting whenever the stream drops.
func (s *Session) loop(ctx context.Context, events <-chan *model.Event) {
	defer close(s.done)

	for {
		if s.consume(ctx, events) || ctx.Err() != nil {
			return
		}

		var ok bool
		if events, ok = s.reconnect(ctx); !ok {
			return
		}
	}
}

// consume reports whether the stream ended with the room's destruction.
func (s *Session) consume(ctx context.Context, events <-chan *model.Event) bool {
	for e := range events {
		switch e.Type {
		case model.EventKeyMaterial, model.EventEncapsulationPosted:
			if err := s.refresh(ctx); err != nil && ctx.Err() == nil {
				log.Warn("key exchange step failed", zap.String("room", s.room.ID), zap.Error(err))
			}

		case model.EventNewMessage:
			var msg model.Message
			if err := json.Unmarshal(e.Data, &msg); err != nil {
				log.Warn("undecodable message event", zap.Error(err))
				continue
			}
			if s.markSeen(msg.ID) {
				s.deliver(s.open(msg))
			}

		case model.EventRoomDestroyed:
			var data model.DestroyedData
			_ = json.Unmarshal(e.Data, &data)
			s.finish(data.Reason)
			return true
		}
	}
	return false
}

// reconnect dials the event stream again and catches up on what was missed
// while it was down. It gives up when ctx is done or the room is gone.
func (s *Session) reconnect(ctx context.Context) (<-chan *model.Event, bool) {
	delay := reconnectMinDelay
	for {
		log.Warn("event stream lost, reconnecting", zap.String("room", s.room.ID), zap.Duration("delay", delay))
		select {
		case <-ctx.Done():
			return nil, false
		case <-time.After(delay):
		}

		events, err := s.room.Events(ctx)
		if err == nil {
			err = s.resync(ctx)
			if !errors.Is(err, model.ErrRoomNotFound) {
				if err != nil {
					log.Warn("resync after reconnect failed", zap.String("room", s.room.ID), zap.Error(err))
				}
				return events, true
			}
		}
		if errors.Is(err, model.ErrRoomNotFound) {
			s.finish(model.DestroyUnknown)
			return nil, false
		}
		if ctx.Err() != nil {
			return nil, false
		}

		delay = min(delay*2, reconnectMaxDelay)
	}
}

// resync repeats the key exchange lookups and delivers messages appended
// while no stream was open.
func (s *Session) resync(ctx context.Context) error {
	refreshErr := s.refresh(ctx)
	if errors.Is(refreshErr, model.ErrRoomNotFound) {
		return refreshErr
	}

	messages, err := s.room.Messages(ctx)
	if err != nil {
		return err
	}
	for _, msg := range messages {
		if s.markSeen(msg.ID) {
			s.deliver(s.open(msg))
		}
	}
	return refreshErr
}

func (s *Session) finish(reason model.DestroyReason) {
	s.reason = reason
	close(s.destroyed)
	s.coord.Close()
}

// markSeen reports whether id had not been delivered or listed before.
func (s *Session) markSeen(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.seen[id]; ok {
		return false
	}
	s.seen[id] = struct{}{}
	return true
}

func (s *Session) deliver(entry Entry) {
	select {
	case s.incoming <- entry:
	default:
		log.Warn("dropping message, reader too slow", zap.String("room", s.room.ID))
	}
}

func (s *Session) open(msg model.Message) Entry {
	plain, err := s.coord.Open(msg.Envelope)
	if err != nil {
		return Entry{Message: msg, Err: err}
	}
	return Entry{Message: msg, Plaintext: plain}
}

// Incoming delivers messages pushed by the relay, own sends included.
func (s *Session) Incoming() <-chan Entry {
	return s.incoming
}

// Destroyed is closed once the room is gone.
func (s *Session) Destroyed() <-chan struct{} {
	return s.destroyed
}

// Reason is valid once Destroyed is closed.
func (s *Session) Reason() model.DestroyReason {
	<-s.destroyed
	return s.reason
}

func (s *Session) WaitEstablished(ctx context.Context) error {
	return s.coord.Wait(ctx)
}

// Send encrypts text for the peer. It fails with exchange.ErrNotEstablished
// until the session key exists; nothing is ever sent in the clear.
func (s *Session) Send(ctx context.Context, text string) (*model.Message, error) {
	return s.send(ctx, []byte(text), model.MessageText, nil)
}

// SendImage sends a data URI with its non-secret dimensions.
func (s *Session) SendImage(ctx context.Context, dataURI string, meta *model.MessageMeta) (*model.Message, error) {
	return s.send(ctx, []byte(dataURI), model.MessageImage, meta)
}

func (s *Session) send(ctx context.Context, payload []byte, t model.MessageType, meta *model.MessageMeta) (*model.Message, error) {
	env, err := s.coord.Seal(payload)
	if err != nil {
		return nil, err
	}
	return s.room.Send(ctx, &model.OutgoingMessage{Envelope: env, Type: t, Meta: meta})
}

// History fetches and decrypts the whole log.
func (s *Session) History(ctx context.Context) ([]Entry, error) {
	messages, err := s.room.Messages(ctx)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(messages))
	for _, msg := range messages {
		s.markSeen(msg.ID)
		entries = append(entries, s.open(msg))
	}
	return entries, nil
}

// Destroy asks the relay to destroy the room now.
func (s *Session) Destroy(ctx context.Context) error {
	err := s.room.Destroy(ctx)
	if errors.Is(err, model.ErrRoomNotFound) {
		return nil
	}
	return err
}

// Close stops listening and wipes the session's secrets.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
			<-s.done
		}
		s.coord.Close()
	})
}
