// Package room implements room lifecycle, admission and the per-room
// message store on top of the redis repository.
package room

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"phantom_chat/internal/cryptographic/random"
	"phantom_chat/internal/metrics"
	"phantom_chat/internal/model"
	roomRepo "phantom_chat/internal/repository/room"
	"phantom_chat/internal/utils/log"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	IDLength   = 21
	TokenBytes = 32
)

type (
	Options struct {
		DefaultTTL    time.Duration
		MaxTTL        time.Duration
		SweepInterval time.Duration
	}

	RoomService struct {
		repo   *roomRepo.RoomRepo
		broker Broker
		opts   Options
		now    func() time.Time

		mu     sync.Mutex
		timers map[string]*time.Timer
		closed bool
	}
)

func NewRoomService(repo *roomRepo.RoomRepo, broker Broker, opts Options) *RoomService {
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = 10 * time.Minute
	}
	if opts.MaxTTL < opts.DefaultTTL {
		opts.MaxTTL = opts.DefaultTTL
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = time.Second
	}
	return &RoomService{
		repo:   repo,
		broker: broker,
		opts:   opts,
		now:    time.Now,
		timers: make(map[string]*time.Timer),
	}
}

func (s *RoomService) clampTTL(ttl time.Duration) time.Duration {
	switch {
	case ttl <= 0:
		return s.opts.DefaultTTL
	case ttl > s.opts.MaxTTL:
		return s.opts.MaxTTL
	}
	return ttl
}

// Create allocates a room that destroys itself after ttl. A zero ttl picks
// the configured default.
func (s *RoomService) Create(ctx context.Context, ttl time.Duration) (*model.Room, error) {
	id, err := random.ID(IDLength)
	if err != nil {
		return nil, err
	}

	room := &model.Room{
		ID:        id,
		CreatedAt: s.now(),
		TTL:       s.clampTTL(ttl),
		State:     model.RoomActive,
	}
	if err := s.repo.Create(ctx, room); err != nil {
		return nil, err
	}
	s.arm(room.ID, room.TTL)

	metrics.RoomCreated()
	log.Info("room created", zap.String("room", room.ID), zap.Duration("ttl", room.TTL))
	return room, nil
}

func newToken() (string, error) {
	b, err := random.Bytes(TokenBytes)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Admit lets presented back in when it is already a member, and otherwise
// hands out a fresh token while a slot is free.
func (s *RoomService) Admit(ctx context.Context, roomID, presented string) (*model.Admission, error) {
	minted, err := newToken()
	if err != nil {
		return nil, err
	}

	token, existing, err := s.repo.Admit(ctx, roomID, presented, minted)
	switch {
	case errors.Is(err, model.ErrRoomFull):
		metrics.Admission(metrics.AdmissionFull)
		return nil, err
	case errors.Is(err, model.ErrRoomNotFound):
		metrics.Admission(metrics.AdmissionNotFound)
		return nil, err
	case err != nil:
		return nil, err
	}

	admission := &model.Admission{
		Token:       token,
		Participant: model.ParticipantID(token),
		Existing:    existing,
	}
	if existing {
		metrics.Admission(metrics.AdmissionExisting)
	} else {
		metrics.Admission(metrics.AdmissionNew)
		log.Info("participant admitted", zap.String("room", roomID), zap.String("participant", admission.Participant))
	}
	return admission, nil
}

// RemainingTTL is rounded up to whole seconds.
func (s *RoomService) RemainingTTL(ctx context.Context, roomID string) (time.Duration, error) {
	ttl, err := s.repo.RemainingTTL(ctx, roomID)
	if err != nil {
		return 0, err
	}
	return (ttl + time.Second - 1).Truncate(time.Second), nil
}

func (s *RoomService) Authorize(ctx context.Context, roomID, token string) error {
	return s.repo.IsMember(ctx, roomID, token)
}

// Destroy removes everything the room owns and notifies subscribers. It
// reports whether this call did the destruction; destroying a room that is
// already gone is not an error.
func (s *RoomService) Destroy(ctx context.Context, roomID string, reason model.DestroyReason) (bool, error) {
	s.disarm(roomID)

	e, err := model.NewEvent(model.EventRoomDestroyed, roomID, "", &model.DestroyedData{Reason: reason})
	if err != nil {
		return false, err
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return false, err
	}

	done, err := s.repo.Destroy(ctx, roomID, string(payload))
	if err != nil {
		return false, err
	}
	if done {
		metrics.RoomDestroyed(reason)
		log.Info("room destroyed", zap.String("room", roomID), zap.String("reason", string(reason)))
	}
	return done, nil
}

func (s *RoomService) Subscribe(ctx context.Context, roomID string) (Subscription, error) {
	return s.broker.Subscribe(ctx, roomID)
}

// notify failures are logged only: the state is stored already and
// clients refetch on connect.
func (s *RoomService) notify(ctx context.Context, t model.EventType, roomID, origin string, data any) {
	e, err := model.NewEvent(t, roomID, origin, data)
	if err == nil {
		err = s.broker.Publish(ctx, e)
	}
	if err != nil {
		log.Warn("event not published", zap.String("room", roomID), zap.String("event", string(t)), zap.Error(err))
	}
}

func (s *RoomService) arm(roomID string, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.timers[roomID] = time.AfterFunc(ttl, func() {
		s.mu.Lock()
		delete(s.timers, roomID)
		s.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := s.Destroy(ctx, roomID, model.DestroyExpired); err != nil {
			log.Error("expiry destroy failed", zap.String("room", roomID), zap.Error(err))
		}
	})
}

func (s *RoomService) disarm(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.timers[roomID]; ok {
		t.Stop()
		delete(s.timers, roomID)
	}
}

// Sweep destroys every room past its deadline that no timer handled, such
// as rooms created by another relay or before a restart.
func (s *RoomService) Sweep(ctx context.Context) (int, error) {
	ids, err := s.repo.Expired(ctx, s.now())
	if err != nil {
		return 0, err
	}

	n := 0
	for _, id := range ids {
		done, err := s.Destroy(ctx, id, model.DestroyExpired)
		if err != nil {
			return n, err
		}
		if done {
			n++
		}
	}
	return n, nil
}

// Run sweeps periodically until ctx is done.
func (s *RoomService) Run(ctx context.Context) {
	ticker := time.NewTicker(s.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := s.Sweep(ctx); err != nil {
				if ctx.Err() == nil {
					log.Error("sweep failed", zap.Error(err))
				}
			} else if n > 0 {
				log.Debug("swept expired rooms", zap.Int("count", n))
			}
		}
	}
}

// Close stops every pending expiry timer. Rooms left in the store are
// picked up by the next sweeper.
func (s *RoomService) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}
