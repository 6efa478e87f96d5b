package room

import (
	"context"
	"encoding/json"
	"phantom_chat/internal/model"
	roomRepo "phantom_chat/internal/repository/room"
	redisSvc "phantom_chat/internal/service/redis"
	"phantom_chat/internal/utils/log"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type (
	// Subscription delivers a room's events until it is closed. Events is
	// closed when the subscription ends.
	Subscription interface {
		Events() <-chan *model.Event
		Close() error
	}

	Broker interface {
		Publish(ctx context.Context, e *model.Event) error
		Subscribe(ctx context.Context, roomID string) (Subscription, error)
	}

	// RedisBroker fans events out over redis pub/sub, on the same channel
	// the repository publishes destruction on.
	RedisBroker struct {
		redis *redisSvc.RedisService
		repo  *roomRepo.RoomRepo
	}

	redisSubscription struct {
		ps     *redis.PubSub
		events chan *model.Event
		done   chan struct{}
		once   sync.Once
	}
)

func NewRedisBroker(rdb *redisSvc.RedisService, repo *roomRepo.RoomRepo) *RedisBroker {
	return &RedisBroker{
		redis: rdb,
		repo:  repo,
	}
}

func (b *RedisBroker) Publish(ctx context.Context, e *model.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return b.redis.Publish(ctx, b.repo.Channel(e.RoomID), data)
}

func (b *RedisBroker) Subscribe(ctx context.Context, roomID string) (Subscription, error) {
	ps, err := b.redis.Subscribe(ctx, b.repo.Channel(roomID))
	if err != nil {
		return nil, err
	}

	sub := &redisSubscription{
		ps:     ps,
		events: make(chan *model.Event, 16),
		done:   make(chan struct{}),
	}
	go sub.pump()
	return sub, nil
}

func (s *redisSubscription) pump() {
	defer close(s.events)

	for msg := range s.ps.Channel() {
		var e model.Event
		if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
			log.Warn("dropping undecodable event", zap.String("channel", msg.Channel), zap.Error(err))
			continue
		}
		select {
		case s.events <- &e:
		case <-s.done:
			return
		}
		if e.Type == model.EventRoomDestroyed {
			_ = s.Close()
		}
	}
}

func (s *redisSubscription) Events() <-chan *model.Event {
	return s.events
}

func (s *redisSubscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.ps.Close()
	})
	return err
}
