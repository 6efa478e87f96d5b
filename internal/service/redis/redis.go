package redis

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

type (
	RedisService struct {
		rdb redis.UniversalClient
	}

	Options struct {
		Addr     string
		Password string
		DB       int
	}
)

var Nil = redis.Nil

func NewRedis(rdb redis.UniversalClient) *RedisService {
	return &RedisService{
		rdb: rdb,
	}
}

func Dial(opts Options) *RedisService {
	return NewRedis(redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}))
}

func (r *RedisService) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

func (r *RedisService) Close() error {
	return r.rdb.Close()
}

func (r *RedisService) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return r.rdb.HGetAll(ctx, key).Result()
}

// PTTL returns the remaining lifetime of key; go-redis reports a missing key
// as -2ns and a key without expiry as -1ns.
func (r *RedisService) PTTL(ctx context.Context, key string) (time.Duration, error) {
	return r.rdb.PTTL(ctx, key).Result()
}

func (r *RedisService) ZRangeByScore(ctx context.Context, key string, max int64) ([]string, error) {
	return r.rdb.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(max, 10),
	}).Result()
}

func (r *RedisService) TxPipelined(ctx context.Context, fn func(redis.Pipeliner) error) ([]redis.Cmder, error) {
	return r.rdb.TxPipelined(ctx, fn)
}

func (r *RedisService) Run(ctx context.Context, script *redis.Script, keys []string, args ...any) (any, error) {
	return script.Run(ctx, r.rdb, keys, args...).Result()
}

func (r *RedisService) Publish(ctx context.Context, channel string, message any) error {
	return r.rdb.Publish(ctx, channel, message).Err()
}

// Subscribe returns the subscription once redis has confirmed it, so
// nothing published after Subscribe returns is missed.
func (r *RedisService) Subscribe(ctx context.Context, channel string) (*redis.PubSub, error) {
	ps := r.rdb.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}
	return ps, nil
}
