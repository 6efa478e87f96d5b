package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (*RedisService, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	svc := Dial(Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = svc.Close() })
	return svc, mr
}

func TestPublishReachesConfirmedSubscriber(t *testing.T) {
	require := require.New(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	svc, _ := newTestService(t)

	require.NoError(svc.Ping(ctx))

	ps, err := svc.Subscribe(ctx, "room:events")
	require.NoError(err)
	defer ps.Close()

	require.NoError(svc.Publish(ctx, "room:events", "hello"))

	select {
	case msg := <-ps.Channel():
		require.Equal("room:events", msg.Channel)
		require.Equal("hello", msg.Payload)
	case <-ctx.Done():
		t.Fatal("message not delivered")
	}
}

func TestPTTLAndExpiryIndex(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	svc, mr := newTestService(t)

	_, err := svc.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, "meta", "ttl", 5000)
		pipe.PExpire(ctx, "meta", 5*time.Second)
		pipe.ZAdd(ctx, "expiry", redis.Z{Score: 100, Member: "a"}, redis.Z{Score: 200, Member: "b"})
		return nil
	})
	require.NoError(err)

	ttl, err := svc.PTTL(ctx, "meta")
	require.NoError(err)
	require.Equal(5*time.Second, ttl)

	fields, err := svc.HGetAll(ctx, "meta")
	require.NoError(err)
	require.Equal("5000", fields["ttl"])

	due, err := svc.ZRangeByScore(ctx, "expiry", 150)
	require.NoError(err)
	require.Equal([]string{"a"}, due)

	mr.FastForward(6 * time.Second)
	ttl, err = svc.PTTL(ctx, "meta")
	require.NoError(err)
	require.Less(ttl, time.Duration(0))
}

func TestRunScript(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	svc, _ := newTestService(t)

	incr := redis.NewScript(`return redis.call('INCRBY', KEYS[1], ARGV[1])`)
	n, err := svc.Run(ctx, incr, []string{"counter"}, 3)
	require.NoError(err)
	require.EqualValues(3, n)

	n, err = svc.Run(ctx, incr, []string{"counter"}, 4)
	require.NoError(err)
	require.EqualValues(7, n)
}
