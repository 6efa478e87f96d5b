package room

import (
	"context"
	"errors"
	"phantom_chat/internal/model"
	redisSvc "phantom_chat/internal/service/redis"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRepo(t *testing.T) (*RoomRepo, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRoomRepo(redisSvc.NewRedis(rdb), "test"), mr
}

func createRoom(t *testing.T, repo *RoomRepo, id string, ttl time.Duration) {
	err := repo.Create(context.Background(), &model.Room{ID: id, CreatedAt: time.Now(), TTL: ttl})
	require.NoError(t, err)
}

func TestCreateAndGet(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	repo, _ := newRepo(t)

	createRoom(t, repo, "r1", time.Minute)

	room, err := repo.Get(ctx, "r1")
	require.NoError(err)
	require.Equal("r1", room.ID)
	require.Equal(time.Minute, room.TTL)

	ttl, err := repo.RemainingTTL(ctx, "r1")
	require.NoError(err)
	require.InDelta(time.Minute.Seconds(), ttl.Seconds(), 1)

	_, err = repo.Get(ctx, "missing")
	require.True(errors.Is(err, model.ErrRoomNotFound))
	_, err = repo.RemainingTTL(ctx, "missing")
	require.True(errors.Is(err, model.ErrRoomNotFound))
}

func TestAdmitCapacity(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	repo, _ := newRepo(t)
	createRoom(t, repo, "r1", time.Minute)

	tok, existing, err := repo.Admit(ctx, "r1", "", "A")
	require.NoError(err)
	require.Equal("A", tok)
	require.False(existing)

	// Presenting a member token is idempotent and does not consume a slot.
	tok, existing, err = repo.Admit(ctx, "r1", "A", "unused")
	require.NoError(err)
	require.Equal("A", tok)
	require.True(existing)

	// An unknown token is never adopted.
	tok, existing, err = repo.Admit(ctx, "r1", "forged", "B")
	require.NoError(err)
	require.Equal("B", tok)
	require.False(existing)

	_, _, err = repo.Admit(ctx, "r1", "", "C")
	require.True(errors.Is(err, model.ErrRoomFull))

	_, _, err = repo.Admit(ctx, "nope", "", "D")
	require.True(errors.Is(err, model.ErrRoomNotFound))
}

func TestConcurrentAdmission(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	repo, _ := newRepo(t)
	createRoom(t, repo, "r1", time.Minute)

	const n = 20
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		ok     int
		full   int
		others []error
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, err := repo.Admit(ctx, "r1", "", string(rune('a'+i)))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, model.ErrRoomFull):
				full++
			default:
				others = append(others, err)
			}
		}(i)
	}
	wg.Wait()

	require.Empty(others)
	require.Equal(model.MaxParticipants, ok)
	require.Equal(n-model.MaxParticipants, full)
}

func TestKeysAndEncapsulation(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	repo, _ := newRepo(t)
	createRoom(t, repo, "r1", time.Minute)

	_, _, err := repo.Admit(ctx, "r1", "", "A")
	require.NoError(err)

	_, err = repo.PutEncapsulation(ctx, "r1", "A", "ct")
	require.True(errors.Is(err, model.ErrNoPeer))

	_, _, err = repo.Admit(ctx, "r1", "", "B")
	require.NoError(err)

	require.NoError(repo.PutKeys(ctx, "r1", "A", `{"a":1}`))
	owner, payload, err := repo.PeerKeys(ctx, "r1", "A")
	require.NoError(err)
	require.Empty(owner)
	require.Empty(payload)

	owner, payload, err = repo.PeerKeys(ctx, "r1", "B")
	require.NoError(err)
	require.Equal("A", owner)
	require.Equal(`{"a":1}`, payload)

	recipient, err := repo.PutEncapsulation(ctx, "r1", "A", "ct")
	require.NoError(err)
	require.Equal("B", recipient)

	got, err := repo.Encapsulation(ctx, "r1", "B")
	require.NoError(err)
	require.Equal("ct", got)
	got, err = repo.Encapsulation(ctx, "r1", "A")
	require.NoError(err)
	require.Empty(got)

	require.True(errors.Is(repo.PutKeys(ctx, "r1", "stranger", "{}"), model.ErrNotMember))
	_, _, err = repo.PeerKeys(ctx, "r1", "stranger")
	require.True(errors.Is(err, model.ErrNotMember))
}

func TestMessagesKeepOrder(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	repo, _ := newRepo(t)
	createRoom(t, repo, "r1", time.Minute)
	_, _, err := repo.Admit(ctx, "r1", "", "A")
	require.NoError(err)

	for _, m := range []string{"one", "two", "three"} {
		require.NoError(repo.AppendMessage(ctx, "r1", "A", m))
	}
	records, err := repo.ListMessages(ctx, "r1", "A")
	require.NoError(err)
	require.Equal([]string{"one", "two", "three"}, records)

	require.True(errors.Is(repo.AppendMessage(ctx, "r1", "B", "x"), model.ErrNotMember))
}

func TestAttachedDataExpiresWithRoom(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	repo, mr := newRepo(t)
	createRoom(t, repo, "r1", 5*time.Second)

	_, _, err := repo.Admit(ctx, "r1", "", "A")
	require.NoError(err)
	require.NoError(repo.AppendMessage(ctx, "r1", "A", "hi"))
	require.NoError(repo.PutKeys(ctx, "r1", "A", "{}"))

	mr.FastForward(6 * time.Second)

	_, err = repo.ListMessages(ctx, "r1", "A")
	require.True(errors.Is(err, model.ErrRoomNotFound))
	_, err = repo.RemainingTTL(ctx, "r1")
	require.True(errors.Is(err, model.ErrRoomNotFound))

	k := repo.keysOf("r1")
	for _, key := range []string{k.meta, k.members, k.keys, k.messages} {
		require.False(mr.Exists(key), key)
	}
}

func TestDestroyOnce(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	repo, mr := newRepo(t)
	createRoom(t, repo, "r1", time.Minute)
	_, _, err := repo.Admit(ctx, "r1", "", "A")
	require.NoError(err)
	require.NoError(repo.AppendMessage(ctx, "r1", "A", "hi"))

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		first int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			done, err := repo.Destroy(ctx, "r1", "bye")
			assert.NoError(t, err)
			if done {
				mu.Lock()
				first++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(1, first)

	_, err = repo.Get(ctx, "r1")
	require.True(errors.Is(err, model.ErrRoomNotFound))
	k := repo.keysOf("r1")
	require.False(mr.Exists(k.messages))
	require.False(mr.Exists(k.members))
}

func TestExpiredListsPastDeadlines(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	repo, _ := newRepo(t)

	now := time.Now()
	require.NoError(repo.Create(ctx, &model.Room{ID: "old", CreatedAt: now.Add(-time.Minute), TTL: 30 * time.Second}))
	require.NoError(repo.Create(ctx, &model.Room{ID: "new", CreatedAt: now, TTL: time.Minute}))

	ids, err := repo.Expired(ctx, now)
	require.NoError(err)
	require.Equal([]string{"old"}, ids)

	// A room whose meta already lapsed is still destroyed exactly once.
	done, err := repo.Destroy(ctx, "old", "bye")
	require.NoError(err)
	require.True(done)
	ids, err = repo.Expired(ctx, now)
	require.NoError(err)
	require.Empty(ids)
}
