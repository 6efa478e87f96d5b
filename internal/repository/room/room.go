package room

import (
	"context"
	"errors"
	"fmt"
	"phantom_chat/internal/model"
	redisSvc "phantom_chat/internal/service/redis"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

type (
	RoomRepo struct {
		redis  *redisSvc.RedisService
		prefix string
	}

	roomKeys struct {
		meta     string
		members  string
		keys     string
		kem      string
		messages string
	}
)

func NewRoomRepo(rdb *redisSvc.RedisService, prefix string) *RoomRepo {
	if prefix == "" {
		prefix = "phantom"
	}
	return &RoomRepo{
		redis:  rdb,
		prefix: prefix,
	}
}

// The room id sits in a hash tag so every key of a room lands on one slot.
func (r *RoomRepo) keysOf(roomID string) roomKeys {
	base := fmt.Sprintf("%s:room:{%s}", r.prefix, roomID)
	return roomKeys{
		meta:     base + ":meta",
		members:  base + ":members",
		keys:     base + ":keys",
		kem:      base + ":kem",
		messages: base + ":messages",
	}
}

// Channel is the pub/sub channel carrying a room's events.
func (r *RoomRepo) Channel(roomID string) string {
	return fmt.Sprintf("%s:room:{%s}:events", r.prefix, roomID)
}

func (r *RoomRepo) expiryKey() string {
	return r.prefix + ":rooms:expiry"
}

func (r *RoomRepo) Create(ctx context.Context, room *model.Room) error {
	k := r.keysOf(room.ID)
	deadline := room.CreatedAt.Add(room.TTL).UnixMilli()

	_, err := r.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, k.meta,
			"created_at", room.CreatedAt.UnixMilli(),
			"ttl", room.TTL.Milliseconds(),
		)
		pipe.PExpire(ctx, k.meta, room.TTL)
		pipe.ZAdd(ctx, r.expiryKey(), redis.Z{Score: float64(deadline), Member: room.ID})
		return nil
	})
	return err
}

func (r *RoomRepo) Get(ctx context.Context, roomID string) (*model.Room, error) {
	fields, err := r.redis.HGetAll(ctx, r.keysOf(roomID).meta)
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, model.ErrRoomNotFound
	}

	created, _ := strconv.ParseInt(fields["created_at"], 10, 64)
	ttl, _ := strconv.ParseInt(fields["ttl"], 10, 64)
	return &model.Room{
		ID:        roomID,
		CreatedAt: time.UnixMilli(created),
		TTL:       time.Duration(ttl) * time.Millisecond,
		State:     model.RoomActive,
	}, nil
}

// RemainingTTL is read from the store, so it is the same for every observer.
func (r *RoomRepo) RemainingTTL(ctx context.Context, roomID string) (time.Duration, error) {
	ttl, err := r.redis.PTTL(ctx, r.keysOf(roomID).meta)
	if err != nil {
		return 0, err
	}
	if ttl <= 0 {
		return 0, model.ErrRoomNotFound
	}
	return ttl, nil
}

// Admit returns the token the caller holds after admission and whether it
// was already a member. minted is only stored when presented is not a member.
func (r *RoomRepo) Admit(ctx context.Context, roomID, presented, minted string) (string, bool, error) {
	k := r.keysOf(roomID)
	res, err := r.redis.Run(ctx, admitScript, []string{k.meta, k.members}, presented, minted, model.MaxParticipants)
	if err != nil {
		return "", false, err
	}
	status, rest, err := parseReply(res)
	if err != nil {
		return "", false, err
	}
	switch status {
	case "existing":
		return rest[0], true, nil
	case "admitted":
		return rest[0], false, nil
	}
	return "", false, statusErr(status)
}

func (r *RoomRepo) IsMember(ctx context.Context, roomID, token string) error {
	k := r.keysOf(roomID)
	var exists *redis.IntCmd
	var member *redis.BoolCmd
	_, err := r.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		exists = pipe.Exists(ctx, k.meta)
		member = pipe.SIsMember(ctx, k.members, token)
		return nil
	})
	if err != nil {
		return err
	}
	return checkAccess(exists, member)
}

func (r *RoomRepo) PutKeys(ctx context.Context, roomID, token, payload string) error {
	k := r.keysOf(roomID)
	return r.runGuarded(ctx, putKeysScript, []string{k.meta, k.members, k.keys}, token, payload)
}

// PeerKeys returns the token and stored payload of the other member's keys,
// or empty strings when the peer has not published yet.
func (r *RoomRepo) PeerKeys(ctx context.Context, roomID, token string) (string, string, error) {
	k := r.keysOf(roomID)
	var exists *redis.IntCmd
	var member *redis.BoolCmd
	var all *redis.MapStringStringCmd
	_, err := r.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		exists = pipe.Exists(ctx, k.meta)
		member = pipe.SIsMember(ctx, k.members, token)
		all = pipe.HGetAll(ctx, k.keys)
		return nil
	})
	if err != nil {
		return "", "", err
	}
	if err := checkAccess(exists, member); err != nil {
		return "", "", err
	}
	for owner, payload := range all.Val() {
		if owner != token {
			return owner, payload, nil
		}
	}
	return "", "", nil
}

// PutEncapsulation stores the artifact for the other member and returns that
// member's token.
func (r *RoomRepo) PutEncapsulation(ctx context.Context, roomID, token, payload string) (string, error) {
	k := r.keysOf(roomID)
	res, err := r.redis.Run(ctx, putEncapsulationScript, []string{k.meta, k.members, k.kem}, token, payload)
	if err != nil {
		return "", err
	}
	status, rest, err := parseReply(res)
	if err != nil {
		return "", err
	}
	if status != "ok" {
		return "", statusErr(status)
	}
	return rest[0], nil
}

// Encapsulation returns the artifact addressed to token, empty if none yet.
func (r *RoomRepo) Encapsulation(ctx context.Context, roomID, token string) (string, error) {
	k := r.keysOf(roomID)
	var exists *redis.IntCmd
	var member *redis.BoolCmd
	var payload *redis.StringCmd
	_, err := r.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		exists = pipe.Exists(ctx, k.meta)
		member = pipe.SIsMember(ctx, k.members, token)
		payload = pipe.HGet(ctx, k.kem, token)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return "", err
	}
	if err := checkAccess(exists, member); err != nil {
		return "", err
	}
	return payload.Val(), nil
}

func (r *RoomRepo) AppendMessage(ctx context.Context, roomID, token, record string) error {
	k := r.keysOf(roomID)
	return r.runGuarded(ctx, appendMessageScript, []string{k.meta, k.members, k.messages}, token, record)
}

func (r *RoomRepo) ListMessages(ctx context.Context, roomID, token string) ([]string, error) {
	k := r.keysOf(roomID)
	var exists *redis.IntCmd
	var member *redis.BoolCmd
	var records *redis.StringSliceCmd
	_, err := r.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		exists = pipe.Exists(ctx, k.meta)
		member = pipe.SIsMember(ctx, k.members, token)
		records = pipe.LRange(ctx, k.messages, 0, -1)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := checkAccess(exists, member); err != nil {
		return nil, err
	}
	return records.Val(), nil
}

// Destroy deletes every key of the room and publishes payload on its channel.
// Only the first of any number of concurrent calls returns true and publishes.
func (r *RoomRepo) Destroy(ctx context.Context, roomID, payload string) (bool, error) {
	k := r.keysOf(roomID)
	keys := []string{k.meta, k.members, k.keys, k.kem, k.messages, r.expiryKey()}
	res, err := r.redis.Run(ctx, destroyScript, keys, roomID, r.Channel(roomID), payload)
	if err != nil {
		return false, err
	}
	n, _ := res.(int64)
	return n == 1, nil
}

// Expired lists rooms whose deadline is at or before now and that have not
// been destroyed yet.
func (r *RoomRepo) Expired(ctx context.Context, now time.Time) ([]string, error) {
	return r.redis.ZRangeByScore(ctx, r.expiryKey(), now.UnixMilli())
}

func (r *RoomRepo) runGuarded(ctx context.Context, script *redis.Script, keys []string, args ...any) error {
	res, err := r.redis.Run(ctx, script, keys, args...)
	if err != nil {
		return err
	}
	status, _, err := parseReply(res)
	if err != nil {
		return err
	}
	if status != "ok" {
		return statusErr(status)
	}
	return nil
}

func checkAccess(exists *redis.IntCmd, member *redis.BoolCmd) error {
	if exists.Val() == 0 {
		return model.ErrRoomNotFound
	}
	if !member.Val() {
		return model.ErrNotMember
	}
	return nil
}

func parseReply(res any) (string, []string, error) {
	items, ok := res.([]any)
	if !ok || len(items) == 0 {
		return "", nil, fmt.Errorf("unexpected script reply %T", res)
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return "", nil, fmt.Errorf("unexpected script reply element %T", item)
		}
		out = append(out, s)
	}
	return out[0], out[1:], nil
}

func statusErr(status string) error {
	switch status {
	case "gone":
		return model.ErrRoomNotFound
	case "forbidden":
		return model.ErrNotMember
	case "full":
		return model.ErrRoomFull
	case "nopeer":
		return model.ErrNoPeer
	}
	return fmt.Errorf("unexpected script status %q", status)
}
