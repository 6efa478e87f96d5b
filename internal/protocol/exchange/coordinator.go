// Package exchange drives the two message hybrid handshake between the two
// participants of a room. Roles are decided locally from the participants'
// identifiers, so no negotiation message exists: the smaller identifier
// encapsulates, the other decapsulates.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"phantom_chat/internal/cryptographic/encryption"
	"phantom_chat/internal/cryptographic/memzero"
	"phantom_chat/internal/model"
	"phantom_chat/internal/protocol/hybrid"
	"phantom_chat/internal/utils/log"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

var (
	ErrNotEstablished = errors.New("session key not established")
	ErrSameIdentity   = errors.New("peer identifier equals our own")
)

// Publisher carries our key material to the peer.
type Publisher interface {
	PublishKeys(ctx context.Context, keys *model.PublicKeys) error
	PublishEncapsulation(ctx context.Context, e *model.Encapsulation) error
}

type (
	Coordinator struct {
		roomID string
		self   string
		pub    Publisher
		cache  KeyCache

		// claimed flips exactly once, by whichever event first gets to run
		// the initiator or responder derivation.
		claimed atomic.Bool
		// publishMu keeps duplicate triggers from publishing the artifact
		// while the first publish is still in flight.
		publishMu sync.Mutex

		mu         sync.Mutex
		state      State
		role       Role
		keyPair    *hybrid.KeyPair
		peer       *model.PeerKeys
		pending    []byte
		initiation *hybrid.Initiation
		key        []byte
		err        error
		ready      chan struct{}
		failed     chan struct{}
	}

	Option func(*Coordinator)
)

func WithCache(cache KeyCache) Option {
	return func(c *Coordinator) {
		c.cache = cache
	}
}

// New prepares a coordinator for one room. self is our participant
// identifier as the peer will see it. With a cache, a previous key pair or
// established session for the room is reused.
func New(roomID, self string, pub Publisher, opts ...Option) (*Coordinator, error) {
	c := &Coordinator{
		roomID: roomID,
		self:   self,
		pub:    pub,
		ready:  make(chan struct{}),
		failed: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.restore() {
		return c, nil
	}

	kp, err := hybrid.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	c.keyPair = kp
	c.saveKeyPair()
	return c, nil
}

func (c *Coordinator) restore() bool {
	if c.cache == nil {
		return false
	}
	cached, ok := c.cache.Load(c.roomID)
	if !ok {
		return false
	}
	kp, err := hybrid.UnmarshalKeyPair(cached.ECDHPrivate, cached.KyberPrivate)
	if err != nil {
		log.Warn("discarding unusable cached keys", zap.String("room", c.roomID), zap.Error(err))
		c.cache.Forget(c.roomID)
		return false
	}
	c.keyPair = kp

	if cached.SessionKey != nil {
		c.claimed.Store(true)
		c.role = cached.Role
		c.key = cached.SessionKey
		c.state = StateEstablished
		close(c.ready)
		log.Debug("session restored from cache", zap.String("room", c.roomID))
	}
	return true
}

func (c *Coordinator) saveKeyPair() {
	if c.cache == nil || c.keyPair == nil {
		return
	}
	ec, pq, err := c.keyPair.Marshal()
	if err != nil {
		log.Warn("cannot cache key pair", zap.Error(err))
		return
	}
	c.cache.Store(c.roomID, &CachedSession{ECDHPrivate: ec, KyberPrivate: pq, SessionKey: cloneKey(c.key), Role: c.role})
}

// Start publishes our public keys. It may be called again to republish.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateEstablished || c.state == StateFailed {
		c.mu.Unlock()
		return c.Err()
	}
	kp := c.keyPair
	c.mu.Unlock()

	keys, err := hybrid.ExportPublic(kp)
	if err != nil {
		return err
	}
	if err := c.pub.PublishKeys(ctx, keys); err != nil {
		return fmt.Errorf("publish keys: %w", err)
	}

	c.mu.Lock()
	if c.state == StateNoKeys {
		c.state = StateAwaitingPeer
	}
	c.mu.Unlock()
	return nil
}

// HandlePeerKeys is fed every observation of the peer's public keys,
// duplicates included. The first observation fixes the peer.
func (c *Coordinator) HandlePeerKeys(ctx context.Context, peer *model.PeerKeys) error {
	if peer == nil {
		return nil
	}

	c.mu.Lock()
	switch c.state {
	case StateEstablished:
		c.mu.Unlock()
		return nil
	case StateFailed:
		err := c.err
		c.mu.Unlock()
		return err
	}

	if c.peer == nil {
		role := DecideRole(c.self, peer.Participant)
		if role == RoleUndecided {
			c.mu.Unlock()
			return ErrSameIdentity
		}
		p := *peer
		c.peer = &p
		c.role = role
		if role == RoleInitiator {
			c.state = StateInitiatorReady
		} else {
			c.state = StateResponderReady
		}
		log.Debug("key exchange role decided", zap.String("room", c.roomID), zap.Stringer("role", role))
	}
	role, pending := c.role, c.pending
	c.mu.Unlock()

	if role == RoleInitiator {
		return c.initiate(ctx)
	}
	if pending != nil {
		return c.respond(pending)
	}
	return nil
}

// HandleEncapsulation is fed every observation of an artifact addressed to
// us. An artifact that shows up before the peer's keys is held until they do.
func (c *Coordinator) HandleEncapsulation(ctx context.Context, e *model.Encapsulation) error {
	if e == nil {
		return nil
	}
	ct, err := hybrid.DecodeCiphertext(e)
	if err != nil {
		return c.fail(err)
	}

	c.mu.Lock()
	switch {
	case c.state == StateEstablished:
		c.mu.Unlock()
		return nil
	case c.state == StateFailed:
		err := c.err
		c.mu.Unlock()
		return err
	case c.peer == nil:
		c.pending = ct
		c.mu.Unlock()
		return nil
	case c.role == RoleInitiator:
		c.mu.Unlock()
		log.Warn("initiator ignoring encapsulation", zap.String("room", c.roomID))
		return nil
	}
	c.mu.Unlock()

	return c.respond(ct)
}

func (c *Coordinator) initiate(ctx context.Context) error {
	if c.claimed.CompareAndSwap(false, true) {
		c.mu.Lock()
		kp, peer := c.keyPair, c.peer
		c.mu.Unlock()

		ini, err := hybrid.DeriveAsInitiator(kp, &peer.PublicKeys)
		if err != nil {
			return c.fail(err)
		}
		c.mu.Lock()
		c.initiation = ini
		c.mu.Unlock()
	}

	// A duplicate trigger that lost the claim, or a retry after a failed
	// publish, only republishes the one artifact.
	c.publishMu.Lock()
	defer c.publishMu.Unlock()

	c.mu.Lock()
	ini, state := c.initiation, c.state
	c.mu.Unlock()
	if ini == nil || state == StateEstablished {
		return nil
	}

	if err := c.pub.PublishEncapsulation(ctx, hybrid.EncodeCiphertext(ini.Ciphertext)); err != nil {
		return fmt.Errorf("publish encapsulation: %w", err)
	}
	c.establish(ini.SessionKey)
	return nil
}

func (c *Coordinator) respond(ct []byte) error {
	if !c.claimed.CompareAndSwap(false, true) {
		return nil
	}

	c.mu.Lock()
	kp, peer := c.keyPair, c.peer
	c.pending = nil
	c.mu.Unlock()

	key, err := hybrid.DeriveAsResponder(kp, &peer.PublicKeys, ct)
	if err != nil {
		return c.fail(err)
	}
	c.establish(key)
	return nil
}

func (c *Coordinator) establish(key []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateEstablished {
		return
	}
	c.key = key
	c.initiation = nil
	c.state = StateEstablished
	close(c.ready)
	c.saveKeyPair()
	log.Info("session key established", zap.String("room", c.roomID), zap.Stringer("role", c.role))
}

func (c *Coordinator) fail(err error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateEstablished || c.state == StateFailed {
		return err
	}
	c.state = StateFailed
	c.err = err
	close(c.failed)
	log.Error("key exchange aborted", zap.String("room", c.roomID), zap.Error(err))
	return err
}

func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Coordinator) Role() Role {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.role
}

func (c *Coordinator) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Ready is closed once the session key exists.
func (c *Coordinator) Ready() <-chan struct{} {
	return c.ready
}

// Wait blocks until the session key exists, the exchange fails or ctx ends.
func (c *Coordinator) Wait(ctx context.Context) error {
	select {
	case <-c.ready:
		return nil
	case <-c.failed:
		return c.Err()
	case <-ctx.Done():
		if err := c.Err(); err != nil {
			return err
		}
		return ctx.Err()
	}
}

func (c *Coordinator) SessionKey() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateEstablished {
		return nil, ErrNotEstablished
	}
	return append([]byte(nil), c.key...), nil
}

// Seal encrypts a payload for the peer. Without a session key nothing is
// produced; there is no plaintext fallback.
func (c *Coordinator) Seal(plaintext []byte) (string, error) {
	key, err := c.SessionKey()
	if err != nil {
		return "", err
	}
	defer memzero.Wipe(key)
	return encryption.Seal(plaintext, key)
}

func (c *Coordinator) Open(envelope string) ([]byte, error) {
	key, err := c.SessionKey()
	if err != nil {
		return nil, err
	}
	defer memzero.Wipe(key)
	return encryption.Open(envelope, key)
}

// Close forgets every secret held for the room, including the cached copy.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	memzero.Wipe(c.key)
	c.key = nil
	c.keyPair = nil
	c.initiation = nil
	if c.cache != nil {
		c.cache.Forget(c.roomID)
	}
}
