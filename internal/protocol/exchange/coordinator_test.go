package exchange

import (
	"context"
	"encoding/base64"
	"errors"
	"phantom_chat/internal/cryptographic/encryption"
	"phantom_chat/internal/cryptographic/kem"
	"phantom_chat/internal/cryptographic/random"
	"phantom_chat/internal/model"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

// recorder keeps whatever a coordinator publishes.
type recorder struct {
	mu        sync.Mutex
	keys      *model.PublicKeys
	encaps    []*model.Encapsulation
	failEncap atomic.Bool
}

func (r *recorder) PublishKeys(_ context.Context, keys *model.PublicKeys) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys = keys
	return nil
}

func (r *recorder) PublishEncapsulation(_ context.Context, e *model.Encapsulation) error {
	if r.failEncap.Load() {
		return errors.New("relay unavailable")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.encaps = append(r.encaps, e)
	return nil
}

func (r *recorder) peerKeys(participant string) *model.PeerKeys {
	r.mu.Lock()
	defer r.mu.Unlock()
	return &model.PeerKeys{Participant: participant, PublicKeys: *r.keys}
}

func (r *recorder) published() []*model.Encapsulation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*model.Encapsulation(nil), r.encaps...)
}

type party struct {
	id  string
	pub *recorder
	c   *Coordinator
}

func newParty(t *testing.T, id string, opts ...Option) *party {
	pub := &recorder{}
	c, err := New("room-1", id, pub, opts...)
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))
	require.Equal(t, StateAwaitingPeer, c.State())
	return &party{id: id, pub: pub, c: c}
}

func TestDecideRole(t *testing.T) {
	require := require.New(t)

	require.Equal(RoleInitiator, DecideRole("alpha", "beta"))
	require.Equal(RoleResponder, DecideRole("beta", "alpha"))
	require.Equal(RoleInitiator, DecideRole("ab", "abc"))
	require.Equal(RoleUndecided, DecideRole("same", "same"))
}

func TestDecideRoleOnRoomTokens(t *testing.T) {
	require := require.New(t)

	// Byte order, not alphabetical: upper case sorts before lower case.
	require.Equal(RoleInitiator, DecideRole("Zq3-token", "aq3-token"))

	for i := 0; i < 32; i++ {
		a, b := mintToken(t), mintToken(t)
		roleA, roleB := DecideRole(a, b), DecideRole(b, a)
		if a < b {
			require.Equal(RoleInitiator, roleA)
			require.Equal(RoleResponder, roleB)
		} else {
			require.Equal(RoleResponder, roleA)
			require.Equal(RoleInitiator, roleB)
		}
	}
}

func mintToken(t *testing.T) string {
	b, err := random.Bytes(32)
	require.NoError(t, err)
	return base64.RawURLEncoding.EncodeToString(b)
}

func TestHandshakeScenario(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	a := newParty(t, "token-A")
	b := newParty(t, "token-B")

	// A is the smaller token, so A encapsulates.
	require.NoError(a.c.HandlePeerKeys(ctx, b.pub.peerKeys(b.id)))
	require.Equal(RoleInitiator, a.c.Role())
	require.Equal(StateEstablished, a.c.State())
	require.Len(a.pub.published(), 1)

	require.NoError(b.c.HandlePeerKeys(ctx, a.pub.peerKeys(a.id)))
	require.Equal(RoleResponder, b.c.Role())
	require.Equal(StateResponderReady, b.c.State())
	require.Empty(b.pub.published())

	require.NoError(b.c.HandleEncapsulation(ctx, a.pub.published()[0]))
	require.Equal(StateEstablished, b.c.State())

	ka, err := a.c.SessionKey()
	require.NoError(err)
	kb, err := b.c.SessionKey()
	require.NoError(err)
	require.Equal(ka, kb)

	env, err := a.c.Seal([]byte("hello"))
	require.NoError(err)
	plain, err := b.c.Open(env)
	require.NoError(err)
	require.Equal("hello", string(plain))
}

func TestArtifactBeforePeerKeysIsHeld(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	a := newParty(t, "0001")
	b := newParty(t, "0002")

	require.NoError(a.c.HandlePeerKeys(ctx, b.pub.peerKeys(b.id)))

	require.NoError(b.c.HandleEncapsulation(ctx, a.pub.published()[0]))
	require.Equal(StateAwaitingPeer, b.c.State())

	require.NoError(b.c.HandlePeerKeys(ctx, a.pub.peerKeys(a.id)))
	require.Equal(StateEstablished, b.c.State())

	ka, _ := a.c.SessionKey()
	kb, _ := b.c.SessionKey()
	require.Equal(ka, kb)
}

func TestDuplicateTriggersRunOnce(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	a := newParty(t, "aaa")
	b := newParty(t, "bbb")

	const n = 32
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(a.c.HandlePeerKeys(ctx, b.pub.peerKeys(b.id)))
		}()
	}
	wg.Wait()
	require.Len(a.pub.published(), 1)

	artifact := a.pub.published()[0]
	for i := 0; i < n; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			require.NoError(b.c.HandlePeerKeys(ctx, a.pub.peerKeys(a.id)))
		}()
		go func() {
			defer wg.Done()
			require.NoError(b.c.HandleEncapsulation(ctx, artifact))
		}()
	}
	wg.Wait()

	require.Equal(StateEstablished, b.c.State())
	ka, _ := a.c.SessionKey()
	kb, _ := b.c.SessionKey()
	require.Equal(ka, kb)
}

func TestSealBlockedUntilEstablished(t *testing.T) {
	require := require.New(t)

	a := newParty(t, "aaa")
	_, err := a.c.Seal([]byte("too early"))
	require.True(errors.Is(err, ErrNotEstablished))
	_, err = a.c.SessionKey()
	require.True(errors.Is(err, ErrNotEstablished))
}

func TestPublishFailureRetriesSameArtifact(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	a := newParty(t, "aaa")
	b := newParty(t, "bbb")

	a.pub.failEncap.Store(true)
	require.Error(a.c.HandlePeerKeys(ctx, b.pub.peerKeys(b.id)))
	require.Equal(StateInitiatorReady, a.c.State())

	a.pub.failEncap.Store(false)
	require.NoError(a.c.HandlePeerKeys(ctx, b.pub.peerKeys(b.id)))
	require.Equal(StateEstablished, a.c.State())
	require.Len(a.pub.published(), 1)

	require.NoError(b.c.HandlePeerKeys(ctx, a.pub.peerKeys(a.id)))
	require.NoError(b.c.HandleEncapsulation(ctx, a.pub.published()[0]))
	ka, _ := a.c.SessionKey()
	kb, _ := b.c.SessionKey()
	require.Equal(ka, kb)
}

func TestMalformedArtifactAbortsHandshake(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	a := newParty(t, "aaa")
	b := newParty(t, "bbb")

	require.NoError(b.c.HandlePeerKeys(ctx, a.pub.peerKeys(a.id)))
	err := b.c.HandleEncapsulation(ctx, &model.Encapsulation{Ciphertext: "c2hvcnQ="})
	require.True(errors.Is(err, kem.ErrDecapsulation))
	require.Equal(StateFailed, b.c.State())
	require.True(errors.Is(b.c.Wait(ctx), kem.ErrDecapsulation))

	// The same pair is never retried.
	require.NoError(a.c.HandlePeerKeys(ctx, b.pub.peerKeys(b.id)))
	err = b.c.HandleEncapsulation(ctx, a.pub.published()[0])
	require.True(errors.Is(err, kem.ErrDecapsulation))
	require.Equal(StateFailed, b.c.State())
}

func TestSameIdentityRejected(t *testing.T) {
	a := newParty(t, "same")
	err := a.c.HandlePeerKeys(context.Background(), &model.PeerKeys{Participant: "same", PublicKeys: *a.pub.keys})
	require.True(t, errors.Is(err, ErrSameIdentity))
}

func TestCacheRestoresEstablishedSession(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	cache := NewMemoryCache()
	a := newParty(t, "aaa", WithCache(cache))
	b := newParty(t, "bbb")

	require.NoError(a.c.HandlePeerKeys(ctx, b.pub.peerKeys(b.id)))
	require.NoError(b.c.HandlePeerKeys(ctx, a.pub.peerKeys(a.id)))
	require.NoError(b.c.HandleEncapsulation(ctx, a.pub.published()[0]))

	// A "reloads": a fresh coordinator picks the session up from the cache.
	restored, err := New("room-1", "aaa", &recorder{}, WithCache(cache))
	require.NoError(err)
	require.Equal(StateEstablished, restored.State())
	require.Equal(RoleInitiator, restored.Role())

	env, err := b.c.Seal([]byte("still here"))
	require.NoError(err)
	plain, err := restored.Open(env)
	require.NoError(err)
	require.Equal("still here", string(plain))

	restored.Close()
	_, ok := cache.Load("room-1")
	require.False(ok)
}

func TestCacheKeepsKeyPairBeforeEstablishment(t *testing.T) {
	require := require.New(t)

	cache := NewMemoryCache()
	first := newParty(t, "aaa", WithCache(cache))

	second, err := New("room-1", "aaa", &recorder{}, WithCache(cache))
	require.NoError(err)
	pub := &recorder{}
	second.pub = pub
	require.NoError(second.Start(context.Background()))
	require.Equal(first.pub.keys, pub.keys)
}

func TestOpenWithWrongKeyFails(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	a := newParty(t, "aaa")
	b := newParty(t, "bbb")
	c := newParty(t, "000")

	require.NoError(a.c.HandlePeerKeys(ctx, b.pub.peerKeys(b.id)))
	require.NoError(c.c.HandlePeerKeys(ctx, b.pub.peerKeys(b.id)))

	env, err := a.c.Seal([]byte("for b only"))
	require.NoError(err)
	_, err = c.c.Open(env)
	require.True(errors.Is(err, encryption.ErrAuthenticationFailure))
}
