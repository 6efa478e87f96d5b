package exchange

import (
	"phantom_chat/internal/cryptographic/memzero"
	"sync"
)

type (
	// CachedSession is what survives a client restart within the lifetime
	// of a room. SessionKey is nil until the exchange is established.
	CachedSession struct {
		ECDHPrivate  []byte
		KyberPrivate []byte
		SessionKey   []byte
		Role         Role
	}

	KeyCache interface {
		Load(roomID string) (*CachedSession, bool)
		Store(roomID string, s *CachedSession)
		Forget(roomID string)
	}

	MemoryCache struct {
		mu       sync.Mutex
		sessions map[string]*CachedSession
	}
)

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{sessions: make(map[string]*CachedSession)}
}

func (c *MemoryCache) Load(roomID string) (*CachedSession, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.sessions[roomID]
	if !ok {
		return nil, false
	}
	return s.clone(), true
}

func (c *MemoryCache) Store(roomID string, s *CachedSession) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.sessions[roomID]; ok {
		old.wipe()
	}
	c.sessions[roomID] = s.clone()
}

func (c *MemoryCache) Forget(roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s, ok := c.sessions[roomID]; ok {
		s.wipe()
		delete(c.sessions, roomID)
	}
}

func (s *CachedSession) clone() *CachedSession {
	return &CachedSession{
		ECDHPrivate:  append([]byte(nil), s.ECDHPrivate...),
		KyberPrivate: append([]byte(nil), s.KyberPrivate...),
		SessionKey:   cloneKey(s.SessionKey),
		Role:         s.Role,
	}
}

func (s *CachedSession) wipe() {
	memzero.Wipe(s.ECDHPrivate, s.KyberPrivate, s.SessionKey)
}

func cloneKey(k []byte) []byte {
	if k == nil {
		return nil
	}
	return append([]byte(nil), k...)
}
