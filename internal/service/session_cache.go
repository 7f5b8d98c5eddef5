package service

import (
	"sync"

	"github.com/neobuddy/neobuddy-api/internal/models"
)

// sessionCache is the fast read-through, write-back shadow of the
// user_sessions table. It serves display reads and drives decrement timing
// without a round trip; the database row stays authoritative for cross-device
// contention checks and survives cache loss. Entries are stored by value so
// callers never share memory with the cache.
type sessionCache struct {
	mu      sync.RWMutex
	entries map[int64]models.UserSession
}

func newSessionCache() *sessionCache {
	return &sessionCache{entries: make(map[int64]models.UserSession)}
}

func (c *sessionCache) get(id int64) (models.UserSession, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.entries[id]
	return s, ok
}

func (c *sessionCache) put(s models.UserSession) {
	c.mu.Lock()
	c.entries[s.ID] = s
	c.mu.Unlock()
}

func (c *sessionCache) drop(id int64) {
	c.mu.Lock()
	delete(c.entries, id)
	c.mu.Unlock()
}
