package cache

import (
	"context"
	"time"
)

// Locker is implemented by caches that can hand out short leases, used so
// that only one API instance refreshes a shared snapshot at a time.
type Locker interface {
	TryLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key, token string) error
}

// TryLock acquires key for ttl if no live lease exists.
func (c *MemoryCache) TryLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok && !e.isExpired(now) {
		return false, nil
	}
	c.entries[key] = &cacheEntry{value: []byte(token), expiresAt: now.Add(ttl)}
	return true, nil
}

// Unlock releases key if token still owns it.
func (c *MemoryCache) Unlock(ctx context.Context, key, token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok && string(e.value) == token {
		delete(c.entries, key)
	}
	return nil
}

var _ Locker = (*MemoryCache)(nil)
