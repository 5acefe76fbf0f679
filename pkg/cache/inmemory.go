package cache

import (
	"context"
	"sync"
	"time"
)

type inMemoryEntry struct {
	value     string
	expiresAt time.Time
}

// InMemoryCache is a thread-safe, process-local Cache with per-key expiry. It is
// intended for tests and single-process local runs.
type InMemoryCache struct {
	mu   sync.RWMutex
	data map[string]inMemoryEntry
	now  func() time.Time
}

// NewInMemoryCache creates an empty in-memory cache.
func NewInMemoryCache() *InMemoryCache {
	return &InMemoryCache{
		data: make(map[string]inMemoryEntry),
		now:  time.Now,
	}
}

// Get returns the value for key if it is present and not expired.
func (c *InMemoryCache) Get(_ context.Context, key string) (string, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.data[key]
	if !ok || c.expired(entry) {
		return "", false, nil
	}
	return entry.value, true, nil
}

// Set stores value under key. A zero ttl never expires.
func (c *InMemoryCache) Set(_ context.Context, key, value string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := inMemoryEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = c.now().Add(ttl)
	}
	c.data[key] = entry
	return nil
}

// Exists reports whether key is present and not expired.
func (c *InMemoryCache) Exists(ctx context.Context, key string) (bool, error) {
	_, ok, err := c.Get(ctx, key)
	return ok, err
}

// Close is a no-op.
func (c *InMemoryCache) Close() error {
	return nil
}

func (c *InMemoryCache) expired(entry inMemoryEntry) bool {
	return !entry.expiresAt.IsZero() && !c.now().Before(entry.expiresAt)
}
