package cache

import "time"

// SetClock replaces the time source of an InMemoryCache.
func (c *InMemoryCache) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}
