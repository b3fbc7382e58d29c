package cache

import (
	"sync"
	"time"
)

// Cache provides a simple in-memory cache with expiration
type Cache struct {
	data  map[string]any
	times map[string]time.Time
	ttl   time.Duration
	now   func() time.Time
	mu    sync.RWMutex
}

// NewCache creates a new cache with the specified TTL
func NewCache(ttl time.Duration) *Cache {
	return &Cache{
		data:  make(map[string]any),
		times: make(map[string]time.Time),
		ttl:   ttl,
		now:   time.Now,
	}
}

// Get retrieves a value from the cache
func (c *Cache) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	val, exists := c.data[key]
	if !exists {
		return nil, false
	}

	// Check if expired
	if c.now().Sub(c.times[key]) > c.ttl {
		return nil, false
	}

	return val, true
}

// Set stores a value in the cache
func (c *Cache) Set(key string, val any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.data[key] = val
	c.times[key] = c.now()
}

// Delete removes a key, reporting whether it was present and unexpired
func (c *Cache) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, exists := c.data[key]
	live := exists && c.now().Sub(c.times[key]) <= c.ttl
	delete(c.data, key)
	delete(c.times, key)
	return live
}

// Len returns the number of entries, including expired ones not yet swept
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}

// Sweep drops expired entries and returns how many were removed
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	now := c.now()
	for key, stored := range c.times {
		if now.Sub(stored) > c.ttl {
			delete(c.data, key)
			delete(c.times, key)
			removed++
		}
	}
	return removed
}
