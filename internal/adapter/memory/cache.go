package memory

import (
	"context"
	"sync"
	"time"
)

// Cache is an in-memory cache.Cache double with no TTL expiry, for tests
// that only need to observe read-through/invalidation behavior.
type Cache struct {
	mu   sync.Mutex
	data map[string][]byte
}

// NewCache creates an empty Cache.
func NewCache() *Cache {
	return &Cache{data: make(map[string][]byte)}
}

// Get implements cache.Cache.
func (c *Cache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok, nil
}

// Set implements cache.Cache.
func (c *Cache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

// Delete implements cache.Cache.
func (c *Cache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}
