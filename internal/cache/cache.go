// Package cache stores published snapshots for the HTTP read path.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/kjstillabower/station-monitor/internal/models"
)

// SnapshotKey is the key the monitor publishes its current snapshot under.
const SnapshotKey = "current"

// Cache stores snapshots with a TTL. Get reports ok=false on a miss or an expired entry.
type Cache interface {
	Get(ctx context.Context, key string) (models.Snapshot, bool, error)
	Set(ctx context.Context, key string, value models.Snapshot, ttl time.Duration) error
}

// InMemoryCache implements Cache with a map guarded by a mutex. Expired entries are removed on access.
type InMemoryCache struct {
	mu   sync.Mutex
	data map[string]cacheEntry
	now  func() time.Time
}

type cacheEntry struct {
	value     models.Snapshot
	expiresAt time.Time
}

// NewInMemoryCache creates a new in-memory cache instance.
func NewInMemoryCache() *InMemoryCache {
	return &InMemoryCache{
		data: make(map[string]cacheEntry),
		now:  time.Now,
	}
}

// Get returns the snapshot stored under key if present and not expired.
func (c *InMemoryCache) Get(ctx context.Context, key string) (models.Snapshot, bool, error) {
	if err := ctx.Err(); err != nil {
		return models.Snapshot{}, false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.data[key]
	if !ok {
		return models.Snapshot{}, false, nil
	}
	if c.now().After(entry.expiresAt) {
		delete(c.data, key)
		return models.Snapshot{}, false, nil
	}
	return entry.value, true, nil
}

// Set stores value under key until ttl elapses.
func (c *InMemoryCache) Set(ctx context.Context, key string, value models.Snapshot, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.data[key] = cacheEntry{value: value, expiresAt: c.now().Add(ttl)}
	c.mu.Unlock()
	return nil
}
