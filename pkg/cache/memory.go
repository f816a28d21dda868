package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryCache is an in-process Cache. Values are stored JSON-encoded so Get
// behaves the same as the Redis implementation.
type MemoryCache struct {
	cache *gocache.Cache
}

func NewMemoryCache(ttl, cleanupInterval time.Duration) *MemoryCache {
	return &MemoryCache{cache: gocache.New(ttl, cleanupInterval)}
}

func (m *MemoryCache) Get(ctx context.Context, key string, dest interface{}) error {
	val, found := m.cache.Get(key)
	if !found {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}

	if err := json.Unmarshal(val.([]byte), dest); err != nil {
		return fmt.Errorf("failed to unmarshal: %w", err)
	}
	return nil
}

func (m *MemoryCache) Set(ctx context.Context, key string, value interface{}) error {
	return m.SetWithTTL(ctx, key, value, gocache.DefaultExpiration)
}

func (m *MemoryCache) SetWithTTL(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal: %w", err)
	}
	m.cache.Set(key, data, ttl)
	return nil
}

func (m *MemoryCache) Delete(ctx context.Context, key string) error {
	m.cache.Delete(key)
	return nil
}

func (m *MemoryCache) Exists(ctx context.Context, key string) (bool, error) {
	_, found := m.cache.Get(key)
	return found, nil
}

func (m *MemoryCache) Close() error {
	m.cache.Flush()
	return nil
}
