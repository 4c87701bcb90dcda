// Package cache provides Redis-based caching for quick save-slot reads.
// The cache is never the source of truth; storage.CachedRepository writes through it.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/MRamiBalles/CheeseClicker/server/internal/infra/storage"
)

// RedisClient is the narrow set of Redis operations the cache needs.
// This allows for easy mocking in tests.
type RedisClient interface {
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HSet(ctx context.Context, key string, values ...interface{}) error
	Expire(ctx context.Context, key string, expiration time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

const fieldUpdatedAt = "updated_at"

// StateCache stores each save slot as a Redis hash with the legacy field names.
type StateCache struct {
	client     RedisClient
	prefix     string
	expiration time.Duration
}

// NewStateCache creates a cache whose entries expire after ttl (15 minutes when ttl <= 0).
func NewStateCache(client RedisClient, ttl time.Duration) *StateCache {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &StateCache{
		client:     client,
		prefix:     "cheese",
		expiration: ttl,
	}
}

// Put caches the state of a slot.
func (c *StateCache) Put(ctx context.Context, slot string, state *storage.SavedState) error {
	values, err := storage.EncodeValues(state)
	if err != nil {
		return err
	}
	updatedAt := state.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	fields := make([]interface{}, 0, len(values)*2+2)
	for k, v := range values {
		fields = append(fields, k, v)
	}
	fields = append(fields, fieldUpdatedAt, updatedAt.UTC().Format(time.RFC3339Nano))

	key := c.slotKey(slot)
	if err := c.client.HSet(ctx, key, fields...); err != nil {
		return fmt.Errorf("failed to cache slot %s: %w", slot, err)
	}
	return c.client.Expire(ctx, key, c.expiration)
}

// Get retrieves the cached state of a slot, storage.ErrNotFound on a miss.
func (c *StateCache) Get(ctx context.Context, slot string) (*storage.SavedState, error) {
	data, err := c.client.HGetAll(ctx, c.slotKey(slot))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}
	if _, ok := data[storage.KeyMarkers]; !ok {
		// Only partial saves reached this hash after it expired.
		return nil, storage.ErrNotFound
	}

	updatedAt, _ := time.Parse(time.RFC3339Nano, data[fieldUpdatedAt])
	delete(data, fieldUpdatedAt)
	state, err := storage.DecodeValues(data, updatedAt)
	if err != nil {
		return nil, fmt.Errorf("corrupt cached slot %s: %w", slot, err)
	}
	return state, nil
}

// Invalidate removes the cached state of a slot.
func (c *StateCache) Invalidate(ctx context.Context, slot string) error {
	return c.client.Del(ctx, c.slotKey(slot))
}

// slotKey generates the Redis key for a save slot.
func (c *StateCache) slotKey(slot string) string {
	return fmt.Sprintf("%s:save:%s", c.prefix, slot)
}
