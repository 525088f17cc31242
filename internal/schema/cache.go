package schema

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrCacheMiss is returned when no mapping is cached for a key.
var ErrCacheMiss = errors.New("schema: mapping not cached")

// CacheKey identifies one cached mapping. The metadata version makes stale
// entries unreachable after an attribute or configuration change; the TTL is
// only a backstop bounding how long unreachable keys linger.
type CacheKey struct {
	IndexName       string
	EntityType      string
	MetadataVersion string
}

func (k CacheKey) String() string {
	return fmt.Sprintf("mapping:%s:%s:%s", k.IndexName, k.EntityType, k.MetadataVersion)
}

// MappingCache is a Redis-backed cache of generated mapping documents.
// Mappings are deterministic per (scope, metadata version) but expensive to
// derive per batch, and sharing through Redis lets parallel scope workers
// reuse them.
type MappingCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewMappingCache creates a Redis client and verifies the connection with a
// PING.
func NewMappingCache(addr string, ttl time.Duration) (*MappingCache, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("schema: cache ping: %w", err)
	}
	return &MappingCache{rdb: rdb, ttl: ttl}, nil
}

// Close shuts down the underlying connection pool.
func (c *MappingCache) Close() error { return c.rdb.Close() }

// Get fetches a cached mapping. Returns ErrCacheMiss when the key does not
// exist or has expired.
func (c *MappingCache) Get(ctx context.Context, key CacheKey) (Mapping, error) {
	data, err := c.rdb.Get(ctx, key.String()).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("schema: cache get: %w", err)
	}

	var m Mapping
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("schema: cache decode: %w", err)
	}
	return m, nil
}

// Set stores a mapping under its structured key with the backstop TTL.
func (c *MappingCache) Set(ctx context.Context, key CacheKey, m Mapping) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, key.String(), data, c.ttl).Err()
}
