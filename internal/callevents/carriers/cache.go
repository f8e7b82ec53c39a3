package carriers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"freight_ops_backend/internal/callevents/domain"

	"github.com/redis/go-redis/v9"
)

// DefaultCacheTTL bounds how long a carrier record stays in Redis.
const DefaultCacheTTL = 6 * time.Hour

const keyPrefix = "callevents:carrier:"

// Cache stores carrier records by identifier.
type Cache interface {
	Get(ctx context.Context, kind, number string) (domain.CarrierRecord, bool, error)
	Set(ctx context.Context, kind, number string, record domain.CarrierRecord) error
}

// RedisCache is a Cache backed by Redis string keys with TTL.
type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisCache creates a Redis-backed cache.
func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &RedisCache{rdb: rdb, ttl: ttl}
}

func cacheKey(kind, number string) string {
	return fmt.Sprintf("%s%s:%s", keyPrefix, kind, number)
}

// Get returns the cached record, reporting false on a miss.
func (c *RedisCache) Get(ctx context.Context, kind, number string) (domain.CarrierRecord, bool, error) {
	data, err := c.rdb.Get(ctx, cacheKey(kind, number)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.CarrierRecord{}, false, nil
	}
	if err != nil {
		return domain.CarrierRecord{}, false, fmt.Errorf("carrier cache GET: %w", err)
	}
	var record domain.CarrierRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return domain.CarrierRecord{}, false, fmt.Errorf("carrier cache decode: %w", err)
	}
	return record, true, nil
}

// Set stores a record under the identifier it was found by.
func (c *RedisCache) Set(ctx context.Context, kind, number string, record domain.CarrierRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	if err := c.rdb.Set(ctx, cacheKey(kind, number), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("carrier cache SET: %w", err)
	}
	return nil
}
