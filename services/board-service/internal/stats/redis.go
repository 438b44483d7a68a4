package stats

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache is the shared cache backend for multi-instance deployments.
type RedisCache struct {
	rdb *redis.Client
}

func NewRedisCache(rdb *redis.Client) *RedisCache {
	return &RedisCache{rdb: rdb}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration, coverage []time.Time) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	pipe := c.rdb.TxPipeline()
	pipe.Set(ctx, key, value, ttl)
	for _, day := range coverage {
		idx := indexKey(day)
		pipe.SAdd(ctx, idx, key)
		// The index only needs to outlive the value it points at.
		pipe.Expire(ctx, idx, ttl+time.Minute)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (c *RedisCache) Invalidate(ctx context.Context, days ...time.Time) error {
	for _, day := range days {
		idx := indexKey(day)
		keys, err := c.rdb.SMembers(ctx, idx).Result()
		if err != nil && err != redis.Nil {
			return err
		}
		keys = append(keys, idx)
		if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
			return err
		}
	}
	return nil
}
