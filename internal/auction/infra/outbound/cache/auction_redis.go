package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"

	sharedCache "github.com/davicafu/auctionlab/internal/shared/infra/platform/cache"
)

// RedisAuctionCache guarda snapshots de subastas serializados como JSON.
type RedisAuctionCache struct {
	client *redis.Client
	ttl    time.Duration
}

var _ sharedCache.Cache = (*RedisAuctionCache)(nil)

func NewRedisAuctionCache(client *redis.Client, ttl time.Duration) *RedisAuctionCache {
	return &RedisAuctionCache{client: client, ttl: ttl}
}

func (c *RedisAuctionCache) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return false, nil // cache miss
		}
		return false, err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, err
	}
	return true, nil
}

func (c *RedisAuctionCache) Set(ctx context.Context, key string, val interface{}, ttlSecs int) error {
	data, err := json.Marshal(val)
	if err != nil {
		return err
	}

	ttl := c.ttl
	if ttlSecs > 0 {
		ttl = time.Duration(ttlSecs) * time.Second
	}
	return c.client.Set(ctx, key, data, ttl).Err()
}

func (c *RedisAuctionCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}
