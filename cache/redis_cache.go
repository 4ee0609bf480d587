package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type redisCache struct {
	lg     *zap.Logger
	client redis.Cmdable
	prefix string
}

// NewRedisCache shares dedupe state between processes. Keys are stored under prefix.
func NewRedisCache(lg *zap.Logger, client redis.Cmdable, prefix string) Cache {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &redisCache{
		lg:     lg,
		client: client,
		prefix: prefix,
	}
}

func (c *redisCache) SetNX(ctx context.Context, key string, value string, expiry time.Duration) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}
	ok, err := c.client.SetNX(ctx, c.key(key), value, expiry).Result()
	if err != nil {
		c.lg.Warn("redis setnx failed", zap.String("key", c.key(key)), zap.Error(err))
		return false, fmt.Errorf("failed to setnx key %s: %w", key, err)
	}
	return ok, nil
}

func (c *redisCache) Get(ctx context.Context, key string) (string, error) {
	data, err := c.client.Get(ctx, c.key(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrKeyNotFound
		}
		return "", err
	}
	return data, nil
}

func (c *redisCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, c.key(key)).Err()
}

func (c *redisCache) key(key string) string {
	return c.prefix + key
}
