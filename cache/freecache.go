package cache

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/coocood/freecache"
)

type freeCache struct {
	cache *freecache.Cache
}

// NewFreeCache wraps a process-local freecache instance.
// Recommended size for delivery dedupe: 16MB = 16 * 1024 * 1024
func NewFreeCache(cache *freecache.Cache) Cache {
	return &freeCache{cache: cache}
}

func (c *freeCache) SetNX(_ context.Context, key string, value string, expiry time.Duration) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}
	prev, err := c.cache.GetOrSet([]byte(key), []byte(value), ttlSeconds(expiry))
	if err != nil {
		return false, fmt.Errorf("failed to set key %s: %w", key, err)
	}
	return prev == nil, nil
}

func (c *freeCache) Get(_ context.Context, key string) (string, error) {
	data, err := c.cache.Get([]byte(key))
	if err != nil {
		if errors.Is(err, freecache.ErrNotFound) {
			return "", ErrKeyNotFound
		}
		return "", fmt.Errorf("failed to get key %s: %w", key, err)
	}
	return string(data), nil
}

func (c *freeCache) Delete(_ context.Context, key string) error {
	c.cache.Del([]byte(key))
	return nil
}

// ttlSeconds rounds up so that sub-second expiries still expire, and 0 means no expiry.
func ttlSeconds(expiry time.Duration) int {
	if expiry <= 0 {
		return 0
	}
	return int(math.Ceil(expiry.Seconds()))
}
