package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coocood/freecache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestFreeCache(t *testing.T) Cache {
	t.Helper()
	// 1MB is plenty for a handful of message ids
	return NewFreeCache(freecache.NewCache(1024 * 1024))
}

func TestFreeCache_SetNX(t *testing.T) {
	cache := createTestFreeCache(t)
	ctx := context.Background()

	t.Run("first set wins", func(t *testing.T) {
		ok, err := cache.SetNX(ctx, "msg-1", "1", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)

		value, err := cache.Get(ctx, "msg-1")
		require.NoError(t, err)
		assert.Equal(t, "1", value)
	})

	t.Run("second set is rejected", func(t *testing.T) {
		ok, err := cache.SetNX(ctx, "msg-1", "2", time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)

		value, err := cache.Get(ctx, "msg-1")
		require.NoError(t, err)
		assert.Equal(t, "1", value)
	})

	t.Run("empty key", func(t *testing.T) {
		_, err := cache.SetNX(ctx, "", "1", time.Minute)
		assert.ErrorIs(t, err, ErrEmptyKey)
	})
}

func TestFreeCache_Delete(t *testing.T) {
	cache := createTestFreeCache(t)
	ctx := context.Background()

	ok, err := cache.SetNX(ctx, "msg-2", "1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, cache.Delete(ctx, "msg-2"))

	_, err = cache.Get(ctx, "msg-2")
	assert.ErrorIs(t, err, ErrKeyNotFound)

	ok, err = cache.SetNX(ctx, "msg-2", "1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFreeCache_ConcurrentSetNX(t *testing.T) {
	cache := createTestFreeCache(t)
	ctx := context.Background()

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := cache.SetNX(ctx, "contended", "x", time.Minute)
			assert.NoError(t, err)
			if ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestTTLSeconds(t *testing.T) {
	tests := []struct {
		name   string
		expiry time.Duration
		want   int
	}{
		{"no expiry", 0, 0},
		{"negative", -time.Second, 0},
		{"sub second rounds up", 200 * time.Millisecond, 1},
		{"whole seconds", 5 * time.Minute, 300},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ttlSeconds(tt.expiry))
		})
	}
}
