package cache

import (
	"context"
	"time"
)

// Cache is the small key/value surface used to remember recently seen broker
// message ids. Implementations must be safe for concurrent use.
type Cache interface {
	// SetNX stores value under key unless the key already holds an unexpired value.
	// It reports whether the value was stored.
	SetNX(ctx context.Context, key string, value string, expiry time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, key string) error
}
