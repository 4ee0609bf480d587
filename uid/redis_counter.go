package uid

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

type redisCounter struct {
	client redis.Cmdable
	key    string
}

// NewRedisCounter returns a Generator backed by Redis INCR, so ids stay unique
// across every process sharing the same counter name.
func NewRedisCounter(client redis.Cmdable, name string) (Generator, error) {
	if client == nil {
		return nil, fmt.Errorf("uid: redis client required")
	}
	return &redisCounter{
		client: client,
		key:    getCounterKey(name),
	}, nil
}

func (r *redisCounter) Next(ctx context.Context) (uint64, error) {
	counter, err := r.client.Incr(ctx, r.key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment task id counter: %w", err)
	}
	if counter <= 0 {
		return 0, fmt.Errorf("task id counter %s is not positive: %d", r.key, counter)
	}
	return uint64(counter), nil
}

func getCounterKey(name string) string {
	var sb strings.Builder
	if len(name) > 0 {
		sb.Grow(len("counter:task:") + len(name))
		sb.WriteString("counter:task:")
		sb.WriteString(name)
	} else {
		sb.Grow(len("counter:task"))
		sb.WriteString("counter:task")
	}
	return sb.String()
}
