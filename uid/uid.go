package uid

import (
	"context"
	"sync/atomic"
)

// Generator mints task identifiers. Implementations must be safe for concurrent use.
type Generator interface {
	Next(ctx context.Context) (uint64, error)
}

// Counter is an in-process, monotonically increasing Generator.
// Ids are unique only within the lifetime of the counter.
type Counter struct {
	last atomic.Uint64
}

// NewCounter returns a Counter whose first id is start+1.
func NewCounter(start uint64) *Counter {
	c := &Counter{}
	c.last.Store(start)
	return c
}

func (c *Counter) Next(context.Context) (uint64, error) {
	return c.last.Add(1), nil
}

// Last returns the most recently minted id, or the start value if none was minted.
func (c *Counter) Last() uint64 {
	return c.last.Load()
}
