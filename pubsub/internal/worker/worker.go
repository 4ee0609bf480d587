package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var ErrClosed = errors.New("worker: pool closed")

// Pool runs submitted functions on a fixed number of goroutines.
type Pool struct {
	size    int
	ch      chan job
	once    sync.Once
	wg      sync.WaitGroup
	mu      sync.RWMutex
	closed  bool
	onPanic func(error)
}

type job struct {
	ctx context.Context
	fn  func(context.Context)
}

type Option func(*Pool)

// WithPanicHandler is called with the recovered value, as an error, when a job
// panics. The goroutine survives either way.
func WithPanicHandler(fn func(error)) Option {
	return func(p *Pool) {
		p.onPanic = fn
	}
}

// New starts size goroutines reading from a queue of the given capacity.
// A zero queue makes Submit block until a goroutine is free.
func New(size int, queue int, opts ...Option) *Pool {
	if size <= 0 {
		size = 1
	}
	if queue < 0 {
		queue = 0
	}
	p := &Pool{
		size: size,
		ch:   make(chan job, queue),
	}
	for _, opt := range opts {
		opt(p)
	}
	for i := 0; i < size; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for j := range p.ch {
				p.run(j)
			}
		}()
	}
	return p
}

func (p *Pool) run(j job) {
	defer func() {
		if r := recover(); r != nil && p.onPanic != nil {
			p.onPanic(fmt.Errorf("worker: job panicked: %v", r))
		}
	}()
	j.fn(j.ctx)
}

// Submit queues fn, blocking while the queue is full. It fails once ctx is done
// or the pool is closed.
func (p *Pool) Submit(ctx context.Context, fn func(context.Context)) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	select {
	case p.ch <- job{ctx: ctx, fn: fn}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) Size() int {
	return p.size
}

// Close stops accepting jobs. Queued jobs still run; use Wait to block on them.
func (p *Pool) Close() {
	p.once.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()
		close(p.ch)
	})
}

func (p *Pool) Wait() {
	p.wg.Wait()
}
