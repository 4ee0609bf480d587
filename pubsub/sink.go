package pubsub

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type DrainState int

const (
	DrainReady DrainState = iota
	DrainPending
)

func (s DrainState) String() string {
	switch s {
	case DrainReady:
		return "ready"
	case DrainPending:
		return "pending"
	default:
		return fmt.Sprintf("DrainState(%d)", int(s))
	}
}

// Sink publishes outgoing tasks in batches. At most one flush runs at a time;
// tasks accepted while it runs are kept for the next one.
type Sink[M any] struct {
	transport Transport
	topic     string
	codec     Codec[M]
	logger    *zap.Logger
	metrics   MetricsHook

	mu     sync.Mutex
	buffer []*Task[M]
	flush  *flush
}

type flush struct {
	count   int
	started time.Time
	done    chan struct{}
	err     error
}

func newSink[M any](transport Transport, topic string, codec Codec[M], logger *zap.Logger, metrics MetricsHook) *Sink[M] {
	return &Sink[M]{
		transport: transport,
		topic:     topic,
		codec:     codec,
		logger:    logger,
		metrics:   metrics,
	}
}

// Accept buffers task for the next flush. It never blocks.
func (s *Sink[M]) Accept(task *Task[M]) {
	if task == nil {
		return
	}
	s.mu.Lock()
	s.buffer = append(s.buffer, task)
	s.mu.Unlock()
}

// Drain advances the sink by one step. It starts a flush when none is running
// and tasks are buffered, and reports the outcome of a finished flush. A
// finished flush reports DrainReady even if more tasks were accepted meanwhile;
// call Drain again to publish those.
func (s *Sink[M]) Drain() (DrainState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.flush != nil {
		select {
		case <-s.flush.done:
		default:
			return DrainPending, nil
		}
		err := s.flush.err
		s.flush = nil
		return DrainReady, err
	}

	if len(s.buffer) == 0 {
		return DrainReady, nil
	}
	s.startLocked()
	return DrainPending, nil
}

// Close flushes until nothing is buffered or a flush fails. Every flush Close
// starts or finds running is waited for, and its failure is returned even when
// a concurrent Drain clears the slot first. ctx bounds only the wait; a flush
// that has started always runs to completion.
func (s *Sink[M]) Close(ctx context.Context) error {
	for {
		f := s.claim()
		if f == nil {
			return nil
		}
		select {
		case <-f.done:
		case <-ctx.Done():
			return ctx.Err()
		}
		s.release(f)
		if f.err != nil {
			return f.err
		}
	}
}

// Len returns the number of accepted tasks not yet taken by a flush.
func (s *Sink[M]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buffer)
}

// Flushing reports whether the flush slot is occupied.
func (s *Sink[M]) Flushing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flush != nil
}

// claim returns the running flush, or starts one when tasks are buffered.
// It returns nil when the sink is idle and empty.
func (s *Sink[M]) claim() *flush {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.flush != nil {
		return s.flush
	}
	if len(s.buffer) == 0 {
		return nil
	}
	return s.startLocked()
}

func (s *Sink[M]) release(f *flush) {
	s.mu.Lock()
	if s.flush == f {
		s.flush = nil
	}
	s.mu.Unlock()
}

func (s *Sink[M]) startLocked() *flush {
	batch := s.buffer
	s.buffer = nil
	f := &flush{count: len(batch), started: time.Now(), done: make(chan struct{})}
	s.flush = f
	go s.run(f, batch)
	return f
}

func (s *Sink[M]) run(f *flush, batch []*Task[M]) {
	defer close(f.done)
	// Detached from every caller: a started batch is never cancelled halfway.
	ctx := context.Background()

	results := make([]PublishResult, len(batch))
	for i, task := range batch {
		results[i] = s.publish(ctx, task)
	}

	var (
		g        errgroup.Group
		failures atomic.Int32
		first    atomic.Pointer[error]
	)
	for i, result := range results {
		g.Go(func() error {
			if _, err := result.Get(ctx); err != nil {
				failures.Add(1)
				first.CompareAndSwap(nil, &err)
				s.logger.Error("failed to publish task",
					zap.String("topic", s.topic),
					zap.Uint64("task_id", uint64(batch[i].ID)),
					zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()

	if n := int(failures.Load()); n > 0 {
		f.err = newError(ErrCodePublish,
			fmt.Sprintf("flush to %s: %d of %d tasks failed", s.topic, n, len(batch)), *first.Load()).
			withDetails(PublishFailure{Topic: s.topic, Failed: n, Total: len(batch)})
	}
	duration := time.Since(f.started)
	s.metrics.OnFlush(s.topic, len(batch), duration, f.err)
	s.logger.Debug("flushed tasks",
		zap.String("topic", s.topic),
		zap.Int("tasks", len(batch)),
		zap.Duration("duration", duration),
		zap.Error(f.err))
}

// publishNow publishes task on its own, bypassing the buffer, and waits for
// the broker's answer.
func (s *Sink[M]) publishNow(ctx context.Context, task *Task[M]) error {
	if _, err := s.publish(ctx, task).Get(ctx); err != nil {
		if IsCode(err, ErrCodeCodec) {
			return err
		}
		return newError(ErrCodePublish, fmt.Sprintf("publish task %s to %s", task.ID, s.topic), err).
			withDetails(PublishFailure{Topic: s.topic, Failed: 1, Total: 1})
	}
	return nil
}

func (s *Sink[M]) publish(ctx context.Context, task *Task[M]) PublishResult {
	data, err := s.codec.Encode(task.Payload)
	if err != nil {
		return ReadyResult("", newError(ErrCodeCodec, fmt.Sprintf("encode task %s", task.ID), err))
	}
	attrs := lo.Assign(task.Attributes)
	if task.ID != 0 {
		attrs[AttrTaskID] = task.ID.String()
	}
	if len(attrs) == 0 {
		attrs = nil
	}
	return s.transport.Publish(ctx, s.topic, &Envelope{
		Data:        data,
		Attributes:  attrs,
		OrderingKey: task.OrderingKey,
	})
}
