package pubsub

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/infigaming-com/go-pubsub-worker/uid"
)

// Backend exposes a broker topic and subscription in the shape a pull-based
// worker expects: a task stream to poll, a sink for outgoing tasks and the
// completion middleware that matches the acknowledgment mode.
type Backend[M any] struct {
	transport    Transport
	topic        string
	subscription string
	opts         options
	codec        Codec[M]
	sink         *Sink[M]
	health       *healthRecorder

	shutdownCtx context.Context
	shutdown    context.CancelFunc
	once        sync.Once

	mu      sync.Mutex
	streams []*TaskStream[M]
}

// New builds a backend. topic is where Sink and Push publish; subscription is
// what Poll receives from. Either may be empty when that direction is unused.
func New[M any](ctx context.Context, transport Transport, topic, subscription string, opts ...Option) (*Backend[M], error) {
	if transport == nil {
		return nil, newError(ErrCodeClient, "transport required", nil)
	}
	if topic == "" && subscription == "" {
		return nil, newError(ErrCodeClient, "topic or subscription required", nil)
	}
	base := defaultOptions()
	for _, opt := range opts {
		opt(&base)
	}
	base.config = base.config.normalized()
	if base.ids == nil {
		base.ids = uid.NewCounter(0)
	}

	codec := Codec[M](JSONCodec[M]{})
	if base.codec != nil {
		c, ok := base.codec.(Codec[M])
		if !ok {
			var zero M
			return nil, newError(ErrCodeClient, fmt.Sprintf("codec %T does not handle %T", base.codec, zero), nil)
		}
		codec = c
	}

	shutdownCtx, cancel := context.WithCancel(ctx)
	b := &Backend[M]{
		transport:    transport,
		topic:        topic,
		subscription: subscription,
		opts:         base,
		codec:        codec,
		health:       &healthRecorder{health: Health{Topic: topic, Subscription: subscription}},
		shutdownCtx:  shutdownCtx,
		shutdown:     cancel,
	}
	b.sink = newSink(transport, topic, codec, base.logger, base.metrics)
	return b, nil
}

// Poll starts receiving from the subscription. Every call starts an independent
// receive loop with its own stream.
func (b *Backend[M]) Poll(ctx context.Context) (*TaskStream[M], error) {
	if b.subscription == "" {
		return nil, newError(ErrCodeClient, "no subscription configured", nil)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if b.shutdownCtx.Err() != nil {
		return nil, newError(ErrCodeClient, "poll", ErrBackendClosed)
	}
	in := &inbound[M]{
		transport:    b.transport,
		subscription: b.subscription,
		config:       b.opts.config,
		codec:        b.codec,
		ids:          b.opts.ids,
		dedupe:       b.opts.dedupe,
		dedupeTTL:    b.opts.dedupeTTL,
		logger:       b.opts.logger,
		metrics:      b.opts.metrics,
		health:       b.health,
	}
	stream := in.start(b.shutdownCtx)
	b.mu.Lock()
	b.pruneLocked()
	b.streams = append(b.streams, stream)
	b.mu.Unlock()
	return stream, nil
}

// Heartbeat returns a closed channel: the broker client keeps its own
// connection healthy, so there is nothing to report.
func (b *Backend[M]) Heartbeat(context.Context) <-chan error {
	ch := make(chan error)
	close(ch)
	return ch
}

// Middleware returns the completion stage for task handlers. With automatic
// acknowledgment the broker message was already acknowledged at handoff and the
// stage passes through; with WithManualAck it acknowledges on success.
func (b *Backend[M]) Middleware() Middleware[M] {
	if b.opts.config.ManualAck {
		return AckOnSuccess[M](b.opts.logger)
	}
	return PassThrough[M]()
}

// Shutdown stops new deliveries. Deliveries already being handled finish and
// the streams end once their receive loops return. Safe to call repeatedly.
func (b *Backend[M]) Shutdown() {
	b.once.Do(func() {
		b.opts.logger.Info("shutting down pubsub backend",
			zap.String("topic", b.topic),
			zap.String("subscription", b.subscription))
		b.shutdown()
	})
}

func (b *Backend[M]) Sink() *Sink[M] {
	return b.sink
}

// Push publishes a single payload and waits for the broker to confirm it.
// The returned id travels in the task_id attribute.
func (b *Backend[M]) Push(ctx context.Context, payload M, opts ...PublishOption) (TaskID, error) {
	if b.topic == "" {
		return 0, newError(ErrCodeClient, "no topic configured", nil)
	}
	var po publishOptions
	for _, opt := range opts {
		opt(&po)
	}
	next, err := b.opts.ids.Next(ctx)
	if err != nil {
		return 0, newError(ErrCodeClient, "mint task id", err)
	}
	id := TaskID(next)
	// Published outside the sink so the broker's answer belongs to this call alone.
	err = b.sink.publishNow(ctx, &Task[M]{
		Payload:     payload,
		ID:          id,
		Attributes:  po.attributes,
		OrderingKey: po.orderingKey,
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// Close shuts the backend down, flushes the sink and closes the transport.
func (b *Backend[M]) Close(ctx context.Context) error {
	b.Shutdown()
	var errs []error
	if err := b.sink.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := b.transport.Close(ctx); err != nil {
		errs = append(errs, newError(ErrCodeClient, "close transport", err))
	}
	return errors.Join(errs...)
}

func (b *Backend[M]) Health() Health {
	h := b.health.snapshot()
	b.mu.Lock()
	b.pruneLocked()
	for _, s := range b.streams {
		h.Buffered += s.Buffered()
	}
	b.mu.Unlock()
	h.PendingOutbound = b.sink.Len()
	h.Flushing = b.sink.Flushing()
	h.ShutDown = b.shutdownCtx.Err() != nil
	return h
}

func (b *Backend[M]) pruneLocked() {
	b.streams = lo.Reject(b.streams, func(s *TaskStream[M], _ int) bool {
		return s.ended()
	})
}
