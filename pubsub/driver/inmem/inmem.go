package inmem

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/infigaming-com/go-pubsub-worker/pubsub"
	"github.com/infigaming-com/go-pubsub-worker/pubsub/internal/worker"
)

var ErrClosed = errors.New("inmem: transport closed")

// Transport is an in-process broker. Topics fan out to the subscriptions bound
// with Bind; an unbound topic delivers to the subscription of the same name.
// Messages published before anyone subscribes are kept until they are received,
// and negatively acknowledged messages are queued again.
type Transport struct {
	mu       sync.Mutex
	bindings map[string][]string
	queues   map[string]*queue
	closed   bool
}

type queue struct {
	pending []*pubsub.Envelope
	signal  chan struct{}
	active  map[*activeSub]struct{}
	acked   int
	nacked  int
}

type activeSub struct {
	cancel context.CancelFunc
}

func New() *Transport {
	return &Transport{
		bindings: map[string][]string{},
		queues:   map[string]*queue{},
	}
}

// Bind routes messages published to topic to each of subscriptions.
func (t *Transport) Bind(topic string, subscriptions ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.bindings[topic] = lo.Uniq(append(t.bindings[topic], subscriptions...))
}

func (t *Transport) Publish(ctx context.Context, topic string, env *pubsub.Envelope) pubsub.PublishResult {
	if topic == "" {
		return pubsub.ReadyResult("", errors.New("inmem: topic required"))
	}
	if err := ctx.Err(); err != nil {
		return pubsub.ReadyResult("", err)
	}
	if env == nil {
		env = &pubsub.Envelope{}
	}
	id := uuid.NewString()

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return pubsub.ReadyResult("", ErrClosed)
	}
	subs, ok := t.bindings[topic]
	if !ok {
		subs = []string{topic}
	}
	for _, name := range subs {
		t.enqueue(name, &pubsub.Envelope{
			ID:          id,
			Data:        append([]byte(nil), env.Data...),
			Attributes:  lo.Assign(env.Attributes),
			OrderingKey: env.OrderingKey,
			Attempt:     1,
		})
	}
	return pubsub.ReadyResult(id, nil)
}

// Subscribe delivers queued messages on opts.Parallelism goroutines until ctx
// is done or a handler returns an error.
func (t *Transport) Subscribe(ctx context.Context, subscription string, opts pubsub.TransportSubscribeOptions, handler pubsub.TransportHandler) error {
	if subscription == "" {
		return errors.New("inmem: subscription required")
	}
	if handler == nil {
		return errors.New("inmem: handler required")
	}
	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	q := t.queue(subscription)
	active := &activeSub{cancel: cancel}
	q.active[active] = struct{}{}
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		delete(q.active, active)
		t.mu.Unlock()
	}()

	var (
		errOnce    sync.Once
		handlerErr error
	)
	pool := worker.New(lo.Max([]int{opts.Parallelism, 1}), 0, worker.WithPanicHandler(func(err error) {
		errOnce.Do(func() { handlerErr = err })
		cancel()
	}))

	for {
		env, ok := t.next(subCtx, q)
		if !ok {
			break
		}
		msg := t.deliver(subscription, env)
		err := pool.Submit(subCtx, func(msgCtx context.Context) {
			if err := handler(msgCtx, msg); err != nil {
				errOnce.Do(func() { handlerErr = err })
				cancel()
			}
		})
		if err != nil {
			t.requeue(subscription, env)
			break
		}
	}
	pool.Close()
	pool.Wait()

	if handlerErr != nil {
		return handlerErr
	}
	return nil
}

// Close cancels active subscriptions. Later publishes and subscribes fail.
func (t *Transport) Close(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	for _, q := range t.queues {
		for sub := range q.active {
			sub.cancel()
		}
	}
	return nil
}

// Acked returns how many deliveries of subscription were acknowledged.
func (t *Transport) Acked(subscription string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.queue(subscription).acked
}

// Nacked returns how many deliveries of subscription were negatively acknowledged.
func (t *Transport) Nacked(subscription string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.queue(subscription).nacked
}

// Pending returns how many messages wait for delivery on subscription.
func (t *Transport) Pending(subscription string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.queue(subscription).pending)
}

func (t *Transport) queue(name string) *queue {
	q, ok := t.queues[name]
	if !ok {
		q = &queue{signal: make(chan struct{}, 1), active: map[*activeSub]struct{}{}}
		t.queues[name] = q
	}
	return q
}

func (t *Transport) enqueue(subscription string, env *pubsub.Envelope) {
	q := t.queue(subscription)
	q.pending = append(q.pending, env)
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (t *Transport) requeue(subscription string, env *pubsub.Envelope) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enqueue(subscription, env)
}

func (t *Transport) next(ctx context.Context, q *queue) (*pubsub.Envelope, bool) {
	for {
		t.mu.Lock()
		if len(q.pending) > 0 {
			env := q.pending[0]
			q.pending = q.pending[1:]
			t.mu.Unlock()
			return env, true
		}
		t.mu.Unlock()
		select {
		case <-ctx.Done():
			return nil, false
		case <-q.signal:
		}
	}
}

func (t *Transport) deliver(subscription string, env *pubsub.Envelope) *pubsub.TransportMessage {
	var once sync.Once
	settle := func(nack bool) {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			q := t.queue(subscription)
			if !nack {
				q.acked++
				return
			}
			q.nacked++
			if t.closed {
				return
			}
			redelivery := *env
			redelivery.Attempt++
			t.enqueue(subscription, &redelivery)
		})
	}
	return &pubsub.TransportMessage{
		Envelope:    *env,
		PublishTime: time.Now(),
		Ack: func(context.Context) error {
			settle(false)
			return nil
		},
		Nack: func(context.Context) error {
			settle(true)
			return nil
		},
	}
}
