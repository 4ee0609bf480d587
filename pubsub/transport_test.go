package pubsub

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

var errBoom = errors.New("boom")

// fakeTransport is an instrumented broker: tests feed deliveries through
// deliver, every ack, nack and publish is recorded in call order.
type fakeTransport struct {
	concurrency int
	deliveries  chan *Envelope
	failWith    chan error
	started     atomic.Int32
	ackErr      error
	nackErr     error

	mu        sync.Mutex
	events    []string
	published []*Envelope
	publish   func(n int, env *Envelope) PublishResult
	closed    bool
}

func newFakeTransport(concurrency int) *fakeTransport {
	return &fakeTransport{
		concurrency: concurrency,
		deliveries:  make(chan *Envelope, 64),
		failWith:    make(chan error, 1),
	}
}

func (f *fakeTransport) deliver(id, data string, attrs map[string]string) {
	f.deliveries <- &Envelope{ID: id, Data: []byte(data), Attributes: attrs, Attempt: 1}
}

func (f *fakeTransport) record(event string) {
	f.mu.Lock()
	f.events = append(f.events, event)
	f.mu.Unlock()
}

func (f *fakeTransport) log() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.events)
}

func (f *fakeTransport) has(event string) bool {
	return slices.Contains(f.log(), event)
}

func (f *fakeTransport) publishedEnvelopes() []*Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.published)
}

func (f *fakeTransport) Publish(_ context.Context, topic string, env *Envelope) PublishResult {
	f.mu.Lock()
	f.published = append(f.published, env)
	n := len(f.published)
	fn := f.publish
	f.mu.Unlock()
	f.record(fmt.Sprintf("publish:%s:%d", topic, n))
	if fn != nil {
		return fn(n, env)
	}
	return ReadyResult(fmt.Sprintf("server-%d", n), nil)
}

func (f *fakeTransport) Subscribe(ctx context.Context, _ string, _ TransportSubscribeOptions, handler TransportHandler) error {
	sem := make(chan struct{}, f.concurrency)
	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-f.failWith:
			return err
		case env := <-f.deliveries:
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return nil
			}
			wg.Add(1)
			f.started.Add(1)
			go func() {
				defer wg.Done()
				defer func() { <-sem }()
				_ = handler(ctx, f.message(env))
			}()
		}
	}
}

func (f *fakeTransport) message(env *Envelope) *TransportMessage {
	return &TransportMessage{
		Envelope:    *env,
		PublishTime: time.Now(),
		Ack: func(context.Context) error {
			f.record("ack:" + env.ID)
			return f.ackErr
		},
		Nack: func(context.Context) error {
			f.record("nack:" + env.ID)
			return f.nackErr
		},
	}
}

func (f *fakeTransport) Close(context.Context) error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

type job struct {
	Name string `json:"name"`
}
