package pubsub

import (
	"context"
	"time"
)

// Transport represents a concrete broker implementation.
// Implementations must be safe for concurrent use.
type Transport interface {
	// Publish hands the envelope to the broker client and returns without waiting
	// for the broker to confirm it.
	Publish(ctx context.Context, topic string, envelope *Envelope) PublishResult
	// Subscribe delivers messages to handler, concurrently, until ctx is done or the
	// stream fails. It must not return before every handler invocation has returned.
	Subscribe(ctx context.Context, subscription string, opts TransportSubscribeOptions, handler TransportHandler) error
	Close(ctx context.Context) error
}

// PublishResult awaits the broker's confirmation of a single publish.
type PublishResult interface {
	Get(ctx context.Context) (serverID string, err error)
}

// Envelope holds the broker-facing message.
type Envelope struct {
	ID          string
	Data        []byte
	Attributes  map[string]string
	OrderingKey string
	Attempt     int
}

// TransportMessage is passed from the transport to the library.
type TransportMessage struct {
	Envelope
	PublishTime time.Time
	Ack         func(ctx context.Context) error
	Nack        func(ctx context.Context) error
}

// TransportHandler processes raw transport messages.
type TransportHandler func(context.Context, *TransportMessage) error

// TransportSubscribeOptions configures subscriptions at the transport level.
// Zero values leave the broker client's defaults in place.
type TransportSubscribeOptions struct {
	Parallelism            int
	MaxOutstandingMessages int
	MaxOutstandingBytes    int
}

type readyResult struct {
	id  string
	err error
}

// ReadyResult returns a PublishResult that is already resolved.
func ReadyResult(id string, err error) PublishResult {
	return readyResult{id: id, err: err}
}

func (r readyResult) Get(context.Context) (string, error) {
	return r.id, r.err
}
