package google

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	gcppubsub "cloud.google.com/go/pubsub"
	"github.com/samber/lo"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/infigaming-com/go-pubsub-worker/pubsub"
)

type Config struct {
	ProjectID       string
	CredentialsJSON []byte
	Endpoint        string
	UserAgent       string
	// Client is used as is when set and is not closed by the transport.
	Client *gcppubsub.Client
	Logger *zap.Logger
	// EnableMessageOrdering must be set to publish with ordering keys.
	EnableMessageOrdering bool
	Receive               ReceiveSettings
}

// ReceiveSettings are transport-wide defaults. Non-zero values passed to
// Subscribe take precedence.
type ReceiveSettings struct {
	NumGoroutines          int
	MaxOutstandingMessages int
	MaxOutstandingBytes    int
	MaxExtension           time.Duration
}

type transport struct {
	client     *gcppubsub.Client
	ownsClient bool
	logger     *zap.Logger
	ordering   bool
	receive    ReceiveSettings

	mu     sync.Mutex
	topics map[string]*gcppubsub.Topic
	closed bool
}

func New(ctx context.Context, cfg Config) (pubsub.Transport, error) {
	var (
		client *gcppubsub.Client
		err    error
		owns   bool
	)

	if cfg.Client != nil {
		client = cfg.Client
	} else {
		if cfg.ProjectID == "" {
			return nil, errors.New("googlepubsub: project id required when client is not provided")
		}
		opts := make([]option.ClientOption, 0, 3)
		if len(cfg.CredentialsJSON) > 0 {
			opts = append(opts, option.WithCredentialsJSON(cfg.CredentialsJSON))
		}
		if cfg.Endpoint != "" {
			opts = append(opts, option.WithEndpoint(cfg.Endpoint))
		}
		if cfg.UserAgent != "" {
			opts = append(opts, option.WithUserAgent(cfg.UserAgent))
		}
		client, err = gcppubsub.NewClient(ctx, cfg.ProjectID, opts...)
		if err != nil {
			return nil, fmt.Errorf("googlepubsub: create client: %w", err)
		}
		owns = true
	}

	t := &transport{
		client:     client,
		ownsClient: owns,
		logger:     cfg.Logger,
		ordering:   cfg.EnableMessageOrdering,
		receive:    cfg.Receive,
		topics:     map[string]*gcppubsub.Topic{},
	}
	if t.logger == nil {
		t.logger = zap.NewNop()
	}
	return t, nil
}

// Publish batches through the client's per-topic publisher; the result
// resolves once the server has stored the message.
func (t *transport) Publish(ctx context.Context, topic string, env *pubsub.Envelope) pubsub.PublishResult {
	if topic == "" {
		return pubsub.ReadyResult("", errors.New("googlepubsub: topic required"))
	}
	if env == nil {
		env = &pubsub.Envelope{}
	}
	gTopic, err := t.topic(topic)
	if err != nil {
		return pubsub.ReadyResult("", err)
	}
	res := gTopic.Publish(ctx, &gcppubsub.Message{
		Data:        env.Data,
		Attributes:  lo.Assign(env.Attributes),
		OrderingKey: env.OrderingKey,
	})
	return &publishResult{topic: gTopic, orderingKey: env.OrderingKey, result: res}
}

func (t *transport) topic(name string) (*gcppubsub.Topic, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, errors.New("googlepubsub: transport closed")
	}
	if topic, ok := t.topics[name]; ok {
		return topic, nil
	}
	topic := t.client.Topic(name)
	topic.EnableMessageOrdering = t.ordering
	t.topics[name] = topic
	return topic, nil
}

type publishResult struct {
	topic       *gcppubsub.Topic
	orderingKey string
	result      *gcppubsub.PublishResult
}

func (r *publishResult) Get(ctx context.Context) (string, error) {
	id, err := r.result.Get(ctx)
	if err != nil {
		if r.orderingKey != "" {
			// A failed ordered publish pauses the key until resumed.
			r.topic.ResumePublish(r.orderingKey)
		}
		return "", fmt.Errorf("googlepubsub: publish: %w", err)
	}
	return id, nil
}

func (t *transport) Subscribe(ctx context.Context, subscription string, opts pubsub.TransportSubscribeOptions, handler pubsub.TransportHandler) error {
	if subscription == "" {
		return errors.New("googlepubsub: subscription required")
	}
	if handler == nil {
		return errors.New("googlepubsub: handler required")
	}
	sub := t.client.Subscription(subscription)
	settings := sub.ReceiveSettings
	settings.NumGoroutines = lo.CoalesceOrEmpty(opts.Parallelism, t.receive.NumGoroutines, settings.NumGoroutines)
	settings.MaxOutstandingMessages = lo.CoalesceOrEmpty(opts.MaxOutstandingMessages, t.receive.MaxOutstandingMessages, settings.MaxOutstandingMessages)
	settings.MaxOutstandingBytes = lo.CoalesceOrEmpty(opts.MaxOutstandingBytes, t.receive.MaxOutstandingBytes, settings.MaxOutstandingBytes)
	settings.MaxExtension = lo.CoalesceOrEmpty(t.receive.MaxExtension, settings.MaxExtension)
	sub.ReceiveSettings = settings

	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu         sync.Mutex
		handlerErr error
	)
	fail := func(err error) {
		mu.Lock()
		if handlerErr == nil {
			handlerErr = err
		}
		mu.Unlock()
		cancel()
	}

	t.logger.Debug("googlepubsub receive starting",
		zap.String("subscription", subscription),
		zap.Int("goroutines", settings.NumGoroutines),
		zap.Int("max_outstanding_messages", settings.MaxOutstandingMessages))

	err := sub.Receive(subCtx, func(msgCtx context.Context, m *gcppubsub.Message) {
		tm := &pubsub.TransportMessage{
			Envelope: pubsub.Envelope{
				ID:          m.ID,
				Data:        m.Data,
				Attributes:  m.Attributes,
				OrderingKey: m.OrderingKey,
			},
			PublishTime: m.PublishTime,
			Ack: func(ctx context.Context) error {
				return settle(ctx, m.AckWithResult())
			},
			Nack: func(ctx context.Context) error {
				return settle(ctx, m.NackWithResult())
			},
		}
		if m.DeliveryAttempt != nil {
			tm.Attempt = *m.DeliveryAttempt
		}

		defer func() {
			if r := recover(); r != nil {
				t.logger.Error("googlepubsub handler panic",
					zap.String("subscription", subscription),
					zap.String("message_id", m.ID),
					zap.Any("panic", r))
				m.Nack()
				fail(fmt.Errorf("googlepubsub: handler panic: %v", r))
			}
		}()

		if err := handler(msgCtx, tm); err != nil {
			fail(err)
		}
	})

	mu.Lock()
	defer mu.Unlock()
	if handlerErr != nil {
		return handlerErr
	}
	if err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("googlepubsub: receive %s: %w", subscription, err)
	}
	return nil
}

func settle(ctx context.Context, res *gcppubsub.AckResult) error {
	status, err := res.Get(ctx)
	if err != nil {
		return err
	}
	if status != gcppubsub.AcknowledgeStatusSuccess {
		return fmt.Errorf("googlepubsub: acknowledge status %d", status)
	}
	return nil
}

// Close stops every cached publisher, flushing what it still holds, and closes
// the client when the transport created it.
func (t *transport) Close(context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	topics := lo.Values(t.topics)
	t.topics = nil
	t.mu.Unlock()

	for _, topic := range topics {
		topic.Stop()
	}
	if t.ownsClient {
		return t.client.Close()
	}
	return nil
}
