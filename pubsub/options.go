package pubsub

import (
	"time"

	"go.uber.org/zap"

	"github.com/infigaming-com/go-pubsub-worker/cache"
	"github.com/infigaming-com/go-pubsub-worker/uid"
)

const (
	DefaultBufferSize     = 100
	DefaultMaxMessageSize = 10 * 1024 * 1024
	DefaultDedupeTTL      = 10 * time.Minute
)

// Config holds the backend tunables. It is resolved once by New and never changes afterwards.
type Config struct {
	// BufferSize is the capacity of the inbound channel; a full channel throttles the broker.
	BufferSize int `mapstructure:"BUFFER_SIZE"`
	// MaxMessageSize is the largest payload, in bytes, that is decoded. Larger messages are acknowledged and dropped.
	MaxMessageSize int `mapstructure:"MAX_MESSAGE_SIZE"`
	// MaxOutstandingMessages and MaxOutstandingBytes are advisory flow-control caps
	// enforced by the broker client, if at all. Zero leaves the client default.
	MaxOutstandingMessages int `mapstructure:"MAX_OUTSTANDING_MESSAGES"`
	MaxOutstandingBytes    int `mapstructure:"MAX_OUTSTANDING_BYTES"`
	// ReceiveGoroutines is the transport parallelism. Zero leaves the client default.
	ReceiveGoroutines int `mapstructure:"RECEIVE_GOROUTINES"`
	// ManualAck disables acknowledgment at handoff; see Backend.Middleware.
	ManualAck bool `mapstructure:"MANUAL_ACK"`
}

func DefaultConfig() Config {
	return Config{
		BufferSize:     DefaultBufferSize,
		MaxMessageSize: DefaultMaxMessageSize,
	}
}

func (c Config) normalized() Config {
	if c.BufferSize <= 0 {
		c.BufferSize = DefaultBufferSize
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = DefaultMaxMessageSize
	}
	if c.MaxOutstandingMessages < 0 {
		c.MaxOutstandingMessages = 0
	}
	if c.MaxOutstandingBytes < 0 {
		c.MaxOutstandingBytes = 0
	}
	if c.ReceiveGoroutines < 0 {
		c.ReceiveGoroutines = 0
	}
	return c
}

type Option func(*options)

type PublishOption func(*publishOptions)

type options struct {
	config    Config
	logger    *zap.Logger
	metrics   MetricsHook
	codec     any
	ids       uid.Generator
	dedupe    cache.Cache
	dedupeTTL time.Duration
}

type publishOptions struct {
	orderingKey string
	attributes  map[string]string
}

func defaultOptions() options {
	return options{
		config:    DefaultConfig(),
		logger:    zap.NewNop(),
		metrics:   noopMetrics{},
		dedupeTTL: DefaultDedupeTTL,
	}
}

// WithConfig replaces the whole configuration. Non-positive sizes fall back to defaults.
func WithConfig(cfg Config) Option {
	return func(o *options) {
		o.config = cfg
	}
}

func WithBufferSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.config.BufferSize = n
		}
	}
}

func WithMaxMessageSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.config.MaxMessageSize = n
		}
	}
}

func WithMaxOutstandingMessages(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.config.MaxOutstandingMessages = n
		}
	}
}

func WithMaxOutstandingBytes(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.config.MaxOutstandingBytes = n
		}
	}
}

func WithReceiveGoroutines(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.config.ReceiveGoroutines = n
		}
	}
}

// WithManualAck leaves acknowledgment to the task handler instead of acknowledging at handoff.
func WithManualAck() Option {
	return func(o *options) {
		o.config.ManualAck = true
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func WithMetrics(m MetricsHook) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithCodec sets the payload codec. Its type parameter must match the backend's.
func WithCodec[M any](codec Codec[M]) Option {
	return func(o *options) {
		if codec != nil {
			o.codec = codec
		}
	}
}

// WithIDGenerator sets the source of task ids minted for messages without a task_id attribute.
func WithIDGenerator(ids uid.Generator) Option {
	return func(o *options) {
		if ids != nil {
			o.ids = ids
		}
	}
}

// WithDeduplication drops redeliveries of a broker message id seen within ttl.
func WithDeduplication(c cache.Cache, ttl time.Duration) Option {
	return func(o *options) {
		o.dedupe = c
		if ttl > 0 {
			o.dedupeTTL = ttl
		}
	}
}

func WithOrderingKey(key string) PublishOption {
	return func(o *publishOptions) {
		o.orderingKey = key
	}
}

func WithAttributes(attrs map[string]string) PublishOption {
	return func(o *publishOptions) {
		if len(attrs) == 0 {
			return
		}
		if o.attributes == nil {
			o.attributes = map[string]string{}
		}
		for k, v := range attrs {
			o.attributes[k] = v
		}
	}
}
