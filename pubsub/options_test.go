package pubsub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 100, cfg.BufferSize)
	assert.Equal(t, 10*1024*1024, cfg.MaxMessageSize)
	assert.Zero(t, cfg.MaxOutstandingMessages)
	assert.Zero(t, cfg.MaxOutstandingBytes)
	assert.False(t, cfg.ManualAck)
}

func TestConfigNormalized(t *testing.T) {
	cfg := Config{BufferSize: -1, MaxMessageSize: 0, MaxOutstandingMessages: -5, MaxOutstandingBytes: -5, ReceiveGoroutines: -1}.normalized()
	assert.Equal(t, DefaultBufferSize, cfg.BufferSize)
	assert.Equal(t, DefaultMaxMessageSize, cfg.MaxMessageSize)
	assert.Zero(t, cfg.MaxOutstandingMessages)
	assert.Zero(t, cfg.MaxOutstandingBytes)
	assert.Zero(t, cfg.ReceiveGoroutines)
}

func TestOptions(t *testing.T) {
	b, err := New[job](context.Background(), newFakeTransport(1), "t", "s",
		WithConfig(Config{BufferSize: 7, MaxMessageSize: 512}),
		WithMaxOutstandingMessages(10),
		WithMaxOutstandingBytes(2048),
		WithReceiveGoroutines(3),
		WithBufferSize(0),
		WithManualAck(),
		WithDeduplication(nil, time.Second),
	)
	require.NoError(t, err)
	cfg := b.opts.config
	assert.Equal(t, 7, cfg.BufferSize)
	assert.Equal(t, 512, cfg.MaxMessageSize)
	assert.Equal(t, 10, cfg.MaxOutstandingMessages)
	assert.Equal(t, 2048, cfg.MaxOutstandingBytes)
	assert.Equal(t, 3, cfg.ReceiveGoroutines)
	assert.True(t, cfg.ManualAck)
	assert.Equal(t, time.Second, b.opts.dedupeTTL)
}

func TestPublishOptions(t *testing.T) {
	var po publishOptions
	for _, opt := range []PublishOption{
		WithOrderingKey("k"),
		WithAttributes(map[string]string{"a": "1"}),
		WithAttributes(map[string]string{"b": "2"}),
		WithAttributes(nil),
	} {
		opt(&po)
	}
	assert.Equal(t, "k", po.orderingKey)
	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, po.attributes)
}
