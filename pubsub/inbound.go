package pubsub

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/infigaming-com/go-pubsub-worker/cache"
	"github.com/infigaming-com/go-pubsub-worker/uid"
)

// Messages that can never become a task are acknowledged so the broker stops
// redelivering them. The policy names appear in logs and health.
const (
	PolicyAckOversized = "ack-oversized"
	PolicyAckPoison    = "ack-poison"
	PolicyAckDuplicate = "ack-duplicate"
)

type inbound[M any] struct {
	transport    Transport
	subscription string
	config       Config
	codec        Codec[M]
	ids          uid.Generator
	dedupe       cache.Cache
	dedupeTTL    time.Duration
	logger       *zap.Logger
	metrics      MetricsHook
	health       *healthRecorder

	items     chan streamItem[M]
	abandoned chan struct{}
	done      chan struct{}
}

// start returns immediately; the receive loop runs until shutdown is done, the
// stream is abandoned or the transport gives up.
func (in *inbound[M]) start(shutdown context.Context) *TaskStream[M] {
	in.items = make(chan streamItem[M], in.config.BufferSize)
	in.abandoned = make(chan struct{})
	in.done = make(chan struct{})

	ctx, cancel := context.WithCancel(shutdown)
	go func() {
		select {
		case <-in.abandoned:
			cancel()
		case <-ctx.Done():
		}
	}()
	go func() {
		defer close(in.done)
		defer cancel()
		in.receive(ctx)
	}()
	return &TaskStream[M]{
		items:     in.items,
		abandoned: in.abandoned,
		done:      in.done,
		unsettled: in.config.ManualAck,
		logger:    in.logger.With(zap.String("subscription", in.subscription)),
	}
}

func (in *inbound[M]) receive(ctx context.Context) {
	defer close(in.items)

	in.logger.Info("subscription receive loop started",
		zap.String("subscription", in.subscription),
		zap.Int("buffer_size", in.config.BufferSize))

	err := in.transport.Subscribe(ctx, in.subscription, TransportSubscribeOptions{
		Parallelism:            in.config.ReceiveGoroutines,
		MaxOutstandingMessages: in.config.MaxOutstandingMessages,
		MaxOutstandingBytes:    in.config.MaxOutstandingBytes,
	}, in.handle)
	if err == nil || ctx.Err() != nil {
		in.logger.Info("subscription receive loop stopped", zap.String("subscription", in.subscription))
		return
	}

	in.logger.Error("subscription receive loop failed",
		zap.String("subscription", in.subscription),
		zap.Error(err))
	in.health.failed(err)
	terminal := newError(ErrCodeSubscription, fmt.Sprintf("receive %s", in.subscription), err)
	select {
	case in.items <- streamItem[M]{err: terminal}:
	case <-in.abandoned:
	}
}

// handle runs once per delivery, concurrently with other deliveries. It always
// returns nil: every failure is settled here so the receive loop keeps going.
func (in *inbound[M]) handle(ctx context.Context, m *TransportMessage) error {
	if m == nil {
		return nil
	}
	// Steps already started must finish even when shutdown cancels ctx.
	stepCtx := context.WithoutCancel(ctx)

	size := len(m.Data)
	in.metrics.OnReceived(in.subscription, size)

	if size > in.config.MaxMessageSize {
		in.metrics.OnOversized(in.subscription, size)
		in.drop(stepCtx, m, PolicyAckOversized,
			zap.Int("bytes", size),
			zap.Int("max_bytes", in.config.MaxMessageSize))
		return nil
	}

	if in.duplicate(stepCtx, m.ID) {
		in.metrics.OnDuplicate(in.subscription)
		in.drop(stepCtx, m, PolicyAckDuplicate)
		return nil
	}

	id, err := in.taskID(stepCtx, m)
	if err != nil {
		in.logger.Error("failed to assign task id",
			zap.String("subscription", in.subscription),
			zap.String("message_id", m.ID),
			zap.Error(err))
		in.health.failed(err)
		in.forget(stepCtx, m.ID)
		in.settle(stepCtx, m.ID, m.Nack, "nack")
		return nil
	}

	payload, err := in.codec.Decode(m.Data)
	if err != nil {
		in.metrics.OnPoison(in.subscription)
		in.drop(stepCtx, m, PolicyAckPoison,
			zap.Uint64("task_id", uint64(id)),
			zap.Error(newError(ErrCodeCodec, "decode", err)))
		return nil
	}

	task := &Task[M]{
		Payload:     payload,
		ID:          id,
		Context:     NewAckContext(m.ID, AckFuncs{AckFn: m.Ack, NackFn: in.nackFunc(m)}),
		Attributes:  m.Attributes,
		OrderingKey: m.OrderingKey,
	}

	waitStart := time.Now()
	if !in.send(task) {
		in.logger.Debug("task stream abandoned, returning message to broker",
			zap.String("subscription", in.subscription),
			zap.String("message_id", m.ID))
		in.metrics.OnAbandoned(in.subscription)
		in.health.abandoned()
		in.forget(stepCtx, m.ID)
		in.settle(stepCtx, m.ID, m.Nack, "nack")
		return nil
	}
	in.metrics.OnHandedOff(in.subscription, time.Since(waitStart))
	in.health.handedOff(id)

	select {
	case <-in.abandoned:
		// Closed right after the send; the task may never be consumed.
		in.forget(stepCtx, m.ID)
		in.settle(stepCtx, m.ID, m.Nack, "nack")
		return nil
	default:
	}

	if in.config.ManualAck {
		return nil
	}
	in.settle(stepCtx, m.ID, m.Ack, "ack")
	return nil
}

// send blocks until the consumer takes room in the channel or abandons the stream.
func (in *inbound[M]) send(task *Task[M]) bool {
	select {
	case <-in.abandoned:
		return false
	default:
	}
	select {
	case in.items <- streamItem[M]{task: task}:
		return true
	case <-in.abandoned:
		return false
	}
}

func (in *inbound[M]) taskID(ctx context.Context, m *TransportMessage) (TaskID, error) {
	if raw, ok := m.Attributes[AttrTaskID]; ok {
		id, err := ParseTaskID(raw)
		if err == nil {
			return id, nil
		}
		in.logger.Warn("ignoring malformed task id attribute",
			zap.String("subscription", in.subscription),
			zap.String("message_id", m.ID),
			zap.String("task_id", raw))
	}
	next, err := in.ids.Next(ctx)
	if err != nil {
		return 0, newError(ErrCodeClient, "mint task id", err)
	}
	return TaskID(next), nil
}

func (in *inbound[M]) drop(ctx context.Context, m *TransportMessage, policy string, fields ...zap.Field) {
	in.logger.Warn("dropping inbound message", append([]zap.Field{
		zap.String("subscription", in.subscription),
		zap.String("message_id", m.ID),
		zap.String("policy", policy),
	}, fields...)...)
	in.health.dropped(policy)
	in.settle(ctx, m.ID, m.Ack, "ack")
}

func (in *inbound[M]) settle(ctx context.Context, messageID string, fn func(context.Context) error, op string) {
	if fn == nil {
		return
	}
	if err := fn(ctx); err != nil {
		err = newError(ErrCodeAck, fmt.Sprintf("%s %s", op, messageID), err)
		in.logger.Error("failed to settle message",
			zap.String("subscription", in.subscription),
			zap.String("message_id", messageID),
			zap.Error(err))
		in.metrics.OnAckFailure(in.subscription)
		in.health.failed(err)
	}
}

func (in *inbound[M]) duplicate(ctx context.Context, messageID string) bool {
	if in.dedupe == nil || messageID == "" {
		return false
	}
	stored, err := in.dedupe.SetNX(ctx, in.dedupeKey(messageID), "1", in.dedupeTTL)
	if err != nil {
		in.logger.Warn("dedupe check failed, processing message",
			zap.String("subscription", in.subscription),
			zap.String("message_id", messageID),
			zap.Error(err))
		return false
	}
	return !stored
}

// nackFunc returns the broker nack for m, clearing its dedupe mark first so the
// redelivery is not taken for a duplicate.
func (in *inbound[M]) nackFunc(m *TransportMessage) func(context.Context) error {
	if m.Nack == nil {
		return nil
	}
	return func(ctx context.Context) error {
		in.forget(ctx, m.ID)
		return m.Nack(ctx)
	}
}

// forget clears the dedupe mark of a message that goes back to the broker.
func (in *inbound[M]) forget(ctx context.Context, messageID string) {
	if in.dedupe == nil || messageID == "" {
		return
	}
	if err := in.dedupe.Delete(ctx, in.dedupeKey(messageID)); err != nil {
		in.logger.Warn("failed to clear dedupe mark",
			zap.String("subscription", in.subscription),
			zap.String("message_id", messageID),
			zap.Error(err))
	}
}

func (in *inbound[M]) dedupeKey(messageID string) string {
	return "pubsub:seen:" + in.subscription + ":" + messageID
}
