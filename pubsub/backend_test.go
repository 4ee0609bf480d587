package pubsub

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew_Validation(t *testing.T) {
	ctx := context.Background()

	_, err := New[job](ctx, nil, "t", "s")
	assert.True(t, IsCode(err, ErrCodeClient))

	_, err = New[job](ctx, newFakeTransport(1), "", "")
	assert.True(t, IsCode(err, ErrCodeClient))

	_, err = New[job](ctx, newFakeTransport(1), "t", "s", WithCodec[string](JSONCodec[string]{}))
	assert.True(t, IsCode(err, ErrCodeClient))
}

func TestBackend_DirectionsRequireNames(t *testing.T) {
	ctx := context.Background()
	publishOnly, err := New[job](ctx, newFakeTransport(1), "t", "")
	require.NoError(t, err)
	_, err = publishOnly.Poll(ctx)
	assert.True(t, IsCode(err, ErrCodeClient))

	receiveOnly, err := New[job](ctx, newFakeTransport(1), "", "s")
	require.NoError(t, err)
	_, err = receiveOnly.Push(ctx, job{Name: "x"})
	assert.True(t, IsCode(err, ErrCodeClient))
}

func TestBackend_Heartbeat(t *testing.T) {
	b := newTestBackend(t, newFakeTransport(1))
	_, open := <-b.Heartbeat(context.Background())
	assert.False(t, open)
}

func TestBackend_PushAndClose(t *testing.T) {
	tr := newFakeTransport(1)
	b := newTestBackend(t, tr)
	ctx := context.Background()

	id, err := b.Push(ctx, job{Name: "a"}, WithAttributes(map[string]string{"tenant": "acme"}))
	require.NoError(t, err)
	assert.Equal(t, TaskID(1), id)

	published := tr.publishedEnvelopes()
	require.Len(t, published, 1)
	assert.Equal(t, "1", published[0].Attributes[AttrTaskID])
	assert.Equal(t, "acme", published[0].Attributes["tenant"])

	b.Sink().Accept(&Task[job]{Payload: job{Name: "b"}})
	assert.Equal(t, 1, b.Health().PendingOutbound)

	require.NoError(t, b.Close(ctx))
	assert.Len(t, tr.publishedEnvelopes(), 2)
	assert.True(t, tr.closed)
	assert.True(t, b.Health().ShutDown)
}

func TestBackend_CloseReportsFlushFailure(t *testing.T) {
	tr := newFakeTransport(1)
	tr.publish = func(int, *Envelope) PublishResult { return ReadyResult("", errBoom) }
	b := newTestBackend(t, tr)
	b.Sink().Accept(&Task[job]{Payload: job{Name: "a"}})

	err := b.Close(context.Background())
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodePublish))
	assert.True(t, tr.closed)
}

func TestBackend_MiddlewareFollowsAckMode(t *testing.T) {
	ctx := context.Background()
	okHandler := func(context.Context, *Task[job]) error { return nil }
	failHandler := func(context.Context, *Task[job]) error { return errBoom }

	t.Run("automatic", func(t *testing.T) {
		tr := newFakeTransport(1)
		b := newTestBackend(t, tr)
		stream, err := b.Poll(ctx)
		require.NoError(t, err)
		tr.deliver("m1", `{"name":"1"}`, nil)
		task := nextTask(t, stream)
		assert.Eventually(t, func() bool { return tr.has("ack:m1") }, time.Second, 5*time.Millisecond)

		assert.ErrorIs(t, b.Middleware()(failHandler)(ctx, task), errBoom)
		assert.Equal(t, []string{"ack:m1"}, tr.log())
	})

	t.Run("manual", func(t *testing.T) {
		tr := newFakeTransport(1)
		b := newTestBackend(t, tr, WithManualAck())
		stream, err := b.Poll(ctx)
		require.NoError(t, err)
		tr.deliver("m1", `{"name":"1"}`, nil)
		tr.deliver("m2", `{"name":"2"}`, nil)
		first := nextTask(t, stream)
		second := nextTask(t, stream)
		assert.Never(t, func() bool { return len(tr.log()) > 0 }, 50*time.Millisecond, 5*time.Millisecond)

		mw := b.Middleware()
		require.NoError(t, mw(okHandler)(ctx, first))
		assert.ErrorIs(t, mw(failHandler)(ctx, second), errBoom)
		assert.Equal(t, []string{"ack:m1", "nack:m2"}, tr.log())
	})
}

func TestAckOnSuccess_LogsSettleFailure(t *testing.T) {
	task := &Task[job]{
		ID: 1,
		Context: NewAckContext("m1", AckFuncs{
			AckFn: func(context.Context) error { return errBoom },
		}),
	}
	err := AckOnSuccess[job](zap.NewNop())(func(context.Context, *Task[job]) error { return nil })(context.Background(), task)
	assert.NoError(t, err)

	handlerErr := errors.New("handler")
	err = AckOnSuccess[job](nil)(func(context.Context, *Task[job]) error { return handlerErr })(context.Background(), task)
	assert.ErrorIs(t, err, handlerErr)
}

func TestBackend_PushReportsItsOwnPublish(t *testing.T) {
	ctx := context.Background()
	release := make(chan struct{})
	close(release)
	tr := newFakeTransport(1)
	tr.publish = func(_ int, env *Envelope) PublishResult {
		if strings.Contains(string(env.Data), "bad") {
			return heldResult{release: release, err: errBoom}
		}
		return ReadyResult("ok", nil)
	}
	b := newTestBackend(t, tr)

	// A failing batch owned by the sink, drained by someone else.
	b.Sink().Accept(&Task[job]{Payload: job{Name: "bad-batch"}})
	stop := drainConcurrently(b.Sink())
	defer stop()

	_, err := b.Push(ctx, job{Name: "good"})
	require.NoError(t, err)

	_, err = b.Push(ctx, job{Name: "bad"})
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodePublish))
	assert.ErrorIs(t, err, errBoom)
	var perr *Error
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, PublishFailure{Topic: "jobs-out", Failed: 1, Total: 1}, perr.GetDetails())
}

func TestBackend_PushFailsUnderConcurrentDrain(t *testing.T) {
	for range 20 {
		release := make(chan struct{})
		tr := newFakeTransport(1)
		tr.publish = func(int, *Envelope) PublishResult { return heldResult{release: release, err: errBoom} }
		b := newTestBackend(t, tr)
		stop := drainConcurrently(b.Sink())

		pushed := make(chan error, 1)
		go func() {
			_, err := b.Push(context.Background(), job{Name: "a"})
			pushed <- err
		}()
		require.Eventually(t, func() bool { return len(tr.publishedEnvelopes()) == 1 }, time.Second, time.Millisecond)
		close(release)

		err := <-pushed
		stop()
		require.Error(t, err)
		assert.ErrorIs(t, err, errBoom)
		assert.Equal(t, 0, b.Health().PendingOutbound)
	}
}

func TestWorker_LogsFailedNackOfUndispatchedTask(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	tr := newFakeTransport(2)
	tr.nackErr = errBoom
	b := newTestBackend(t, tr, WithManualAck(), WithLogger(zap.New(core)))

	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	w := NewWorker(b, func(context.Context, *Task[job]) error {
		entered <- struct{}{}
		<-release
		return nil
	}, WithWorkerConcurrency(1))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	tr.deliver("m1", `{"name":"1"}`, nil)
	<-entered
	tr.deliver("m2", `{"name":"2"}`, nil)
	// m2 has left the stream and waits for the busy pool.
	require.Eventually(t, func() bool {
		h := b.Health()
		return h.HandedOff == 2 && h.Buffered == 0
	}, time.Second, 5*time.Millisecond)

	cancel()
	assert.Eventually(t, func() bool { return tr.has("nack:m2") }, time.Second, 5*time.Millisecond)
	close(release)
	require.NoError(t, <-done)

	entries := logs.FilterMessage("failed to nack undispatched task").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "2", entries[0].ContextMap()["task_id"])
	assert.True(t, tr.has("ack:m1"))
}
