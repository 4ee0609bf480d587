package pubsub_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/infigaming-com/go-pubsub-worker/pubsub"
	"github.com/infigaming-com/go-pubsub-worker/pubsub/driver/inmem"
)

type email struct {
	To string `json:"to"`
}

func TestWorker_ProcessesPushedTasks(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tr := inmem.New()
	tr.Bind("emails", "emails-worker")
	b, err := pubsub.New[email](ctx, tr, "emails", "emails-worker", pubsub.WithManualAck())
	require.NoError(t, err)

	for _, to := range []string{"a@example.com", "b@example.com", "c@example.com"} {
		_, err := b.Push(ctx, email{To: to})
		require.NoError(t, err)
	}

	var failedOnce atomic.Bool
	runCtx, stop := context.WithCancel(ctx)
	w := pubsub.NewWorker(b, func(_ context.Context, task *pubsub.Task[email]) error {
		if task.ID == 2 && failedOnce.CompareAndSwap(false, true) {
			return errors.New("temporary")
		}
		return nil
	}, pubsub.WithWorkerConcurrency(2))

	done := make(chan error, 1)
	go func() { done <- w.Run(runCtx) }()

	assert.Eventually(t, func() bool { return tr.Acked("emails-worker") == 3 }, 3*time.Second, 10*time.Millisecond)
	stop()
	require.NoError(t, <-done)

	assert.Equal(t, 1, tr.Nacked("emails-worker"))
	assert.Equal(t, 0, tr.Pending("emails-worker"))
	require.NoError(t, b.Close(ctx))
}

func TestWorker_ReturnsTerminalError(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tr := inmem.New()
	require.NoError(t, tr.Close(ctx))
	b, err := pubsub.New[email](ctx, tr, "", "emails-worker")
	require.NoError(t, err)

	err = pubsub.NewWorker(b, func(context.Context, *pubsub.Task[email]) error { return nil }).Run(ctx)
	require.Error(t, err)
	assert.True(t, pubsub.IsCode(err, pubsub.ErrCodeSubscription))
	assert.ErrorIs(t, err, inmem.ErrClosed)
}

func TestWorker_RequiresHandler(t *testing.T) {
	b, err := pubsub.New[email](context.Background(), inmem.New(), "", "emails-worker")
	require.NoError(t, err)
	err = pubsub.NewWorker[email](b, nil).Run(context.Background())
	assert.True(t, pubsub.IsCode(err, pubsub.ErrCodeClient))
}
