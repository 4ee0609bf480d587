package pubsub

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/infigaming-com/go-pubsub-worker/pubsub/internal/worker"
)

const DefaultWorkerConcurrency = 4

type WorkerOption func(*workerOptions)

type workerOptions struct {
	concurrency int
}

func WithWorkerConcurrency(n int) WorkerOption {
	return func(o *workerOptions) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// Worker drains a backend's task stream into a handler on a fixed number of goroutines.
type Worker[M any] struct {
	backend *Backend[M]
	handler Handler[M]
	opts    workerOptions
}

func NewWorker[M any](backend *Backend[M], handler Handler[M], opts ...WorkerOption) *Worker[M] {
	o := workerOptions{concurrency: DefaultWorkerConcurrency}
	for _, opt := range opts {
		opt(&o)
	}
	return &Worker[M]{backend: backend, handler: handler, opts: o}
}

// Run polls the backend and dispatches tasks until ctx is done or the stream
// ends. It returns nil on shutdown and the stream's terminal error otherwise.
// Handlers still running when Run stops are waited for.
func (w *Worker[M]) Run(ctx context.Context) error {
	if w.handler == nil {
		return newError(ErrCodeClient, "worker handler required", nil)
	}
	stream, err := w.backend.Poll(ctx)
	if err != nil {
		return err
	}
	defer stream.Close()

	logger := w.backend.opts.logger
	pool := worker.New(w.opts.concurrency, 0, worker.WithPanicHandler(func(err error) {
		logger.Error("task handler panicked", zap.Error(err))
	}))
	defer func() {
		pool.Close()
		pool.Wait()
	}()

	handle := w.backend.Middleware()(w.handler)
	for {
		task, err := stream.Next(ctx)
		if errors.Is(err, ErrStreamClosed) {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		err = pool.Submit(ctx, func(taskCtx context.Context) {
			if err := handle(taskCtx, task); err != nil {
				logger.Warn("task handler failed", zap.Stringer("task_id", task.ID), zap.Error(err))
			}
		})
		if err != nil {
			// Never started; give it back to the broker.
			if nackErr := task.Context.Nack(context.WithoutCancel(ctx)); nackErr != nil {
				logger.Error("failed to nack undispatched task", zap.Stringer("task_id", task.ID), zap.Error(nackErr))
			}
			return nil
		}
	}
}
