package pubsub

import (
	"context"

	"go.uber.org/zap"
)

type Handler[M any] func(ctx context.Context, task *Task[M]) error

type Middleware[M any] func(Handler[M]) Handler[M]

func PassThrough[M any]() Middleware[M] {
	return func(next Handler[M]) Handler[M] {
		return next
	}
}

// AckOnSuccess acknowledges the task when the handler returns nil and negatively
// acknowledges it otherwise. The handler's error is returned unchanged.
func AckOnSuccess[M any](logger *zap.Logger) Middleware[M] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next Handler[M]) Handler[M] {
		return func(ctx context.Context, task *Task[M]) error {
			err := next(ctx, task)
			settleCtx := context.WithoutCancel(ctx)
			if err == nil {
				if ackErr := task.Context.Ack(settleCtx); ackErr != nil {
					logger.Error("failed to ack task", zap.Stringer("task_id", task.ID), zap.Error(ackErr))
				}
				return nil
			}
			if nackErr := task.Context.Nack(settleCtx); nackErr != nil {
				logger.Error("failed to nack task", zap.Stringer("task_id", task.ID), zap.Error(nackErr))
			}
			return err
		}
	}
}
