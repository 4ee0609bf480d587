package pubsub

import (
	"context"
	"errors"
	"iter"
	"strconv"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// AttrTaskID is the message attribute carrying a producer-assigned task id.
const AttrTaskID = "task_id"

type TaskID uint64

func (id TaskID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

func ParseTaskID(s string) (TaskID, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, err
	}
	if v == 0 {
		return 0, errors.New("task id must be positive")
	}
	return TaskID(v), nil
}

// Task is the unit of work exchanged with the worker.
// Inbound tasks carry an AckContext; outbound tasks leave it nil.
type Task[M any] struct {
	Payload     M
	ID          TaskID
	Context     *AckContext
	Attributes  map[string]string
	OrderingKey string
}

type streamItem[M any] struct {
	task *Task[M]
	err  error
}

// TaskStream is the pull side of an inbound subscription. It is consumed once and
// ends when the receive loop terminates or the backend shuts down.
type TaskStream[M any] struct {
	items     <-chan streamItem[M]
	abandoned chan struct{}
	// done is closed once the receive loop has returned.
	done      <-chan struct{}
	closeOnce sync.Once
	finished  atomic.Bool
	// unsettled is set when buffered tasks have not been acknowledged yet.
	unsettled bool
	logger    *zap.Logger
}

// Next blocks until a task is available, the stream ends (ErrStreamClosed), the
// receive loop reports a terminal error, or ctx is done.
func (s *TaskStream[M]) Next(ctx context.Context) (*Task[M], error) {
	if s.finished.Load() {
		return nil, ErrStreamClosed
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.abandoned:
		return nil, ErrStreamClosed
	case item, ok := <-s.items:
		return s.take(item, ok)
	}
}

// Poll returns the next task without blocking. A nil task with a nil error means
// nothing is ready yet and the caller should poll again.
func (s *TaskStream[M]) Poll() (*Task[M], error) {
	if s.finished.Load() {
		return nil, ErrStreamClosed
	}
	select {
	case <-s.abandoned:
		return nil, ErrStreamClosed
	case item, ok := <-s.items:
		return s.take(item, ok)
	default:
		return nil, nil
	}
}

// All ranges over the stream until it ends. A terminal error is yielded once.
func (s *TaskStream[M]) All(ctx context.Context) iter.Seq2[*Task[M], error] {
	return func(yield func(*Task[M], error) bool) {
		for {
			task, err := s.Next(ctx)
			if errors.Is(err, ErrStreamClosed) {
				return
			}
			if !yield(task, err) || err != nil {
				return
			}
		}
	}
}

// Buffered returns the number of tasks handed off but not yet consumed.
func (s *TaskStream[M]) Buffered() int {
	return len(s.items)
}

// Close abandons the stream. Deliveries still waiting for a consumer are
// negatively acknowledged so the broker redelivers them. With manual
// acknowledgment, tasks already buffered are negatively acknowledged as well;
// otherwise they were acknowledged at handoff and are discarded.
func (s *TaskStream[M]) Close() {
	s.closeOnce.Do(func() {
		close(s.abandoned)
		s.finished.Store(true)
		for {
			select {
			case item, ok := <-s.items:
				if !ok {
					return
				}
				if item.task == nil || !s.unsettled {
					continue
				}
				if err := item.task.Context.Nack(context.Background()); err != nil {
					s.logger.Error("failed to nack buffered task",
						zap.Stringer("task_id", item.task.ID),
						zap.Error(err))
				}
			default:
				return
			}
		}
	})
}

// ended reports whether the receive loop has returned and the stream has
// nothing left to hand out.
func (s *TaskStream[M]) ended() bool {
	select {
	case <-s.done:
		return s.finished.Load() || len(s.items) == 0
	default:
		return false
	}
}

func (s *TaskStream[M]) take(item streamItem[M], ok bool) (*Task[M], error) {
	if !ok {
		s.finished.Store(true)
		return nil, ErrStreamClosed
	}
	if item.err != nil {
		s.finished.Store(true)
		return nil, item.err
	}
	return item.task, nil
}
