package audit

import (
	"context"
	"errors"

	"github.com/platinummonkey/hiregate/pkg/async"
)

// ErrQueueFull is returned by an async logger whose pool turned an event away.
var ErrQueueFull = errors.New("audit queue full")

// AsyncLogger hands events to next on a worker pool so callers never wait
// on the sink.
type AsyncLogger struct {
	next Logger
	pool *async.Pool
}

// NewAsyncLogger wraps next. The logger owns pool and shuts it down on Close.
func NewAsyncLogger(next Logger, pool *async.Pool) *AsyncLogger {
	return &AsyncLogger{next: next, pool: pool}
}

// Log queues event. The write runs detached from ctx cancellation, since
// the request that produced the event usually finishes first.
func (l *AsyncLogger) Log(ctx context.Context, event *AuditEvent) error {
	detached := context.WithoutCancel(ctx)
	if !l.pool.TrySubmit(func(taskCtx context.Context) error {
		return l.next.Log(mergeDeadline(detached, taskCtx), event)
	}) {
		return ErrQueueFull
	}
	return nil
}

// Close drains queued events, then closes next.
func (l *AsyncLogger) Close() error {
	poolErr := l.pool.Shutdown(context.Background())
	return errors.Join(poolErr, l.next.Close())
}

// mergeDeadline keeps the values of ctx and the deadline of bound.
func mergeDeadline(ctx, bound context.Context) context.Context {
	deadline, ok := bound.Deadline()
	if !ok {
		return ctx
	}
	merged, cancel := context.WithDeadline(ctx, deadline)
	context.AfterFunc(bound, cancel)
	return merged
}
