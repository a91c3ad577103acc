package async

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func TestPool_RunsTasks(t *testing.T) {
	pool := NewPool(context.Background(), "test", 4, 16, time.Second, quietLogger())

	var ran atomic.Int64
	for i := 0; i < 10; i++ {
		require.NoError(t, pool.Submit(context.Background(), func(ctx context.Context) error {
			ran.Add(1)
			return nil
		}))
	}

	require.NoError(t, pool.Shutdown(context.Background()))
	assert.Equal(t, int64(10), ran.Load())
	assert.Zero(t, pool.Failed())
}

func TestPool_CountsFailuresAndPanics(t *testing.T) {
	pool := NewPool(context.Background(), "test", 1, 4, time.Second, quietLogger())

	require.True(t, pool.TrySubmit(func(ctx context.Context) error { return errors.New("boom") }))
	require.True(t, pool.TrySubmit(func(ctx context.Context) error { panic("kaboom") }))
	require.True(t, pool.TrySubmit(func(ctx context.Context) error { return nil }))

	require.NoError(t, pool.Shutdown(context.Background()))
	assert.Equal(t, int64(2), pool.Failed())
}

func TestPool_TaskTimeout(t *testing.T) {
	pool := NewPool(context.Background(), "test", 1, 1, 20*time.Millisecond, quietLogger())

	var deadlineHit atomic.Bool
	require.True(t, pool.TrySubmit(func(ctx context.Context) error {
		<-ctx.Done()
		deadlineHit.Store(errors.Is(ctx.Err(), context.DeadlineExceeded))
		return ctx.Err()
	}))

	require.NoError(t, pool.Shutdown(context.Background()))
	assert.True(t, deadlineHit.Load())
}

func TestPool_TrySubmitDropsWhenFull(t *testing.T) {
	pool := NewPool(context.Background(), "test", 1, 1, time.Second, quietLogger())

	release := make(chan struct{})
	started := make(chan struct{})
	require.True(t, pool.TrySubmit(func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	}))
	<-started

	require.True(t, pool.TrySubmit(func(ctx context.Context) error { return nil }), "queue has room for one")
	assert.False(t, pool.TrySubmit(func(ctx context.Context) error { return nil }))
	assert.Equal(t, int64(1), pool.Dropped())

	close(release)
	require.NoError(t, pool.Shutdown(context.Background()))
}

func TestPool_SubmitAfterShutdown(t *testing.T) {
	pool := NewPool(context.Background(), "test", 1, 1, time.Second, quietLogger())
	require.NoError(t, pool.Shutdown(context.Background()))
	require.NoError(t, pool.Shutdown(context.Background()), "shutdown is idempotent")

	assert.ErrorIs(t, pool.Submit(context.Background(), func(ctx context.Context) error { return nil }), ErrPoolClosed)
	assert.False(t, pool.TrySubmit(func(ctx context.Context) error { return nil }))
}

func TestPool_ShutdownTimeout(t *testing.T) {
	pool := NewPool(context.Background(), "test", 1, 1, 0, quietLogger())

	started := make(chan struct{})
	require.True(t, pool.TrySubmit(func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return nil
	}))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := pool.Shutdown(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
