package async

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrPoolClosed is returned when submitting to a pool that has been shut down.
var ErrPoolClosed = errors.New("worker pool shut down")

// Task is a unit of work. It receives a context bounded by the pool's
// per-task timeout.
type Task func(ctx context.Context) error

// Pool runs tasks on a fixed set of workers fed from a bounded queue.
// Task errors and panics are logged, never propagated to the submitter.
type Pool struct {
	name    string
	timeout time.Duration
	log     *logrus.Logger

	tasks  chan Task
	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	closed bool

	failed  atomic.Int64
	dropped atomic.Int64
}

// NewPool starts workers goroutines draining a queue of queueSize tasks.
func NewPool(ctx context.Context, name string, workers, queueSize int, timeout time.Duration, log *logrus.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	if log == nil {
		log = logrus.New()
	}

	ctx, cancel := context.WithCancel(ctx)
	p := &Pool{
		name:    name,
		timeout: timeout,
		log:     log,
		tasks:   make(chan Task, queueSize),
		done:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.worker(id)
		}(i)
	}
	go func() {
		wg.Wait()
		close(p.done)
	}()

	return p
}

// TrySubmit queues task without blocking. It reports false, and counts a
// drop, when the queue is full or the pool is shut down.
func (p *Pool) TrySubmit(task Task) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		p.dropped.Add(1)
		return false
	}
	select {
	case p.tasks <- task:
		return true
	default:
		p.dropped.Add(1)
		return false
	}
}

// Submit queues task, waiting for room until ctx is done.
func (p *Pool) Submit(ctx context.Context, task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.tasks <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dropped returns how many tasks TrySubmit turned away.
func (p *Pool) Dropped() int64 { return p.dropped.Load() }

// Failed returns how many tasks returned an error or panicked.
func (p *Pool) Failed() int64 { return p.failed.Load() }

// Shutdown stops accepting tasks and waits for queued ones to finish. When
// ctx ends first the remaining tasks are cancelled.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.tasks)
	}
	p.mu.Unlock()

	select {
	case <-p.done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		return fmt.Errorf("%s pool shutdown: %w", p.name, ctx.Err())
	}
}

func (p *Pool) worker(id int) {
	for task := range p.tasks {
		p.run(id, task)
	}
}

func (p *Pool) run(id int, task Task) {
	ctx := p.ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(p.ctx, p.timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			p.failed.Add(1)
			p.log.WithFields(logrus.Fields{
				"pool":   p.name,
				"worker": id,
				"panic":  r,
				"stack":  string(debug.Stack()),
			}).Error("Task panicked")
		}
	}()

	if err := task(ctx); err != nil {
		p.failed.Add(1)
		p.log.WithError(err).WithField("pool", p.name).Warn("Task failed")
	}
}
