package syncqueue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ══════════════════════════════════════════════════════════════════════════════
// SERIAL QUEUE
// ══════════════════════════════════════════════════════════════════════════════

// ErrQueueClosed is returned for tasks submitted after Close.
var ErrQueueClosed = errors.New("syncqueue: queue is closed")

// SerialQueue executes tasks strictly one at a time in submission order.
// Task N+1 does not start until task N has settled (success or terminal
// failure). This is the pipeline's only write-path synchronization
// primitive: it bounds the rate-limited store to exactly one in-flight
// write and prevents near-simultaneous completions from racing or
// arriving out of order.
type SerialQueue struct {
	tasks  chan *task
	logger *slog.Logger

	closeOnce sync.Once
	closing   chan struct{}
	drained   chan struct{}

	// mu serializes enqueue so "Do called before" implies "executed
	// before", and guards the accepting flag.
	mu        sync.Mutex
	accepting bool
}

type task struct {
	ctx  context.Context
	run  func(ctx context.Context) error
	done chan error
}

// Config contains configuration for the SerialQueue.
type Config struct {
	// Depth is the number of tasks that may wait behind the in-flight one
	// before Do blocks the caller.
	Depth int

	// Logger for structured logging.
	Logger *slog.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{Depth: 64}
}

// NewSerialQueue creates the queue and starts its single worker goroutine.
// The worker runs until Close.
func NewSerialQueue(config Config) *SerialQueue {
	if config.Depth <= 0 {
		config.Depth = 64
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	q := &SerialQueue{
		tasks:     make(chan *task, config.Depth),
		logger:    config.Logger,
		closing:   make(chan struct{}),
		drained:   make(chan struct{}),
		accepting: true,
	}
	go q.worker()
	return q
}

// Do submits fn and blocks until it has settled through the queue,
// returning fn's error. Submission order between callers is the order of
// their Do calls; results are delivered to each caller individually.
func (q *SerialQueue) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	t := &task{ctx: ctx, run: fn, done: make(chan error, 1)}

	q.mu.Lock()
	if !q.accepting {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	// The send happens under the lock. If the queue is full this blocks
	// until the worker frees a slot; the worker never stops draining
	// before Close, so this cannot deadlock.
	select {
	case q.tasks <- t:
		q.mu.Unlock()
	case <-ctx.Done():
		q.mu.Unlock()
		return ctx.Err()
	}

	select {
	case err := <-t.done:
		return err
	case <-ctx.Done():
		// The task may still run; the caller just stops waiting for it.
		return ctx.Err()
	}
}

// Close stops accepting tasks, lets already-queued tasks settle, then
// stops the worker. Safe to call more than once.
func (q *SerialQueue) Close() {
	q.closeOnce.Do(func() {
		q.mu.Lock()
		q.accepting = false
		q.mu.Unlock()
		close(q.closing)
		<-q.drained
	})
}

// worker is the single executor. One task at a time, in channel order.
func (q *SerialQueue) worker() {
	defer close(q.drained)
	for {
		select {
		case t := <-q.tasks:
			q.execute(t)
		case <-q.closing:
			// No new senders can enter; settle what is already queued.
			for {
				select {
				case t := <-q.tasks:
					q.execute(t)
				default:
					return
				}
			}
		}
	}
}

func (q *SerialQueue) execute(t *task) {
	if err := t.ctx.Err(); err != nil {
		t.done <- err
		return
	}
	err := t.run(t.ctx)
	if err != nil {
		q.logger.Debug("queued task settled with error", "error", err)
	}
	t.done <- err
}
