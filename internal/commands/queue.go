// Package commands applies persistence side effects in the background. Callers
// update their local state first and enqueue the write; a write that keeps failing
// produces a notification for the user and is never rolled back.
package commands

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"

	"callscript/internal/observability"
)

var ErrClosed = errors.New("command queue closed")

type Command struct {
	Name   string
	UserID string
	Run    func(ctx context.Context) error
	// Done, when set, is called after the final attempt with its error.
	Done func(err error)
	// Failure is the message shown to the user when Run keeps failing.
	Failure string
}

type Option func(*Queue)

func WithAttempts(n uint) Option {
	return func(q *Queue) {
		if n > 0 {
			q.attempts = n
		}
	}
}

func WithDelay(d time.Duration) Option {
	return func(q *Queue) { q.delay = d }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(q *Queue) { q.metrics = m }
}

// Queue runs commands one at a time in the order they were enqueued.
type Queue struct {
	notifier Notifier
	logger   *slog.Logger
	metrics  *observability.Metrics
	attempts uint
	delay    time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	cond     *sync.Cond
	items    []Command
	inflight int
	closed   bool
	done     chan struct{}
}

func NewQueue(notifier Notifier, logger *slog.Logger, opts ...Option) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		notifier: notifier,
		logger:   logger,
		attempts: 3,
		delay:    100 * time.Millisecond,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	for _, opt := range opts {
		opt(q)
	}
	go q.work()
	return q
}

// Enqueue schedules cmd after every command already queued. It never blocks on
// the command itself.
func (q *Queue) Enqueue(cmd Command) error {
	if cmd.Run == nil {
		return errors.New("command run func is required")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	q.items = append(q.items, cmd)
	q.inflight++
	q.cond.Broadcast()
	return nil
}

// Wait blocks until every enqueued command has finished.
func (q *Queue) Wait() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.inflight > 0 {
		q.cond.Wait()
	}
}

// Close stops accepting commands, drains the ones already queued and stops the worker.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.done
		return
	}
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
	<-q.done
	q.cancel()
}

func (q *Queue) work() {
	defer close(q.done)
	for {
		q.mu.Lock()
		for len(q.items) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.items) == 0 {
			q.mu.Unlock()
			return
		}
		cmd := q.items[0]
		q.items = q.items[1:]
		q.mu.Unlock()

		q.run(cmd)

		q.mu.Lock()
		q.inflight--
		q.cond.Broadcast()
		q.mu.Unlock()
	}
}

func (q *Queue) run(cmd Command) {
	err := retry.Do(
		func() error { return cmd.Run(q.ctx) },
		retry.Context(q.ctx),
		retry.Attempts(q.attempts),
		retry.Delay(q.delay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		q.logger.Warn("command failed", "command", cmd.Name, "user_id", cmd.UserID, "error", err)
		q.metrics.RecordCommandFailure(q.ctx, cmd.Name)
		if q.notifier != nil && cmd.UserID != "" {
			msg := cmd.Failure
			if msg == "" {
				msg = "Your change could not be saved. It will stay on screen but may be lost on reload."
			}
			q.notifier.Notify(cmd.UserID, Notification{
				Level:   LevelError,
				Command: cmd.Name,
				Message: msg,
			})
		}
	}
	if cmd.Done != nil {
		cmd.Done(err)
	}
}
