// Package loop runs every handler of a client session on one goroutine. Transport deliveries, throttle expiries
// and user commands are all posted as closures, so they interleave but never run concurrently.
package loop

import (
	"context"
	"errors"
)

var ErrStopped = errors.New("event loop stopped")

// Scheduler accepts work for the loop. Post reports false if the work will never run.
type Scheduler interface {
	Post(fn func()) bool
}

// Inline runs posted work immediately on the caller's goroutine. It is only correct when every caller is already
// on the same goroutine, as in tests driven by a fake clock.
type Inline struct{}

func (Inline) Post(fn func()) bool {
	fn()
	return true
}

type Loop struct {
	tasks chan func()
	done  chan struct{}
}

func New(buffer int) *Loop {
	return &Loop{
		tasks: make(chan func(), buffer),
		done:  make(chan struct{}),
	}
}

// Post queues fn. It blocks while the queue is full and gives up once the loop has stopped.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.tasks <- fn:
		return true
	case <-l.done:
		return false
	}
}

// Do runs fn on the loop and waits for its result.
func (l *Loop) Do(ctx context.Context, fn func() error) error {
	result := make(chan error, 1)
	if !l.Post(func() { result <- fn() }) {
		return ErrStopped
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		// The task may have completed just before the loop stopped.
		select {
		case err := <-result:
			return err
		default:
			return ErrStopped
		}
	}
}

// Run executes queued work until ctx is cancelled. It must be called exactly once.
func (l *Loop) Run(ctx context.Context) error {
	defer close(l.done)
	for {
		select {
		case fn := <-l.tasks:
			fn()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Done is closed once Run has returned.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}
