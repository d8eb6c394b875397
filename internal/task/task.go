package task

import (
	"context"
	"time"
)

// Task is the awaitable result of work started in the background.
type Task[T any] struct {
	done chan struct{}
	val  T
	err  error
}

// Go runs fn in its own goroutine.
func Go[T any](ctx context.Context, fn func(ctx context.Context) (T, error)) *Task[T] {
	t := &Task[T]{done: make(chan struct{})}
	go func() {
		defer close(t.done)
		t.val, t.err = fn(ctx)
	}()
	return t
}

// Resolved returns a task that is already finished.
func Resolved[T any](v T, err error) *Task[T] {
	t := &Task[T]{done: make(chan struct{}), val: v, err: err}
	close(t.done)
	return t
}

func (t *Task[T]) Done() <-chan struct{} { return t.done }

// Wait blocks until the task finishes or ctx is done. Giving up on ctx does
// not stop the task.
func (t *Task[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-t.done:
		return t.val, t.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Sleep waits d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
