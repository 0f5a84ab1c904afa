// Package task provides a future that settles exactly once. Host operations
// that may complete later return a Task; operations that finished
// immediately return an already-resolved one, so callers have one path.
package task

import (
	"context"
	"sync"
)

// Task is the result of an operation that settles exactly once.
type Task struct {
	done chan struct{}
	once sync.Once
	err  error
}

// New returns a pending task.
func New() *Task {
	return &Task{done: make(chan struct{})}
}

// Resolved returns a task that has already settled with err.
func Resolved(err error) *Task {
	t := New()
	t.Resolve(err)
	return t
}

// Go runs fn on a new goroutine and settles the task with its result.
func Go(fn func() error) *Task {
	t := New()
	go func() {
		t.Resolve(fn())
	}()
	return t
}

// Resolve settles the task. Only the first call has an effect; it reports
// whether this call was the one that settled it.
func (t *Task) Resolve(err error) bool {
	settled := false
	t.once.Do(func() {
		t.err = err
		close(t.done)
		settled = true
	})
	return settled
}

// Done is closed once the task settles.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Settled reports whether the task has resolved without blocking.
func (t *Task) Settled() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Err returns the settled error. It is nil while the task is pending.
func (t *Task) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// Wait blocks until the task settles or ctx is done.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Then calls fn after t settles and returns a task that settles with t's
// error once fn has returned. fn runs inline when t is already settled.
func (t *Task) Then(fn func(err error)) *Task {
	next := New()
	finish := func() {
		fn(t.err)
		next.Resolve(t.err)
	}
	if t.Settled() {
		finish()
		return next
	}
	go func() {
		<-t.done
		finish()
	}()
	return next
}
