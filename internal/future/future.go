// Package future provides a single-assignment result that many goroutines can wait on.
package future

import (
	"context"
	"sync"
)

// Future holds the outcome of an asynchronous operation.
// It is completed exactly once; later completions are ignored.
type Future[T any] struct {
	once  sync.Once
	done  chan struct{}
	value T
	err   error
}

// New returns an incomplete Future.
func New[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Resolved returns a Future already completed with v.
func Resolved[T any](v T) *Future[T] {
	f := New[T]()
	f.Resolve(v)
	return f
}

// Failed returns a Future already completed with err.
func Failed[T any](err error) *Future[T] {
	f := New[T]()
	f.Reject(err)
	return f
}

// Resolve completes the future with a value. It reports whether this call completed it.
func (f *Future[T]) Resolve(v T) bool {
	return f.Complete(v, nil)
}

// Reject completes the future with an error. It reports whether this call completed it.
func (f *Future[T]) Reject(err error) bool {
	var zero T
	return f.Complete(zero, err)
}

// Complete sets value and error together.
func (f *Future[T]) Complete(v T, err error) bool {
	completed := false
	f.once.Do(func() {
		f.value = v
		f.err = err
		completed = true
		close(f.done)
	})
	return completed
}

// Done is closed once the future completes.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Await blocks until the future completes or ctx is done.
// A cancelled ctx only stops the wait; the underlying operation keeps running.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Result returns the outcome without blocking. ok is false while the future is incomplete.
func (f *Future[T]) Result() (v T, err error, ok bool) {
	select {
	case <-f.done:
		return f.value, f.err, true
	default:
		var zero T
		return zero, nil, false
	}
}
