package flow

import (
	"context"
	"sync"
)

// Future is a write-once result that becomes available asynchronously.
// The first call to Complete or Fail wins; later calls are ignored.
type Future[T any] struct {
	once  sync.Once
	done  chan struct{}
	value T
	err   error
}

// NewFuture creates an incomplete future.
func NewFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// FailedFuture returns a future that is already failed with err.
func FailedFuture[T any](err error) *Future[T] {
	f := NewFuture[T]()
	f.Fail(err)
	return f
}

// Complete resolves the future with v.
// It reports whether this call resolved the future.
func (f *Future[T]) Complete(v T) bool {
	resolved := false
	f.once.Do(func() {
		f.value = v
		resolved = true
		close(f.done)
	})
	return resolved
}

// Fail resolves the future with err.
// It reports whether this call resolved the future.
func (f *Future[T]) Fail(err error) bool {
	resolved := false
	f.once.Do(func() {
		f.err = err
		resolved = true
		close(f.done)
	})
	return resolved
}

// Done returns a channel that is closed once the future is resolved.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Get blocks until the future is resolved or ctx is done.
func (f *Future[T]) Get(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// TryGet returns the value without blocking.
// ok is false while the future is unresolved or if it failed.
func (f *Future[T]) TryGet() (v T, ok bool) {
	select {
	case <-f.done:
		if f.err != nil {
			return v, false
		}
		return f.value, true
	default:
		return v, false
	}
}

// Err returns the failure cause, or nil if the future is unresolved or succeeded.
func (f *Future[T]) Err() error {
	select {
	case <-f.done:
		return f.err
	default:
		return nil
	}
}
