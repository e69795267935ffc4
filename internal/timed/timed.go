// Package timed attaches latency information to operations and streams
// without changing their results, errors or ordering.
package timed

import (
	"context"
	"time"
)

// Timed pairs a successful value with the time it took to produce.
type Timed[T any] struct {
	Value   T
	Elapsed time.Duration
}

// Stamped pairs a stream item with the time it was emitted.
type Stamped[T any] struct {
	Item T
	At   time.Time
}

// now is replaced in tests.
var now = time.Now

// Wrap returns an operation that reports how long op took.
// The clock starts when the returned function is invoked, so time spent
// between wrapping and running is not counted.
func Wrap[T any](op func(ctx context.Context) T) func(ctx context.Context) (T, time.Duration) {
	return func(ctx context.Context) (T, time.Duration) {
		start := now()
		v := op(ctx)
		return v, now().Sub(start)
	}
}

// WrapResult is Wrap for fallible operations. The duration is only attached
// to the success branch; errors are returned untouched.
func WrapResult[T any](op func(ctx context.Context) (T, error)) func(ctx context.Context) (Timed[T], error) {
	return func(ctx context.Context) (Timed[T], error) {
		start := now()
		v, err := op(ctx)
		if err != nil {
			return Timed[T]{}, err
		}
		return Timed[T]{Value: v, Elapsed: now().Sub(start)}, nil
	}
}

// Run measures a single fallible call. Shorthand for WrapResult(op)(ctx).
func Run[T any](ctx context.Context, op func(ctx context.Context) (T, error)) (Timed[T], error) {
	return WrapResult(op)(ctx)
}

// Stream stamps every item read from in with its emission time.
// The returned channel is closed when in is closed or ctx is done.
func Stream[T any](ctx context.Context, in <-chan T) <-chan Stamped[T] {
	out := make(chan Stamped[T])
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case item, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- Stamped[T]{Item: item, At: now()}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}
