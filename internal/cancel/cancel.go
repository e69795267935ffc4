// Package cancel provides a one-shot broadcast shutdown signal that can be
// raced against any pending operation.
package cancel

import (
	"context"
	"errors"
	"sync"
)

// ErrCancelled is returned by Race when the token fires before the operation completes.
var ErrCancelled = errors.New("cancelled")

// Token observes a shutdown signal. Tokens are safe for concurrent use and
// may be shared freely; every holder sees the same state.
type Token struct {
	done chan struct{}
}

// Trigger fires the signal observed by its Token.
type Trigger struct {
	once sync.Once
	done chan struct{}
}

// New returns a connected token and trigger.
func New() (*Token, *Trigger) {
	done := make(chan struct{})
	return &Token{done: done}, &Trigger{done: done}
}

// Fire broadcasts the signal. Calling Fire more than once is a no-op.
func (t *Trigger) Fire() {
	t.once.Do(func() { close(t.done) })
}

// Done returns a channel closed once the signal fires.
func (t *Token) Done() <-chan struct{} {
	return t.done
}

// Fired reports whether the signal has fired.
func (t *Token) Fired() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the signal fires or ctx is done.
func (t *Token) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Context derives a context from parent that is also cancelled when the token fires.
func (t *Token) Context(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(parent)
	go func() {
		select {
		case <-t.done:
			cancel(ErrCancelled)
		case <-ctx.Done():
		}
	}()
	return ctx, func() { cancel(context.Canceled) }
}

// Race runs op and returns its result unless tok fires first, in which case
// it returns ErrCancelled. The abandoned op keeps running with a cancelled
// context; its result is discarded. If op finishes but the token has already
// fired, cancellation wins. A panic in op is re-raised in the caller.
func Race[T any](ctx context.Context, tok *Token, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if tok.Fired() {
		return zero, ErrCancelled
	}

	opCtx, stop := tok.Context(ctx)
	defer stop()

	type result struct {
		v     T
		err   error
		panic any
	}
	ch := make(chan result, 1)
	go func() {
		var r result
		defer func() {
			if p := recover(); p != nil {
				r.panic = p
			}
			ch <- r
		}()
		r.v, r.err = op(opCtx)
	}()

	select {
	case <-tok.Done():
		return zero, ErrCancelled
	case r := <-ch:
		if r.panic != nil {
			// Re-raise on the caller's goroutine so its supervisor sees it.
			panic(r.panic)
		}
		if tok.Fired() {
			return zero, ErrCancelled
		}
		return r.v, r.err
	}
}
