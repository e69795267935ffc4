package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"chain-reactor/internal/timed"
)

// DefaultCallTimeout bounds every call when no timeout is configured.
const DefaultCallTimeout = 2 * time.Second

// ErrTimeout is matched by *TimeoutError.
var ErrTimeout = errors.New("rpc call timed out")

// TimeoutError reports a call that did not complete within the bound.
type TimeoutError struct {
	Method string
	After  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("rpc call %s timed out after %s", e.Method, e.After)
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// Observer is notified after every bounded call.
type Observer interface {
	ObserveCall(method string, elapsed time.Duration, err error)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(method string, elapsed time.Duration, err error)

func (f ObserverFunc) ObserveCall(method string, elapsed time.Duration, err error) {
	f(method, elapsed, err)
}

// Bounded wraps a Transport so that no call outlives a fixed timeout.
//
// A call that times out returns *TimeoutError immediately. The inner call
// keeps running detached from the caller's cancellation, bounded only by the
// inner transport's own limits, and whatever it produces later is discarded.
// Inner errors are returned unchanged. Subscribe is passed through unbounded.
// Bounded never retries.
type Bounded struct {
	inner    Transport
	timeout  time.Duration
	observer Observer
}

// BoundedOption configures Bounded.
type BoundedOption func(*Bounded)

// WithObserver reports each call's latency and outcome to o.
func WithObserver(o Observer) BoundedOption {
	return func(b *Bounded) {
		b.observer = o
	}
}

// NewBounded wraps inner. A non-positive timeout selects DefaultCallTimeout.
func NewBounded(inner Transport, timeout time.Duration, opts ...BoundedOption) *Bounded {
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	b := &Bounded{inner: inner, timeout: timeout}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Timeout returns the configured bound.
func (b *Bounded) Timeout() time.Duration {
	return b.timeout
}

type callOutcome struct {
	raw json.RawMessage
	err error
}

func (b *Bounded) Call(ctx context.Context, result any, method string, params ...any) error {
	err, elapsed := timed.Wrap(func(ctx context.Context) error {
		return b.call(ctx, result, method, params)
	})(ctx)
	if b.observer != nil {
		b.observer.ObserveCall(method, elapsed, err)
	}
	return err
}

func (b *Bounded) call(ctx context.Context, result any, method string, params []any) error {
	// Values of ctx survive; its cancellation does not reach the inner call.
	innerCtx := context.WithoutCancel(ctx)

	done := make(chan callOutcome, 1)
	go func() {
		// The inner call owns raw; result is only written after it wins.
		var raw json.RawMessage
		err := b.inner.Call(innerCtx, &raw, method, params...)
		done <- callOutcome{raw: raw, err: err}
	}()

	timer := time.NewTimer(b.timeout)
	defer timer.Stop()

	select {
	case out := <-done:
		if out.err != nil {
			return out.err
		}
		return decodeResult(out.raw, result)
	case <-timer.C:
		return &TimeoutError{Method: method, After: b.timeout}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Bounded) Subscribe(ctx context.Context, namespace string, params ...any) (Subscription, error) {
	return b.inner.Subscribe(ctx, namespace, params...)
}
