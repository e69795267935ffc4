package transport

import (
	"context"

	"golang.org/x/time/rate"
)

// Limited applies a token-bucket rate limit to calls. Subscriptions are not limited.
type Limited struct {
	inner   Transport
	limiter *rate.Limiter
}

// NewLimited allows rps calls per second with a burst capacity of burst.
func NewLimited(inner Transport, rps float64, burst int) *Limited {
	if burst < 1 {
		burst = 1
	}
	return &Limited{inner: inner, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

func (l *Limited) Call(ctx context.Context, result any, method string, params ...any) error {
	if err := l.wait(ctx); err != nil {
		return err
	}
	return l.inner.Call(ctx, result, method, params...)
}

// wait blocks for one token. It fails early when ctx's deadline comes before
// the token would.
func (l *Limited) wait(ctx context.Context) error {
	return l.limiter.Wait(ctx)
}

func (l *Limited) Subscribe(ctx context.Context, namespace string, params ...any) (Subscription, error) {
	return l.inner.Subscribe(ctx, namespace, params...)
}
