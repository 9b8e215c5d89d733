package engine

import (
	"context"
	"time"

	"perp-grid-bot-go/internal/exchange"

	"github.com/jpillora/backoff"
)

// retryPolicy bounds idempotent venue reads. Writes are never retried: a
// timed-out placement has an unknown outcome and the next open-orders fetch
// settles it.
type retryPolicy struct {
	attempts int
	timeout  time.Duration
	min      time.Duration
	max      time.Duration
}

// retryRead calls fn until it succeeds, returns a non-transient error, runs
// out of attempts or ctx ends. Each attempt gets its own timeout.
func retryRead[T any](ctx context.Context, p retryPolicy, fn func(context.Context) (T, error)) (T, error) {
	b := &backoff.Backoff{Min: p.min, Max: p.max, Factor: 2, Jitter: true}
	attempts := p.attempts
	if attempts < 1 {
		attempts = 1
	}

	var zero T
	var err error
	for i := 0; i < attempts; i++ {
		var v T
		v, err = callWithTimeout(ctx, p.timeout, fn)
		if err == nil {
			return v, nil
		}
		if !exchange.IsTransient(err) || i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(b.Duration()):
		}
	}
	return zero, err
}

func callWithTimeout[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(cctx)
}
