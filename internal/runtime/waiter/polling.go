package waiter

import (
	"context"
	"time"
)

// Polling retries Find every polling interval. It works over any Finder,
// including stores filled by transports that cannot signal arrivals.
type Polling[V any] struct {
	finder Finder[V]
	opts   options
}

var _ Waiter[string] = (*Polling[string])(nil)

// NewPolling creates the default waiter.
func NewPolling[V any](finder Finder[V], opts ...Option) *Polling[V] {
	return &Polling[V]{finder: finder, opts: newOptions(finder, opts)}
}

// Receive looks key up at once, then sleeps min(pollingInterval, remaining)
// between lookups until the value appears or the timeout is used up.
func (p *Polling[V]) Receive(ctx context.Context, key string, timeout, pollingInterval time.Duration) (V, error) {
	var zero V
	if err := validKey(key); err != nil {
		return zero, err
	}
	timeout, pollingInterval = normalize(timeout, pollingInterval)

	ctx, r := p.opts.begin(ctx, key, timeout, pollingInterval)
	remaining := timeout
	for attempts := 1; ; attempts++ {
		if value, ok := p.finder.Find(key); ok {
			r.found(attempts)
			return value, nil
		}
		if remaining <= 0 {
			return zero, r.timedOut(attempts)
		}

		sleep := min(pollingInterval, remaining)
		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, r.cancelled(ctx, attempts)
		case <-timer.C:
		}
		remaining -= sleep
	}
}
