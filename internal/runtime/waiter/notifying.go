package waiter

import (
	"context"
	"time"
)

// Notifying sleeps until the finder reports a change. The polling interval
// still bounds each sleep so values stored behind the finder's back are
// picked up.
type Notifying[V any] struct {
	finder NotifyingFinder[V]
	opts   options
}

var _ Waiter[string] = (*Notifying[string])(nil)

// NewNotifying creates an event-driven waiter.
func NewNotifying[V any](finder NotifyingFinder[V], opts ...Option) *Notifying[V] {
	return &Notifying[V]{finder: finder, opts: newOptions(finder, opts)}
}

func (n *Notifying[V]) Receive(ctx context.Context, key string, timeout, pollingInterval time.Duration) (V, error) {
	var zero V
	if err := validKey(key); err != nil {
		return zero, err
	}
	timeout, pollingInterval = normalize(timeout, pollingInterval)

	ctx, r := n.opts.begin(ctx, key, timeout, pollingInterval)
	deadline := r.start.Add(timeout)
	for attempts := 1; ; attempts++ {
		// Subscribe before the lookup so a store in between is not missed.
		changed := n.finder.Changed()
		if value, ok := n.finder.Find(key); ok {
			r.found(attempts)
			return value, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return zero, r.timedOut(attempts)
		}

		timer := time.NewTimer(min(pollingInterval, remaining))
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, r.cancelled(ctx, attempts)
		case <-changed:
			timer.Stop()
		case <-timer.C:
		}
	}
}
