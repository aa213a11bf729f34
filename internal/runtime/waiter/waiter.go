// Package waiter turns a correlation store into a blocking, timeout-bounded
// receive.
//
// Polling looks the key up, sleeps for the polling interval and looks again.
// Notifying wakes up as soon as the store reports a change. Both honour
// context cancellation and return *errors.CorrelationTimeoutError when the
// timeout elapses.
package waiter

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	rberrors "github.com/drblury/replybridge/internal/runtime/errors"
	"github.com/drblury/replybridge/internal/runtime/logging"
	"github.com/drblury/replybridge/internal/runtime/metrics"
)

// DefaultPollingInterval applies when a receive passes a non-positive interval.
const DefaultPollingInterval = 500 * time.Millisecond

const spanName = "correlation.receive"

// Finder is the destructive lookup a waiter polls.
type Finder[V any] interface {
	Find(key string) (V, bool)
}

// NotifyingFinder also announces new values.
type NotifyingFinder[V any] interface {
	Finder[V]
	Changed() <-chan struct{}
}

// Waiter blocks until a value for key is found, the timeout elapses or ctx is
// done. A zero timeout performs exactly one lookup.
type Waiter[V any] interface {
	Receive(ctx context.Context, key string, timeout, pollingInterval time.Duration) (V, error)
}

type options struct {
	name        string
	destination string
	logger      logging.ServiceLogger
	metrics     *metrics.Metrics
	tracer      trace.Tracer
}

// Option configures a waiter.
type Option func(*options)

// WithName labels spans, logs and metrics. Stores that expose Name() label
// themselves.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithDestination names where replies are expected; timeout errors carry it.
func WithDestination(destination string) Option {
	return func(o *options) { o.destination = destination }
}

func WithLogger(log logging.ServiceLogger) Option {
	return func(o *options) { o.logger = log }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

func WithTracer(tracer trace.Tracer) Option {
	return func(o *options) { o.tracer = tracer }
}

func newOptions(finder any, opts []Option) options {
	o := options{}
	if named, ok := finder.(interface{ Name() string }); ok {
		o.name = named.Name()
	}
	for _, opt := range opts {
		opt(&o)
	}
	o.logger = logging.OrNop(o.logger)
	if o.tracer == nil {
		o.tracer = otel.Tracer("github.com/drblury/replybridge/waiter")
	}
	return o
}

func normalize(timeout, pollingInterval time.Duration) (time.Duration, time.Duration) {
	if timeout < 0 {
		timeout = 0
	}
	if pollingInterval <= 0 {
		pollingInterval = DefaultPollingInterval
	}
	return timeout, pollingInterval
}

// receive is the state of one Receive call.
type receive struct {
	o       *options
	key     string
	timeout time.Duration
	start   time.Time
	span    trace.Span
}

func (o *options) begin(ctx context.Context, key string, timeout, pollingInterval time.Duration) (context.Context, *receive) {
	ctx, span := o.tracer.Start(ctx, spanName, trace.WithAttributes(
		attribute.String("correlation.key", key),
		attribute.String("correlation.store", o.name),
		attribute.Int64("correlation.timeout_ms", timeout.Milliseconds()),
		attribute.Int64("correlation.polling_interval_ms", pollingInterval.Milliseconds()),
	))
	return ctx, &receive{o: o, key: key, timeout: timeout, start: time.Now(), span: span}
}

func (r *receive) found(attempts int) {
	elapsed := time.Since(r.start)
	r.span.SetAttributes(attribute.Int("correlation.attempts", attempts))
	r.span.End()
	r.o.metrics.RecordWait(r.o.name, metrics.OutcomeFound, elapsed)
	r.o.logger.Debug("Correlated value received", logging.LogFields{
		"key":      r.key,
		"store":    r.o.name,
		"elapsed":  elapsed.String(),
		"attempts": attempts,
	})
}

func (r *receive) timedOut(attempts int) error {
	elapsed := time.Since(r.start)
	err := &rberrors.CorrelationTimeoutError{
		Key:         r.key,
		Timeout:     r.timeout,
		Elapsed:     elapsed,
		Destination: r.o.destination,
	}
	r.fail(err, attempts)
	r.o.metrics.RecordWait(r.o.name, metrics.OutcomeTimeout, elapsed)
	return err
}

func (r *receive) cancelled(ctx context.Context, attempts int) error {
	err := fmt.Errorf("receive for correlation key %q aborted: %w", r.key, ctx.Err())
	r.fail(err, attempts)
	r.o.metrics.RecordWait(r.o.name, metrics.OutcomeCancelled, time.Since(r.start))
	return err
}

func (r *receive) fail(err error, attempts int) {
	r.span.SetAttributes(attribute.Int("correlation.attempts", attempts))
	r.span.RecordError(err)
	r.span.SetStatus(codes.Error, err.Error())
	r.span.End()
}

func validKey(key string) error {
	if key == "" {
		return rberrors.ErrKeyRequired
	}
	return nil
}
