// Package subscription drains a publish/subscribe topic into a local queue so
// topics can be received from like point-to-point queues.
//
// An Adapter owns one background goroutine. Start blocks until the
// subscription is open; Stop asks the goroutine to finish and waits a bounded
// time for it. The goroutine only notices the request once its current
// receive returns, so IdleInterval bounds how quickly it reacts.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/replybridge/internal/runtime/buffer"
	rberrors "github.com/drblury/replybridge/internal/runtime/errors"
	"github.com/drblury/replybridge/internal/runtime/logging"
	"github.com/drblury/replybridge/internal/runtime/metrics"
)

const (
	DefaultIdleInterval    = time.Second
	DefaultPollingInterval = 100 * time.Millisecond
	DefaultStopTimeout     = 5 * time.Second
)

// Converter adapts an inbound event before it is buffered.
type Converter func(msg *message.Message) (*message.Message, error)

// Config describes one topic subscription.
type Config struct {
	Topic string
	// DurableName keeps the subscription alive across restarts where the
	// transport supports it. Empty means transient.
	DurableName string

	// IdleInterval bounds each blocking receive on the subscription.
	IdleInterval time.Duration
	// PollingInterval is the pause after a receive that returned nothing.
	PollingInterval time.Duration
	// StopTimeout bounds how long Stop waits for the goroutine.
	StopTimeout time.Duration

	Converter Converter
}

func (c Config) withDefaults() Config {
	if c.IdleInterval <= 0 {
		c.IdleInterval = DefaultIdleInterval
	}
	if c.PollingInterval <= 0 {
		c.PollingInterval = DefaultPollingInterval
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = DefaultStopTimeout
	}
	return c
}

// Option configures an Adapter.
type Option func(*Adapter)

func WithLogger(log logging.ServiceLogger) Option {
	return func(a *Adapter) { a.logger = log }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Adapter) { a.metrics = m }
}

// Adapter turns a topic subscription into a pollable queue.
type Adapter struct {
	cfg     Config
	source  Source
	queue   *buffer.Queue
	logger  logging.ServiceLogger
	metrics *metrics.Metrics

	state    atomic.Int32
	stop     chan struct{}
	stopOnce sync.Once
	started  chan struct{}
	done     chan struct{}

	errMu sync.Mutex
	err   error
}

// NewAdapter validates cfg and returns an adapter in the Created state.
func NewAdapter(source Source, cfg Config, opts ...Option) (*Adapter, error) {
	if source == nil {
		return nil, rberrors.ErrSubscriberRequired
	}
	if cfg.Topic == "" {
		return nil, rberrors.ErrTopicRequired
	}

	a := &Adapter{
		cfg:     cfg.withDefaults(),
		source:  source,
		queue:   buffer.NewQueue(),
		stop:    make(chan struct{}),
		started: make(chan struct{}),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = logging.OrNop(a.logger).With(logging.LogFields{
		"topic":        a.cfg.Topic,
		"durable_name": a.cfg.DurableName,
	})
	return a, nil
}

// Topic returns the subscribed topic.
func (a *Adapter) Topic() string { return a.cfg.Topic }

// State reports the current lifecycle state.
func (a *Adapter) State() State { return State(a.state.Load()) }

// Started is closed once the subscription is open and draining.
func (a *Adapter) Started() <-chan struct{} { return a.started }

// Done is closed when the background goroutine has exited.
func (a *Adapter) Done() <-chan struct{} { return a.done }

// Err returns the failure that moved the adapter to Failed, if any.
func (a *Adapter) Err() error {
	a.errMu.Lock()
	defer a.errMu.Unlock()
	return a.err
}

// Start opens the subscription in a new goroutine and waits for the outcome.
// A failed open returns a *SubscriptionStartError. ctx scopes the whole
// subscription: cancelling it later stops the adapter like Stop does.
func (a *Adapter) Start(ctx context.Context) error {
	if !a.state.CompareAndSwap(int32(Created), int32(Starting)) {
		return rberrors.ErrAlreadyStarted
	}
	a.logger.Debug("Starting topic adapter", nil)

	opened := make(chan error, 1)
	go a.run(ctx, opened)

	if err := <-opened; err != nil {
		return &rberrors.SubscriptionStartError{Topic: a.cfg.Topic, Err: err}
	}
	return nil
}

func (a *Adapter) run(ctx context.Context, opened chan<- error) {
	defer close(a.done)
	defer a.queue.Close()

	handle, err := a.source.Open(ctx, a.cfg.Topic, a.cfg.DurableName)
	if err != nil {
		if handle != nil {
			a.closeHandle(handle)
		}
		a.fail(err)
		opened <- err
		return
	}

	a.state.Store(int32(Running))
	a.metrics.SetRunning(a.cfg.Topic, true)
	close(a.started)
	opened <- nil
	a.logger.Info("Topic adapter running", nil)

	err = a.drain(ctx, handle)

	if err != nil {
		a.closeHandle(handle)
		a.fail(err)
		return
	}
	a.state.Store(int32(Stopping))
	a.closeHandle(handle)
	a.state.Store(int32(Stopped))
	a.metrics.SetRunning(a.cfg.Topic, false)
	a.logger.Info("Topic adapter stopped", nil)
}

// drain returns nil on a requested stop and the transport error otherwise.
func (a *Adapter) drain(ctx context.Context, handle Handle) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while draining: %v", r)
		}
	}()

	for {
		msg, err := handle.Receive(ctx, a.cfg.IdleInterval)
		if msg != nil {
			a.enqueue(msg)
		}
		if a.stopRequested(ctx) {
			return nil
		}
		if err != nil {
			return err
		}
		if msg == nil {
			a.pause(ctx)
		}
	}
}

func (a *Adapter) enqueue(msg *message.Message) {
	if a.cfg.Converter != nil {
		converted, err := a.cfg.Converter(msg)
		if err != nil {
			a.logger.Error("Dropping event that failed conversion", err, logging.LogFields{"message_uuid": msg.UUID})
			return
		}
		if converted == nil {
			return
		}
		msg = converted
	}

	if err := a.queue.Send(msg); err != nil {
		a.logger.Error("Failed to buffer event", err, logging.LogFields{"message_uuid": msg.UUID})
		return
	}
	a.metrics.RecordBuffered(a.cfg.Topic)
	a.logger.Trace("Buffered event", logging.LogFields{"message_uuid": msg.UUID})
}

func (a *Adapter) stopRequested(ctx context.Context) bool {
	select {
	case <-a.stop:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

func (a *Adapter) pause(ctx context.Context) {
	timer := time.NewTimer(a.cfg.PollingInterval)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-a.stop:
	case <-ctx.Done():
	}
}

func (a *Adapter) closeHandle(handle Handle) {
	if err := handle.Close(); err != nil {
		a.logger.Error("Failed to close subscription", err, nil)
	}
}

func (a *Adapter) fail(err error) {
	a.errMu.Lock()
	a.err = err
	a.errMu.Unlock()

	a.state.Store(int32(Failed))
	a.metrics.SetRunning(a.cfg.Topic, false)
	a.logger.Error("Topic adapter failed", err, nil)
}

// Stop asks the goroutine to finish and waits up to StopTimeout. On timeout it
// logs a warning and returns a *SubscriptionStopTimeoutError; the goroutine is
// left to finish on its own.
func (a *Adapter) Stop() error {
	if a.State() == Created {
		return rberrors.ErrNotStarted
	}
	a.stopOnce.Do(func() { close(a.stop) })

	timer := time.NewTimer(a.cfg.StopTimeout)
	defer timer.Stop()

	select {
	case <-a.done:
		return nil
	case <-timer.C:
		a.logger.Warn("Topic adapter did not stop in time", logging.LogFields{"timeout": a.cfg.StopTimeout.String()})
		return &rberrors.SubscriptionStopTimeoutError{Topic: a.cfg.Topic, Timeout: a.cfg.StopTimeout}
	}
}

// Receive returns the oldest buffered event, or (nil, nil) when none arrived
// within timeout.
func (a *Adapter) Receive(ctx context.Context, timeout time.Duration) (*message.Message, error) {
	return a.ReceiveSelect(ctx, nil, timeout)
}

// ReceiveSelect returns the oldest buffered event accepted by selector.
func (a *Adapter) ReceiveSelect(ctx context.Context, selector buffer.Selector, timeout time.Duration) (*message.Message, error) {
	msg, err := a.queue.ReceiveSelect(ctx, selector, timeout)
	if errors.Is(err, rberrors.ErrBufferClosed) {
		if cause := a.Err(); cause != nil {
			return nil, fmt.Errorf("%w: %w", rberrors.ErrSubscriptionClosed, cause)
		}
		return nil, rberrors.ErrSubscriptionClosed
	}
	return msg, err
}

// Buffered reports how many events wait to be received.
func (a *Adapter) Buffered() int {
	return a.queue.Len()
}
