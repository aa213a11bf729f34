// Package endpoint builds synchronous request/reply endpoints on top of
// asynchronous transports.
//
// A SyncProducer publishes a request carrying correlation_id and reply_to
// headers, then blocks until a reply with the same correlation_id arrives on
// its private reply destination. A SyncConsumer receives requests, remembers
// where each one wants its reply and publishes the reply there.
package endpoint

import (
	"time"

	"github.com/drblury/replybridge/internal/runtime/correlation"
	"github.com/drblury/replybridge/internal/runtime/logging"
	"github.com/drblury/replybridge/internal/runtime/metrics"
	"github.com/drblury/replybridge/internal/runtime/subscription"
	"github.com/drblury/replybridge/internal/runtime/waiter"
)

// DefaultTimeout bounds a synchronous receive when Config.Timeout is unset.
const DefaultTimeout = 5 * time.Second

// Config describes one endpoint.
type Config struct {
	// Name identifies the endpoint in logs and in the key registry. It
	// defaults to Destination.
	Name string
	// Destination is where a producer sends requests and a consumer reads them.
	Destination string
	// ReplyDestination is where a producer expects replies. A private
	// "replies.<id>" topic is generated when empty.
	ReplyDestination string

	Timeout         time.Duration
	PollingInterval time.Duration

	// Correlator derives correlation keys. Defaults to the message identity.
	Correlator correlation.Correlator

	// DurableName is used for the subscription the endpoint reads from.
	DurableName string

	// Subscription tuning, see subscription.Config.
	IdleInterval                time.Duration
	SubscriptionPollingInterval time.Duration
	StopTimeout                 time.Duration
}

func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = c.Destination
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.PollingInterval <= 0 {
		c.PollingInterval = waiter.DefaultPollingInterval
	}
	if c.Correlator == nil {
		c.Correlator = correlation.IdentityCorrelator{}
	}
	return c
}

func (c Config) subscription(topic string) subscription.Config {
	return subscription.Config{
		Topic:           topic,
		DurableName:     c.DurableName,
		IdleInterval:    c.IdleInterval,
		PollingInterval: c.SubscriptionPollingInterval,
		StopTimeout:     c.StopTimeout,
	}
}

type options struct {
	logger    logging.ServiceLogger
	metrics   *metrics.Metrics
	registry  *correlation.KeyRegistry
	notifying bool
}

// Option configures an endpoint.
type Option func(*options)

func WithLogger(log logging.ServiceLogger) Option {
	return func(o *options) { o.logger = log }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithKeyRegistry shares a key registry between endpoints. Each endpoint gets
// its own registry otherwise.
func WithKeyRegistry(registry *correlation.KeyRegistry) Option {
	return func(o *options) { o.registry = registry }
}

// WithNotifyingWaiter wakes receivers as soon as a reply is stored instead of
// polling the reply store.
func WithNotifyingWaiter() Option {
	return func(o *options) { o.notifying = true }
}

func newOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	o.logger = logging.OrNop(o.logger)
	if o.registry == nil {
		o.registry = correlation.NewKeyRegistry()
	}
	return o
}

func (o options) storeOptions() []correlation.StoreOption {
	return []correlation.StoreOption{
		correlation.WithStoreLogger(o.logger),
		correlation.WithStoreMetrics(o.metrics),
	}
}
