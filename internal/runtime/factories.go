package runtime

import (
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/replybridge/internal/runtime/correlation"
	"github.com/drblury/replybridge/internal/runtime/endpoint"
	"github.com/drblury/replybridge/internal/runtime/subscription"
)

// Source opens subscriptions on the service transport.
func (s *Service) Source() subscription.Source {
	return subscription.NewWatermillSource(s.subscribers, s.capabilities, s.Logger)
}

// EndpointConfig fills the zero timing fields and the correlator of cfg from
// the service configuration.
func (s *Service) EndpointConfig(cfg endpoint.Config) endpoint.Config {
	if cfg.Timeout == 0 {
		cfg.Timeout = s.Conf.ReplyTimeout
	}
	if cfg.PollingInterval == 0 {
		cfg.PollingInterval = s.Conf.PollingInterval
	}
	if cfg.IdleInterval == 0 {
		cfg.IdleInterval = s.Conf.SubscriptionIdleInterval
	}
	if cfg.SubscriptionPollingInterval == 0 {
		cfg.SubscriptionPollingInterval = s.Conf.SubscriptionPollingInterval
	}
	if cfg.StopTimeout == 0 {
		cfg.StopTimeout = s.Conf.SubscriptionStopTimeout
	}
	if cfg.Correlator == nil {
		cfg.Correlator = s.correlator
	}
	return cfg
}

// endpointOptions leaves every endpoint with its own key registry. Pass
// endpoint.WithKeyRegistry(s.KeyRegistry()) to share one.
func (s *Service) endpointOptions(opts []endpoint.Option) []endpoint.Option {
	return append([]endpoint.Option{
		endpoint.WithLogger(s.Logger),
		endpoint.WithMetrics(s.metrics),
	}, opts...)
}

// NewSyncProducer creates a producer on the service transport. Its private
// reply destination is never durable.
func (s *Service) NewSyncProducer(cfg endpoint.Config, opts ...endpoint.Option) (*endpoint.SyncProducer, error) {
	return endpoint.NewSyncProducer(s.publisher, s.Source(), s.EndpointConfig(cfg), s.endpointOptions(opts)...)
}

// NewSyncConsumer creates a consumer on the service transport. It subscribes
// under Conf.DurableSubscriptionName unless cfg names its own.
func (s *Service) NewSyncConsumer(cfg endpoint.Config, opts ...endpoint.Option) (*endpoint.SyncConsumer, error) {
	if cfg.DurableName == "" {
		cfg.DurableName = s.Conf.DurableSubscriptionName
	}
	return endpoint.NewSyncConsumer(s.publisher, s.Source(), s.EndpointConfig(cfg), s.endpointOptions(opts)...)
}

// NewTopicAdapter creates an unstarted adapter that buffers topic.
func (s *Service) NewTopicAdapter(topic string, opts ...subscription.Option) (*subscription.Adapter, error) {
	cfg := subscription.Config{
		Topic:           topic,
		DurableName:     s.Conf.DurableSubscriptionName,
		IdleInterval:    s.Conf.SubscriptionIdleInterval,
		PollingInterval: s.Conf.SubscriptionPollingInterval,
		StopTimeout:     s.Conf.SubscriptionStopTimeout,
	}
	return subscription.NewAdapter(s.Source(), cfg, append([]subscription.Option{
		subscription.WithLogger(s.Logger),
		subscription.WithMetrics(s.metrics),
	}, opts...)...)
}

// NewReplyStore creates a correlation store for replies that reports to the
// service logger and metrics.
func (s *Service) NewReplyStore(name string) *correlation.Store[*message.Message] {
	return correlation.NewStore[*message.Message](name, s.storeOptions()...)
}

// NewReplyAddressTracker creates a tracker keyed by the service correlator.
func (s *Service) NewReplyAddressTracker() *correlation.ReplyAddressTracker {
	return correlation.NewReplyAddressTracker(s.correlator, s.storeOptions()...)
}

func (s *Service) storeOptions() []correlation.StoreOption {
	return []correlation.StoreOption{
		correlation.WithStoreLogger(s.Logger),
		correlation.WithStoreMetrics(s.metrics),
	}
}
