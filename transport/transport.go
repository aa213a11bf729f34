// Package transport defines the core interfaces and types for replybridge transports.
// Each transport implementation (kafka, rabbitmq, aws, etc.) lives in its own
// sub-package and registers itself with the transport registry.
package transport

import (
	"context"
	"errors"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// Transport combines a publisher and subscriber pair produced by a builder.
//
// NewSubscriber is optional. Transports that can scope a subscription to a
// durable name (consumer group, durable queue, durable consumer) set it so
// each subscription adapter gets a subscriber of its own.
type Transport struct {
	Publisher     message.Publisher
	Subscriber    message.Subscriber
	NewSubscriber SubscriberFactory
}

// SubscriberOptions carries per-subscription settings into a SubscriberFactory.
type SubscriberOptions struct {
	// DurableName, when set, asks the transport for a subscription that
	// survives restarts. Transports without durable support ignore it.
	DurableName string
}

// SubscriberFactory returns a subscriber owned by the caller, who must close it.
type SubscriberFactory func(opts SubscriberOptions) (message.Subscriber, error)

// Subscribers returns the factory subscription adapters should use. When the
// transport has no dedicated factory the shared Subscriber is handed out
// behind a Close that leaves it open.
func (t Transport) Subscribers() SubscriberFactory {
	if t.NewSubscriber != nil {
		return t.NewSubscriber
	}
	shared := t.Subscriber
	return func(SubscriberOptions) (message.Subscriber, error) {
		if shared == nil {
			return nil, errors.New("transport has no subscriber")
		}
		return SharedSubscriber(shared), nil
	}
}

// SharedSubscriber wraps sub so that closing the wrapper does not close sub.
func SharedSubscriber(sub message.Subscriber) message.Subscriber {
	return sharedSubscriber{Subscriber: sub}
}

type sharedSubscriber struct {
	message.Subscriber
}

func (sharedSubscriber) Close() error { return nil }

// Builder is the function signature for creating a transport from config.
// Each transport package provides a Builder that can be registered.
type Builder func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error)

// Config provides the configuration values needed by transports.
// This interface lets transports read only the config they need
// without depending on the full config package.
type Config interface {
	// GetPubSubSystem returns the transport type name.
	GetPubSubSystem() string

	// Kafka
	GetKafkaBrokers() []string
	GetKafkaConsumerGroup() string

	// RabbitMQ
	GetRabbitMQURL() string

	// NATS and JetStream
	GetNATSURL() string
	GetJetStreamStreamName() string

	// HTTP
	GetHTTPServerAddress() string
	GetHTTPPublisherURL() string

	// AWS
	GetAWSRegion() string
	GetAWSAccountID() string
	GetAWSAccessKeyID() string
	GetAWSSecretAccessKey() string
	GetAWSEndpoint() string
}

// CapabilitiesProvider is implemented by transports that can report their capabilities.
type CapabilitiesProvider interface {
	Capabilities() Capabilities
}
