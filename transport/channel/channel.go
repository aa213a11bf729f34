// Package channel provides the in-memory Go channel transport for replybridge.
// Publisher and subscriber share one GoChannel, so request and reply
// destinations of a single process meet without a broker.
package channel

import (
	"context"
	"errors"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/drblury/replybridge/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "channel"

// ErrClosed is returned when publishing after the transport was closed.
var ErrClosed = errors.New("channel transport closed")

// Factory allows overriding the channel creation for testing.
var Factory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber) {
	pubSub := gochannel.NewGoChannel(cfg, logger)
	return pubSub, pubSub
}

func init() {
	Register()
}

// Register registers the channel transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.ChannelCapabilities)
}

// Build creates a new Go channel transport. Every subscription adapter shares
// the one subscriber; durable names have no meaning in memory.
//
// The GoChannel delivers one message at a time and waits for its ack, which
// keeps publish order per topic. Publishing is handed to one goroutine per
// topic so a responder that publishes its reply before acking the request
// never waits on the lock held by the request's publisher.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	pub, sub := Factory(gochannel.Config{BlockPublishUntilSubscriberAck: true}, logger)
	return transport.Transport{
		Publisher:  newOrderedPublisher(pub, logger),
		Subscriber: sub,
	}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.ChannelCapabilities
}

type orderedPublisher struct {
	inner  message.Publisher
	logger watermill.LoggerAdapter

	mu      sync.Mutex
	pending map[string][]*message.Message // present while a topic worker runs
	closed  bool
	workers sync.WaitGroup
}

func newOrderedPublisher(inner message.Publisher, logger watermill.LoggerAdapter) *orderedPublisher {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	return &orderedPublisher{inner: inner, logger: logger, pending: make(map[string][]*message.Message)}
}

// Publish queues messages behind everything published to topic before and
// returns without waiting for delivery.
func (p *orderedPublisher) Publish(topic string, messages ...*message.Message) error {
	if len(messages) == 0 {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}

	queue, running := p.pending[topic]
	p.pending[topic] = append(queue, messages...)
	if !running {
		p.workers.Add(1)
		go p.drain(topic)
	}
	return nil
}

func (p *orderedPublisher) drain(topic string) {
	defer p.workers.Done()

	for {
		p.mu.Lock()
		batch := p.pending[topic]
		if len(batch) == 0 {
			delete(p.pending, topic)
			p.mu.Unlock()
			return
		}
		p.pending[topic] = nil
		p.mu.Unlock()

		if err := p.inner.Publish(topic, batch...); err != nil {
			p.logger.Error("Dropping messages", err, watermill.LogFields{"topic": topic, "messages": len(batch)})
		}
	}
}

// Close stops accepting messages, closes the GoChannel and waits for the
// topic workers to finish.
func (p *orderedPublisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	err := p.inner.Close()
	p.workers.Wait()
	return err
}
