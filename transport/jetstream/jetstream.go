// Package jetstream provides a NATS JetStream transport for replybridge.
//
// Every topic maps to the subject "<stream>.<topic>" of one stream. A durable
// subscription name becomes a durable pull consumer, so a restarted adapter
// resumes from its last acknowledged message; without one the adapter reads
// through an ephemeral consumer that only sees new messages.
package jetstream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/nats-io/nats.go"

	"github.com/drblury/replybridge/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "nats-jetstream"

const (
	// DefaultStreamName is used when the config names no stream.
	DefaultStreamName = "REPLYBRIDGE"

	// DefaultMaxDeliver is the default max delivery attempts.
	DefaultMaxDeliver = 3

	// DefaultAckWait is the default ack wait timeout.
	DefaultAckWait = 30 * time.Second

	// UUIDHeader carries the Watermill message UUID across the broker.
	UUIDHeader = "_watermill_message_uuid"

	fetchBatch   = 10
	fetchMaxWait = time.Second
)

// Connect allows overriding the NATS connection for testing.
var Connect = func(url string) (*nats.Conn, error) {
	return nats.Connect(url)
}

var errClosed = errors.New("jetstream transport is closed")

func init() {
	Register()
}

// Register registers the JetStream transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.NATSJetStreamCapabilities)
}

// Build creates a new NATS JetStream transport.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	t, err := New(Config{
		URL:        cfg.GetNATSURL(),
		StreamName: cfg.GetJetStreamStreamName(),
	}, logger)
	if err != nil {
		return transport.Transport{}, err
	}

	return transport.Transport{
		Publisher:  t,
		Subscriber: t,
		NewSubscriber: func(opts transport.SubscriberOptions) (message.Subscriber, error) {
			return t.Durable(opts.DurableName), nil
		},
	}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.NATSJetStreamCapabilities
}

// Config holds NATS JetStream-specific configuration.
type Config struct {
	// URL is the NATS server URL.
	URL string

	// StreamName is the JetStream stream holding every topic.
	StreamName string

	// MaxDeliver is the maximum number of delivery attempts.
	MaxDeliver int

	// AckWait is the duration to wait for acknowledgment.
	AckWait time.Duration

	// Replicas is the number of stream replicas (for clustering).
	Replicas int

	// RetentionPolicy: "limits" (default), "interest", or "workqueue"
	RetentionPolicy string
}

func (c Config) withDefaults() Config {
	if c.StreamName == "" {
		c.StreamName = DefaultStreamName
	}
	if c.MaxDeliver <= 0 {
		c.MaxDeliver = DefaultMaxDeliver
	}
	if c.AckWait <= 0 {
		c.AckWait = DefaultAckWait
	}
	if c.Replicas <= 0 {
		c.Replicas = 1
	}
	return c
}

// Transport implements Publisher and Subscriber for NATS JetStream.
type Transport struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	config Config
	logger watermill.LoggerAdapter

	subs   *subscriptionSet
	closed chan struct{}
	once   sync.Once
}

// New connects to NATS and makes sure the configured stream exists.
func New(cfg Config, logger watermill.LoggerAdapter) (*Transport, error) {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = watermill.NopLogger{}
	}

	nc, err := Connect(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	t := &Transport{
		nc:     nc,
		js:     js,
		config: cfg,
		logger: logger,
		subs:   &subscriptionSet{},
		closed: make(chan struct{}),
	}

	if err := t.ensureStream(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream: %w", err)
	}

	return t, nil
}

func (t *Transport) ensureStream() error {
	streamCfg := &nats.StreamConfig{
		Name:     t.config.StreamName,
		Subjects: []string{t.config.StreamName + ".>"},
		MaxAge:   24 * time.Hour * 7,
		Replicas: t.config.Replicas,
	}

	switch t.config.RetentionPolicy {
	case "interest":
		streamCfg.Retention = nats.InterestPolicy
	case "workqueue":
		streamCfg.Retention = nats.WorkQueuePolicy
	default:
		streamCfg.Retention = nats.LimitsPolicy
	}

	if _, err := t.js.AddStream(streamCfg); err != nil {
		if _, err := t.js.UpdateStream(streamCfg); err != nil {
			return err
		}
	}
	return nil
}

func (t *Transport) isClosed() bool {
	select {
	case <-t.closed:
		return true
	default:
		return false
	}
}

// Publish publishes messages to the JetStream stream.
func (t *Transport) Publish(topic string, messages ...*message.Message) error {
	if t.isClosed() {
		return errClosed
	}

	subject := t.Subject(topic)
	for _, msg := range messages {
		if _, err := t.js.PublishMsg(toNATS(subject, msg)); err != nil {
			return fmt.Errorf("failed to publish to JetStream: %w", err)
		}
	}
	return nil
}

// Subscribe reads topic through the shared durable consumer "consumer_<topic>".
func (t *Transport) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return t.subscribe(ctx, topic, ConsumerName("consumer", topic), t.subs)
}

// Durable returns a subscriber whose consumers are named after durableName.
// An empty name yields ephemeral consumers. Closing it only releases its own
// consumers.
func (t *Transport) Durable(durableName string) message.Subscriber {
	return &durableSubscriber{t: t, durableName: durableName, subs: &subscriptionSet{}}
}

func (t *Transport) subscribe(ctx context.Context, topic, durable string, set *subscriptionSet) (<-chan *message.Message, error) {
	if t.isClosed() {
		return nil, errClosed
	}

	subject := t.Subject(topic)
	var (
		sub *nats.Subscription
		err error
	)
	if durable == "" {
		sub, err = t.js.PullSubscribe(subject, "",
			nats.BindStream(t.config.StreamName),
			nats.DeliverNew(),
			nats.AckExplicit(),
			nats.MaxDeliver(t.config.MaxDeliver),
			nats.AckWait(t.config.AckWait),
		)
	} else {
		if err = t.ensureConsumer(subject, durable); err != nil {
			return nil, err
		}
		sub, err = t.js.PullSubscribe(subject, durable, nats.Bind(t.config.StreamName, durable))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	set.add(sub)
	output := make(chan *message.Message)
	go t.fetchMessages(ctx, sub, output, topic)
	return output, nil
}

func (t *Transport) ensureConsumer(subject, durable string) error {
	consumerCfg := &nats.ConsumerConfig{
		Durable:       durable,
		FilterSubject: subject,
		AckPolicy:     nats.AckExplicitPolicy,
		MaxDeliver:    t.config.MaxDeliver,
		AckWait:       t.config.AckWait,
		DeliverPolicy: nats.DeliverAllPolicy,
	}

	if _, err := t.js.AddConsumer(t.config.StreamName, consumerCfg); err != nil {
		if _, err := t.js.UpdateConsumer(t.config.StreamName, consumerCfg); err != nil {
			return fmt.Errorf("failed to create consumer %q: %w", durable, err)
		}
	}
	return nil
}

func (t *Transport) fetchMessages(ctx context.Context, sub *nats.Subscription, output chan<- *message.Message, topic string) {
	defer close(output)

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.closed:
			return
		default:
		}

		msgs, err := sub.Fetch(fetchBatch, nats.MaxWait(fetchMaxWait))
		if err != nil {
			if errors.Is(err, nats.ErrTimeout) {
				continue
			}
			if !sub.IsValid() || errors.Is(err, nats.ErrConnectionClosed) || errors.Is(err, nats.ErrBadSubscription) {
				return
			}
			t.logger.Error("Failed to fetch messages", err, watermill.LogFields{"topic": topic})
			continue
		}

		for _, natsMsg := range msgs {
			wmMsg := fromNATS(natsMsg)

			select {
			case output <- wmMsg:
			case <-ctx.Done():
				return
			}

			select {
			case <-wmMsg.Acked():
				if err := natsMsg.Ack(); err != nil {
					t.logger.Error("Failed to ack", err, watermill.LogFields{"topic": topic})
				}
			case <-wmMsg.Nacked():
				if err := natsMsg.Nak(); err != nil {
					t.logger.Error("Failed to nak", err, watermill.LogFields{"topic": topic})
				}
			case <-ctx.Done():
				return
			}
		}
	}
}

// Subject maps a topic onto the stream's subject space.
func (t *Transport) Subject(topic string) string {
	return t.config.StreamName + "." + topic
}

// Close unsubscribes every consumer and closes the connection.
func (t *Transport) Close() error {
	t.once.Do(func() {
		close(t.closed)
		t.subs.drain()
		t.nc.Close()
	})
	return nil
}

// GetCapabilities returns the JetStream transport capabilities.
func (t *Transport) GetCapabilities() transport.Capabilities {
	return transport.NATSJetStreamCapabilities
}

// ConsumerName builds a durable consumer name from a durable subscription
// name and a topic. JetStream forbids '.', '*', '>' and whitespace there.
func ConsumerName(durableName, topic string) string {
	if durableName == "" {
		return ""
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '/', '\\':
			return '_'
		}
		return r
	}, durableName+"_"+topic)
}

func toNATS(subject string, msg *message.Message) *nats.Msg {
	headers := nats.Header{}
	for k, v := range msg.Metadata {
		headers.Set(k, v)
	}
	headers.Set(UUIDHeader, msg.UUID)

	return &nats.Msg{
		Subject: subject,
		Data:    msg.Payload,
		Header:  headers,
	}
}

func fromNATS(natsMsg *nats.Msg) *message.Message {
	id := natsMsg.Header.Get(UUIDHeader)
	if id == "" {
		id = watermill.NewULID()
	}

	wmMsg := message.NewMessage(id, natsMsg.Data)
	for k, v := range natsMsg.Header {
		if k == UUIDHeader || len(v) == 0 {
			continue
		}
		wmMsg.Metadata.Set(k, v[0])
	}
	return wmMsg
}

type durableSubscriber struct {
	t           *Transport
	durableName string
	subs        *subscriptionSet
}

func (d *durableSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return d.t.subscribe(ctx, topic, ConsumerName(d.durableName, topic), d.subs)
}

func (d *durableSubscriber) Close() error {
	d.subs.drain()
	return nil
}

type subscriptionSet struct {
	mu   sync.Mutex
	subs []*nats.Subscription
}

func (s *subscriptionSet) add(sub *nats.Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, sub)
}

// drain unsubscribes without deleting durable consumers on the server.
func (s *subscriptionSet) drain() {
	s.mu.Lock()
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()

	for _, sub := range subs {
		_ = sub.Unsubscribe()
	}
}
