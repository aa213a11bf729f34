package endpoint

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/replybridge/internal/runtime/buffer"
	"github.com/drblury/replybridge/internal/runtime/correlation"
	rberrors "github.com/drblury/replybridge/internal/runtime/errors"
	"github.com/drblury/replybridge/internal/runtime/metadata"
	"github.com/drblury/replybridge/internal/runtime/subscription"
	"github.com/drblury/replybridge/transport"
	"github.com/drblury/replybridge/transport/channel"
)

type harness struct {
	publisher message.Publisher
	source    subscription.Source
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	tr, err := channel.Build(context.Background(), nil, watermill.NopLogger{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Publisher.Close() })

	return &harness{
		publisher: tr.Publisher,
		source:    subscription.NewWatermillSource(tr.Subscribers(), transport.ChannelCapabilities, nil),
	}
}

func fastConfig(destination string) Config {
	return Config{
		Destination:                 destination,
		Timeout:                     2 * time.Second,
		PollingInterval:             10 * time.Millisecond,
		IdleInterval:                20 * time.Millisecond,
		SubscriptionPollingInterval: 5 * time.Millisecond,
		StopTimeout:                 time.Second,
	}
}

func (h *harness) producer(t *testing.T, cfg Config, opts ...Option) *SyncProducer {
	t.Helper()
	p, err := NewSyncProducer(h.publisher, h.source, cfg, opts...)
	require.NoError(t, err)
	require.NoError(t, p.Start(context.Background()))
	t.Cleanup(func() { _ = p.Stop() })
	return p
}

func (h *harness) consumer(t *testing.T, cfg Config, opts ...Option) *SyncConsumer {
	t.Helper()
	c, err := NewSyncConsumer(h.publisher, h.source, cfg, opts...)
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(func() { _ = c.Stop() })
	return c
}

// echo answers count requests with "re:<payload>".
func echo(t *testing.T, c *SyncConsumer, count int) <-chan error {
	t.Helper()
	errs := make(chan error, 1)
	go func() {
		defer close(errs)
		for i := 0; i < count; i++ {
			req, err := c.Receive(context.Background(), 0)
			if err != nil {
				errs <- err
				return
			}
			if err := c.Send(context.Background(), message.NewMessage("", []byte("re:"+string(req.Payload)))); err != nil {
				errs <- err
				return
			}
		}
	}()
	return errs
}

func TestRequestReplyWithIdentityCorrelation(t *testing.T) {
	h := newHarness(t)
	consumer := h.consumer(t, fastConfig("orders"))
	producer := h.producer(t, fastConfig("orders"))
	assert.True(t, strings.HasPrefix(producer.ReplyDestination(), "replies."))

	done := echo(t, consumer, 1)

	req := message.NewMessage("", []byte("ping"))
	require.NoError(t, producer.Send(context.Background(), req))
	require.NotEmpty(t, req.UUID, "a ULID is assigned")
	assert.Equal(t, req.UUID, metadata.CorrelationID(req))
	assert.Equal(t, producer.ReplyDestination(), metadata.ReplyTo(req))
	assert.Equal(t, "orders", req.Metadata.Get(metadata.EndpointKey))

	reply, err := producer.Receive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "re:ping", string(reply.Payload))
	assert.Equal(t, req.UUID, metadata.CorrelationID(reply))
	require.NoError(t, <-done)

	assert.Zero(t, producer.PendingReplies())
	assert.Zero(t, consumer.PendingReplies())
}

func TestRequestReplyWithHeaderCorrelation(t *testing.T) {
	h := newHarness(t)
	cfg := fastConfig("orders")
	cfg.Correlator = correlation.HeaderCorrelator{Header: "order_id"}

	consumer := h.consumer(t, cfg)
	producer := h.producer(t, cfg, WithNotifyingWaiter())
	done := echo(t, consumer, 1)

	req := message.NewMessage("m-1", []byte("ping"))
	req.Metadata.Set("order_id", "o-42")

	reply, err := producer.Request(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "o-42", metadata.CorrelationID(reply))
	assert.Equal(t, "re:ping", string(reply.Payload))
	require.NoError(t, <-done)
}

func TestConcurrentRequestsGetTheirOwnReplies(t *testing.T) {
	h := newHarness(t)
	consumer := h.consumer(t, fastConfig("orders"))
	producer := h.producer(t, fastConfig("orders"))

	const requests = 10
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < requests; i++ {
			req, err := consumer.Receive(context.Background(), 0)
			if !assert.NoError(t, err) {
				return
			}
			key := metadata.CorrelationID(req)
			assert.NoError(t, consumer.SendKey(context.Background(), key, message.NewMessage("", []byte("re:"+string(req.Payload)))))
		}
	}()

	results := make(chan error, requests)
	for i := 0; i < requests; i++ {
		go func(i int) {
			payload := fmt.Sprintf("req-%d", i)
			reply, err := producer.Request(context.Background(), message.NewMessage("", []byte(payload)))
			if err == nil && string(reply.Payload) != "re:"+payload {
				err = fmt.Errorf("request %s got %q", payload, reply.Payload)
			}
			results <- err
		}(i)
	}

	for i := 0; i < requests; i++ {
		assert.NoError(t, <-results)
	}
	wg.Wait()
}

func TestProducerTimeoutNamesReplyDestination(t *testing.T) {
	h := newHarness(t)
	cfg := fastConfig("nobody-listens")
	cfg.ReplyDestination = "replies.fixed"
	cfg.Timeout = 100 * time.Millisecond
	producer := h.producer(t, cfg)

	require.NoError(t, producer.Send(context.Background(), message.NewMessage("m-1", nil)))
	_, err := producer.Receive(context.Background())

	var timeoutErr *rberrors.CorrelationTimeoutError
	require.True(t, errors.As(err, &timeoutErr))
	assert.Equal(t, "m-1", timeoutErr.Key)
	assert.Equal(t, "replies.fixed", timeoutErr.Destination)
}

func TestProducerDropsUncorrelatedReplies(t *testing.T) {
	h := newHarness(t)
	cfg := fastConfig("orders")
	cfg.ReplyDestination = "replies.fixed"
	producer := h.producer(t, cfg)

	require.NoError(t, h.publisher.Publish("replies.fixed", message.NewMessage("stray", nil)))
	reply := message.NewMessage("r-1", nil)
	reply.Metadata.Set(metadata.CorrelationIDKey, "k-1")
	require.NoError(t, h.publisher.Publish("replies.fixed", reply))

	got, err := producer.ReceiveKey(context.Background(), "k-1", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "r-1", got.UUID)
	assert.Zero(t, producer.PendingReplies())
}

func TestProducerLifecycleErrors(t *testing.T) {
	h := newHarness(t)

	_, err := NewSyncProducer(nil, h.source, fastConfig("orders"))
	assert.ErrorIs(t, err, rberrors.ErrPublisherRequired)
	_, err = NewSyncProducer(h.publisher, nil, fastConfig("orders"))
	assert.ErrorIs(t, err, rberrors.ErrSubscriberRequired)
	_, err = NewSyncProducer(h.publisher, h.source, Config{})
	assert.ErrorIs(t, err, rberrors.ErrTopicRequired)

	p, err := NewSyncProducer(h.publisher, h.source, fastConfig("orders"))
	require.NoError(t, err)
	assert.ErrorIs(t, p.Send(context.Background(), message.NewMessage("m", nil)), rberrors.ErrNotStarted)
	_, err = p.ReceiveKey(context.Background(), "k", 0)
	assert.ErrorIs(t, err, rberrors.ErrNotStarted)
	assert.ErrorIs(t, p.Stop(), rberrors.ErrNotStarted)

	_, err = p.Receive(context.Background())
	assert.ErrorIs(t, err, rberrors.ErrCorrelationKeyNotFound)

	require.NoError(t, p.Start(context.Background()))
	assert.ErrorIs(t, p.Start(context.Background()), rberrors.ErrAlreadyStarted)
	require.NoError(t, p.Stop())
}

func TestConsumerReceiveTimeout(t *testing.T) {
	h := newHarness(t)
	consumer := h.consumer(t, fastConfig("orders"))

	_, err := consumer.Receive(context.Background(), 50*time.Millisecond)
	assert.ErrorIs(t, err, rberrors.ErrReceiveTimeout)
	assert.ErrorContains(t, err, `"orders"`)
}

func TestConsumerSendWithoutReceive(t *testing.T) {
	h := newHarness(t)
	consumer := h.consumer(t, fastConfig("orders"))

	err := consumer.Send(context.Background(), message.NewMessage("r", nil))
	assert.ErrorIs(t, err, rberrors.ErrCorrelationKeyNotFound)
	assert.ErrorContains(t, err, "failed to get correlation key")
}

func TestConsumerRepliesOnlyOnce(t *testing.T) {
	h := newHarness(t)
	consumer := h.consumer(t, fastConfig("orders"))

	req := message.NewMessage("m-1", nil)
	req.Metadata.Set(metadata.ReplyToKey, "replies.peer")
	require.NoError(t, h.publisher.Publish("orders", req))

	_, err := consumer.Receive(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, consumer.PendingReplies())

	require.NoError(t, consumer.Send(context.Background(), message.NewMessage("r-1", nil)))

	err = consumer.Send(context.Background(), message.NewMessage("r-2", nil))
	var missing *rberrors.ReplyAddressMissingError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, "m-1", missing.Key)
}

func TestConsumerWithoutReplyAddress(t *testing.T) {
	h := newHarness(t)
	consumer := h.consumer(t, fastConfig("events"))

	require.NoError(t, h.publisher.Publish("events", message.NewMessage("m-1", nil)))

	msg, err := consumer.Receive(context.Background(), time.Second)
	require.NoError(t, err, "one-way messages can still be received")
	assert.Equal(t, "m-1", msg.UUID)

	err = consumer.Send(context.Background(), message.NewMessage("r-1", nil))
	assert.ErrorIs(t, err, rberrors.ErrReplyAddressMissing)
}

func TestConsumerSharesKeyRegistry(t *testing.T) {
	h := newHarness(t)
	registry := correlation.NewKeyRegistry()
	cfg := fastConfig("orders")
	cfg.Name = "order-consumer"
	consumer := h.consumer(t, cfg, WithKeyRegistry(registry))

	req := message.NewMessage("m-1", nil)
	req.Metadata.Set(metadata.ReplyToKey, "replies.peer")
	require.NoError(t, h.publisher.Publish("orders", req))
	_, err := consumer.Receive(context.Background(), time.Second)
	require.NoError(t, err)

	key, err := registry.Get(correlation.KeyName("order-consumer"))
	require.NoError(t, err)
	assert.Equal(t, "m-1", key)
}

func TestEndpointsRestartAfterStop(t *testing.T) {
	h := newHarness(t)
	consumer := h.consumer(t, fastConfig("orders"))

	p, err := NewSyncProducer(h.publisher, h.source, fastConfig("orders"))
	require.NoError(t, err)
	require.NoError(t, p.Start(context.Background()))
	first := p.ReplyDestination()
	require.NoError(t, p.Stop())
	assert.Empty(t, p.ReplyDestination())
	assert.ErrorIs(t, p.Stop(), rberrors.ErrNotStarted)

	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()
	assert.NotEqual(t, first, p.ReplyDestination(), "a generated reply destination is renewed")

	require.NoError(t, consumer.Stop())
	require.NoError(t, consumer.Start(context.Background()))
	done := echo(t, consumer, 1)

	reply, err := p.Request(context.Background(), message.NewMessage("", []byte("again")))
	require.NoError(t, err)
	assert.Equal(t, "re:again", string(reply.Payload))
	require.NoError(t, <-done)
}

func TestProducersOnOneDestinationWaitForTheirOwnReplies(t *testing.T) {
	h := newHarness(t)
	consumer := h.consumer(t, fastConfig("orders"))
	first := h.producer(t, fastConfig("orders"))
	second := h.producer(t, fastConfig("orders"))
	done := echo(t, consumer, 2)

	require.NoError(t, first.Send(context.Background(), message.NewMessage("", []byte("one"))))
	require.NoError(t, second.Send(context.Background(), message.NewMessage("", []byte("two"))))

	reply, err := first.Receive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "re:one", string(reply.Payload))

	reply, err = second.Receive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "re:two", string(reply.Payload))
	require.NoError(t, <-done)
}

func TestConsumersOnOneDestinationAnswerTheirOwnRequests(t *testing.T) {
	h := newHarness(t)
	left := h.consumer(t, fastConfig("orders"))
	right := h.consumer(t, fastConfig("orders"))

	for _, lane := range []string{"left", "right"} {
		req := message.NewMessage("req-"+lane, nil)
		req.Metadata.Set("lane", lane)
		req.Metadata.Set(metadata.ReplyToKey, "replies."+lane)
		require.NoError(t, h.publisher.Publish("orders", req))
	}

	got, err := left.ReceiveSelect(context.Background(), buffer.MatchMetadata("lane", "left"), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "req-left", got.UUID)
	got, err = right.ReceiveSelect(context.Background(), buffer.MatchMetadata("lane", "right"), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "req-right", got.UUID)

	require.NoError(t, left.Send(context.Background(), message.NewMessage("r-left", nil)))
	require.NoError(t, right.Send(context.Background(), message.NewMessage("r-right", nil)))
}
