package subscription

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	rberrors "github.com/drblury/replybridge/internal/runtime/errors"
	"github.com/drblury/replybridge/internal/runtime/logging"
	"github.com/drblury/replybridge/transport"
)

// Source opens subscriptions to a publish/subscribe topic. An empty
// durableName asks for a transient subscription.
type Source interface {
	Open(ctx context.Context, topic, durableName string) (Handle, error)
}

// Handle is one open subscription.
type Handle interface {
	// Receive blocks up to timeout and returns (nil, nil) when nothing arrived.
	Receive(ctx context.Context, timeout time.Duration) (*message.Message, error)
	Close() error
}

// WatermillSource opens subscriptions through a transport's subscriber
// factory, so durable names reach the broker as consumer groups, durable
// queues or durable consumers.
type WatermillSource struct {
	factory transport.SubscriberFactory
	caps    transport.Capabilities
	logger  logging.ServiceLogger
}

// NewWatermillSource wraps factory. caps is only used to warn about durable
// names the transport cannot honour.
func NewWatermillSource(factory transport.SubscriberFactory, caps transport.Capabilities, log logging.ServiceLogger) *WatermillSource {
	return &WatermillSource{factory: factory, caps: caps, logger: logging.OrNop(log)}
}

func (s *WatermillSource) Open(ctx context.Context, topic, durableName string) (Handle, error) {
	if s.factory == nil {
		return nil, rberrors.ErrSubscriberRequired
	}
	if durableName != "" && s.caps.IgnoresDurableName() {
		s.logger.Warn("Transport has no durable subscriptions, subscribing transiently", logging.LogFields{
			"topic":        topic,
			"durable_name": durableName,
			"transport":    s.caps.Name,
		})
	}

	sub, err := s.factory(transport.SubscriberOptions{DurableName: durableName})
	if err != nil {
		return nil, fmt.Errorf("create subscriber: %w", err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	messages, err := sub.Subscribe(subCtx, topic)
	if err != nil {
		cancel()
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe to %q: %w", topic, err)
	}

	return &watermillHandle{sub: sub, messages: messages, cancel: cancel}, nil
}

type watermillHandle struct {
	sub      message.Subscriber
	messages <-chan *message.Message
	cancel   context.CancelFunc
}

// Receive acks every message it hands over; the buffer owns it from then on.
func (h *watermillHandle) Receive(ctx context.Context, timeout time.Duration) (*message.Message, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case msg, ok := <-h.messages:
		if !ok {
			return nil, rberrors.ErrSubscriptionClosed
		}
		msg.Ack()
		return msg, nil
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *watermillHandle) Close() error {
	h.cancel()
	return h.sub.Close()
}
