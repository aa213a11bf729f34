package endpoint

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/replybridge/internal/runtime/buffer"
	"github.com/drblury/replybridge/internal/runtime/correlation"
	rberrors "github.com/drblury/replybridge/internal/runtime/errors"
	"github.com/drblury/replybridge/internal/runtime/ids"
	"github.com/drblury/replybridge/internal/runtime/logging"
	"github.com/drblury/replybridge/internal/runtime/metadata"
	"github.com/drblury/replybridge/internal/runtime/subscription"
)

// SyncConsumer receives requests and replies to the address each request
// announced in its reply_to header.
type SyncConsumer struct {
	cfg       Config
	opts      options
	publisher message.Publisher
	source    subscription.Source
	tracker   *correlation.ReplyAddressTracker

	mu      sync.Mutex
	adapter *subscription.Adapter
}

// NewSyncConsumer reads requests from source and publishes replies through publisher.
func NewSyncConsumer(publisher message.Publisher, source subscription.Source, cfg Config, opts ...Option) (*SyncConsumer, error) {
	if publisher == nil {
		return nil, rberrors.ErrPublisherRequired
	}
	if source == nil {
		return nil, rberrors.ErrSubscriberRequired
	}
	if cfg.Destination == "" {
		return nil, rberrors.ErrTopicRequired
	}

	cfg = cfg.withDefaults()
	o := newOptions(opts)
	o.logger = o.logger.With(logging.LogFields{"endpoint": cfg.Name, "destination": cfg.Destination})

	return &SyncConsumer{
		cfg:       cfg,
		opts:      o,
		publisher: publisher,
		source:    source,
		tracker:   correlation.NewReplyAddressTracker(cfg.Correlator, o.storeOptions()...),
	}, nil
}

// Start subscribes to the destination.
func (c *SyncConsumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.adapter != nil {
		return rberrors.ErrAlreadyStarted
	}

	adapter, err := subscription.NewAdapter(c.source, c.cfg.subscription(c.cfg.Destination),
		subscription.WithLogger(c.opts.logger),
		subscription.WithMetrics(c.opts.metrics),
	)
	if err != nil {
		return err
	}
	if err := adapter.Start(ctx); err != nil {
		return err
	}

	c.adapter = adapter
	c.opts.logger.Info("Sync consumer started", nil)
	return nil
}

// Receive returns the next request, waiting up to timeout (Config.Timeout
// when timeout <= 0). Its reply address is tracked and its key becomes the
// key Send replies with.
func (c *SyncConsumer) Receive(ctx context.Context, timeout time.Duration) (*message.Message, error) {
	return c.ReceiveSelect(ctx, nil, timeout)
}

// ReceiveSelect is Receive restricted to requests accepted by selector.
func (c *SyncConsumer) ReceiveSelect(ctx context.Context, selector buffer.Selector, timeout time.Duration) (*message.Message, error) {
	c.mu.Lock()
	adapter := c.adapter
	c.mu.Unlock()
	if adapter == nil {
		return nil, rberrors.ErrNotStarted
	}
	if timeout <= 0 {
		timeout = c.cfg.Timeout
	}

	msg, err := adapter.ReceiveSelect(ctx, selector, timeout)
	if err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, fmt.Errorf("no message on %q within %s: %w", c.cfg.Destination, timeout, rberrors.ErrReceiveTimeout)
	}

	key, err := c.tracker.Track(msg)
	if errors.Is(err, rberrors.ErrReplyAddressRequired) {
		c.opts.logger.Warn("Received message without reply address", logging.LogFields{"message_uuid": msg.UUID})
		key, err = c.cfg.Correlator.CorrelationKey(msg)
	}
	if err != nil {
		return nil, err
	}

	c.opts.registry.Save(c.cfg.Correlator.CorrelationKeyName(c.cfg.Name), key)
	c.opts.logger.Debug("Received request", logging.LogFields{"message_uuid": msg.UUID, "correlation_id": key})
	return msg, nil
}

// Send publishes reply to the address of the request received last. Each
// request can be answered once.
func (c *SyncConsumer) Send(ctx context.Context, reply *message.Message) error {
	key, err := c.opts.registry.Get(c.cfg.Correlator.CorrelationKeyName(c.cfg.Name))
	if err != nil {
		return err
	}
	return c.SendKey(ctx, key, reply)
}

// SendKey publishes reply to the address tracked for key.
func (c *SyncConsumer) SendKey(ctx context.Context, key string, reply *message.Message) error {
	address, err := c.tracker.Resolve(key)
	if err != nil {
		return err
	}

	if reply.UUID == "" {
		reply.UUID = ids.CreateULID()
	}
	metadata.New(metadata.CorrelationIDKey, key).Apply(reply)
	reply.SetContext(ctx)

	if err := c.publisher.Publish(address, reply); err != nil {
		return fmt.Errorf("publish reply to %q: %w", address, err)
	}
	c.opts.logger.Debug("Sent reply", logging.LogFields{"reply_to": address, "correlation_id": key})
	return nil
}

// PendingReplies reports how many received requests still wait for a reply.
func (c *SyncConsumer) PendingReplies() int {
	return c.tracker.Len()
}

// Stop closes the subscription and forgets unanswered reply addresses. The
// consumer can be started again afterwards.
func (c *SyncConsumer) Stop() error {
	c.mu.Lock()
	adapter := c.adapter
	c.mu.Unlock()
	if adapter == nil {
		return rberrors.ErrNotStarted
	}

	err := adapter.Stop()
	c.tracker.Clear()

	c.mu.Lock()
	c.adapter = nil
	c.mu.Unlock()

	c.opts.logger.Info("Sync consumer stopped", nil)
	return err
}
