package endpoint

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/replybridge/internal/runtime/correlation"
	rberrors "github.com/drblury/replybridge/internal/runtime/errors"
	"github.com/drblury/replybridge/internal/runtime/ids"
	"github.com/drblury/replybridge/internal/runtime/logging"
	"github.com/drblury/replybridge/internal/runtime/metadata"
	"github.com/drblury/replybridge/internal/runtime/subscription"
	"github.com/drblury/replybridge/internal/runtime/waiter"
)

// SyncProducer sends requests and waits for their replies.
type SyncProducer struct {
	cfg       Config
	opts      options
	publisher message.Publisher
	source    subscription.Source

	replies *correlation.Store[*message.Message]

	mu         sync.Mutex
	replyTo    string
	adapter    *subscription.Adapter
	waiter     waiter.Waiter[*message.Message]
	dispatched chan struct{}
}

// NewSyncProducer publishes through publisher and reads replies from source.
func NewSyncProducer(publisher message.Publisher, source subscription.Source, cfg Config, opts ...Option) (*SyncProducer, error) {
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

	return &SyncProducer{
		cfg:       cfg,
		opts:      o,
		publisher: publisher,
		source:    source,
		replies:   correlation.NewStore[*message.Message](cfg.Name+"_replies", o.storeOptions()...),
	}, nil
}

// Start subscribes to the reply destination and starts storing replies.
func (p *SyncProducer) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.adapter != nil {
		return rberrors.ErrAlreadyStarted
	}

	replyTo := p.cfg.ReplyDestination
	if replyTo == "" {
		replyTo = ids.ReplyDestination("")
	}

	adapter, err := subscription.NewAdapter(p.source, p.cfg.subscription(replyTo),
		subscription.WithLogger(p.opts.logger),
		subscription.WithMetrics(p.opts.metrics),
	)
	if err != nil {
		return err
	}
	if err := adapter.Start(ctx); err != nil {
		return err
	}

	waiterOpts := []waiter.Option{
		waiter.WithDestination(replyTo),
		waiter.WithLogger(p.opts.logger),
		waiter.WithMetrics(p.opts.metrics),
	}
	if p.opts.notifying {
		p.waiter = waiter.NewNotifying[*message.Message](p.replies, waiterOpts...)
	} else {
		p.waiter = waiter.NewPolling[*message.Message](p.replies, waiterOpts...)
	}

	p.replyTo = replyTo
	p.adapter = adapter
	p.dispatched = make(chan struct{})
	go p.dispatch(ctx, adapter, p.dispatched)

	p.opts.logger.Info("Sync producer started", logging.LogFields{"reply_to": replyTo})
	return nil
}

// dispatch moves replies from the adapter into the reply store until the
// adapter's buffer is closed.
func (p *SyncProducer) dispatch(ctx context.Context, adapter *subscription.Adapter, done chan<- struct{}) {
	defer close(done)

	for {
		reply, err := adapter.Receive(context.WithoutCancel(ctx), time.Second)
		if err != nil {
			if !errors.Is(err, rberrors.ErrSubscriptionClosed) {
				p.opts.logger.Error("Reply dispatch stopped", err, nil)
			}
			return
		}
		if reply == nil {
			continue
		}

		key, err := p.replyKey(reply)
		if err != nil {
			p.opts.logger.Warn("Dropping uncorrelated reply", logging.LogFields{
				"message_uuid": reply.UUID,
				"error":        err.Error(),
			})
			continue
		}
		p.replies.Store(key, reply)
	}
}

func (p *SyncProducer) replyKey(reply *message.Message) (string, error) {
	if key := metadata.CorrelationID(reply); key != "" {
		return key, nil
	}
	if _, identity := p.cfg.Correlator.(correlation.IdentityCorrelator); identity {
		return "", fmt.Errorf("reply has no %s header: %w", metadata.CorrelationIDKey, rberrors.ErrCorrelationKeyUnavailable)
	}
	return p.cfg.Correlator.CorrelationKey(reply)
}

// Send publishes msg to the destination. It assigns a ULID when msg has no
// UUID, stamps the correlation_id and reply_to headers and remembers the key
// for Receive. The key can also be read back with metadata.CorrelationID.
func (p *SyncProducer) Send(ctx context.Context, msg *message.Message) error {
	p.mu.Lock()
	replyTo := p.replyTo
	p.mu.Unlock()
	if replyTo == "" {
		return rberrors.ErrNotStarted
	}

	if msg.UUID == "" {
		msg.UUID = ids.CreateULID()
	}
	key, err := p.cfg.Correlator.CorrelationKey(msg)
	if err != nil {
		return err
	}
	p.opts.registry.Save(p.cfg.Correlator.CorrelationKeyName(p.cfg.Name), key)

	metadata.New(
		metadata.CorrelationIDKey, key,
		metadata.ReplyToKey, replyTo,
		metadata.EndpointKey, p.cfg.Name,
	).Apply(msg)
	msg.SetContext(ctx)

	if err := p.publisher.Publish(p.cfg.Destination, msg); err != nil {
		return fmt.Errorf("publish request to %q: %w", p.cfg.Destination, err)
	}
	p.opts.logger.Debug("Sent request", logging.LogFields{"message_uuid": msg.UUID, "correlation_id": key})
	return nil
}

// Receive waits for the reply to the request this endpoint sent last.
func (p *SyncProducer) Receive(ctx context.Context) (*message.Message, error) {
	key, err := p.opts.registry.Get(p.cfg.Correlator.CorrelationKeyName(p.cfg.Name))
	if err != nil {
		return nil, err
	}
	return p.ReceiveKey(ctx, key, p.cfg.Timeout)
}

// ReceiveKey waits up to timeout for the reply correlated with key.
func (p *SyncProducer) ReceiveKey(ctx context.Context, key string, timeout time.Duration) (*message.Message, error) {
	p.mu.Lock()
	w := p.waiter
	p.mu.Unlock()
	if w == nil {
		return nil, rberrors.ErrNotStarted
	}
	return w.Receive(ctx, key, timeout, p.cfg.PollingInterval)
}

// Request sends msg and waits for its reply.
func (p *SyncProducer) Request(ctx context.Context, msg *message.Message) (*message.Message, error) {
	if err := p.Send(ctx, msg); err != nil {
		return nil, err
	}
	return p.ReceiveKey(ctx, metadata.CorrelationID(msg), p.cfg.Timeout)
}

// ReplyDestination returns the topic replies are read from, once started.
func (p *SyncProducer) ReplyDestination() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.replyTo
}

// PendingReplies reports how many replies nobody has received yet.
func (p *SyncProducer) PendingReplies() int {
	return p.replies.Len()
}

// Stop closes the reply subscription and drops unclaimed replies. A stopped
// producer can be started again; a generated reply destination is renewed.
func (p *SyncProducer) Stop() error {
	p.mu.Lock()
	adapter, dispatched := p.adapter, p.dispatched
	p.mu.Unlock()
	if adapter == nil {
		return rberrors.ErrNotStarted
	}

	err := adapter.Stop()
	if err == nil {
		<-dispatched
	}
	p.replies.Clear()

	p.mu.Lock()
	p.adapter, p.waiter, p.replyTo, p.dispatched = nil, nil, "", nil
	p.mu.Unlock()

	p.opts.logger.Info("Sync producer stopped", nil)
	return err
}
