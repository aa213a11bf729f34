package runtime

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	loggingpkg "github.com/drblury/replybridge/internal/runtime/logging"
	metadatapkg "github.com/drblury/replybridge/internal/runtime/metadata"
)

// ExchangeContext describes one request handled by a responder.
type ExchangeContext struct {
	// Responder is the name the responder was registered under.
	Responder string
	// Topic is the topic the request was received from.
	Topic string
	// MessageUUID is the UUID of the request.
	MessageUUID string
	// CorrelationID is the key the reply will carry.
	CorrelationID string
	// ReplyTo is the destination announced by the requester. Empty for
	// one-way messages.
	ReplyTo string
	// Metadata contains the request metadata.
	Metadata message.Metadata
	// Context is the context associated with the request.
	Context context.Context
	// StartedAt is when the responder started processing.
	StartedAt time.Time
	// Duration is how long the responder took (only set in OnReplied and OnError).
	Duration time.Duration
}

// ResponderHooks defines callbacks around request handling.
// All hooks are optional.
type ResponderHooks struct {
	// OnRequest is called before the responder function is invoked.
	OnRequest func(ctx ExchangeContext)

	// OnReplied is called after the request was handled without error.
	OnReplied func(ctx ExchangeContext)

	// OnError is called when handling the request failed. It runs once per
	// attempt, so a retried request can report more than one error.
	OnError func(ctx ExchangeContext, err error)
}

// IsZero reports whether no hook is set.
func (h ResponderHooks) IsZero() bool {
	return h.OnRequest == nil && h.OnReplied == nil && h.OnError == nil
}

// Merge combines two ResponderHooks. The hooks from other run after the hooks from h.
func (h ResponderHooks) Merge(other ResponderHooks) ResponderHooks {
	return ResponderHooks{
		OnRequest: chainHooks(h.OnRequest, other.OnRequest),
		OnReplied: chainHooks(h.OnReplied, other.OnReplied),
		OnError:   chainErrorHooks(h.OnError, other.OnError),
	}
}

func chainHooks(a, b func(ExchangeContext)) func(ExchangeContext) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx ExchangeContext) {
		a(ctx)
		b(ctx)
	}
}

func chainErrorHooks(a, b func(ExchangeContext, error)) func(ExchangeContext, error) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx ExchangeContext, err error) {
		a(ctx, err)
		b(ctx, err)
	}
}

// ResponderHooksMiddleware creates a middleware that invokes the provided hooks
// around every handled request.
func ResponderHooksMiddleware(hooks ResponderHooks) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "responder_hooks",
		Builder: func(s *Service) (message.HandlerMiddleware, error) {
			if hooks.IsZero() {
				return nil, nil
			}
			return responderHooksMiddleware(hooks), nil
		},
	}
}

func responderHooksMiddleware(hooks ResponderHooks) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			exchange := newExchangeContext(msg)

			if hooks.OnRequest != nil {
				hooks.OnRequest(exchange)
			}

			msgs, err := h(msg)
			exchange.Duration = time.Since(exchange.StartedAt)

			if err != nil {
				if hooks.OnError != nil {
					hooks.OnError(exchange, err)
				}
			} else if hooks.OnReplied != nil {
				hooks.OnReplied(exchange)
			}

			return msgs, err
		}
	}
}

func newExchangeContext(msg *message.Message) ExchangeContext {
	ctx := msg.Context()
	return ExchangeContext{
		Responder:     message.HandlerNameFromCtx(ctx),
		Topic:         message.SubscribeTopicFromCtx(ctx),
		MessageUUID:   msg.UUID,
		CorrelationID: metadatapkg.CorrelationID(msg),
		ReplyTo:       metadatapkg.ReplyTo(msg),
		Metadata:      msg.Metadata,
		Context:       ctx,
		StartedAt:     time.Now(),
	}
}

// LoggingHooks returns hooks that log every handled request.
func LoggingHooks(logger loggingpkg.ServiceLogger) ResponderHooks {
	logger = loggingpkg.OrNop(logger)
	fields := func(ctx ExchangeContext) loggingpkg.LogFields {
		return loggingpkg.LogFields{
			"responder":      ctx.Responder,
			"topic":          ctx.Topic,
			"message_uuid":   ctx.MessageUUID,
			"correlation_id": ctx.CorrelationID,
			"reply_to":       ctx.ReplyTo,
		}
	}
	return ResponderHooks{
		OnRequest: func(ctx ExchangeContext) {
			logger.Debug("Request received", fields(ctx))
		},
		OnReplied: func(ctx ExchangeContext) {
			f := fields(ctx)
			f["duration_ms"] = ctx.Duration.Milliseconds()
			logger.Info("Request handled", f)
		},
		OnError: func(ctx ExchangeContext, err error) {
			f := fields(ctx)
			f["duration_ms"] = ctx.Duration.Milliseconds()
			logger.Error("Request failed", err, f)
		},
	}
}

// CountingHooks returns hooks that report each request by responder and topic.
func CountingHooks(onRequest, onReplied, onError func(responder, topic string)) ResponderHooks {
	return ResponderHooks{
		OnRequest: func(ctx ExchangeContext) {
			if onRequest != nil {
				onRequest(ctx.Responder, ctx.Topic)
			}
		},
		OnReplied: func(ctx ExchangeContext) {
			if onReplied != nil {
				onReplied(ctx.Responder, ctx.Topic)
			}
		},
		OnError: func(ctx ExchangeContext, err error) {
			if onError != nil {
				onError(ctx.Responder, ctx.Topic)
			}
		},
	}
}
