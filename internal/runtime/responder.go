package runtime

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"google.golang.org/protobuf/proto"

	errspkg "github.com/drblury/replybridge/internal/runtime/errors"
	handlerpkg "github.com/drblury/replybridge/internal/runtime/handlers"
	idspkg "github.com/drblury/replybridge/internal/runtime/ids"
	loggingpkg "github.com/drblury/replybridge/internal/runtime/logging"
	metadatapkg "github.com/drblury/replybridge/internal/runtime/metadata"
)

// ResponderFunc answers one request. A nil reply with a nil error sends nothing.
type ResponderFunc = handlerpkg.Func

// ResponderInfo describes a registered responder.
type ResponderInfo struct {
	Name  string
	Topic string
}

// RegisterResponder answers every request arriving on topic. The reply is
// published to the request's reply_to destination and carries the request's
// correlation_id. Requests without reply_to are acknowledged without a reply.
// An error returned by fn is retried by the router middleware.
func (s *Service) RegisterResponder(name, topic string, fn ResponderFunc) error {
	if s == nil {
		return errspkg.ErrServiceRequired
	}
	if fn == nil {
		return errspkg.ErrResponderRequired
	}
	if name == "" {
		return errspkg.ErrResponderNameRequired
	}
	if topic == "" {
		return errspkg.ErrTopicRequired
	}

	s.respondersMu.Lock()
	for _, existing := range s.responders {
		if existing.Name == name {
			s.respondersMu.Unlock()
			return fmt.Errorf("responder %q is already registered on %q", name, existing.Topic)
		}
	}
	s.responders = append(s.responders, ResponderInfo{Name: name, Topic: topic})
	s.respondersMu.Unlock()

	s.router.AddNoPublisherHandler(name, topic, s.subscriber, s.respond(name, fn))

	s.Logger.Debug("Registered responder", loggingpkg.LogFields{"responder": name, "topic": topic})
	return nil
}

func (s *Service) respond(name string, fn ResponderFunc) message.NoPublishHandlerFunc {
	log := s.Logger.With(loggingpkg.LogFields{"responder": name})

	return func(msg *message.Message) error {
		replyTo := metadatapkg.ReplyTo(msg)
		if replyTo == "" {
			log.Warn("Request without reply address acknowledged", loggingpkg.LogFields{"message_uuid": msg.UUID})
			return nil
		}

		key := metadatapkg.CorrelationID(msg)
		if key == "" {
			var err error
			if key, err = s.Correlator().CorrelationKey(msg); err != nil {
				return err
			}
		}

		reply, err := fn(msg.Context(), msg)
		if err != nil {
			return err
		}
		if reply == nil {
			log.Debug("Responder sent no reply", loggingpkg.LogFields{"message_uuid": msg.UUID})
			return nil
		}

		if reply.UUID == "" {
			reply.UUID = idspkg.CreateULID()
		}
		metadatapkg.New(metadatapkg.CorrelationIDKey, key).Apply(reply)
		reply.SetContext(msg.Context())

		if err := s.publisher.Publish(replyTo, reply); err != nil {
			return fmt.Errorf("publish reply to %q: %w", replyTo, err)
		}
		return nil
	}
}

// Responders lists the registered responders in registration order.
func (s *Service) Responders() []ResponderInfo {
	s.respondersMu.RLock()
	defer s.respondersMu.RUnlock()

	clone := make([]ResponderInfo, len(s.responders))
	copy(clone, s.responders)
	return clone
}

// RegisterJSONResponder registers a responder that decodes JSON requests into
// T and encodes its reply as JSON.
func RegisterJSONResponder[T any, O any](svc *Service, name, topic string, responder handlerpkg.JSONResponder[T, O]) error {
	if svc == nil {
		return errspkg.ErrServiceRequired
	}
	fn, err := handlerpkg.BuildJSONResponder(responder, svc.Logger)
	if err != nil {
		return err
	}
	return svc.RegisterResponder(name, topic, fn)
}

// RegisterProtoResponder registers a responder that decodes protobuf requests
// (protojson or binary) into T and encodes its reply as protojson.
func RegisterProtoResponder[T proto.Message, O proto.Message](svc *Service, name, topic string, responder handlerpkg.ProtoResponder[T, O]) error {
	if svc == nil {
		return errspkg.ErrServiceRequired
	}
	var zero T
	fn, err := handlerpkg.BuildProtoResponder(zero, responder, svc.Logger)
	if err != nil {
		return err
	}
	return svc.RegisterResponder(name, topic, fn)
}

// Echo is a responder that replies with a copy of the request payload and metadata.
func Echo(_ context.Context, request *message.Message) (*message.Message, error) {
	reply := request.Copy()
	reply.UUID = ""
	delete(reply.Metadata, metadatapkg.ReplyToKey)
	return reply, nil
}
