package handlers

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/ThreeDotsLabs/watermill/message"

	errspkg "github.com/drblury/replybridge/internal/runtime/errors"
	idspkg "github.com/drblury/replybridge/internal/runtime/ids"
	jsoncodec "github.com/drblury/replybridge/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/replybridge/internal/runtime/logging"
)

// JSONRequest exposes a decoded JSON request.
type JSONRequest[T any] struct {
	RequestContext
	Payload T
}

// JSONResponder answers a JSON request with a value that is encoded as the reply.
type JSONResponder[T any, O any] func(ctx context.Context, request JSONRequest[T]) (O, error)

// BuildJSONResponder converts a typed JSON responder into a Func. T must be a
// pointer type.
func BuildJSONResponder[T any, O any](responder JSONResponder[T, O], logger loggingpkg.ServiceLogger) (Func, error) {
	if responder == nil {
		return nil, errspkg.ErrResponderRequired
	}

	prototypeFactory, err := jsonPrototypeFactory[T]()
	if err != nil {
		return nil, err
	}

	return func(ctx context.Context, msg *message.Message) (*message.Message, error) {
		typed := prototypeFactory()
		if err := jsoncodec.Unmarshal(msg.Payload, typed); err != nil {
			return nil, fmt.Errorf("failed to unmarshal JSON payload: %w", err)
		}

		reply, err := responder(ctx, JSONRequest[T]{
			RequestContext: newRequestContext(msg, logger),
			Payload:        typed,
		})
		if err != nil {
			return nil, err
		}
		return encodeJSONReply(reply)
	}, nil
}

func jsonPrototypeFactory[T any]() (func() T, error) {
	var zero T
	typ := reflect.TypeOf(zero)
	if typ == nil {
		return nil, errspkg.ErrRequestTypeRequired
	}
	if typ.Kind() != reflect.Ptr {
		return nil, errspkg.ErrRequestPointerNeeded
	}
	elem := typ.Elem()
	return func() T {
		return reflect.New(elem).Interface().(T)
	}, nil
}

func encodeJSONReply[O any](reply O) (*message.Message, error) {
	value := reflect.ValueOf(reply)
	if !value.IsValid() || value.IsZero() {
		return nil, errors.New("json responder returned zero-value reply")
	}

	payload, err := jsoncodec.Marshal(reply)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSON reply: %w", err)
	}

	msg := message.NewMessage(idspkg.CreateULID(), payload)
	msg.Metadata.Set(SchemaKey, fmt.Sprintf("%T", reply))
	return msg, nil
}
