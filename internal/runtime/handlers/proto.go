package handlers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/ThreeDotsLabs/watermill/message"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	errspkg "github.com/drblury/replybridge/internal/runtime/errors"
	idspkg "github.com/drblury/replybridge/internal/runtime/ids"
	loggingpkg "github.com/drblury/replybridge/internal/runtime/logging"
)

var protoJSONMarshalOptions = protojson.MarshalOptions{
	EmitUnpopulated: true,
}

var protoJSONUnmarshalOptions = protojson.UnmarshalOptions{
	DiscardUnknown: true,
}

// ProtoRequest exposes a decoded protobuf request.
type ProtoRequest[T proto.Message] struct {
	RequestContext
	Payload T
}

// ProtoResponder answers a protobuf request. The reply is encoded as protojson.
type ProtoResponder[T proto.Message, O proto.Message] func(ctx context.Context, request ProtoRequest[T]) (O, error)

// BuildProtoResponder converts a typed protobuf responder into a Func.
// Payloads starting with '{' are read as protojson, anything else as the
// binary wire format.
func BuildProtoResponder[T proto.Message, O proto.Message](prototype T, responder ProtoResponder[T, O], logger loggingpkg.ServiceLogger) (Func, error) {
	if responder == nil {
		return nil, errspkg.ErrResponderRequired
	}
	prototype, err := EnsureProtoPrototype(prototype)
	if err != nil {
		return nil, err
	}

	return func(ctx context.Context, msg *message.Message) (*message.Message, error) {
		typed, err := clonePrototype(prototype)
		if err != nil {
			return nil, err
		}
		if err := decodeProto(msg.Payload, typed); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %T payload: %w", prototype, err)
		}

		reply, err := responder(ctx, ProtoRequest[T]{
			RequestContext: newRequestContext(msg, logger),
			Payload:        typed,
		})
		if err != nil {
			return nil, err
		}
		return encodeProtoReply(reply)
	}, nil
}

func decodeProto(payload []byte, into proto.Message) error {
	if trimmed := bytes.TrimSpace(payload); len(trimmed) > 0 && trimmed[0] == '{' {
		return protoJSONUnmarshalOptions.Unmarshal(trimmed, into)
	}
	return proto.Unmarshal(payload, into)
}

func encodeProtoReply(reply proto.Message) (*message.Message, error) {
	if isNilProto(reply) {
		return nil, errors.New("proto responder returned nil reply")
	}

	payload, err := protoJSONMarshalOptions.Marshal(reply)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %T reply: %w", reply, err)
	}

	msg := message.NewMessage(idspkg.CreateULID(), payload)
	msg.Metadata.Set(SchemaKey, fmt.Sprintf("%T", reply))
	return msg, nil
}

func clonePrototype[T proto.Message](prototype T) (T, error) {
	if isNilProto(prototype) {
		var zero T
		return zero, errspkg.ErrRequestTypeRequired
	}

	cloned := proto.Clone(prototype)
	proto.Reset(cloned)

	typed, ok := cloned.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("unexpected prototype type %T", cloned)
	}
	return typed, nil
}

// EnsureProtoPrototype returns candidate, or a fresh instance of its type
// when candidate is a typed nil pointer.
func EnsureProtoPrototype[T proto.Message](candidate T) (T, error) {
	if !isNilProto(candidate) {
		return candidate, nil
	}

	var zero T
	typ := reflect.TypeOf(candidate)
	if typ == nil {
		return zero, errspkg.ErrRequestTypeRequired
	}
	if typ.Kind() != reflect.Ptr {
		return zero, errspkg.ErrRequestPointerNeeded
	}

	typed, ok := reflect.New(typ.Elem()).Interface().(T)
	if !ok {
		return zero, fmt.Errorf("unexpected prototype type %s", typ)
	}
	return typed, nil
}

func isNilProto[T proto.Message](prototype T) bool {
	msg := proto.Message(prototype)
	if msg == nil {
		return true
	}

	val := reflect.ValueOf(msg)
	switch val.Kind() {
	case reflect.Interface, reflect.Ptr, reflect.Slice, reflect.Map, reflect.Func:
		return val.IsNil()
	default:
		return false
	}
}
