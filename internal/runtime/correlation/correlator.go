package correlation

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ThreeDotsLabs/watermill/message"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"

	rberrors "github.com/drblury/replybridge/internal/runtime/errors"
	"github.com/drblury/replybridge/internal/runtime/jsoncodec"
)

// KeyNamePrefix prefixes the name under which an endpoint remembers its key.
const KeyNamePrefix = "replybridge_correlator_"

// Correlator derives a correlation key from a message. Requests and replies of
// one exchange must be correlated with the same strategy.
type Correlator interface {
	CorrelationKey(msg *message.Message) (string, error)
	CorrelationKeyName(endpoint string) string
}

// KeyName returns the registry name for endpoint.
func KeyName(endpoint string) string {
	return KeyNamePrefix + endpoint
}

func unavailable(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), rberrors.ErrCorrelationKeyUnavailable)
}

// IdentityCorrelator uses the message UUID, so two requests never share a key
// even when their payloads are equal.
type IdentityCorrelator struct{}

func (IdentityCorrelator) CorrelationKey(msg *message.Message) (string, error) {
	if msg == nil || msg.UUID == "" {
		return "", unavailable("message has no UUID")
	}
	return msg.UUID, nil
}

func (IdentityCorrelator) CorrelationKeyName(endpoint string) string { return KeyName(endpoint) }

// HeaderCorrelator uses the value of one metadata key.
type HeaderCorrelator struct {
	Header string
}

func (c HeaderCorrelator) CorrelationKey(msg *message.Message) (string, error) {
	if msg == nil {
		return "", unavailable("message is nil")
	}
	if value := msg.Metadata.Get(c.Header); value != "" {
		return value, nil
	}
	return "", unavailable("metadata %q is empty", c.Header)
}

func (HeaderCorrelator) CorrelationKeyName(endpoint string) string { return KeyName(endpoint) }

// PayloadFieldCorrelator reads a dotted path such as "order.id" from a JSON payload.
type PayloadFieldCorrelator struct {
	Path string
}

func (c PayloadFieldCorrelator) CorrelationKey(msg *message.Message) (string, error) {
	if msg == nil {
		return "", unavailable("message is nil")
	}

	value, err := jsoncodec.Lookup(msg.Payload, strings.Split(c.Path, ".")...)
	if errors.Is(err, jsoncodec.ErrPathNotFound) {
		return "", unavailable("payload %s", err)
	}
	if err != nil {
		return "", fmt.Errorf("decode payload of %s: %w", msg.UUID, err)
	}

	if key, ok := jsoncodec.Scalar(value); ok {
		return key, nil
	}
	return "", unavailable("payload path %q holds no scalar key", c.Path)
}

func (PayloadFieldCorrelator) CorrelationKeyName(endpoint string) string { return KeyName(endpoint) }

// ProtoFieldCorrelator decodes the payload into New() and reads a scalar field.
// Field may be dotted to reach into nested messages. Payloads starting with
// '{' are read as protojson, everything else as binary protobuf.
type ProtoFieldCorrelator struct {
	New   func() proto.Message
	Field string
}

func (c ProtoFieldCorrelator) CorrelationKey(msg *message.Message) (string, error) {
	if msg == nil {
		return "", unavailable("message is nil")
	}
	if c.New == nil {
		return "", unavailable("no protobuf prototype configured")
	}

	target := c.New()
	if err := unmarshalProto(msg.Payload, target); err != nil {
		return "", fmt.Errorf("decode payload of %s: %w", msg.UUID, err)
	}

	current := target.ProtoReflect()
	parts := strings.Split(c.Field, ".")
	for i, part := range parts {
		fd := findField(current.Descriptor(), part)
		if fd == nil {
			return "", unavailable("field %q not found in %s", c.Field, current.Descriptor().FullName())
		}
		if !current.Has(fd) {
			return "", unavailable("field %q is not set", c.Field)
		}

		value := current.Get(fd)
		if i < len(parts)-1 {
			if fd.Kind() != protoreflect.MessageKind || fd.IsList() || fd.IsMap() {
				return "", unavailable("field %q is not a message", part)
			}
			current = value.Message()
			continue
		}
		return protoScalar(fd, value, c.Field)
	}
	return "", unavailable("empty field path")
}

func (ProtoFieldCorrelator) CorrelationKeyName(endpoint string) string { return KeyName(endpoint) }

func unmarshalProto(payload []byte, target proto.Message) error {
	if bytes.HasPrefix(bytes.TrimSpace(payload), []byte("{")) {
		if err := protojson.Unmarshal(payload, target); err == nil {
			return nil
		}
		proto.Reset(target)
	}
	return proto.Unmarshal(payload, target)
}

func findField(md protoreflect.MessageDescriptor, name string) protoreflect.FieldDescriptor {
	if fd := md.Fields().ByName(protoreflect.Name(name)); fd != nil {
		return fd
	}
	return md.Fields().ByJSONName(name)
}

func protoScalar(fd protoreflect.FieldDescriptor, value protoreflect.Value, path string) (string, error) {
	if fd.IsList() || fd.IsMap() {
		return "", unavailable("field %q is repeated", path)
	}
	switch fd.Kind() {
	case protoreflect.MessageKind, protoreflect.GroupKind:
		return "", unavailable("field %q is a message", path)
	case protoreflect.EnumKind:
		if ev := fd.Enum().Values().ByNumber(value.Enum()); ev != nil {
			return string(ev.Name()), nil
		}
		return strconv.Itoa(int(value.Enum())), nil
	case protoreflect.BytesKind:
		return string(value.Bytes()), nil
	}
	return value.String(), nil
}

// CorrelatorFunc adapts a function to the Correlator interface.
type CorrelatorFunc func(msg *message.Message) (string, error)

func (f CorrelatorFunc) CorrelationKey(msg *message.Message) (string, error) { return f(msg) }

func (CorrelatorFunc) CorrelationKeyName(endpoint string) string { return KeyName(endpoint) }
