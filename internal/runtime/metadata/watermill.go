package metadata

import "github.com/ThreeDotsLabs/watermill/message"

// Apply writes every entry onto msg, overwriting existing headers.
func (m Metadata) Apply(msg *message.Message) {
	if msg.Metadata == nil {
		msg.Metadata = make(message.Metadata, len(m))
	}
	for k, v := range m {
		msg.Metadata.Set(k, v)
	}
}

// FromWatermill copies the headers of a Watermill message.
func FromWatermill(md message.Metadata) Metadata {
	result := make(Metadata, len(md))
	for k, v := range md {
		result[k] = v
	}
	return result
}

// CorrelationID returns the correlation header of msg, or "".
func CorrelationID(msg *message.Message) string {
	return msg.Metadata.Get(CorrelationIDKey)
}

// ReplyTo returns the reply destination header of msg, or "".
func ReplyTo(msg *message.Message) string {
	return msg.Metadata.Get(ReplyToKey)
}
