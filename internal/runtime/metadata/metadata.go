// Package metadata names the headers replybridge reads and writes on
// Watermill messages.
package metadata

const (
	// CorrelationIDKey carries the correlation key of an exchange.
	CorrelationIDKey = "correlation_id"

	// ReplyToKey carries the destination a reply must be published to.
	ReplyToKey = "reply_to"

	// EndpointKey names the endpoint that published a request.
	EndpointKey = "replybridge_endpoint"
)

// Metadata is a set of headers waiting to be applied to a message.
type Metadata map[string]string

// New constructs a Metadata map from alternating key/value pairs. Empty values
// are skipped so optional headers can be passed unconditionally.
func New(pairs ...string) Metadata {
	md := make(Metadata, len(pairs)/2)
	for i := 0; i < len(pairs)-1; i += 2 {
		if pairs[i+1] == "" {
			continue
		}
		md[pairs[i]] = pairs[i+1]
	}
	return md
}

// Clone returns a copy of m.
func (m Metadata) Clone() Metadata {
	cloned := make(Metadata, len(m))
	for k, v := range m {
		cloned[k] = v
	}
	return cloned
}

// With returns a cloned metadata map containing the provided key/value pair.
func (m Metadata) With(key, value string) Metadata {
	cloned := make(Metadata, len(m)+1)
	for k, v := range m {
		cloned[k] = v
	}
	cloned[key] = value
	return cloned
}
