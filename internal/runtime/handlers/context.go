// Package handlers turns typed request functions into responder functions
// that decode a request payload and encode the reply.
package handlers

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"

	loggingpkg "github.com/drblury/replybridge/internal/runtime/logging"
	metadatapkg "github.com/drblury/replybridge/internal/runtime/metadata"
)

// SchemaKey names the Go type of an encoded reply payload.
const SchemaKey = "replybridge_schema"

// Func answers one request. A nil reply with a nil error sends nothing.
type Func func(ctx context.Context, request *message.Message) (*message.Message, error)

// RequestContext carries what a typed responder knows about its request
// besides the payload.
type RequestContext struct {
	UUID     string
	Metadata metadatapkg.Metadata
	Logger   loggingpkg.ServiceLogger
}

func newRequestContext(msg *message.Message, logger loggingpkg.ServiceLogger) RequestContext {
	return RequestContext{
		UUID:     msg.UUID,
		Metadata: metadatapkg.FromWatermill(msg.Metadata),
		Logger:   loggingpkg.OrNop(logger),
	}
}

// CloneMetadata returns a copy of the request metadata.
func (c RequestContext) CloneMetadata() metadatapkg.Metadata {
	return c.Metadata.Clone()
}

// Get retrieves a metadata value by key.
func (c RequestContext) Get(key string) string {
	return c.Metadata[key]
}

func (c RequestContext) CorrelationID() string {
	return c.Metadata[metadatapkg.CorrelationIDKey]
}

func (c RequestContext) ReplyTo() string {
	return c.Metadata[metadatapkg.ReplyToKey]
}
