// Package replybridge turns asynchronous publish/subscribe transports into
// synchronous request/reply endpoints. It sits on top of Watermill and reads
// the target transport (Kafka, RabbitMQ, AWS SNS/SQS, NATS, NATS JetStream,
// HTTP or Go channels) from Config.
//
// A SyncProducer publishes a request carrying correlation_id and reply_to
// headers and blocks until the matching reply arrives on its private reply
// topic or the timeout elapses. A SyncConsumer receives requests, remembers
// where each one wants its answer and sends the reply back under the same
// correlation key. Replies that arrive before anyone waits for them are kept
// in a correlation Store until a Waiter claims them.
//
// Topics become queues through a TopicAdapter: one background subscription
// per topic drains the transport into an in-memory buffer that callers read
// with a timeout and an optional Selector. Durable subscription names map
// onto the transport's own notion of durability (consumer groups, durable
// queues, durable JetStream consumers or SQS queue names).
//
// # Service
//
// Service wires one transport, the endpoints created from it and a Watermill
// router for responders. RegisterResponder, RegisterJSONResponder and
// RegisterProtoResponder answer requests on a topic; the router runs the
// default middleware chain for correlation ids, message logging, tracing,
// Prometheus metrics, retries and panic recovery. ResponderHooks observe
// every request handled by a responder.
//
// # Correlation
//
// IdentityCorrelator keys a request by its message UUID. HeaderCorrelator,
// PayloadFieldCorrelator and ProtoFieldCorrelator read the key from a
// metadata header, a JSON path or a protobuf field so that replies produced
// by foreign systems can still be matched.
package replybridge
