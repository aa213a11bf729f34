/*
Package runtime hosts replybridge endpoints and responders on one transport.

# Service (service.go)

Service builds the configured transport through the registry, registers
the bridge collectors and creates a Watermill router with the default
middleware chain. It serves /metrics on MetricsPort once started.

# Factories (factories.go)

NewSyncProducer, NewSyncConsumer, NewTopicAdapter, NewReplyStore and
NewReplyAddressTracker create components that share the service transport,
logger, metrics, correlator and key registry.

# Responders (responder.go)

RegisterResponder adds a router handler that answers each request on its
reply_to destination with the request's correlation_id. Typed variants
decode JSON or protobuf payloads first.

# Middleware (middleware.go, hooks.go)

  - CorrelationID: fills a missing correlation_id
  - LogMessages: debug logging of payloads
  - Tracer: OpenTelemetry span per request
  - Metrics: Watermill router metrics
  - Retry: exponential backoff for failing responders
  - Recoverer: panic recovery
  - ResponderHooks: callbacks around every request

# Sub-packages

  - buffer/: in-memory queue with selectors
  - config/: service configuration with validation
  - correlation/: correlators, stores, key registry, reply address tracker
  - endpoint/: synchronous producer and consumer
  - errors/: sentinel errors and error types
  - handlers/: typed JSON and protobuf responders
  - ids/: ULID and reply destination generation
  - jsoncodec/: JSON marshaling
  - logging/: logger interface and adapters
  - metadata/: message header helpers
  - metrics/: Prometheus collectors
  - subscription/: topic-to-queue adapter
  - transport/: transport construction from config
  - waiter/: polling and notifying waiters
*/
package runtime
