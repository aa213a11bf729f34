package replybridge

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"
	"google.golang.org/protobuf/proto"

	runtimepkg "github.com/drblury/replybridge/internal/runtime"
	bufferpkg "github.com/drblury/replybridge/internal/runtime/buffer"
	configpkg "github.com/drblury/replybridge/internal/runtime/config"
	"github.com/drblury/replybridge/internal/runtime/correlation"
	"github.com/drblury/replybridge/internal/runtime/endpoint"
	errspkg "github.com/drblury/replybridge/internal/runtime/errors"
	handlerpkg "github.com/drblury/replybridge/internal/runtime/handlers"
	idspkg "github.com/drblury/replybridge/internal/runtime/ids"
	jsoncodec "github.com/drblury/replybridge/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/replybridge/internal/runtime/logging"
	metadatapkg "github.com/drblury/replybridge/internal/runtime/metadata"
	metricspkg "github.com/drblury/replybridge/internal/runtime/metrics"
	"github.com/drblury/replybridge/internal/runtime/subscription"
	transportpkg "github.com/drblury/replybridge/internal/runtime/transport"
	waiterpkg "github.com/drblury/replybridge/internal/runtime/waiter"
	"github.com/drblury/replybridge/transport"
)

type (
	Config              = configpkg.Config
	Service             = runtimepkg.Service
	ServiceDependencies = runtimepkg.ServiceDependencies
	Transport           = transportpkg.Transport
	TransportFactory    = transportpkg.Factory

	ResponderFunc                      = runtimepkg.ResponderFunc
	ResponderInfo                      = runtimepkg.ResponderInfo
	RequestContext                     = handlerpkg.RequestContext
	JSONRequest[T any]                 = handlerpkg.JSONRequest[T]
	JSONResponder[T any, O any]        = handlerpkg.JSONResponder[T, O]
	ProtoRequest[T proto.Message]      = handlerpkg.ProtoRequest[T]
	ProtoResponder[T, O proto.Message] = handlerpkg.ProtoResponder[T, O]
	ExchangeContext                    = runtimepkg.ExchangeContext
	ResponderHooks                     = runtimepkg.ResponderHooks
	MiddlewareBuilder                  = runtimepkg.MiddlewareBuilder
	MiddlewareRegistration             = runtimepkg.MiddlewareRegistration
	RetryMiddlewareConfig              = runtimepkg.RetryMiddlewareConfig
	EndpointConfig                     = endpoint.Config
	EndpointOption                     = endpoint.Option
	SyncProducer                       = endpoint.SyncProducer
	SyncConsumer                       = endpoint.SyncConsumer
	TopicAdapter                       = subscription.Adapter
	TopicAdapterConfig                 = subscription.Config
	TopicAdapterOption                 = subscription.Option
	SubscriptionState                  = subscription.State
	Converter                          = subscription.Converter
	Source                             = subscription.Source
	Selector                           = bufferpkg.Selector
	Correlator                         = correlation.Correlator
	IdentityCorrelator                 = correlation.IdentityCorrelator
	HeaderCorrelator                   = correlation.HeaderCorrelator
	PayloadFieldCorrelator             = correlation.PayloadFieldCorrelator
	ProtoFieldCorrelator               = correlation.ProtoFieldCorrelator
	CorrelatorFunc                     = correlation.CorrelatorFunc
	KeyRegistry                        = correlation.KeyRegistry
	Store[V any]                       = correlation.Store[V]
	StoreOption                        = correlation.StoreOption
	ReplyAddressTracker                = correlation.ReplyAddressTracker
	Waiter[V any]                      = waiterpkg.Waiter[V]
	WaiterOption                       = waiterpkg.Option
	Metrics                            = metricspkg.Metrics
	MetricsSnapshot                    = metricspkg.Snapshot
	Metadata                           = metadatapkg.Metadata
	LogFields                          = loggingpkg.LogFields
	ServiceLogger                      = loggingpkg.ServiceLogger
	EntryLoggerAdapter[T any]          = loggingpkg.EntryLoggerAdapter[T]
	CorrelationTimeoutError            = errspkg.CorrelationTimeoutError
	ReplyAddressMissingError           = errspkg.ReplyAddressMissingError
	SubscriptionStartError             = errspkg.SubscriptionStartError
	SubscriptionStopTimeoutError       = errspkg.SubscriptionStopTimeoutError
	ConfigValidationError              = errspkg.ConfigValidationError
	TransportBuilder                   = transport.Builder
	TransportConfig                    = transport.Config
	TransportRegistry                  = transport.Registry
	TransportCapabilities              = transport.Capabilities
	TransportSubscriberOptions         = transport.SubscriberOptions
)

var (
	NewService     = runtimepkg.NewService
	ValidateConfig = configpkg.ValidateConfig

	DefaultMiddlewares       = runtimepkg.DefaultMiddlewares
	CorrelationIDMiddleware  = runtimepkg.CorrelationIDMiddleware
	LogMessagesMiddleware    = runtimepkg.LogMessagesMiddleware
	TracerMiddleware         = runtimepkg.TracerMiddleware
	MetricsMiddleware        = runtimepkg.MetricsMiddleware
	PoisonQueueMiddleware    = runtimepkg.PoisonQueueMiddleware
	RetryMiddleware          = runtimepkg.RetryMiddleware
	RecovererMiddleware      = runtimepkg.RecovererMiddleware
	ResponderHooksMiddleware = runtimepkg.ResponderHooksMiddleware
	LoggingHooks             = runtimepkg.LoggingHooks
	CountingHooks            = runtimepkg.CountingHooks

	NewSyncProducer     = endpoint.NewSyncProducer
	NewSyncConsumer     = endpoint.NewSyncConsumer
	WithLogger          = endpoint.WithLogger
	WithMetrics         = endpoint.WithMetrics
	WithKeyRegistry     = endpoint.WithKeyRegistry
	WithNotifyingWaiter = endpoint.WithNotifyingWaiter

	NewTopicAdapter    = subscription.NewAdapter
	NewWatermillSource = subscription.NewWatermillSource
	MatchMetadata      = bufferpkg.MatchMetadata

	NewKeyRegistry         = correlation.NewKeyRegistry
	NewReplyAddressTracker = correlation.NewReplyAddressTracker
	CorrelationKeyName     = correlation.KeyName
	WithStoreLogger        = correlation.WithStoreLogger
	WithStoreMetrics       = correlation.WithStoreMetrics

	NewMetrics = metricspkg.New

	DefaultTransportRegistry = transport.DefaultRegistry
	RegisterTransport        = transport.Register
	BuildTransport           = transport.Build
	GetCapabilities          = transport.GetCapabilities
	DefaultTransportFactory  = transportpkg.DefaultFactory
	RegistryTransportFactory = transportpkg.RegistryFactory

	Marshal       = jsoncodec.Marshal
	MarshalIndent = jsoncodec.MarshalIndent
	Unmarshal     = jsoncodec.Unmarshal
	Encode        = jsoncodec.Encode
	Decode        = jsoncodec.Decode

	ErrKeyRequired               = errspkg.ErrKeyRequired
	ErrCorrelationTimeout        = errspkg.ErrCorrelationTimeout
	ErrReplyAddressMissing       = errspkg.ErrReplyAddressMissing
	ErrReplyAddressRequired      = errspkg.ErrReplyAddressRequired
	ErrCorrelationKeyNotFound    = errspkg.ErrCorrelationKeyNotFound
	ErrCorrelationKeyUnavailable = errspkg.ErrCorrelationKeyUnavailable
	ErrSubscriptionStart         = errspkg.ErrSubscriptionStart
	ErrSubscriptionStopTimeout   = errspkg.ErrSubscriptionStopTimeout
	ErrSubscriptionClosed        = errspkg.ErrSubscriptionClosed
	ErrAlreadyStarted            = errspkg.ErrAlreadyStarted
	ErrNotStarted                = errspkg.ErrNotStarted
	ErrBufferClosed              = errspkg.ErrBufferClosed
	ErrReceiveTimeout            = errspkg.ErrReceiveTimeout
	ErrPublisherRequired         = errspkg.ErrPublisherRequired
	ErrSubscriberRequired        = errspkg.ErrSubscriberRequired
	ErrTopicRequired             = errspkg.ErrTopicRequired
	ErrConfigRequired            = errspkg.ErrConfigRequired
	ErrLoggerRequired            = errspkg.ErrLoggerRequired
	ErrServiceRequired           = errspkg.ErrServiceRequired
	ErrResponderRequired         = errspkg.ErrResponderRequired
	ErrResponderNameRequired     = errspkg.ErrResponderNameRequired
	ErrUnknownTransport          = transport.ErrUnknownTransport

	NewSlogServiceLogger      = loggingpkg.NewSlogServiceLogger
	NewWatermillServiceLogger = loggingpkg.NewWatermillServiceLogger

	NewMetadata = metadatapkg.New

	CreateULID = idspkg.CreateULID
)

// Metadata keys stamped on requests and replies.
const (
	MetadataKeyCorrelationID = metadatapkg.CorrelationIDKey
	MetadataKeyReplyTo       = metadatapkg.ReplyToKey
	MetadataKeyEndpoint      = metadatapkg.EndpointKey
	MetadataKeySchema        = handlerpkg.SchemaKey
)

// Subscription states reported by TopicAdapter.State.
const (
	SubscriptionCreated  = subscription.Created
	SubscriptionStarting = subscription.Starting
	SubscriptionRunning  = subscription.Running
	SubscriptionStopping = subscription.Stopping
	SubscriptionStopped  = subscription.Stopped
	SubscriptionFailed   = subscription.Failed
)

func RegisterJSONResponder[T any, O any](svc *Service, name, topic string, responder JSONResponder[T, O]) error {
	return runtimepkg.RegisterJSONResponder(svc, name, topic, responder)
}

func RegisterProtoResponder[T proto.Message, O proto.Message](svc *Service, name, topic string, responder ProtoResponder[T, O]) error {
	return runtimepkg.RegisterProtoResponder(svc, name, topic, responder)
}

// Echo replies with a copy of the request.
func Echo(ctx context.Context, request *message.Message) (*message.Message, error) {
	return runtimepkg.Echo(ctx, request)
}

func NewStore[V any](name string, opts ...StoreOption) *Store[V] {
	return correlation.NewStore[V](name, opts...)
}

func NewPollingWaiter[V any](finder waiterpkg.Finder[V], opts ...WaiterOption) Waiter[V] {
	return waiterpkg.NewPolling(finder, opts...)
}

func NewNotifyingWaiter[V any](finder waiterpkg.NotifyingFinder[V], opts ...WaiterOption) Waiter[V] {
	return waiterpkg.NewNotifying(finder, opts...)
}

func NewEntryServiceLogger[T EntryLoggerAdapter[T]](entry T) ServiceLogger {
	return loggingpkg.NewEntryServiceLogger(entry)
}
