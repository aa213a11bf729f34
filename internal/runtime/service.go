package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/plugin"
	"github.com/prometheus/client_golang/prometheus"

	configpkg "github.com/drblury/replybridge/internal/runtime/config"
	"github.com/drblury/replybridge/internal/runtime/correlation"
	rberrors "github.com/drblury/replybridge/internal/runtime/errors"
	loggingpkg "github.com/drblury/replybridge/internal/runtime/logging"
	metricspkg "github.com/drblury/replybridge/internal/runtime/metrics"
	transportpkg "github.com/drblury/replybridge/internal/runtime/transport"
	"github.com/drblury/replybridge/transport"
)

var routerRun = func(router *message.Router, ctx context.Context) error {
	return router.Run(ctx)
}

const httpShutdownTimeout = 5 * time.Second

// ServiceDependencies holds the optional collaborators that the Service can use.
type ServiceDependencies struct {
	Middlewares               []MiddlewareRegistration // Appended after the default middleware chain.
	DisableDefaultMiddlewares bool                     // Skips registering the default middleware chain when true.
	TransportFactory          transportpkg.Factory
	// MetricsRegisterer receives the bridge and router collectors. Defaults
	// to prometheus.DefaultRegisterer.
	MetricsRegisterer prometheus.Registerer
	// Correlator overrides the correlator derived from Conf.CorrelationHeader.
	Correlator correlation.Correlator
	// Hooks run around every responder invocation.
	Hooks ResponderHooks
}

// Service hosts replybridge endpoints on one transport and runs responders on
// a Watermill router.
type Service struct {
	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger

	publisher    message.Publisher
	subscriber   message.Subscriber
	subscribers  transport.SubscriberFactory
	capabilities transport.Capabilities
	router       *message.Router

	registerer prometheus.Registerer
	metrics    *metricspkg.Metrics
	keys       *correlation.KeyRegistry
	correlator correlation.Correlator

	responders   []ResponderInfo
	respondersMu sync.RWMutex

	httpServers   map[int]*http.ServeMux
	running       []*http.Server
	httpServersMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

// NewService constructs a Service for the supplied configuration. Register
// responders on the returned Service before calling Start.
func NewService(conf *configpkg.Config, log loggingpkg.ServiceLogger, ctx context.Context, deps ServiceDependencies) (*Service, error) {
	if err := configpkg.ValidateConfig(conf); err != nil {
		return nil, err
	}
	if log == nil {
		return nil, rberrors.ErrLoggerRequired
	}

	defaulted := conf.WithDefaults()
	wmLogger := loggingpkg.NewWatermillAdapter(log)
	log.Info("Creating replybridge service", loggingpkg.LogFields{
		"pubsub_system": defaulted.PubSubSystem,
		"config":        defaulted,
	})

	s := &Service{
		Conf:       &defaulted,
		Logger:     log,
		registerer: deps.MetricsRegisterer,
		keys:       correlation.NewKeyRegistry(),
		correlator: deps.Correlator,
	}
	if s.registerer == nil {
		s.registerer = prometheus.DefaultRegisterer
	}
	if s.correlator == nil {
		s.correlator = correlatorFor(s.Conf)
	}

	factory := deps.TransportFactory
	if factory == nil {
		factory = transportpkg.DefaultFactory()
	}
	built, err := factory.Build(ctx, s.Conf, wmLogger)
	if err != nil {
		return nil, fmt.Errorf("build %s transport: %w", s.Conf.PubSubSystem, err)
	}

	s.publisher = built.Publisher
	s.subscriber = built.Subscriber
	s.subscribers = built.Subscribers()
	s.capabilities = built.Capabilities

	if s.Conf.MetricsEnabled {
		s.metrics = metricspkg.New(s.registerer)
		if err := s.metrics.Register(); err != nil {
			_ = s.closeTransport()
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}

	router, err := message.NewRouter(message.RouterConfig{}, wmLogger)
	if err != nil {
		_ = s.closeTransport()
		return nil, err
	}
	s.router = router
	s.router.AddPlugin(plugin.SignalsHandler)

	if err := s.registerConfiguredMiddlewares(deps); err != nil {
		_ = s.closeTransport()
		return nil, err
	}

	return s, nil
}

func correlatorFor(conf *configpkg.Config) correlation.Correlator {
	if conf.CorrelationHeader != "" {
		return correlation.HeaderCorrelator{Header: conf.CorrelationHeader}
	}
	return correlation.IdentityCorrelator{}
}

// Start serves the metrics endpoint, if configured, and runs the router until
// ctx is cancelled.
func (s *Service) Start(ctx context.Context) error {
	s.startHTTPServers()
	return routerRun(s.router, ctx)
}

// Close stops the router, the HTTP servers and the transport.
func (s *Service) Close() error {
	s.closeOnce.Do(func() {
		var errs []error
		if s.router != nil {
			if err := s.router.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close router: %w", err))
			}
		}
		errs = append(errs, s.stopHTTPServers())
		errs = append(errs, s.closeTransport())
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}

func (s *Service) closeTransport() error {
	var errs []error
	if s.publisher != nil {
		if err := s.publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close publisher: %w", err))
		}
	}
	if s.subscriber != nil && any(s.subscriber) != any(s.publisher) {
		if err := s.subscriber.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close subscriber: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (s *Service) registerConfiguredMiddlewares(deps ServiceDependencies) error {
	var defaults []MiddlewareRegistration
	if !deps.DisableDefaultMiddlewares {
		defaults = DefaultMiddlewares()
	}
	registrations := make([]MiddlewareRegistration, 0, len(defaults)+len(deps.Middlewares)+1)
	registrations = append(registrations, defaults...)
	registrations = append(registrations, deps.Middlewares...)
	if !deps.Hooks.IsZero() {
		registrations = append(registrations, ResponderHooksMiddleware(deps.Hooks))
	}

	for _, reg := range registrations {
		if err := s.RegisterMiddleware(reg); err != nil {
			name := reg.Name
			if name == "" {
				name = "anonymous_middleware"
			}
			return fmt.Errorf("failed to register middleware %s: %w", name, err)
		}
	}
	return nil
}

// Publisher returns the transport publisher.
func (s *Service) Publisher() message.Publisher { return s.publisher }

// Capabilities describes the transport the service runs on.
func (s *Service) Capabilities() transport.Capabilities { return s.capabilities }

// Metrics returns the bridge collectors, or nil when metrics are disabled.
func (s *Service) Metrics() *metricspkg.Metrics { return s.metrics }

// Correlator returns the correlator endpoints created by the service default to.
func (s *Service) Correlator() correlation.Correlator {
	if s.correlator == nil {
		return correlation.IdentityCorrelator{}
	}
	return s.correlator
}

// KeyRegistry returns a registry endpoints can share through
// endpoint.WithKeyRegistry. Endpoints do not use it unless asked to.
func (s *Service) KeyRegistry() *correlation.KeyRegistry { return s.keys }

// RegisterHTTPHandler serves handler on port once the service starts.
func (s *Service) RegisterHTTPHandler(port int, pattern string, handler http.Handler) {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	if s.httpServers == nil {
		s.httpServers = make(map[int]*http.ServeMux)
	}

	mux, ok := s.httpServers[port]
	if !ok {
		mux = http.NewServeMux()
		s.httpServers[port] = mux
	}

	mux.Handle(pattern, handler)
}

func (s *Service) startHTTPServers() {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	for port, mux := range s.httpServers {
		server := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		s.running = append(s.running, server)

		s.Logger.Info("Starting HTTP server", loggingpkg.LogFields{"address": server.Addr})
		go func(server *http.Server) {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.Logger.Error("Failed to start HTTP server", err, loggingpkg.LogFields{"address": server.Addr})
			}
		}(server)
	}
}

func (s *Service) stopHTTPServers() error {
	s.httpServersMu.Lock()
	servers := s.running
	s.running = nil
	s.httpServersMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
	defer cancel()

	var errs []error
	for _, server := range servers {
		if err := server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown %s: %w", server.Addr, err))
		}
	}
	return errors.Join(errs...)
}
