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

	configpkg "github.com/drblury/traceflow/internal/runtime/config"
	errspkg "github.com/drblury/traceflow/internal/runtime/errors"
	formatpkg "github.com/drblury/traceflow/internal/runtime/format"
	loggingpkg "github.com/drblury/traceflow/internal/runtime/logging"
	securitypkg "github.com/drblury/traceflow/internal/runtime/security"
	telemetrypkg "github.com/drblury/traceflow/internal/runtime/telemetry"
	transportpkg "github.com/drblury/traceflow/internal/runtime/transport"
)

var routerRun = func(router *message.Router, ctx context.Context) error {
	return router.Run(ctx)
}

// ServiceDependencies holds the optional collaborators that the Service can use.
// Leave fields nil to skip the related behaviour.
type ServiceDependencies struct {
	Middlewares               []MiddlewareRegistration // Appended after the default middleware chain.
	DisableDefaultMiddlewares bool                     // Skips registering the default middleware chain when true.
	TransportFactory          transportpkg.Factory

	// Format overrides the format named in Config.Format.
	Format formatpkg.Format
	// Security is the default security step for servers and consumers.
	Security securitypkg.Options
	// Telemetry builds telemetry contexts for inbound calls and messages.
	Telemetry telemetrypkg.Strategy
	// DependencyTracker spans outbound calls and sends.
	DependencyTracker telemetrypkg.DependencyTracker
	// Hooks are merged into every server's hooks.
	Hooks CallHooks
	// Metrics records call outcomes. When nil and Config.MetricsEnabled is
	// set, collectors are registered on the default Prometheus registerer.
	Metrics *RPCMetrics
}

// Service wires a Watermill router, publisher and subscriber shared by the
// clients, servers, publishers and consumers created on it.
type Service struct {
	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger

	publisher    message.Publisher
	subscriber   message.Subscriber
	router       *message.Router
	capabilities transportpkg.Capabilities

	format    formatpkg.Format
	security  securitypkg.Options
	telemetry telemetrypkg.Strategy
	tracker   telemetrypkg.DependencyTracker
	hooks     CallHooks
	metrics   *RPCMetrics

	runCtx   context.Context
	runCtxMu sync.Mutex

	closers   []func() error
	closersMu sync.Mutex

	httpServers   map[int]*http.ServeMux
	httpServersMu sync.Mutex

	endpoints   []EndpointInfo
	endpointsMu sync.RWMutex
}

// NewService constructs a Service for the supplied configuration. Create
// clients, servers and consumers on the returned Service before calling
// Start; handlers added later are started on the running router.
func NewService(conf *configpkg.Config, log loggingpkg.ServiceLogger, ctx context.Context, deps ServiceDependencies) (*Service, error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if log == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	if err := conf.Validate(); err != nil {
		return nil, errspkg.NewConfigValidationError(err)
	}
	if err := deps.Security.Validate(); err != nil {
		return nil, errspkg.NewConfigValidationError(err)
	}

	format := deps.Format
	if format == nil {
		var err error
		if format, err = formatpkg.ByName(conf.Format); err != nil {
			return nil, errspkg.NewConfigValidationError(err)
		}
	}

	wmLogger := loggingpkg.NewWatermillAdapter(log)
	log.Info("Creating traceflow service",
		loggingpkg.LogFields{
			"pubsub_system": conf.PubSubSystem,
			"service":       conf.ServiceName,
			"format":        format.ContentType(),
			"config":        conf.String(),
		})

	s := &Service{
		Conf:         conf,
		Logger:       log,
		format:       format,
		security:     deps.Security,
		telemetry:    deps.Telemetry,
		tracker:      deps.DependencyTracker,
		hooks:        deps.Hooks,
		metrics:      deps.Metrics,
		capabilities: transportpkg.CapabilitiesOf(conf.PubSubSystem),
	}

	if err := transportpkg.ValidateAckMode(s.capabilities, conf.ManualAck()); err != nil {
		return nil, errspkg.NewConfigValidationError(err)
	}

	if s.metrics == nil && conf.MetricsEnabled {
		s.metrics = NewRPCMetrics(nil)
	}
	if s.metrics != nil {
		if err := s.metrics.Register(); err != nil {
			return nil, fmt.Errorf("register rpc metrics: %w", err)
		}
	}

	factory := deps.TransportFactory
	if factory == nil {
		factory = transportpkg.DefaultFactory()
	}
	transport, err := factory.Build(ctx, conf, wmLogger)
	if err != nil {
		return nil, fmt.Errorf("build transport: %w", err)
	}

	s.publisher = transport.Publisher
	s.subscriber = transport.Subscriber

	router, err := message.NewRouter(message.RouterConfig{}, wmLogger)
	if err != nil {
		return nil, err
	}

	s.router = router
	s.router.AddPlugin(plugin.SignalsHandler)

	if err := s.registerConfiguredMiddlewares(deps); err != nil {
		return nil, err
	}
	s.startCallsAPI()

	return s, nil
}

// Start runs the underlying Watermill router until the provided context is
// cancelled or Close is called.
func (s *Service) Start(ctx context.Context) error {
	s.runCtxMu.Lock()
	s.runCtx = ctx
	s.runCtxMu.Unlock()

	s.startHTTPServers()
	return routerRun(s.router, ctx)
}

// Running is closed once the router subscribed all handlers.
func (s *Service) Running() chan struct{} {
	return s.router.Running()
}

// Close terminates active calls, stops the router and closes the transport.
func (s *Service) Close() error {
	s.closersMu.Lock()
	closers := s.closers
	s.closers = nil
	s.closersMu.Unlock()

	var errs []error
	for _, c := range closers {
		errs = append(errs, c())
	}
	errs = append(errs, s.router.Close())
	if s.publisher != nil {
		errs = append(errs, s.publisher.Close())
	}
	if s.subscriber != nil && any(s.subscriber) != any(s.publisher) {
		errs = append(errs, s.subscriber.Close())
	}
	return errors.Join(errs...)
}

// Capabilities reports what the configured transport supports.
func (s *Service) Capabilities() transportpkg.Capabilities {
	return s.capabilities
}

func (s *Service) onClose(fn func() error) {
	s.closersMu.Lock()
	defer s.closersMu.Unlock()
	s.closers = append(s.closers, fn)
}

// addHandler subscribes fn to topic, starting it right away when the router
// is already running.
func (s *Service) addHandler(name, topic string, fn message.NoPublishHandlerFunc) error {
	s.router.AddConsumerHandler(name, topic, s.subscriber, fn)

	s.endpointsMu.Lock()
	s.endpoints = append(s.endpoints, EndpointInfo{Name: name, Topic: topic})
	s.endpointsMu.Unlock()

	if !s.router.IsRunning() {
		return nil
	}
	s.runCtxMu.Lock()
	ctx := s.runCtx
	s.runCtxMu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	return s.router.RunHandlers(ctx)
}

func (s *Service) publish(ctx context.Context, topic string, msg *message.Message) error {
	if s.publisher == nil {
		return errspkg.ErrPublisherRequired
	}
	if ctx != nil {
		msg.SetContext(ctx)
	}
	return s.publisher.Publish(topic, msg)
}

func (s *Service) registerConfiguredMiddlewares(deps ServiceDependencies) error {
	var defaults []MiddlewareRegistration
	if !deps.DisableDefaultMiddlewares {
		defaults = DefaultMiddlewares()
	}
	registrations := make([]MiddlewareRegistration, 0, len(defaults)+len(deps.Middlewares))
	registrations = append(registrations, defaults...)
	registrations = append(registrations, deps.Middlewares...)

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

// RegisterHTTPHandler serves handler on port once the service starts.
// Handlers sharing a port share one server.
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
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		s.Logger.Info("Starting HTTP server", loggingpkg.LogFields{"address": srv.Addr})
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.Logger.Error("Failed to start HTTP server", err, loggingpkg.LogFields{"address": srv.Addr})
			}
		}()
		s.onClose(func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(ctx)
		})
	}
}
