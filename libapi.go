package traceflow

import (
	"context"

	runtimepkg "github.com/drblury/traceflow/internal/runtime"
	configpkg "github.com/drblury/traceflow/internal/runtime/config"
	errspkg "github.com/drblury/traceflow/internal/runtime/errors"
	formatpkg "github.com/drblury/traceflow/internal/runtime/format"
	idspkg "github.com/drblury/traceflow/internal/runtime/ids"
	jsoncodec "github.com/drblury/traceflow/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/traceflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/traceflow/internal/runtime/metadata"
	securitypkg "github.com/drblury/traceflow/internal/runtime/security"
	"github.com/drblury/traceflow/internal/runtime/security/jwtsecurity"
	telemetrypkg "github.com/drblury/traceflow/internal/runtime/telemetry"
	"github.com/drblury/traceflow/internal/runtime/telemetry/oteltelemetry"
	transportpkg "github.com/drblury/traceflow/internal/runtime/transport"
	newtransport "github.com/drblury/traceflow/transport"
)

type (
	Config               = configpkg.Config
	Service              = runtimepkg.Service
	ServiceDependencies  = runtimepkg.ServiceDependencies
	Transport            = transportpkg.Transport
	TransportFactory     = transportpkg.Factory
	TransportFactoryFunc = transportpkg.FactoryFunc

	// RPC endpoints
	Client         = runtimepkg.Client
	ClientConfig   = runtimepkg.ClientConfig
	Server         = runtimepkg.Server
	ServerConfig   = runtimepkg.ServerConfig
	Request        = runtimepkg.Request
	RequestHandler = runtimepkg.RequestHandler
	RequestMux     = runtimepkg.RequestMux
	Reply          = runtimepkg.Reply
	ReplyStatus    = runtimepkg.ReplyStatus
	Replier        = runtimepkg.Replier
	CallOption     = runtimepkg.CallOption
	SendOption     = runtimepkg.SendOption

	TypedRequestHandler[Req any, Resp any] = runtimepkg.TypedRequestHandler[Req, Resp]

	// One-way messages
	Publisher       = runtimepkg.Publisher
	PublisherConfig = runtimepkg.PublisherConfig
	Consumer        = runtimepkg.Consumer
	ConsumerConfig  = runtimepkg.ConsumerConfig
	Message         = runtimepkg.Message
	MessageHandler  = runtimepkg.MessageHandler

	MiddlewareBuilder      = runtimepkg.MiddlewareBuilder
	MiddlewareRegistration = runtimepkg.MiddlewareRegistration

	Metadata = metadatapkg.Metadata
	Format   = formatpkg.Format

	LogFields                 = loggingpkg.LogFields
	ServiceLogger             = loggingpkg.ServiceLogger
	EntryLogger               = loggingpkg.EntryLogger
	EntryLoggerAdapter[T any] = loggingpkg.EntryLoggerAdapter[T]

	// Security
	SecurityOptions       = securitypkg.Options
	SecurityContext       = securitypkg.Context
	Authenticator         = securitypkg.Authenticator
	AuthenticatorFunc     = securitypkg.AuthenticatorFunc
	Authorizer            = securitypkg.Authorizer
	AuthorizerFunc        = securitypkg.AuthorizerFunc
	AuthorizationDecision = securitypkg.Decision
	JWTConfig             = jwtsecurity.Config
	JWTAuthenticator      = jwtsecurity.Authenticator

	// Telemetry
	TelemetryStrategy = telemetrypkg.Strategy
	TelemetryContext  = telemetrypkg.Context
	TelemetryStatus   = telemetrypkg.Status
	DependencyTracker = telemetrypkg.DependencyTracker
	OTelTelemetry     = oteltelemetry.Strategy
	OTelOption        = oteltelemetry.Option

	// Call hooks and metrics
	CallInfo           = runtimepkg.CallInfo
	CallHooks          = runtimepkg.CallHooks
	RPCMetrics         = runtimepkg.RPCMetrics
	ServerCallMetrics  = runtimepkg.ServerCallMetrics
	RPCMetricsSnapshot = runtimepkg.RPCMetricsSnapshot
	EndpointInfo       = runtimepkg.EndpointInfo
	CallsOverview      = runtimepkg.CallsOverview

	RPCError              = errspkg.RPCError
	ConfigValidationError = errspkg.ConfigValidationError

	// Transport capabilities
	Capabilities = transportpkg.Capabilities

	// Modular transport types
	TransportBuilder      = newtransport.Builder
	TransportConfig       = newtransport.Config
	TransportRegistry     = newtransport.Registry
	TransportCapabilities = newtransport.Capabilities
)

// Reply statuses carried in the Status field of every reply body.
const (
	StatusSuccess      = runtimepkg.StatusSuccess
	StatusFail         = runtimepkg.StatusFail
	StatusUnauthorized = runtimepkg.StatusUnauthorized
	StatusForbidden    = runtimepkg.StatusForbidden
)

// Protocol headers stamped on requests and replies.
const (
	HeaderRequestType          = metadatapkg.HeaderRequestType
	HeaderAccessToken          = metadatapkg.HeaderAccessToken
	HeaderTimeout              = metadatapkg.HeaderTimeout
	HeaderTelemetryOperationID = metadatapkg.HeaderTelemetryOperationID
	HeaderTelemetryParentID    = metadatapkg.HeaderTelemetryParentID
	HeaderTelemetrySource      = metadatapkg.HeaderTelemetrySource

	MetadataKeyCorrelationID = metadatapkg.KeyCorrelationID
	MetadataKeyReplyTo       = metadatapkg.KeyReplyTo
	MetadataKeyContentType   = metadatapkg.KeyContentType
	MetadataKeyExpiration    = metadatapkg.KeyExpiration
)

var (
	NewService     = runtimepkg.NewService
	ValidateConfig = configpkg.ValidateConfig
	ConfigFromEnv  = configpkg.FromEnv

	NewClient    = runtimepkg.NewClient
	NewServer    = runtimepkg.NewServer
	NewPublisher = runtimepkg.NewPublisher
	NewConsumer  = runtimepkg.NewConsumer

	NewRequestMux = runtimepkg.NewRequestMux
	RequestTypeOf = runtimepkg.RequestTypeOf
	Succeeded     = runtimepkg.Succeeded
	Failed        = runtimepkg.Failed

	WithAccessToken = runtimepkg.WithAccessToken
	WithTimeout     = runtimepkg.WithTimeout
	WithRequestType = runtimepkg.WithRequestType
	WithMetadata    = runtimepkg.WithMetadata

	DefaultMiddlewares    = runtimepkg.DefaultMiddlewares
	LogMessagesMiddleware = runtimepkg.LogMessagesMiddleware
	MetricsMiddleware     = runtimepkg.MetricsMiddleware
	RecovererMiddleware   = runtimepkg.RecovererMiddleware
	TimeoutMiddleware     = runtimepkg.TimeoutMiddleware

	LoggingHooks  = runtimepkg.LoggingHooks
	MetricsHooks  = runtimepkg.MetricsHooks
	AlertingHooks = runtimepkg.AlertingHooks
	NewRPCMetrics = runtimepkg.NewRPCMetrics

	JSONFormat      = formatpkg.JSON
	YAMLFormat      = formatpkg.YAML
	ProtoJSONFormat = formatpkg.ProtoJSON
	FormatByName    = formatpkg.ByName

	GrantAccess       = securitypkg.Grant
	DenyAccess        = securitypkg.Deny
	ScopeAuthorizer   = securitypkg.ScopeAuthorizer
	TelemetryStatusOf = telemetrypkg.StatusOf

	DefaultJWTConfig        = jwtsecurity.DefaultConfig
	NewJWTAuthenticator     = jwtsecurity.New
	NewJWKSURLAuthenticator = jwtsecurity.NewFromJWKSURL
	NewOTelTelemetry        = oteltelemetry.New
	WithTracerProvider      = oteltelemetry.WithTracerProvider
	WithTelemetrySource     = oteltelemetry.WithSource

	// Transport capabilities
	GetCapabilities = newtransport.GetCapabilities

	// Use RegisterTransport to plug additional brokers into the default registry.
	DefaultTransportRegistry = newtransport.DefaultRegistry
	RegisterTransport        = newtransport.Register
	BuildTransport           = newtransport.Build

	Marshal       = jsoncodec.Marshal
	MarshalIndent = jsoncodec.MarshalIndent
	Unmarshal     = jsoncodec.Unmarshal
	Encode        = jsoncodec.Encode
	Decode        = jsoncodec.Decode

	ErrServiceRequired      = errspkg.ErrServiceRequired
	ErrHandlerRequired      = errspkg.ErrHandlerRequired
	ErrTopicRequired        = errspkg.ErrTopicRequired
	ErrFormatRequired       = errspkg.ErrFormatRequired
	ErrPublisherRequired    = errspkg.ErrPublisherRequired
	ErrConfigRequired       = errspkg.ErrConfigRequired
	ErrLoggerRequired       = errspkg.ErrLoggerRequired
	ErrRequestRequired      = errspkg.ErrRequestRequired
	ErrReplyRequired        = errspkg.ErrReplyRequired
	ErrServerClosed         = errspkg.ErrServerClosed
	ErrMissingCorrelationID = errspkg.ErrMissingCorrelationID
	ErrMissingReplyTo       = errspkg.ErrMissingReplyTo
	ErrMissingRequestType   = errspkg.ErrMissingRequestType
	ErrDuplicateCall        = errspkg.ErrDuplicateCall

	// Kinds of RPCError; match them with errors.Is.
	ErrInvalidReply   = errspkg.ErrInvalidReply
	ErrRequestFailure = errspkg.ErrRequestFailure
	ErrUnauthorized   = errspkg.ErrUnauthorized
	ErrForbidden      = errspkg.ErrForbidden
	ErrTimeout        = errspkg.ErrTimeout

	UnauthorizedError = errspkg.Unauthorized
	ForbiddenError    = errspkg.Forbidden
	ErrorKindOf       = errspkg.KindOf

	NewSlogServiceLogger = loggingpkg.NewSlogServiceLogger

	NewMetadata = metadatapkg.New

	CreateULID = idspkg.CreateULID
)

// HandleRequest registers fn on m under the type name of Req.
func HandleRequest[Req any, Resp any](m *RequestMux, fn TypedRequestHandler[Req, Resp]) error {
	return runtimepkg.HandleRequest(m, fn)
}

// GetReply calls c and returns the decoded reply.
func GetReply[R any, PR interface {
	*R
	Replier
}](ctx context.Context, c *Client, request any, opts ...CallOption) (*R, error) {
	return runtimepkg.GetReply[R, PR](ctx, c, request, opts...)
}

func NewEntryServiceLogger[T EntryLoggerAdapter[T]](entry T) ServiceLogger {
	return loggingpkg.NewEntryServiceLogger(entry)
}
