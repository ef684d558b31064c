package runtime

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	errspkg "github.com/drblury/traceflow/internal/runtime/errors"
	formatpkg "github.com/drblury/traceflow/internal/runtime/format"
	idspkg "github.com/drblury/traceflow/internal/runtime/ids"
	loggingpkg "github.com/drblury/traceflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/traceflow/internal/runtime/metadata"
	"github.com/drblury/traceflow/internal/runtime/pipeline"
	securitypkg "github.com/drblury/traceflow/internal/runtime/security"
	"github.com/drblury/traceflow/internal/runtime/telemetry"
)

// RequestHandler handles one inbound call. It answers through req.Reply,
// either before returning or later from another goroutine. A returned error
// (or a panic) is answered with the reply status matching its kind. Calls
// never answered are terminated at their deadline.
type RequestHandler func(ctx context.Context, req *Request) error

// ServerConfig configures a Server.
type ServerConfig struct {
	// Name identifies the server in logs, metrics and router handler names.
	// Defaults to "server.<RequestTopic>".
	Name         string
	RequestTopic string
	Handler      RequestHandler
	// Timeout applies to requests without a Timeout header. Defaults to
	// Config.DefaultServerTimeout.
	Timeout time.Duration
	// Security overrides the service security options when set.
	Security *securitypkg.Options
	// Hooks are merged after the service hooks.
	Hooks CallHooks
	// Concurrency is the number of subscriptions opened on RequestTopic in
	// manual ack mode, which bounds the calls held unacknowledged at once.
	// Defaults to Config.Concurrency. Transports without competing consumers
	// always get one subscription.
	Concurrency int
}

// Server runs the call lifecycle for one request topic.
type Server struct {
	svc         *Service
	name        string
	topic       string
	handler     RequestHandler
	timeout     time.Duration
	replyExpiry time.Duration
	manualAck   bool
	handlers    int
	format      formatpkg.Format
	pipeline    *pipeline.Pipeline
	telemetry   telemetry.Strategy
	hooks       CallHooks
	logger      loggingpkg.ServiceLogger

	// correlation id -> *remoteCall
	calls  sync.Map
	active atomic.Int64
	closed atomic.Bool
}

// NewServer creates a server and subscribes it to cfg.RequestTopic on svc.
func NewServer(svc *Service, cfg ServerConfig) (*Server, error) {
	if svc == nil {
		return nil, errspkg.ErrServiceRequired
	}
	if cfg.RequestTopic == "" {
		return nil, errspkg.ErrTopicRequired
	}
	if cfg.Handler == nil {
		return nil, errspkg.ErrHandlerRequired
	}

	security := svc.security
	if cfg.Security != nil {
		security = *cfg.Security
	}
	p, err := pipeline.New(pipeline.Config{
		Format:    svc.format,
		Security:  security,
		Telemetry: svc.telemetry,
	})
	if err != nil {
		return nil, err
	}

	s := &Server{
		svc:         svc,
		name:        cfg.Name,
		topic:       cfg.RequestTopic,
		handler:     cfg.Handler,
		timeout:     cfg.Timeout,
		replyExpiry: svc.Conf.ReplyExpiry(),
		manualAck:   svc.Conf.ManualAck(),
		format:      svc.format,
		pipeline:    p,
		telemetry:   svc.telemetry,
		hooks:       svc.hooks.Merge(MetricsHooks(svc.metrics)).Merge(cfg.Hooks),
	}
	if s.name == "" {
		s.name = "server." + cfg.RequestTopic
	}
	if s.timeout <= 0 {
		s.timeout = svc.Conf.ServerTimeout()
	}
	s.logger = svc.Logger.With(loggingpkg.LogFields{
		"server":              s.name,
		loggingpkg.FieldTopic: s.topic,
	})

	s.handlers = 1
	if s.manualAck && svc.capabilities.SupportsCompetingConsumers {
		s.handlers = cfg.Concurrency
		if s.handlers <= 0 {
			s.handlers = svc.Conf.Concurrency()
		}
	}
	for i := 0; i < s.handlers; i++ {
		name := s.name
		if i > 0 {
			name = fmt.Sprintf("%s.%d", s.name, i+1)
		}
		if err := svc.addHandler(name, s.topic, s.handleRequest); err != nil {
			return nil, fmt.Errorf("subscribe request topic: %w", err)
		}
	}
	svc.onClose(s.Close)
	return s, nil
}

// Subscriptions returns the number of router handlers consuming the request
// topic.
func (s *Server) Subscriptions() int {
	return s.handlers
}

// ActiveCalls returns the number of calls awaiting a reply or their deadline.
func (s *Server) ActiveCalls() int64 {
	return s.active.Load()
}

// Reply publishes reply to the caller of correlationID and terminates the
// call. Replying to a call that is no longer active publishes nothing. A
// reply that cannot be serialized is replaced by a Fail reply carrying the
// serialization error.
func (s *Server) Reply(ctx context.Context, correlationID string, reply any) error {
	if isNil(reply) {
		return errspkg.ErrReplyRequired
	}
	v, ok := s.calls.Load(correlationID)
	if !ok {
		s.logger.Debug("Reply for inactive call dropped", loggingpkg.LogFields{
			loggingpkg.FieldCorrelationID: correlationID,
		})
		return nil
	}
	call := v.(*remoteCall)

	status := telemetry.StatusSuccess
	if r, ok := reply.(Replier); ok {
		status = r.ReplyStatus().telemetryStatus()
	}
	payload, err := s.format.Marshal(reply)
	if err != nil {
		err = fmt.Errorf("serialize reply: %w", err)
		s.trackException(ctx, err, call.telemetryContext())
		status = telemetry.StatusFail
		if payload, err = s.format.Marshal(Failed(err)); err != nil {
			s.terminate(call, status)
			return err
		}
	}

	md := metadatapkg.Encode(nil, metadatapkg.Outbound{
		ContentType:   s.format.ContentType(),
		CorrelationID: correlationID,
		Expiration:    s.replyExpiry,
	})
	msg := message.NewMessage(idspkg.CreateULID(), payload)
	msg.Metadata = metadatapkg.ToWatermill(md)

	pubErr := s.svc.publish(ctx, call.info.ReplyTo, msg)
	if pubErr != nil {
		pubErr = fmt.Errorf("publish reply: %w", pubErr)
		s.logger.Error("Failed to publish reply", pubErr, callLogFields(call.info))
		s.trackException(ctx, pubErr, call.telemetryContext())
	}
	s.terminate(call, status)
	return pubErr
}

// Fail answers the call of req with the status matching the kind of err.
func (s *Server) Fail(ctx context.Context, req *Request, err error) error {
	if req == nil {
		return errspkg.ErrRequestRequired
	}
	return s.Reply(ctx, req.CorrelationID, Failed(err))
}

// Close stops accepting requests and terminates every active call.
func (s *Server) Close() error {
	s.closed.Store(true)
	s.calls.Range(func(_, v any) bool {
		s.terminate(v.(*remoteCall), telemetry.StatusFail)
		return true
	})
	return nil
}

func (s *Server) handleRequest(msg *message.Message) error {
	received := time.Now()
	md := metadatapkg.FromWatermill(msg.Metadata)
	// A malformed Timeout is reported by the pipeline once the call exists.
	headers, _ := metadatapkg.Decode(md)

	info := CallInfo{
		Server:        s.name,
		CorrelationID: headers.CorrelationID,
		RequestType:   headers.RequestType,
		ReplyTo:       headers.ReplyTo,
		ReceivedAt:    received,
	}
	switch {
	case headers.CorrelationID == "":
		s.reject(msg, info, errspkg.ErrMissingCorrelationID)
		return nil
	case headers.ReplyTo == "":
		s.reject(msg, info, errspkg.ErrMissingReplyTo)
		return nil
	case s.closed.Load():
		s.reject(msg, info, errspkg.ErrServerClosed)
		return nil
	}

	info.Timeout = headers.Timeout
	if info.Timeout <= 0 {
		info.Timeout = s.timeout
	}
	deadline := received.Add(info.Timeout)
	ctx, cancel := context.WithDeadline(context.WithoutCancel(msg.Context()), deadline)

	call := newRemoteCall(info, msg, cancel)
	if _, loaded := s.calls.LoadOrStore(info.CorrelationID, call); loaded {
		cancel()
		s.reject(msg, info, errspkg.ErrDuplicateCall)
		return nil
	}
	active := s.active.Add(1)
	call.arm(info.Timeout, func() { s.expire(call) })
	if !s.manualAck {
		msg.Ack()
	}
	s.hooks.callStart(info)

	in, err := s.pipeline.Process(ctx, pipeline.Envelope{
		Topic:       s.topic,
		Metadata:    md,
		Payload:     msg.Payload,
		ActiveCalls: active,
	})
	if in.Telemetry != nil && !call.attachTelemetry(in.Telemetry) {
		s.telemetry.CloseTelemetryContext(in.Telemetry, telemetry.StatusTimeout)
	}
	ctx = telemetry.Inject(ctx, in.Telemetry)

	if err != nil {
		s.logger.Info("Request rejected", callLogFields(info).With(loggingpkg.LogFields{"error": err.Error()}))
		s.trackException(ctx, err, in.Telemetry)
		_ = s.Reply(ctx, info.CorrelationID, Failed(err))
	} else {
		s.dispatch(ctx, &Request{
			CorrelationID: info.CorrelationID,
			RequestType:   info.RequestType,
			ReplyTo:       info.ReplyTo,
			Body:          msg.Payload,
			Metadata:      md,
			Security:      in.Security,
			Telemetry:     in.Telemetry,
			Deadline:      deadline,
			inbound:       in,
			server:        s,
		})
	}

	if s.manualAck {
		// The delivery is acknowledged at termination.
		<-call.done
	}
	return nil
}

func (s *Server) dispatch(ctx context.Context, req *Request) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("handler panic: %v", r)
			s.logger.Error("Request handler panicked", err, loggingpkg.CallFields(req.CorrelationID, req.RequestType))
			s.trackException(ctx, err, req.Telemetry)
			_ = s.Fail(ctx, req, err)
		}
	}()

	if err := s.handler(ctx, req); err != nil {
		s.trackException(ctx, err, req.Telemetry)
		_ = s.Fail(ctx, req, err)
	}
}

func (s *Server) expire(call *remoteCall) {
	if s.terminate(call, telemetry.StatusTimeout) {
		s.logger.Info("Call timed out", callLogFields(call.info).With(loggingpkg.LogFields{
			"timeout_ms": call.info.Timeout.Milliseconds(),
		}))
	}
}

// terminate ends call exactly once: only the path that removes it from the
// registry runs the side effects.
func (s *Server) terminate(call *remoteCall, status telemetry.Status) bool {
	if !s.calls.CompareAndDelete(call.info.CorrelationID, call) {
		return false
	}

	tc := call.finish()
	call.cancel()
	if s.manualAck {
		call.msg.Ack()
	}
	s.active.Add(-1)
	if tc != nil && s.telemetry != nil {
		s.telemetry.CloseTelemetryContext(tc, status)
	}

	info := call.info
	info.Duration = time.Since(info.ReceivedAt)
	info.Status = status
	s.hooks.callDone(info)

	close(call.done)
	return true
}

func (s *Server) reject(msg *message.Message, info CallInfo, err error) {
	s.logger.Info("Request rejected", callLogFields(info).With(loggingpkg.LogFields{"error": err.Error()}))
	if s.telemetry != nil {
		s.telemetry.TrackException(msg.Context(), err, nil)
	}
	s.hooks.callRejected(info, err)
	msg.Ack()
}

func (s *Server) trackException(ctx context.Context, err error, tc telemetry.Context) {
	if s.telemetry != nil {
		s.telemetry.TrackException(ctx, err, tc)
	}
}
