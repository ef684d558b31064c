// Package oteltelemetry implements the telemetry hooks with OpenTelemetry
// spans. The wire fields map onto W3C identifiers: TelemetryOperationId is
// the trace id and TelemetryParentId the span id of the caller's span.
package oteltelemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/traceflow/internal/runtime/metadata"
	"github.com/drblury/traceflow/internal/runtime/security"
	"github.com/drblury/traceflow/internal/runtime/telemetry"
)

const instrumentationName = "github.com/drblury/traceflow"

const (
	attrRequestType   = attribute.Key("traceflow.request_type")
	attrCorrelationID = attribute.Key("messaging.message.conversation_id")
	attrDestination   = attribute.Key("messaging.destination.name")
	attrActiveCalls   = attribute.Key("traceflow.active_calls")
	attrSource        = attribute.Key("traceflow.telemetry_source")
	attrOperationID   = attribute.Key("traceflow.operation_id")
	attrStatus        = attribute.Key("traceflow.status")
	attrPrincipal     = attribute.Key("enduser.id")
)

// Option customises a Strategy.
type Option func(*Strategy)

// WithTracerProvider uses tp instead of the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Strategy) {
		if tp != nil {
			s.tracer = tp.Tracer(instrumentationName)
		}
	}
}

// WithSource sets the TelemetrySource stamped on outgoing messages.
func WithSource(source string) Option {
	return func(s *Strategy) { s.source = source }
}

// Strategy implements both telemetry.Strategy and telemetry.DependencyTracker.
type Strategy struct {
	tracer trace.Tracer
	source string
}

var (
	_ telemetry.Strategy          = (*Strategy)(nil)
	_ telemetry.DependencyTracker = (*Strategy)(nil)
)

func New(opts ...Option) *Strategy {
	s := &Strategy{tracer: otel.GetTracerProvider().Tracer(instrumentationName)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type callContext struct {
	span trace.Span
}

func (c *callContext) Inject(ctx context.Context) context.Context {
	return trace.ContextWithSpan(ctx, c.span)
}

// Span returns the span behind tc, or nil when tc was not built here.
func Span(tc telemetry.Context) trace.Span {
	if c, ok := tc.(*callContext); ok {
		return c.span
	}
	return nil
}

// CreateTelemetryContext starts a server span parented on the caller's
// operation when the wire identifiers are valid.
func (s *Strategy) CreateTelemetryContext(ctx context.Context, in telemetry.Inbound) telemetry.Context {
	if parent, ok := remoteParent(in.Trace); ok {
		ctx = trace.ContextWithRemoteSpanContext(ctx, parent)
	}

	attrs := []attribute.KeyValue{
		attrRequestType.String(in.Name),
		attrActiveCalls.Int64(in.ActiveCalls),
	}
	if in.CorrelationID != "" {
		attrs = append(attrs, attrCorrelationID.String(in.CorrelationID))
	}
	if in.Topic != "" {
		attrs = append(attrs, attrDestination.String(in.Topic))
	}
	if in.Trace.Source != "" {
		attrs = append(attrs, attrSource.String(in.Trace.Source))
	}
	if in.Trace.OperationID != "" {
		attrs = append(attrs, attrOperationID.String(in.Trace.OperationID))
	}

	kind := trace.SpanKindServer
	if in.CorrelationID == "" {
		kind = trace.SpanKindConsumer
	}

	_, span := s.tracer.Start(ctx, spanName(in.Name), trace.WithSpanKind(kind), trace.WithAttributes(attrs...))
	return &callContext{span: span}
}

func (s *Strategy) UpdateTelemetryContext(tc telemetry.Context, sc security.Context) {
	span := Span(tc)
	if span == nil || sc == nil {
		return
	}
	span.SetAttributes(attrPrincipal.String(sc.Principal()))
}

func (s *Strategy) TrackException(ctx context.Context, err error, tc telemetry.Context) {
	if err == nil {
		return
	}
	span := Span(tc)
	if span == nil {
		span = trace.SpanFromContext(ctx)
	}
	span.RecordError(err)
}

func (s *Strategy) CloseTelemetryContext(tc telemetry.Context, status telemetry.Status) {
	span := Span(tc)
	if span == nil {
		return
	}
	endSpan(span, status, nil)
}

type dependency struct {
	span   trace.Span
	source string
}

func (d *dependency) TraceHeaders() metadata.TraceHeaders {
	sc := d.span.SpanContext()
	if !sc.IsValid() {
		return metadata.TraceHeaders{Source: d.source}
	}
	return metadata.TraceHeaders{
		OperationID: sc.TraceID().String(),
		ParentID:    sc.SpanID().String(),
		Source:      d.source,
	}
}

func (d *dependency) Finish(status telemetry.Status, err error) {
	endSpan(d.span, status, err)
}

// StartDependency starts a client span for calls and a producer span for
// one-way sends.
func (s *Strategy) StartDependency(ctx context.Context, info telemetry.DependencyInfo) (context.Context, telemetry.Dependency) {
	kind := trace.SpanKindClient
	if info.Kind == telemetry.DependencyPublish {
		kind = trace.SpanKindProducer
	}

	attrs := []attribute.KeyValue{attrRequestType.String(info.Name)}
	if info.Target != "" {
		attrs = append(attrs, attrDestination.String(info.Target))
	}
	if info.CorrelationID != "" {
		attrs = append(attrs, attrCorrelationID.String(info.CorrelationID))
	}

	ctx, span := s.tracer.Start(ctx, spanName(info.Name), trace.WithSpanKind(kind), trace.WithAttributes(attrs...))
	return ctx, &dependency{span: span, source: s.source}
}

func endSpan(span trace.Span, status telemetry.Status, err error) {
	span.SetAttributes(attrStatus.String(string(status)))
	if err != nil {
		span.RecordError(err)
	}
	if status == telemetry.StatusSuccess {
		span.SetStatus(codes.Ok, "")
	} else {
		span.SetStatus(codes.Error, string(status))
	}
	span.End()
}

func remoteParent(h metadata.TraceHeaders) (trace.SpanContext, bool) {
	traceID, err := trace.TraceIDFromHex(h.OperationID)
	if err != nil {
		return trace.SpanContext{}, false
	}
	spanID, err := trace.SpanIDFromHex(h.ParentID)
	if err != nil {
		return trace.SpanContext{}, false
	}
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
		Remote:     true,
	})
	return sc, sc.IsValid()
}

func spanName(requestType string) string {
	if requestType == "" {
		return "traceflow.message"
	}
	return requestType
}
