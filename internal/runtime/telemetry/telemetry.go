// Package telemetry defines the hooks used to trace inbound calls and
// outbound dependencies. Every hook is optional: engines treat a nil
// Strategy, DependencyTracker or Context as "telemetry disabled".
package telemetry

import (
	"context"
	"errors"

	errspkg "github.com/drblury/traceflow/internal/runtime/errors"
	"github.com/drblury/traceflow/internal/runtime/metadata"
	"github.com/drblury/traceflow/internal/runtime/security"
)

// Status is the outcome recorded when a telemetry context or dependency is
// closed.
type Status string

const (
	StatusSuccess      Status = "Success"
	StatusFail         Status = "Fail"
	StatusUnauthorized Status = "Unauthorized"
	StatusForbidden    Status = "Forbidden"
	StatusTimeout      Status = "Timeout"
	StatusInvalidReply Status = "InvalidReply"
	StatusException    Status = "Exception"
)

// StatusOf maps an error to the outcome it represents. Errors without a
// known kind count as Exception.
func StatusOf(err error) Status {
	if err == nil {
		return StatusSuccess
	}
	switch errspkg.KindOf(err) {
	case errspkg.ErrRequestFailure:
		return StatusFail
	case errspkg.ErrUnauthorized:
		return StatusUnauthorized
	case errspkg.ErrForbidden:
		return StatusForbidden
	case errspkg.ErrTimeout:
		return StatusTimeout
	case errspkg.ErrInvalidReply:
		return StatusInvalidReply
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return StatusTimeout
	}
	return StatusException
}

// Context is the per-message tracing handle.
type Context interface {
	// Inject returns ctx carrying this telemetry context, so work started
	// from the handler is linked to it.
	Inject(ctx context.Context) context.Context
}

// Inject is a nil-safe Context.Inject.
func Inject(ctx context.Context, tc Context) context.Context {
	if tc == nil {
		return ctx
	}
	return tc.Inject(ctx)
}

// Inbound describes the message a telemetry context is created for.
type Inbound struct {
	// Name is the request type tag.
	Name          string
	CorrelationID string
	Topic         string
	Trace         metadata.TraceHeaders
	// ActiveCalls is the server's active-call count including this call.
	// Zero for one-way messages.
	ActiveCalls int64
}

// Strategy builds and closes telemetry contexts for inbound messages.
type Strategy interface {
	// CreateTelemetryContext may return nil.
	CreateTelemetryContext(ctx context.Context, in Inbound) Context
	// UpdateTelemetryContext records the identity once authorization passed.
	UpdateTelemetryContext(tc Context, sc security.Context)
	// TrackException records err against tc, or against the span in ctx
	// when tc is nil.
	TrackException(ctx context.Context, err error, tc Context)
	CloseTelemetryContext(tc Context, status Status)
}

// DependencyKind distinguishes calls from one-way sends.
type DependencyKind string

const (
	DependencyCall    DependencyKind = "rpc"
	DependencyPublish DependencyKind = "publish"
)

// DependencyInfo describes an outbound dependency.
type DependencyInfo struct {
	Kind          DependencyKind
	Name          string
	Target        string
	CorrelationID string
}

// Dependency is one in-flight outbound operation.
type Dependency interface {
	// TraceHeaders are stamped on the outgoing message.
	TraceHeaders() metadata.TraceHeaders
	Finish(status Status, err error)
}

// DependencyTracker starts dependency records for the client and publisher.
type DependencyTracker interface {
	StartDependency(ctx context.Context, info DependencyInfo) (context.Context, Dependency)
}
