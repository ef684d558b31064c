// Package pipeline runs the inbound checks shared by the RPC server and the
// one-way consumer: content validation, header extraction, telemetry context
// creation, authentication and authorization.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	errspkg "github.com/drblury/traceflow/internal/runtime/errors"
	"github.com/drblury/traceflow/internal/runtime/format"
	"github.com/drblury/traceflow/internal/runtime/metadata"
	"github.com/drblury/traceflow/internal/runtime/security"
	"github.com/drblury/traceflow/internal/runtime/telemetry"
)

// Config wires the collaborators of a Pipeline.
type Config struct {
	Format    format.Format
	Security  security.Options
	Telemetry telemetry.Strategy
}

// Envelope is a raw inbound message.
type Envelope struct {
	Topic    string
	Metadata metadata.Metadata
	Payload  []byte
	// ActiveCalls is forwarded to the telemetry context.
	ActiveCalls int64
}

// Inbound is the result of processing an Envelope.
type Inbound struct {
	Headers   metadata.Inbound
	Metadata  metadata.Metadata
	Payload   []byte
	Telemetry telemetry.Context
	Security  security.Context

	format format.Format
}

// Decode unmarshals the payload into v with the configured format.
func (in *Inbound) Decode(v any) error {
	if in.format == nil {
		return errspkg.ErrFormatRequired
	}
	return in.format.Unmarshal(in.Payload, v)
}

// Pipeline processes inbound envelopes. It is safe for concurrent use.
type Pipeline struct {
	format    format.Format
	security  security.Options
	telemetry telemetry.Strategy
}

// New validates cfg and builds a Pipeline.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Format == nil {
		return nil, errspkg.NewConfigValidationError(errspkg.ErrFormatRequired)
	}
	if err := cfg.Security.Validate(); err != nil {
		return nil, errspkg.NewConfigValidationError(err)
	}
	return &Pipeline{
		format:    cfg.Format,
		security:  cfg.Security,
		telemetry: cfg.Telemetry,
	}, nil
}

// Format returns the configured serialization format.
func (p *Pipeline) Format() format.Format { return p.format }

// Telemetry returns the configured strategy, which may be nil.
func (p *Pipeline) Telemetry() telemetry.Strategy { return p.telemetry }

// Process runs the checks in order and stops at the first failure. The
// returned Inbound is never nil, so the caller can close whatever telemetry
// context was created before the failure. Errors carry an RPC error kind:
// content and header problems are RequestFailure, credential problems are
// Unauthorized or Forbidden.
func (p *Pipeline) Process(ctx context.Context, env Envelope) (*Inbound, error) {
	in := &Inbound{
		Metadata: env.Metadata,
		Payload:  env.Payload,
		format:   p.format,
	}

	if err := metadata.CheckContent(env.Metadata, p.format.ContentType()); err != nil {
		return in, rejection(err)
	}

	headers, err := metadata.Decode(env.Metadata)
	in.Headers = headers
	if err != nil {
		return in, rejection(err)
	}
	if headers.RequestType == "" {
		return in, rejection(errspkg.ErrMissingRequestType)
	}

	if p.telemetry != nil {
		in.Telemetry = p.telemetry.CreateTelemetryContext(ctx, telemetry.Inbound{
			Name:          headers.RequestType,
			CorrelationID: headers.CorrelationID,
			Topic:         env.Topic,
			Trace:         headers.Trace,
			ActiveCalls:   env.ActiveCalls,
		})
	}

	if !p.security.Enabled() || p.security.Skips(headers.RequestType) {
		return in, nil
	}

	ctx = telemetry.Inject(ctx, in.Telemetry)
	sc, err := p.authenticate(ctx, headers.AccessToken)
	if err != nil {
		return in, err
	}
	in.Security = sc

	if p.security.Authorizer != nil {
		decision := p.security.Authorizer.Authorize(ctx, headers.RequestType, sc)
		if !decision.Granted {
			return in, errspkg.Forbidden("Authorization error: %s", decision.Error)
		}
	}

	if p.telemetry != nil && in.Telemetry != nil {
		p.telemetry.UpdateTelemetryContext(in.Telemetry, sc)
	}
	return in, nil
}

func (p *Pipeline) authenticate(ctx context.Context, token string) (security.Context, error) {
	if token == "" {
		return nil, errspkg.Unauthorized("No AccessToken provided")
	}
	if p.security.Authenticator == nil {
		return nil, errspkg.Unauthorized("No Security Context")
	}

	sc, err := p.security.Authenticator.CreateSecurityContext(ctx, token)
	if err != nil {
		switch errspkg.KindOf(err) {
		case errspkg.ErrUnauthorized, errspkg.ErrForbidden:
			return nil, err
		}
		return nil, &errspkg.RPCError{Kind: errspkg.ErrUnauthorized, Message: err.Error(), Cause: err}
	}
	if sc == nil {
		return nil, errspkg.Unauthorized("No Security Context")
	}
	return sc, nil
}

func rejection(err error) error {
	var rpcErr *errspkg.RPCError
	if errors.As(err, &rpcErr) {
		return err
	}
	return &errspkg.RPCError{
		Kind:    errspkg.ErrRequestFailure,
		Message: fmt.Sprintf("Message rejected: %v", err),
		Cause:   err,
	}
}
