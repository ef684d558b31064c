package errors

import (
	sterrors "errors"
	"fmt"
)

var (
	ErrServiceRequired       = sterrors.New("traceflow: service is required")
	ErrHandlerRequired       = sterrors.New("traceflow: handler function is required")
	ErrTopicRequired         = sterrors.New("traceflow: topic is required")
	ErrFormatRequired        = sterrors.New("traceflow: format is required")
	ErrPublisherRequired     = sterrors.New("traceflow: publisher is required")
	ErrSubscriberRequired    = sterrors.New("traceflow: subscriber is required")
	ErrAuthenticatorRequired = sterrors.New("traceflow: authorizer requires an authenticator")
	ErrConfigRequired        = sterrors.New("traceflow: configuration is required")
	ErrLoggerRequired        = sterrors.New("traceflow: logger is required")
	ErrRequestRequired       = sterrors.New("traceflow: request is required")
	ErrReplyRequired         = sterrors.New("traceflow: reply is required")
	ErrServerClosed          = sterrors.New("traceflow: server is closed")
)

// Protocol errors reject an inbound message before any handler runs.
var (
	ErrContentMismatch      = sterrors.New("traceflow: content type or encoding mismatch")
	ErrMissingCorrelationID = sterrors.New("traceflow: correlation id is missing")
	ErrMissingReplyTo       = sterrors.New("traceflow: reply address is missing")
	ErrMissingRequestType   = sterrors.New("traceflow: request type is missing")
	ErrInvalidTimeout       = sterrors.New("traceflow: timeout header is malformed")
	ErrDuplicateCall        = sterrors.New("traceflow: call is already active")
)

// Error kinds raised to callers of a remote call.
var (
	ErrInvalidReply   = sterrors.New("traceflow: invalid reply")
	ErrRequestFailure = sterrors.New("traceflow: request failure")
	ErrUnauthorized   = sterrors.New("traceflow: unauthorized")
	ErrForbidden      = sterrors.New("traceflow: forbidden")
	ErrTimeout        = sterrors.New("traceflow: timeout")
)

// RPCError carries one of the error kinds together with a human readable
// message. errors.Is matches it against its Kind.
type RPCError struct {
	Kind    error
	Message string
	Cause   error
}

func (e *RPCError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Kind != nil {
		return e.Kind.Error()
	}
	return "traceflow: rpc error"
}

func (e *RPCError) Is(target error) bool {
	return e.Kind != nil && target == e.Kind
}

func (e *RPCError) Unwrap() error {
	return e.Cause
}

// NewRPCError builds an RPCError of the given kind with a formatted message.
func NewRPCError(kind error, format string, args ...any) *RPCError {
	return &RPCError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func InvalidReply(cause error, format string, args ...any) error {
	return &RPCError{Kind: ErrInvalidReply, Message: fmt.Sprintf(format, args...), Cause: cause}
}

func RequestFailure(format string, args ...any) error {
	return NewRPCError(ErrRequestFailure, format, args...)
}

func Unauthorized(format string, args ...any) error {
	return NewRPCError(ErrUnauthorized, format, args...)
}

func Forbidden(format string, args ...any) error {
	return NewRPCError(ErrForbidden, format, args...)
}

func Timeout(format string, args ...any) error {
	return NewRPCError(ErrTimeout, format, args...)
}

// KindOf returns the error kind sentinel err matches, or nil when err does
// not carry one.
func KindOf(err error) error {
	if err == nil {
		return nil
	}
	for _, kind := range []error{ErrUnauthorized, ErrForbidden, ErrTimeout, ErrInvalidReply, ErrRequestFailure} {
		if sterrors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// ConfigValidationError wraps configuration problems detected at construction.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return "traceflow: invalid configuration: " + e.Err.Error()
}

func (e ConfigValidationError) Unwrap() error {
	return e.Err
}

// NewConfigValidationError wraps err, returning nil when err is nil.
func NewConfigValidationError(err error) error {
	if err == nil {
		return nil
	}
	return ConfigValidationError{Err: err}
}
