package runtime

import (
	"reflect"
	"time"

	metadatapkg "github.com/drblury/traceflow/internal/runtime/metadata"
)

type callOptions struct {
	accessToken string
	timeout     time.Duration
	requestType string
	metadata    metadatapkg.Metadata
}

// CallOption customises a single Client.Call or Publisher.Send.
type CallOption func(*callOptions)

// SendOption is the option type of Publisher.Send.
type SendOption = CallOption

// WithAccessToken attaches a credential to the outgoing message.
func WithAccessToken(token string) CallOption {
	return func(o *callOptions) { o.accessToken = token }
}

// WithTimeout overrides the default timeout. Non-positive values are ignored.
func WithTimeout(timeout time.Duration) CallOption {
	return func(o *callOptions) {
		if timeout > 0 {
			o.timeout = timeout
		}
	}
}

// WithRequestType overrides the request type tag, which defaults to the Go
// type name of the request.
func WithRequestType(requestType string) CallOption {
	return func(o *callOptions) { o.requestType = requestType }
}

// WithMetadata presets headers on the outgoing message. Protocol fields set
// by the engine take precedence.
func WithMetadata(md metadatapkg.Metadata) CallOption {
	return func(o *callOptions) { o.metadata = o.metadata.WithAll(md) }
}

func newCallOptions(request any, timeout time.Duration, opts []CallOption) callOptions {
	o := callOptions{timeout: timeout, requestType: RequestTypeOf(request)}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// RequestTypeOf returns the tag used for request: the name of its type after
// dereferencing pointers.
func RequestTypeOf(request any) string {
	t := reflect.TypeOf(request)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil {
		return ""
	}
	return t.Name()
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}
