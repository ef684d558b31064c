package runtime

import (
	"context"
	"fmt"
	"sort"
	"sync"

	errspkg "github.com/drblury/traceflow/internal/runtime/errors"
)

// RequestMux dispatches calls to handlers by request type. Request types
// without a handler are answered with a Fail reply.
type RequestMux struct {
	mu       sync.RWMutex
	handlers map[string]RequestHandler
}

// NewRequestMux returns an empty mux.
func NewRequestMux() *RequestMux {
	return &RequestMux{handlers: make(map[string]RequestHandler)}
}

// Handle registers h for requestType, replacing any previous handler.
func (m *RequestMux) Handle(requestType string, h RequestHandler) error {
	if requestType == "" {
		return errspkg.ErrMissingRequestType
	}
	if h == nil {
		return errspkg.ErrHandlerRequired
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[requestType] = h
	return nil
}

// RequestTypes lists the registered request types in order.
func (m *RequestMux) RequestTypes() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	types := make([]string, 0, len(m.handlers))
	for t := range m.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// ServeRequest is a RequestHandler.
func (m *RequestMux) ServeRequest(ctx context.Context, req *Request) error {
	m.mu.RLock()
	h, ok := m.handlers[req.RequestType]
	m.mu.RUnlock()
	if !ok {
		return errspkg.RequestFailure("Unknown request type: %s", req.RequestType)
	}
	return h(ctx, req)
}

// TypedRequestHandler handles a decoded request and returns the reply to send.
type TypedRequestHandler[Req any, Resp any] func(ctx context.Context, request *Req, call *Request) (Resp, error)

// HandleRequest registers fn on m under the type name of Req. The body is
// decoded into a new Req and the returned value is sent as the reply; a
// returned error is answered with the status matching its kind.
func HandleRequest[Req any, Resp any](m *RequestMux, fn TypedRequestHandler[Req, Resp]) error {
	if m == nil || fn == nil {
		return errspkg.ErrHandlerRequired
	}
	var zero Req
	requestType := RequestTypeOf(zero)
	if requestType == "" {
		requestType = RequestTypeOf(new(Req))
	}
	return m.Handle(requestType, func(ctx context.Context, call *Request) error {
		request := new(Req)
		if err := call.Decode(request); err != nil {
			return fmt.Errorf("decode %s: %w", requestType, err)
		}
		reply, err := fn(ctx, request, call)
		if err != nil {
			return err
		}
		return call.Reply(ctx, reply)
	})
}
