package runtime

import (
	"context"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	metadatapkg "github.com/drblury/traceflow/internal/runtime/metadata"
	"github.com/drblury/traceflow/internal/runtime/pipeline"
	"github.com/drblury/traceflow/internal/runtime/security"
	"github.com/drblury/traceflow/internal/runtime/telemetry"
)

// Request is what a RequestHandler sees of an inbound call.
type Request struct {
	CorrelationID string
	RequestType   string
	ReplyTo       string
	Body          []byte
	Metadata      metadatapkg.Metadata
	// Security is nil when security is disabled or the request type is on
	// the skip list.
	Security  security.Context
	Telemetry telemetry.Context
	// Deadline is when the call is terminated whether or not it was answered.
	Deadline time.Time

	inbound *pipeline.Inbound
	server  *Server
}

// Decode unmarshals the request body into v.
func (r *Request) Decode(v any) error {
	return r.inbound.Decode(v)
}

// Reply answers the call. See Server.Reply.
func (r *Request) Reply(ctx context.Context, reply any) error {
	return r.server.Reply(ctx, r.CorrelationID, reply)
}

// Fail answers the call with the status matching the kind of err.
func (r *Request) Fail(ctx context.Context, err error) error {
	return r.server.Fail(ctx, r, err)
}

// Timeout returns the time left before the call's deadline.
func (r *Request) Timeout() time.Duration {
	if d := time.Until(r.Deadline); d > 0 {
		return d
	}
	return 0
}

// remoteCall is the server-side record of one active call. Only the path
// that removes it from the registry may terminate it.
type remoteCall struct {
	info   CallInfo
	msg    *message.Message
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	timer     *time.Timer
	telemetry telemetry.Context
	finished  bool
}

func newRemoteCall(info CallInfo, msg *message.Message, cancel context.CancelFunc) *remoteCall {
	return &remoteCall{
		info:   info,
		msg:    msg,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// arm starts the deadline timer unless the call already finished.
func (c *remoteCall) arm(timeout time.Duration, expire func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.finished {
		return
	}
	c.timer = time.AfterFunc(timeout, expire)
}

// attachTelemetry stores tc for closing at termination. It reports false
// when the call finished first, in which case the caller closes tc.
func (c *remoteCall) attachTelemetry(tc telemetry.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.finished {
		return false
	}
	c.telemetry = tc
	return true
}

func (c *remoteCall) telemetryContext() telemetry.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.telemetry
}

// finish stops the timer and returns the telemetry context to close.
func (c *remoteCall) finish() telemetry.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finished = true
	if c.timer != nil {
		c.timer.Stop()
	}
	return c.telemetry
}
