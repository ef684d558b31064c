package runtime

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	errspkg "github.com/drblury/traceflow/internal/runtime/errors"
	formatpkg "github.com/drblury/traceflow/internal/runtime/format"
	idspkg "github.com/drblury/traceflow/internal/runtime/ids"
	loggingpkg "github.com/drblury/traceflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/traceflow/internal/runtime/metadata"
	"github.com/drblury/traceflow/internal/runtime/telemetry"
	transportpkg "github.com/drblury/traceflow/internal/runtime/transport"
)

// ClientConfig configures a Client.
type ClientConfig struct {
	// Name identifies the client in logs, metrics and router handler names.
	// Defaults to "client.<RequestTopic>".
	Name string
	// RequestTopic is where requests are published.
	RequestTopic string
	// ReplyTopic is this client's own inbound topic. It must not be shared
	// with other clients. Defaults to "<ServiceName>.replies.<ulid>".
	ReplyTopic string
	// Timeout applies to calls without WithTimeout. Defaults to
	// Config.DefaultCallTimeout.
	Timeout time.Duration
}

// Client issues calls and correlates their replies.
type Client struct {
	svc          *Service
	name         string
	requestTopic string
	replyTopic   string
	timeout      time.Duration
	format       formatpkg.Format
	tracker      telemetry.DependencyTracker
	metrics      *RPCMetrics
	logger       loggingpkg.ServiceLogger

	// correlation id -> chan *message.Message with capacity one
	pending sync.Map
}

// NewClient creates a client and subscribes its reply listener on svc.
func NewClient(svc *Service, cfg ClientConfig) (*Client, error) {
	if svc == nil {
		return nil, errspkg.ErrServiceRequired
	}
	if cfg.RequestTopic == "" {
		return nil, errspkg.ErrTopicRequired
	}

	c := &Client{
		svc:          svc,
		name:         cfg.Name,
		requestTopic: cfg.RequestTopic,
		replyTopic:   cfg.ReplyTopic,
		timeout:      cfg.Timeout,
		format:       svc.format,
		tracker:      svc.tracker,
		metrics:      svc.metrics,
	}
	if c.name == "" {
		c.name = "client." + cfg.RequestTopic
	}
	if c.replyTopic == "" {
		prefix := svc.Conf.ServiceName
		if prefix == "" {
			prefix = "traceflow"
		}
		c.replyTopic = prefix + transportpkg.ReplyTopicSegment + strings.ToLower(idspkg.CreateULID())
	}
	if c.timeout <= 0 {
		c.timeout = svc.Conf.CallTimeout()
	}
	c.logger = svc.Logger.With(loggingpkg.LogFields{
		"client":                c.name,
		loggingpkg.FieldReplyTo: c.replyTopic,
	})

	if err := svc.addHandler(c.name+".replies", c.replyTopic, c.routeReply); err != nil {
		return nil, fmt.Errorf("subscribe reply topic: %w", err)
	}
	return c, nil
}

// ReplyTopic returns the topic replies are expected on.
func (c *Client) ReplyTopic() string { return c.replyTopic }

// Pending returns the number of calls awaiting a reply.
func (c *Client) Pending() int {
	n := 0
	c.pending.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Call publishes request and waits for the correlated reply, which is decoded
// into reply. A reply whose status is not Success is returned as the
// matching error kind. Without a reply in time, or when ctx expires first,
// Call returns a Timeout error; other context cancellations return ctx.Err().
func (c *Client) Call(ctx context.Context, request any, reply Replier, opts ...CallOption) (err error) {
	if isNil(request) {
		return errspkg.ErrRequestRequired
	}
	if isNil(reply) {
		return errspkg.ErrReplyRequired
	}
	if ctx == nil {
		ctx = context.Background()
	}

	o := newCallOptions(request, c.timeout, opts)
	correlationID := idspkg.NewCorrelationID()
	replies := make(chan *message.Message, 1)
	// Registered before publishing so a fast reply cannot be missed.
	c.pending.Store(correlationID, replies)
	defer c.pending.Delete(correlationID)

	started := time.Now()
	var dep telemetry.Dependency
	if c.tracker != nil {
		ctx, dep = c.tracker.StartDependency(ctx, telemetry.DependencyInfo{
			Kind:          telemetry.DependencyCall,
			Name:          o.requestType,
			Target:        c.requestTopic,
			CorrelationID: correlationID,
		})
	}
	defer func() {
		status := telemetry.StatusOf(err)
		if dep != nil {
			dep.Finish(status, err)
		}
		if c.metrics != nil {
			c.metrics.clientCallDone(c.name, status, time.Since(started))
		}
	}()

	var trace metadatapkg.TraceHeaders
	if dep != nil {
		trace = dep.TraceHeaders()
	}
	msg, err := NewMessage(c.format, request, o.metadata, metadatapkg.Outbound{
		CorrelationID: correlationID,
		ReplyTo:       c.replyTopic,
		RequestType:   o.requestType,
		AccessToken:   o.accessToken,
		Timeout:       o.timeout,
		Expiration:    o.timeout,
		Trace:         trace,
	})
	if err != nil {
		return err
	}
	if err := c.svc.publish(ctx, c.requestTopic, msg); err != nil {
		return fmt.Errorf("publish request: %w", err)
	}

	timer := time.NewTimer(o.timeout)
	defer timer.Stop()

	select {
	case in := <-replies:
		return c.readReply(in, reply)
	case <-timer.C:
		return errspkg.Timeout("Reply didn't arrive in %d milliseconds", o.timeout.Milliseconds())
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return &errspkg.RPCError{
				Kind:    errspkg.ErrTimeout,
				Message: fmt.Sprintf("Reply didn't arrive before the context deadline (%s)", time.Since(started).Round(time.Millisecond)),
				Cause:   ctx.Err(),
			}
		}
		return ctx.Err()
	}
}

// GetReply is Call with the reply type as a type parameter.
//
//	pong, err := traceflow.GetReply[Pong](ctx, client, Ping{})
func GetReply[R any, PR interface {
	*R
	Replier
}](ctx context.Context, c *Client, request any, opts ...CallOption) (*R, error) {
	if c == nil {
		return nil, errspkg.ErrServiceRequired
	}
	reply := PR(new(R))
	if err := c.Call(ctx, request, reply, opts...); err != nil {
		return nil, err
	}
	return (*R)(reply), nil
}

func (c *Client) readReply(msg *message.Message, reply Replier) error {
	md := metadatapkg.FromWatermill(msg.Metadata)
	if err := metadatapkg.CheckContent(md, c.format.ContentType()); err != nil {
		return errspkg.InvalidReply(err, "Reply %s", err.Error())
	}
	if err := c.format.Unmarshal(msg.Payload, reply); err != nil {
		return errspkg.InvalidReply(err, "Reply could not be decoded: %v", err)
	}
	return replyError(reply)
}

// routeReply hands a reply to its waiting call. It never blocks: replies for
// unknown or already answered correlation ids are dropped.
func (c *Client) routeReply(msg *message.Message) error {
	correlationID := msg.Metadata.Get(metadatapkg.KeyCorrelationID)
	v, ok := c.pending.Load(correlationID)
	if !ok {
		c.logger.Debug("Dropping reply without a pending call", loggingpkg.LogFields{
			loggingpkg.FieldCorrelationID: correlationID,
		})
		return nil
	}
	select {
	case v.(chan *message.Message) <- msg:
	default:
		c.logger.Debug("Dropping duplicate reply", loggingpkg.LogFields{
			loggingpkg.FieldCorrelationID: correlationID,
		})
	}
	return nil
}
