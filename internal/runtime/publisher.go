package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	errspkg "github.com/drblury/traceflow/internal/runtime/errors"
	formatpkg "github.com/drblury/traceflow/internal/runtime/format"
	idspkg "github.com/drblury/traceflow/internal/runtime/ids"
	metadatapkg "github.com/drblury/traceflow/internal/runtime/metadata"
	"github.com/drblury/traceflow/internal/runtime/telemetry"
)

// PublisherConfig configures a Publisher.
type PublisherConfig struct {
	Topic string
	// Timeout is the expiration stamped on messages without WithTimeout.
	// Defaults to Config.DefaultMessageTimeout.
	Timeout time.Duration
}

// Publisher sends one-way messages to a topic. No reply is awaited.
type Publisher struct {
	svc     *Service
	topic   string
	timeout time.Duration
	format  formatpkg.Format
	tracker telemetry.DependencyTracker
}

// NewPublisher creates a Publisher on svc.
func NewPublisher(svc *Service, cfg PublisherConfig) (*Publisher, error) {
	if svc == nil {
		return nil, errspkg.ErrServiceRequired
	}
	if cfg.Topic == "" {
		return nil, errspkg.ErrTopicRequired
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = svc.Conf.MessageTimeout()
	}
	return &Publisher{
		svc:     svc,
		topic:   cfg.Topic,
		timeout: timeout,
		format:  svc.format,
		tracker: svc.tracker,
	}, nil
}

// Send serializes object and publishes it. Serialization and transport
// failures are returned to the caller; nothing is retried.
func (p *Publisher) Send(ctx context.Context, object any, opts ...SendOption) (err error) {
	if isNil(object) {
		return errspkg.ErrRequestRequired
	}
	if ctx == nil {
		ctx = context.Background()
	}
	o := newCallOptions(object, p.timeout, opts)

	var dep telemetry.Dependency
	if p.tracker != nil {
		ctx, dep = p.tracker.StartDependency(ctx, telemetry.DependencyInfo{
			Kind:   telemetry.DependencyPublish,
			Name:   o.requestType,
			Target: p.topic,
		})
		defer func() { dep.Finish(telemetry.StatusOf(err), err) }()
	}

	var trace metadatapkg.TraceHeaders
	if dep != nil {
		trace = dep.TraceHeaders()
	}
	msg, err := NewMessage(p.format, object, o.metadata, metadatapkg.Outbound{
		RequestType: o.requestType,
		AccessToken: o.accessToken,
		Expiration:  o.timeout,
		Trace:       trace,
	})
	if err != nil {
		return err
	}
	if err := p.svc.publish(ctx, p.topic, msg); err != nil {
		return fmt.Errorf("publish message: %w", err)
	}
	return nil
}

// NewMessage serializes object with f into a Watermill message whose
// metadata is preset stamped with out. The content type always comes from f.
func NewMessage(f formatpkg.Format, object any, preset metadatapkg.Metadata, out metadatapkg.Outbound) (*message.Message, error) {
	if f == nil {
		return nil, errspkg.ErrFormatRequired
	}
	if isNil(object) {
		return nil, errspkg.ErrRequestRequired
	}

	payload, err := f.Marshal(object)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	out.ContentType = f.ContentType()
	msg := message.NewMessage(idspkg.CreateULID(), payload)
	msg.Metadata = metadatapkg.ToWatermill(metadatapkg.Encode(preset, out))
	return msg, nil
}
