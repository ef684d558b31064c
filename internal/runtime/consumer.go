package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	errspkg "github.com/drblury/traceflow/internal/runtime/errors"
	loggingpkg "github.com/drblury/traceflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/traceflow/internal/runtime/metadata"
	"github.com/drblury/traceflow/internal/runtime/pipeline"
	securitypkg "github.com/drblury/traceflow/internal/runtime/security"
	"github.com/drblury/traceflow/internal/runtime/telemetry"
)

// Message is a one-way message that passed the inbound checks.
type Message struct {
	UUID        string
	RequestType string
	Body        []byte
	Metadata    metadatapkg.Metadata
	Security    securitypkg.Context
	Telemetry   telemetry.Context
	// Expiration is what the sender stamped, zero when absent.
	Expiration time.Duration

	inbound *pipeline.Inbound
}

// Decode unmarshals the message body into v.
func (m *Message) Decode(v any) error {
	return m.inbound.Decode(v)
}

// MessageHandler processes one message. Errors are logged and tracked; the
// message is acknowledged either way.
type MessageHandler func(ctx context.Context, msg *Message) error

// ConsumerConfig configures a Consumer.
type ConsumerConfig struct {
	// Name defaults to "consumer.<Topic>".
	Name    string
	Topic   string
	Handler MessageHandler
	// Security overrides the service security options when set.
	Security *securitypkg.Options
}

// Consumer receives one-way messages through the inbound pipeline.
type Consumer struct {
	name      string
	topic     string
	handler   MessageHandler
	pipeline  *pipeline.Pipeline
	telemetry telemetry.Strategy
	logger    loggingpkg.ServiceLogger
}

// NewConsumer creates a consumer and subscribes it on svc.
func NewConsumer(svc *Service, cfg ConsumerConfig) (*Consumer, error) {
	if svc == nil {
		return nil, errspkg.ErrServiceRequired
	}
	if cfg.Topic == "" {
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

	c := &Consumer{
		name:      cfg.Name,
		topic:     cfg.Topic,
		handler:   cfg.Handler,
		pipeline:  p,
		telemetry: svc.telemetry,
	}
	if c.name == "" {
		c.name = "consumer." + cfg.Topic
	}
	c.logger = svc.Logger.With(loggingpkg.LogFields{
		"consumer":            c.name,
		loggingpkg.FieldTopic: c.topic,
	})

	if err := svc.addHandler(c.name, c.topic, c.handleMessage); err != nil {
		return nil, fmt.Errorf("subscribe topic: %w", err)
	}
	return c, nil
}

func (c *Consumer) handleMessage(msg *message.Message) error {
	ctx := msg.Context()
	md := metadatapkg.FromWatermill(msg.Metadata)

	in, err := c.pipeline.Process(ctx, pipeline.Envelope{
		Topic:    c.topic,
		Metadata: md,
		Payload:  msg.Payload,
	})
	ctx = telemetry.Inject(ctx, in.Telemetry)

	status := telemetry.StatusSuccess
	if err != nil {
		c.logger.Info("Message rejected", loggingpkg.LogFields{
			"message_uuid":              msg.UUID,
			loggingpkg.FieldRequestType: in.Headers.RequestType,
			"error":                     err.Error(),
		})
		status = telemetry.StatusOf(err)
		c.trackException(ctx, err, in.Telemetry)
	} else if err = c.dispatch(ctx, msg, in); err != nil {
		c.logger.Error("Message handler failed", err, loggingpkg.LogFields{
			"message_uuid":              msg.UUID,
			loggingpkg.FieldRequestType: in.Headers.RequestType,
		})
		status = telemetry.StatusFail
		c.trackException(ctx, err, in.Telemetry)
	}

	if in.Telemetry != nil {
		c.telemetry.CloseTelemetryContext(in.Telemetry, status)
	}
	return nil
}

func (c *Consumer) dispatch(ctx context.Context, msg *message.Message, in *pipeline.Inbound) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return c.handler(ctx, &Message{
		UUID:        msg.UUID,
		RequestType: in.Headers.RequestType,
		Body:        msg.Payload,
		Metadata:    in.Metadata,
		Security:    in.Security,
		Telemetry:   in.Telemetry,
		Expiration:  in.Headers.Expiration,
		inbound:     in,
	})
}

func (c *Consumer) trackException(ctx context.Context, err error, tc telemetry.Context) {
	if c.telemetry != nil {
		c.telemetry.TrackException(ctx, err, tc)
	}
}
