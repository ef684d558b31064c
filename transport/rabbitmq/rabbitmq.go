// Package rabbitmq provides a RabbitMQ/AMQP transport for traceflow.
// Topics map onto queues bound to the default exchange, so every server
// subscribed to a request topic competes for the same calls. Generated reply
// topics get exclusive auto-delete queues that vanish with their client.
package rabbitmq

import (
	"context"
	"errors"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/traceflow/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "rabbitmq"

// ConnectionFactory allows overriding the connection creation for testing.
var ConnectionFactory = func(cfg amqp.ConnectionConfig, logger watermill.LoggerAdapter) (*amqp.ConnectionWrapper, error) {
	return amqp.NewConnection(cfg, logger)
}

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg amqp.Config, logger watermill.LoggerAdapter, conn *amqp.ConnectionWrapper) (message.Publisher, error) {
	return amqp.NewPublisherWithConnection(cfg, logger, conn)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg amqp.Config, logger watermill.LoggerAdapter, conn *amqp.ConnectionWrapper) (message.Subscriber, error) {
	return amqp.NewSubscriberWithConnection(cfg, logger, conn)
}

func init() {
	Register()
}

// Register registers the RabbitMQ transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.RabbitMQCapabilities)
}

// NewConfig returns the AMQP config for request topics: queue-per-topic on
// the default exchange, the RPC marshaler and the configured prefetch.
func NewConfig(cfg transport.Config) amqp.Config {
	url := cfg.GetRabbitMQURL()

	var amqpConfig amqp.Config
	if cfg.GetRabbitMQDurable() {
		amqpConfig = amqp.NewDurableQueueConfig(url)
	} else {
		amqpConfig = amqp.NewNonDurableQueueConfig(url)
	}
	amqpConfig.Marshaler = RPCMarshaler{
		DefaultMarshaler: amqp.DefaultMarshaler{NotPersistentDeliveryMode: !cfg.GetRabbitMQDurable()},
	}
	if prefetch := cfg.GetRabbitMQPrefetch(); prefetch > 0 {
		amqpConfig.Consume.Qos.PrefetchCount = prefetch
	}
	return amqpConfig
}

// NewReplyConfig returns the AMQP config for generated reply topics. Reply
// queues are exclusive to the client connection and removed by the broker
// once it goes away, whatever RabbitMQDurable says.
func NewReplyConfig(cfg transport.Config) amqp.Config {
	amqpConfig := amqp.NewNonDurableQueueConfig(cfg.GetRabbitMQURL())
	amqpConfig.Queue.AutoDelete = true
	amqpConfig.Queue.Exclusive = true
	amqpConfig.Marshaler = RPCMarshaler{
		DefaultMarshaler: amqp.DefaultMarshaler{NotPersistentDeliveryMode: true},
	}
	if prefetch := cfg.GetRabbitMQPrefetch(); prefetch > 0 {
		amqpConfig.Consume.Qos.PrefetchCount = prefetch
	}
	return amqpConfig
}

// Build creates a new RabbitMQ transport.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	amqpConfig := NewConfig(cfg)

	conn, err := ConnectionFactory(amqp.ConnectionConfig{
		AmqpURI:   cfg.GetRabbitMQURL(),
		TLSConfig: nil,
		Reconnect: amqp.DefaultReconnectConfig(),
	}, logger)
	if err != nil {
		return transport.Transport{}, err
	}

	publisher, err := PublisherFactory(amqpConfig, logger, conn)
	if err != nil {
		return transport.Transport{}, err
	}

	requests, err := SubscriberFactory(amqpConfig, logger, conn)
	if err != nil {
		_ = publisher.Close()
		return transport.Transport{}, err
	}

	replies, err := SubscriberFactory(NewReplyConfig(cfg), logger, conn)
	if err != nil {
		_ = requests.Close()
		_ = publisher.Close()
		return transport.Transport{}, err
	}

	return transport.Transport{
		Publisher:  publisher,
		Subscriber: &topicSubscriber{requests: requests, replies: replies},
	}, nil
}

// topicSubscriber sends generated reply topics to the reply subscriber and
// everything else to the request subscriber.
type topicSubscriber struct {
	requests message.Subscriber
	replies  message.Subscriber
}

func (s *topicSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	if transport.IsReplyTopic(topic) {
		return s.replies.Subscribe(ctx, topic)
	}
	return s.requests.Subscribe(ctx, topic)
}

func (s *topicSubscriber) Close() error {
	return errors.Join(s.requests.Close(), s.replies.Close())
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.RabbitMQCapabilities
}
