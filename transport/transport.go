// Package transport defines the core interfaces and types for traceflow transports.
// Each transport implementation (kafka, rabbitmq, aws, etc.) lives in its own
// sub-package and registers itself with the transport registry.
package transport

import (
	"context"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// Transport combines a publisher and subscriber pair produced by a factory.
type Transport struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
}

// ReplyTopicSegment separates the service name from the client id in
// generated reply topics.
const ReplyTopicSegment = ".replies."

// IsReplyTopic reports whether topic is a generated client reply topic.
// Such topics live only as long as the client that subscribes to them.
func IsReplyTopic(topic string) bool {
	return strings.Contains(topic, ReplyTopicSegment)
}

// Builder is the function signature for creating a transport from config.
// Each transport package provides a Builder function that can be registered.
type Builder func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error)

// Config provides the configuration values needed by transports.
// This interface allows transports to access only the config they need
// without depending on the full config package.
type Config interface {
	// GetPubSubSystem returns the transport type name.
	GetPubSubSystem() string
	// GetServiceName names the process. Transports use it for queue groups.
	GetServiceName() string

	// Kafka
	GetKafkaBrokers() []string
	GetKafkaClientID() string
	GetKafkaConsumerGroup() string

	// RabbitMQ
	GetRabbitMQURL() string
	GetRabbitMQDurable() bool
	GetRabbitMQPrefetch() int

	// NATS
	GetNATSURL() string

	// Redis
	GetRedisAddr() string
	GetRedisPassword() string
	GetRedisDB() int
	GetRedisKeyPrefix() string

	// HTTP
	GetHTTPServerAddress() string
	GetHTTPPublisherURL() string

	// AWS
	GetAWSRegion() string
	GetAWSAccountID() string
	GetAWSAccessKeyID() string
	GetAWSSecretAccessKey() string
	GetAWSEndpoint() string
}

// CapabilitiesProvider is implemented by transports that can report their capabilities.
type CapabilitiesProvider interface {
	Capabilities() Capabilities
}

// StaticConfig is a Config backed by plain fields, for custom factories and tests.
type StaticConfig struct {
	PubSubSystem       string
	ServiceName        string
	KafkaBrokers       []string
	KafkaClientID      string
	KafkaConsumerGroup string
	RabbitMQURL        string
	RabbitMQDurable    bool
	RabbitMQPrefetch   int
	NATSURL            string
	RedisAddr          string
	RedisPassword      string
	RedisDB            int
	RedisKeyPrefix     string
	HTTPServerAddress  string
	HTTPPublisherURL   string
	AWSRegion          string
	AWSAccountID       string
	AWSAccessKeyID     string
	AWSSecretAccessKey string
	AWSEndpoint        string
}

func (c *StaticConfig) GetPubSubSystem() string       { return c.PubSubSystem }
func (c *StaticConfig) GetServiceName() string        { return c.ServiceName }
func (c *StaticConfig) GetKafkaBrokers() []string     { return c.KafkaBrokers }
func (c *StaticConfig) GetKafkaClientID() string      { return c.KafkaClientID }
func (c *StaticConfig) GetKafkaConsumerGroup() string { return c.KafkaConsumerGroup }
func (c *StaticConfig) GetRabbitMQURL() string        { return c.RabbitMQURL }
func (c *StaticConfig) GetRabbitMQDurable() bool      { return c.RabbitMQDurable }
func (c *StaticConfig) GetRabbitMQPrefetch() int      { return c.RabbitMQPrefetch }
func (c *StaticConfig) GetNATSURL() string            { return c.NATSURL }
func (c *StaticConfig) GetRedisAddr() string          { return c.RedisAddr }
func (c *StaticConfig) GetRedisPassword() string      { return c.RedisPassword }
func (c *StaticConfig) GetRedisDB() int               { return c.RedisDB }
func (c *StaticConfig) GetRedisKeyPrefix() string     { return c.RedisKeyPrefix }
func (c *StaticConfig) GetHTTPServerAddress() string  { return c.HTTPServerAddress }
func (c *StaticConfig) GetHTTPPublisherURL() string   { return c.HTTPPublisherURL }
func (c *StaticConfig) GetAWSRegion() string          { return c.AWSRegion }
func (c *StaticConfig) GetAWSAccountID() string       { return c.AWSAccountID }
func (c *StaticConfig) GetAWSAccessKeyID() string     { return c.AWSAccessKeyID }
func (c *StaticConfig) GetAWSSecretAccessKey() string { return c.AWSSecretAccessKey }
func (c *StaticConfig) GetAWSEndpoint() string        { return c.AWSEndpoint }
