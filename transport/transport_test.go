package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransport_Struct(t *testing.T) {
	transport := Transport{
		Publisher:  &mockPublisher{},
		Subscriber: &mockSubscriber{},
	}

	assert.NotNil(t, transport.Publisher)
	assert.NotNil(t, transport.Subscriber)
}

func TestStaticConfig(t *testing.T) {
	var _ Config = (*StaticConfig)(nil)

	cfg := &StaticConfig{
		PubSubSystem:       "rabbitmq",
		ServiceName:        "orders",
		KafkaBrokers:       []string{"a:9092"},
		KafkaClientID:      "client",
		KafkaConsumerGroup: "group",
		RabbitMQURL:        "amqp://localhost",
		RabbitMQDurable:    true,
		RabbitMQPrefetch:   8,
		NATSURL:            "nats://localhost",
		HTTPServerAddress:  ":8080",
		HTTPPublisherURL:   "http://localhost/",
		AWSRegion:          "eu-west-1",
		AWSAccountID:       "123456789012",
		AWSAccessKeyID:     "key",
		AWSSecretAccessKey: "secret",
		AWSEndpoint:        "http://localhost:4566",
		RedisAddr:          "localhost:6379",
		RedisPassword:      "pw",
		RedisDB:            1,
		RedisKeyPrefix:     "orders:",
	}

	assert.Equal(t, "rabbitmq", cfg.GetPubSubSystem())
	assert.Equal(t, "orders", cfg.GetServiceName())
	assert.Equal(t, []string{"a:9092"}, cfg.GetKafkaBrokers())
	assert.Equal(t, "client", cfg.GetKafkaClientID())
	assert.Equal(t, "group", cfg.GetKafkaConsumerGroup())
	assert.Equal(t, "amqp://localhost", cfg.GetRabbitMQURL())
	assert.True(t, cfg.GetRabbitMQDurable())
	assert.Equal(t, 8, cfg.GetRabbitMQPrefetch())
	assert.Equal(t, "nats://localhost", cfg.GetNATSURL())
	assert.Equal(t, ":8080", cfg.GetHTTPServerAddress())
	assert.Equal(t, "http://localhost/", cfg.GetHTTPPublisherURL())
	assert.Equal(t, "eu-west-1", cfg.GetAWSRegion())
	assert.Equal(t, "123456789012", cfg.GetAWSAccountID())
	assert.Equal(t, "key", cfg.GetAWSAccessKeyID())
	assert.Equal(t, "secret", cfg.GetAWSSecretAccessKey())
	assert.Equal(t, "http://localhost:4566", cfg.GetAWSEndpoint())
	assert.Equal(t, "localhost:6379", cfg.GetRedisAddr())
	assert.Equal(t, "pw", cfg.GetRedisPassword())
	assert.Equal(t, 1, cfg.GetRedisDB())
	assert.Equal(t, "orders:", cfg.GetRedisKeyPrefix())
}

type testProvider struct{}

func (testProvider) Capabilities() Capabilities {
	return Capabilities{Name: "test"}
}

func TestCapabilitiesProvider_Interface(t *testing.T) {
	var _ CapabilitiesProvider = testProvider{}

	assert.Equal(t, "test", testProvider{}.Capabilities().Name)
}

func TestIsReplyTopic(t *testing.T) {
	assert.True(t, IsReplyTopic("orders.replies.01hx3k9f2r"))
	assert.True(t, IsReplyTopic("traceflow"+ReplyTopicSegment+"abc"))
	assert.False(t, IsReplyTopic("orders.requests"))
	assert.False(t, IsReplyTopic("replies"))
}
