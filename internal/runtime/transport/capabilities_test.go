package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCapabilitiesOf(t *testing.T) {
	for _, name := range []string{"channel", "kafka", "rabbitmq", "nats", "aws", "http", "redis"} {
		t.Run(name, func(t *testing.T) {
			caps := CapabilitiesOf(name)
			assert.Equal(t, name, caps.Name)
		})
	}
}

func TestCapabilitiesOf_Unknown(t *testing.T) {
	caps := CapabilitiesOf("unknown-transport")
	assert.Equal(t, "unknown-transport", caps.Name)
	assert.False(t, caps.SupportsAck)
}

func TestCapabilitiesAliases(t *testing.T) {
	assert.Equal(t, "channel", ChannelCapabilities.Name)
	assert.Equal(t, "kafka", KafkaCapabilities.Name)
	assert.Equal(t, "rabbitmq", RabbitMQCapabilities.Name)
	assert.Equal(t, "nats", NATSCapabilities.Name)
	assert.Equal(t, "aws", AWSCapabilities.Name)
	assert.Equal(t, "http", HTTPCapabilities.Name)
	assert.Equal(t, "redis", RedisCapabilities.Name)
}

func TestValidateAckMode(t *testing.T) {
	assert.NoError(t, ValidateAckMode(RabbitMQCapabilities, true))
	assert.NoError(t, ValidateAckMode(NATSCapabilities, false))
	assert.NoError(t, ValidateAckMode(RedisCapabilities, true))

	err := ValidateAckMode(NATSCapabilities, true)
	assert.ErrorContains(t, err, `transport "nats" does not support manual ack mode`)
}
