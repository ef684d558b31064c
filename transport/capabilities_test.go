package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCapabilities_SupportsReliableDelivery(t *testing.T) {
	tests := []struct {
		name     string
		caps     Capabilities
		wantBool bool
	}{
		{
			name: "supports ack and nack",
			caps: Capabilities{
				SupportsAck:  true,
				SupportsNack: true,
			},
			wantBool: true,
		},
		{
			name: "supports ack only",
			caps: Capabilities{
				SupportsAck:  true,
				SupportsNack: false,
			},
			wantBool: false,
		},
		{
			name: "supports nack only",
			caps: Capabilities{
				SupportsAck:  false,
				SupportsNack: true,
			},
			wantBool: false,
		},
		{
			name:     "supports neither",
			caps:     Capabilities{},
			wantBool: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantBool, tt.caps.SupportsReliableDelivery())
		})
	}
}

func TestCapabilities_SupportsManualAck(t *testing.T) {
	assert.True(t, Capabilities{SupportsAck: true}.SupportsManualAck())
	assert.False(t, Capabilities{SupportsNack: true}.SupportsManualAck())
}

func TestPredefinedCapabilities(t *testing.T) {
	t.Run("ChannelCapabilities", func(t *testing.T) {
		assert.Equal(t, "channel", ChannelCapabilities.Name)
		assert.True(t, ChannelCapabilities.SupportsOrdering)
		assert.True(t, ChannelCapabilities.SupportsManualAck())
		assert.False(t, ChannelCapabilities.SupportsExpiration)
		assert.False(t, ChannelCapabilities.SupportsCompetingConsumers)
	})

	t.Run("KafkaCapabilities", func(t *testing.T) {
		assert.Equal(t, "kafka", KafkaCapabilities.Name)
		assert.True(t, KafkaCapabilities.SupportsOrdering)
		assert.True(t, KafkaCapabilities.SupportsPartitioning)
		assert.False(t, KafkaCapabilities.SupportsNack)
		assert.Greater(t, KafkaCapabilities.MaxMessageSize, int64(0))
	})

	t.Run("RabbitMQCapabilities", func(t *testing.T) {
		assert.Equal(t, "rabbitmq", RabbitMQCapabilities.Name)
		assert.True(t, RabbitMQCapabilities.SupportsNativeProperties)
		assert.True(t, RabbitMQCapabilities.SupportsExpiration)
		assert.True(t, RabbitMQCapabilities.SupportsReliableDelivery())
		assert.True(t, RabbitMQCapabilities.SupportsCompetingConsumers)
	})

	t.Run("NATSCapabilities", func(t *testing.T) {
		assert.Equal(t, "nats", NATSCapabilities.Name)
		assert.False(t, NATSCapabilities.SupportsAck)
		assert.True(t, NATSCapabilities.SupportsTracing)
	})

	t.Run("AWSCapabilities", func(t *testing.T) {
		assert.Equal(t, "aws", AWSCapabilities.Name)
		assert.True(t, AWSCapabilities.SupportsReliableDelivery())
		assert.Greater(t, AWSCapabilities.MaxMessageSize, int64(0))
	})

	t.Run("RedisCapabilities", func(t *testing.T) {
		assert.Equal(t, "redis", RedisCapabilities.Name)
		assert.True(t, RedisCapabilities.SupportsReliableDelivery())
		assert.True(t, RedisCapabilities.SupportsExpiration)
		assert.False(t, RedisCapabilities.SupportsNativeProperties)
		assert.True(t, RedisCapabilities.SupportsCompetingConsumers)
	})

	t.Run("HTTPCapabilities", func(t *testing.T) {
		assert.Equal(t, "http", HTTPCapabilities.Name)
		assert.False(t, HTTPCapabilities.SupportsAck)
		assert.True(t, HTTPCapabilities.SupportsTracing)
		assert.False(t, HTTPCapabilities.SupportsCompetingConsumers)
	})
}

func TestGetCapabilities_PackageLevel(t *testing.T) {
	caps := GetCapabilities("nonexistent")
	assert.Equal(t, "nonexistent", caps.Name)
}

func TestCapabilities_ZeroValue(t *testing.T) {
	var caps Capabilities
	assert.False(t, caps.SupportsOrdering)
	assert.False(t, caps.SupportsManualAck())
	assert.False(t, caps.SupportsReliableDelivery())
}
