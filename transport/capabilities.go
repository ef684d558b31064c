package transport

// Capabilities describes the features supported by a transport backend.
// Use this to introspect what operations are available at runtime.
type Capabilities struct {
	// SupportsAck indicates the transport waits for an explicit
	// acknowledgment per message. Manual ack mode requires it.
	SupportsAck bool
	// SupportsNack indicates the transport supports negative acknowledgment (redelivery).
	SupportsNack bool
	// SupportsOrdering indicates the transport guarantees message ordering.
	SupportsOrdering bool
	// SupportsTracing indicates the transport carries string headers, so the
	// trace propagation fields survive the trip.
	SupportsTracing bool
	// SupportsNativeProperties indicates content type, correlation id,
	// reply-to and expiration map onto first-class message properties
	// instead of plain headers.
	SupportsNativeProperties bool
	// SupportsExpiration indicates the broker discards messages whose
	// expiration elapsed before delivery.
	SupportsExpiration bool
	// SupportsCompetingConsumers indicates that subscriptions to one topic
	// share its messages instead of each receiving a copy, so a server can
	// open several subscriptions to keep more than one call unacknowledged.
	SupportsCompetingConsumers bool
	// SupportsPartitioning indicates the transport supports message partitioning.
	SupportsPartitioning bool
	// MaxMessageSize is the maximum message size in bytes (0 = unlimited/unknown).
	MaxMessageSize int64
	// Name is the human-readable name of the transport.
	Name string
}

// SupportsReliableDelivery returns true if the transport supports at-least-once
// delivery semantics (ack + nack).
func (c Capabilities) SupportsReliableDelivery() bool {
	return c.SupportsAck && c.SupportsNack
}

// SupportsManualAck reports whether acknowledging at call termination has
// any effect on this transport.
func (c Capabilities) SupportsManualAck() bool {
	return c.SupportsAck
}

// Predefined capability sets for common transports.
var (
	// ChannelCapabilities for in-memory Go channel transport.
	ChannelCapabilities = Capabilities{
		Name:             "channel",
		SupportsOrdering: true,
		SupportsTracing:  true,
		SupportsAck:      true,
		SupportsNack:     true,
	}

	// KafkaCapabilities for Apache Kafka transport.
	KafkaCapabilities = Capabilities{
		Name:                       "kafka",
		SupportsCompetingConsumers: true,
		SupportsOrdering:           true,
		SupportsTracing:            true,
		SupportsAck:                true,
		SupportsPartitioning:       true,
		MaxMessageSize:             1048576, // Default 1MB
	}

	// RabbitMQCapabilities for RabbitMQ/AMQP transport.
	RabbitMQCapabilities = Capabilities{
		Name:                       "rabbitmq",
		SupportsCompetingConsumers: true,
		SupportsOrdering:           true,
		SupportsTracing:            true,
		SupportsAck:                true,
		SupportsNack:               true,
		SupportsNativeProperties:   true,
		SupportsExpiration:         true,
	}

	// NATSCapabilities for NATS Core transport.
	NATSCapabilities = Capabilities{
		Name:                       "nats",
		SupportsCompetingConsumers: true,
		SupportsTracing:            true,
		MaxMessageSize:             1048576, // Default 1MB
	}

	// AWSCapabilities for AWS SNS/SQS transport.
	AWSCapabilities = Capabilities{
		Name:                       "aws",
		SupportsCompetingConsumers: true,
		SupportsTracing:            true,
		SupportsAck:                true,
		SupportsNack:               true,
		MaxMessageSize:             262144, // 256KB
	}

	// RedisCapabilities for the Redis list transport. Expiration is enforced
	// by the subscriber, which drops messages whose expiration elapsed.
	RedisCapabilities = Capabilities{
		Name:                       "redis",
		SupportsCompetingConsumers: true,
		SupportsOrdering:           true,
		SupportsTracing:            true,
		SupportsAck:                true,
		SupportsNack:               true,
		SupportsExpiration:         true,
		MaxMessageSize:             536870912, // 512MB string limit
	}

	// HTTPCapabilities for HTTP-based transport.
	HTTPCapabilities = Capabilities{
		Name:            "http",
		SupportsTracing: true,
	}
)

// GetCapabilities returns the capabilities for a transport by name.
// Uses the registry to look up capabilities registered by each transport package.
// Returns a zero Capabilities struct if the transport is unknown.
func GetCapabilities(transportName string) Capabilities {
	return DefaultRegistry.GetCapabilities(transportName)
}
