// Package transport adapts the modular transports under
// github.com/drblury/traceflow/transport to the service runtime.
package transport

import (
	"fmt"

	newtransport "github.com/drblury/traceflow/transport"
)

// Capabilities is an alias for the modular transport Capabilities.
type Capabilities = newtransport.Capabilities

// CapabilitiesProvider is an alias for the modular transport CapabilitiesProvider.
type CapabilitiesProvider = newtransport.CapabilitiesProvider

// Predefined capability sets - aliased from the new transport package.
var (
	ChannelCapabilities  = newtransport.ChannelCapabilities
	KafkaCapabilities    = newtransport.KafkaCapabilities
	RabbitMQCapabilities = newtransport.RabbitMQCapabilities
	NATSCapabilities     = newtransport.NATSCapabilities
	AWSCapabilities      = newtransport.AWSCapabilities
	RedisCapabilities    = newtransport.RedisCapabilities
	HTTPCapabilities     = newtransport.HTTPCapabilities
)

// CapabilitiesOf returns the capabilities registered for a transport name.
func CapabilitiesOf(transportName string) Capabilities {
	return newtransport.GetCapabilities(transportName)
}

// ValidateAckMode rejects manual acknowledgment on transports that do not
// wait for acks; holding a message there until the call ends does nothing.
func ValidateAckMode(caps Capabilities, manual bool) error {
	if manual && !caps.SupportsManualAck() {
		return fmt.Errorf("transport %q does not support manual ack mode", caps.Name)
	}
	return nil
}
