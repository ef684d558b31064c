// Package traceflow adds request/reply calls to one-way message brokers on
// top of Watermill. It reads the target transport (Kafka, RabbitMQ, AWS
// SNS/SQS, NATS, Redis, HTTP, or Go Channels) from Config, bootstraps the Watermill
// router, and registers the default middleware chain for logging, metrics,
// and panic recovery.
//
// A Client publishes a request carrying a correlation id, its reply topic
// and a timeout, then blocks until the matching reply arrives or the
// timeout passes. A Server tracks each inbound request as a call and
// answers it exactly once: with the handler's reply, or with a Fail reply
// when the deadline passes first. Replies embed Reply, whose Status field
// tells success apart from Fail, Unauthorized and Forbidden; the client
// turns the latter into an RPCError whose kind matches ErrRequestFailure,
// ErrUnauthorized or ErrForbidden with errors.Is.
//
// Publisher and Consumer cover one-way messages that share the same headers
// but expect no reply.
//
// # Transports
//
// traceflow supports 7 message transports out of the box:
//   - channel: In-memory Go channels for testing
//   - kafka: High-throughput streaming with consumer groups
//   - rabbitmq: AMQP queues with manual acknowledgment support
//   - aws: AWS SNS/SQS with LocalStack support
//   - nats: NATS Core subjects with queue groups
//   - redis: Redis lists with competing consumers
//   - http: Webhook-style delivery
//
// # Security and telemetry
//
// ServiceDependencies.Security authenticates the AccessToken header and
// authorizes each request type before a handler runs. Telemetry strategies
// receive the TelemetryOperationId, TelemetryParentId and TelemetrySource
// headers and report the final status of every call.
//
// # Call hooks
//
// CallHooks provide OnCallStart, OnCallDone, and OnCallRejected callbacks for
// custom logging, metrics collection, and alerting around each call.
package traceflow
