package rabbitmq

import (
	"fmt"
	"strconv"

	"github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"
	amqp091 "github.com/rabbitmq/amqp091-go"

	metadatapkg "github.com/drblury/traceflow/internal/runtime/metadata"
)

// RPCMarshaler maps the call fields onto AMQP message properties. Content
// type, encoding, correlation id, reply-to and expiration travel as native
// properties; RequestType and AccessToken as byte-array headers; Timeout as
// an integer header. Everything else is left to amqp.DefaultMarshaler.
type RPCMarshaler struct {
	amqp.DefaultMarshaler
}

// Marshal implements amqp.Marshaler.
func (m RPCMarshaler) Marshal(msg *message.Message) (amqp091.Publishing, error) {
	publishing, err := m.DefaultMarshaler.Marshal(msg)
	if err != nil {
		return publishing, err
	}

	headers := publishing.Headers
	take := func(key string) string {
		v, _ := headers[key].(string)
		delete(headers, key)
		return v
	}
	publishing.ContentType = take(metadatapkg.KeyContentType)
	publishing.ContentEncoding = take(metadatapkg.KeyContentEncoding)
	publishing.CorrelationId = take(metadatapkg.KeyCorrelationID)
	publishing.ReplyTo = take(metadatapkg.KeyReplyTo)
	publishing.Expiration = take(metadatapkg.KeyExpiration)

	for _, key := range []string{metadatapkg.HeaderRequestType, metadatapkg.HeaderAccessToken} {
		if v, ok := headers[key].(string); ok {
			headers[key] = []byte(v)
		}
	}
	if v, ok := headers[metadatapkg.HeaderTimeout].(string); ok {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return publishing, fmt.Errorf("header %s: %w", metadatapkg.HeaderTimeout, err)
		}
		headers[metadatapkg.HeaderTimeout] = ms
	}
	return publishing, nil
}

// Unmarshal implements amqp.Marshaler. Headers of any AMQP field type are
// accepted and formatted as strings.
func (m RPCMarshaler) Unmarshal(delivery amqp091.Delivery) (*message.Message, error) {
	headers := make(amqp091.Table, len(delivery.Headers))
	for key, value := range delivery.Headers {
		headers[key] = headerString(value)
	}
	delivery.Headers = headers

	msg, err := m.DefaultMarshaler.Unmarshal(delivery)
	if err != nil {
		return nil, err
	}

	set := func(key, value string) {
		if value != "" {
			msg.Metadata.Set(key, value)
		}
	}
	set(metadatapkg.KeyContentType, delivery.ContentType)
	set(metadatapkg.KeyContentEncoding, delivery.ContentEncoding)
	set(metadatapkg.KeyCorrelationID, delivery.CorrelationId)
	set(metadatapkg.KeyReplyTo, delivery.ReplyTo)
	set(metadatapkg.KeyExpiration, delivery.Expiration)
	return msg, nil
}

func headerString(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}
