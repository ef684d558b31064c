// Package redis provides a Redis list transport for traceflow.
//
// Each topic is a list. Publishers LPUSH, subscribers BRPOP, so every
// server subscribed to a request topic competes for the same calls and a
// call is handled once. A delivered message is held until it is acked. A
// nack redelivers it; a shutdown pushes it back to the consuming end of the
// list.
package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	goredis "github.com/redis/go-redis/v9"

	"github.com/drblury/traceflow/internal/runtime/jsoncodec"
	metadatapkg "github.com/drblury/traceflow/internal/runtime/metadata"
	"github.com/drblury/traceflow/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "redis"

// DefaultKeyPrefix is used when the config leaves the prefix empty.
const DefaultKeyPrefix = "traceflow:"

// PollTimeout bounds one BRPOP so subscribers notice Close.
var PollTimeout = time.Second

// ErrClosed is returned by Publish and Subscribe after Close.
var ErrClosed = errors.New("redis: pubsub is closed")

// Client is the part of go-redis the transport uses.
type Client interface {
	LPush(ctx context.Context, key string, values ...any) *goredis.IntCmd
	RPush(ctx context.Context, key string, values ...any) *goredis.IntCmd
	BRPop(ctx context.Context, timeout time.Duration, keys ...string) *goredis.StringSliceCmd
	Close() error
}

// ClientFactory allows overriding the client creation for testing.
var ClientFactory = func(opts *goredis.Options) Client {
	return goredis.NewClient(opts)
}

func init() {
	Register()
}

// Register registers the Redis transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.RedisCapabilities)
}

// Build creates a new Redis transport. The publisher and subscriber share one
// client, so Close on either closes both.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	addr := cfg.GetRedisAddr()
	if addr == "" {
		return transport.Transport{}, errors.New("redis: address is required")
	}
	client := ClientFactory(&goredis.Options{
		Addr:       addr,
		Password:   cfg.GetRedisPassword(),
		DB:         cfg.GetRedisDB(),
		ClientName: cfg.GetServiceName(),
	})
	ps := NewPubSub(client, cfg.GetRedisKeyPrefix(), logger)
	return transport.Transport{
		Publisher:  ps,
		Subscriber: ps,
	}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.RedisCapabilities
}

// envelope is the list element. Metadata travels next to the payload since
// lists have no headers.
type envelope struct {
	UUID        string            `json:"uuid"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Payload     []byte            `json:"payload"`
	PublishedAt time.Time         `json:"published_at"`
}

// PubSub implements message.Publisher and message.Subscriber over lists.
type PubSub struct {
	client    Client
	keyPrefix string
	logger    watermill.LoggerAdapter

	closing   chan struct{}
	closeOnce sync.Once
	closeErr  error
	wg        sync.WaitGroup
}

// NewPubSub wraps client. An empty keyPrefix means DefaultKeyPrefix.
func NewPubSub(client Client, keyPrefix string, logger watermill.LoggerAdapter) *PubSub {
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	return &PubSub{
		client:    client,
		keyPrefix: keyPrefix,
		logger:    logger,
		closing:   make(chan struct{}),
	}
}

// Key returns the list holding topic.
func (p *PubSub) Key(topic string) string {
	return p.keyPrefix + topic
}

func (p *PubSub) isClosed() bool {
	select {
	case <-p.closing:
		return true
	default:
		return false
	}
}

// Publish pushes every message onto the topic list, in order.
func (p *PubSub) Publish(topic string, messages ...*message.Message) error {
	if p.isClosed() {
		return ErrClosed
	}
	key := p.Key(topic)
	for _, msg := range messages {
		raw, err := jsoncodec.Marshal(envelope{
			UUID:        msg.UUID,
			Metadata:    msg.Metadata,
			Payload:     msg.Payload,
			PublishedAt: time.Now().UTC(),
		})
		if err != nil {
			return fmt.Errorf("redis: encode message %s: %w", msg.UUID, err)
		}
		if err := p.client.LPush(msg.Context(), key, raw).Err(); err != nil {
			return fmt.Errorf("redis: push to %s: %w", key, err)
		}
	}
	return nil
}

// Subscribe starts a consumer for topic. The channel closes when ctx is done
// or the PubSub is closed.
func (p *PubSub) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	if p.isClosed() {
		return nil, ErrClosed
	}

	ctx, cancel := context.WithCancel(ctx)
	out := make(chan *message.Message)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer close(out)
		defer cancel()

		go func() {
			select {
			case <-p.closing:
				cancel()
			case <-ctx.Done():
			}
		}()

		p.consume(ctx, topic, out)
	}()

	return out, nil
}

func (p *PubSub) consume(ctx context.Context, topic string, out chan<- *message.Message) {
	key := p.Key(topic)
	fields := watermill.LogFields{"topic": topic, "key": key}

	for ctx.Err() == nil {
		res, err := p.client.BRPop(ctx, PollTimeout, key).Result()
		if errors.Is(err, goredis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Error("Redis pop failed", err, fields)
			select {
			case <-ctx.Done():
				return
			case <-time.After(PollTimeout):
			}
			continue
		}
		if len(res) != 2 {
			continue
		}

		raw := res[1]
		var env envelope
		if err := jsoncodec.Unmarshal([]byte(raw), &env); err != nil {
			p.logger.Error("Dropping undecodable message", err, fields)
			continue
		}
		if expired(env) {
			p.logger.Debug("Dropping expired message", fields.Add(watermill.LogFields{"message_uuid": env.UUID}))
			continue
		}

		msg := message.NewMessage(env.UUID, env.Payload)
		msg.Metadata = message.Metadata(env.Metadata)
		if msg.Metadata == nil {
			msg.Metadata = message.Metadata{}
		}
		if !p.deliver(ctx, key, raw, msg, out) {
			return
		}
	}
}

// deliver hands msg to the subscriber and waits for its ack. It reports
// false when the subscription is over; the message is pushed back first.
func (p *PubSub) deliver(ctx context.Context, key, raw string, msg *message.Message, out chan<- *message.Message) bool {
	for {
		msgCtx, cancel := context.WithCancel(ctx)
		msg.SetContext(msgCtx)

		select {
		case out <- msg:
		case <-ctx.Done():
			cancel()
			p.requeue(key, raw)
			return false
		}

		select {
		case <-msg.Acked():
			cancel()
			return true
		case <-msg.Nacked():
			cancel()
			msg = msg.Copy()
		case <-ctx.Done():
			cancel()
			p.requeue(key, raw)
			return false
		}
	}
}

func (p *PubSub) requeue(key, raw string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.client.RPush(ctx, key, raw).Err(); err != nil {
		p.logger.Error("Redis requeue failed, message lost", err, watermill.LogFields{"key": key})
	}
}

// expired reports whether the message outlived its expiration header.
func expired(env envelope) bool {
	raw := env.Metadata[metadatapkg.KeyExpiration]
	if raw == "" || env.PublishedAt.IsZero() {
		return false
	}
	ttl, err := metadatapkg.ParseMilliseconds(raw)
	if err != nil || ttl <= 0 {
		return false
	}
	return time.Since(env.PublishedAt) > ttl
}

// Close stops all subscriptions, waits for them and closes the client.
func (p *PubSub) Close() error {
	p.closeOnce.Do(func() {
		close(p.closing)
		p.wg.Wait()
		p.closeErr = p.client.Close()
	})
	return p.closeErr
}
