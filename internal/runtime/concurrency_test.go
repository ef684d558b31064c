package runtime

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	configpkg "github.com/drblury/traceflow/internal/runtime/config"
	newtransport "github.com/drblury/traceflow/transport"
)

const queueTransportName = "ackqueue"

var registerQueueTransport sync.Once

// queuePubSub hands each topic's messages to one subscriber at a time and
// delivers the next message to a subscriber only after the previous one was
// acked, the way AMQP with prefetch 1 and Redis lists behave.
type queuePubSub struct {
	mu        sync.Mutex
	topics    map[string]chan *message.Message
	closed    chan struct{}
	closeOnce sync.Once
}

func newQueuePubSub() *queuePubSub {
	return &queuePubSub{
		topics: make(map[string]chan *message.Message),
		closed: make(chan struct{}),
	}
}

func (q *queuePubSub) queue(topic string) chan *message.Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	ch, ok := q.topics[topic]
	if !ok {
		ch = make(chan *message.Message, 256)
		q.topics[topic] = ch
	}
	return ch
}

func (q *queuePubSub) Publish(topic string, msgs ...*message.Message) error {
	select {
	case <-q.closed:
		return errors.New("queue closed")
	default:
	}
	src := q.queue(topic)
	for _, msg := range msgs {
		src <- msg.Copy()
	}
	return nil
}

func (q *queuePubSub) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	src := q.queue(topic)
	out := make(chan *message.Message)
	go func() {
		defer close(out)
		for {
			var stored *message.Message
			select {
			case stored = <-src:
			case <-ctx.Done():
				return
			case <-q.closed:
				return
			}
			msg := stored.Copy()
			select {
			case out <- msg:
			case <-ctx.Done():
				return
			case <-q.closed:
				return
			}
			select {
			case <-msg.Acked():
			case <-msg.Nacked():
				go func() { src <- stored }()
			case <-ctx.Done():
				return
			case <-q.closed:
				return
			}
		}
	}()
	return out, nil
}

func (q *queuePubSub) Close() error {
	q.closeOnce.Do(func() { close(q.closed) })
	return nil
}

func newQueueService(t *testing.T, concurrency int) *Service {
	t.Helper()
	registerQueueTransport.Do(func() {
		newtransport.RegisterWithCapabilities(queueTransportName,
			func(context.Context, newtransport.Config, watermill.LoggerAdapter) (newtransport.Transport, error) {
				q := newQueuePubSub()
				return newtransport.Transport{Publisher: q, Subscriber: q}, nil
			},
			newtransport.Capabilities{
				Name:                       queueTransportName,
				SupportsAck:                true,
				SupportsNack:               true,
				SupportsCompetingConsumers: true,
			})
	})
	conf := &configpkg.Config{
		ServiceName:       "test",
		PubSubSystem:      queueTransportName,
		AckMode:           configpkg.AckModeManual,
		ServerConcurrency: concurrency,
	}
	svc, err := NewService(conf, newTestLogger(), context.Background(), ServiceDependencies{DisableDefaultMiddlewares: true})
	require.NoError(t, err)
	return svc
}

func TestManualAckServesCallsConcurrently(t *testing.T) {
	const calls = 5
	svc := newQueueService(t, calls)

	var active, peak atomic.Int64
	server, err := NewServer(svc, ServerConfig{
		RequestTopic: "ping",
		Handler: func(_ context.Context, req *Request) error {
			cur := active.Add(1)
			for {
				old := peak.Load()
				if cur <= old || peak.CompareAndSwap(old, cur) {
					break
				}
			}
			go func() {
				time.Sleep(200 * time.Millisecond)
				active.Add(-1)
				_ = req.Reply(context.Background(), Pong1{Reply: Succeeded(), Value: 1})
			}()
			return nil
		},
	})
	require.NoError(t, err)
	assert.Equal(t, calls, server.Subscriptions())

	client, err := NewClient(svc, ClientConfig{RequestTopic: "ping"})
	require.NoError(t, err)
	startService(t, svc)

	var wg sync.WaitGroup
	errs := make(chan error, calls)
	for i := 0; i < calls; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var pong Pong1
			errs <- client.Call(context.Background(), &Ping1{}, &pong, WithTimeout(500*time.Millisecond))
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.EqualValues(t, calls, peak.Load())
	require.True(t, waitFor(t, time.Second, func() bool { return server.ActiveCalls() == 0 }))
}

func TestManualAckConcurrencyDefaultsFromConfig(t *testing.T) {
	svc := newQueueService(t, 0)
	server, err := NewServer(svc, ServerConfig{RequestTopic: "ping", Handler: pingHandler(t)})
	require.NoError(t, err)
	assert.Equal(t, configpkg.DefaultServerConcurrency, server.Subscriptions())

	svc = newQueueService(t, 0)
	server, err = NewServer(svc, ServerConfig{RequestTopic: "ping", Handler: pingHandler(t), Concurrency: 3})
	require.NoError(t, err)
	assert.Equal(t, 3, server.Subscriptions())
}

func TestBroadcastTransportKeepsOneSubscription(t *testing.T) {
	f := newRPCFixture(t, &configpkg.Config{AckMode: configpkg.AckModeManual, ServerConcurrency: 4}, ServiceDependencies{}, pingHandler(t))
	assert.Equal(t, 1, f.server.Subscriptions())

	var pong Pong1
	require.NoError(t, f.client.Call(context.Background(), &Ping1{Value: 1}, &pong))
	assert.Equal(t, 2, pong.Value)
	require.True(t, waitFor(t, time.Second, func() bool { return f.calls.doneCount() == 1 }))
}
