package runtime

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/drblury/traceflow/internal/runtime/errors"
	securitypkg "github.com/drblury/traceflow/internal/runtime/security"
)

func TestNewConsumerValidations(t *testing.T) {
	svc := newTestService(t)
	handler := func(context.Context, *Message) error { return nil }

	_, err := NewConsumer(nil, ConsumerConfig{Topic: "events", Handler: handler})
	assert.ErrorIs(t, err, errspkg.ErrServiceRequired)
	_, err = NewConsumer(svc, ConsumerConfig{Handler: handler})
	assert.ErrorIs(t, err, errspkg.ErrTopicRequired)
	_, err = NewConsumer(svc, ConsumerConfig{Topic: "events"})
	assert.ErrorIs(t, err, errspkg.ErrHandlerRequired)

	c, err := NewConsumer(svc, ConsumerConfig{Topic: "events", Handler: handler})
	require.NoError(t, err)
	assert.Equal(t, "consumer.events", c.name)
	_, ok := svc.router.Handlers()["consumer.events"]
	assert.True(t, ok)
}

func TestConsumerReceivesMessages(t *testing.T) {
	svc := newChannelService(t, nil, ServiceDependencies{})
	received := make(chan *Message, 1)
	_, err := NewConsumer(svc, ConsumerConfig{
		Topic: "events",
		Handler: func(_ context.Context, msg *Message) error {
			received <- msg
			return nil
		},
	})
	require.NoError(t, err)
	pub, err := NewPublisher(svc, PublisherConfig{Topic: "events"})
	require.NoError(t, err)
	startService(t, svc)

	require.NoError(t, pub.Send(context.Background(), &Ping1{Value: 9}, WithTimeout(time.Minute)))

	select {
	case msg := <-received:
		assert.Equal(t, "Ping1", msg.RequestType)
		assert.Equal(t, time.Minute, msg.Expiration)
		assert.Nil(t, msg.Security)
		var ping Ping1
		require.NoError(t, msg.Decode(&ping))
		assert.Equal(t, 9, ping.Value)
	case <-time.After(2 * time.Second):
		t.Fatal("message not delivered")
	}
}

func TestConsumerHandlerFailuresAreSwallowed(t *testing.T) {
	logger := newRecordingLogger()
	svc := newChannelService(t, nil, ServiceDependencies{})
	svc.Logger = logger
	calls := make(chan struct{}, 2)
	_, err := NewConsumer(svc, ConsumerConfig{
		Topic: "events",
		Handler: func(_ context.Context, msg *Message) error {
			calls <- struct{}{}
			var ping Ping1
			_ = msg.Decode(&ping)
			if ping.Value == 1 {
				panic("boom")
			}
			return errors.New("failed")
		},
	})
	require.NoError(t, err)
	pub, err := NewPublisher(svc, PublisherConfig{Topic: "events"})
	require.NoError(t, err)
	startService(t, svc)

	require.NoError(t, pub.Send(context.Background(), &Ping1{Value: 1}))
	require.NoError(t, pub.Send(context.Background(), &Ping1{Value: 2}))

	for i := 0; i < 2; i++ {
		select {
		case <-calls:
		case <-time.After(2 * time.Second):
			t.Fatal("message not delivered")
		}
	}
	require.True(t, waitFor(t, time.Second, func() bool { return logger.count("error") == 2 }))
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, calls, 0, "failed messages are not redelivered")
}

func TestConsumerSecurity(t *testing.T) {
	logger := newRecordingLogger()
	svc := newChannelService(t, nil, ServiceDependencies{})
	svc.Logger = logger
	received := make(chan *Message, 1)
	_, err := NewConsumer(svc, ConsumerConfig{
		Topic: "events",
		Security: &securitypkg.Options{
			Authenticator: securitypkg.AuthenticatorFunc(func(_ context.Context, token string) (securitypkg.Context, error) {
				if token != "good" {
					return nil, errors.New("bad token")
				}
				return &securitypkg.BasicContext{Subject: "svc", Token: token}, nil
			}),
		},
		Handler: func(_ context.Context, msg *Message) error {
			received <- msg
			return nil
		},
	})
	require.NoError(t, err)
	pub, err := NewPublisher(svc, PublisherConfig{Topic: "events"})
	require.NoError(t, err)
	startService(t, svc)

	require.NoError(t, pub.Send(context.Background(), &Ping1{}))
	require.True(t, waitFor(t, 2*time.Second, func() bool {
		_, ok := logger.find("Message rejected")
		return ok
	}))
	assert.Len(t, received, 0)

	require.NoError(t, pub.Send(context.Background(), &Ping1{}, WithAccessToken("good")))
	select {
	case msg := <-received:
		require.NotNil(t, msg.Security)
		assert.Equal(t, "svc", msg.Security.Principal())
	case <-time.After(2 * time.Second):
		t.Fatal("authorized message not delivered")
	}
}
