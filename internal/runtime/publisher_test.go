package runtime

import (
	"context"
	"errors"
	"testing"
	"time"

	errspkg "github.com/drblury/traceflow/internal/runtime/errors"
	formatpkg "github.com/drblury/traceflow/internal/runtime/format"
	metadatapkg "github.com/drblury/traceflow/internal/runtime/metadata"
	"github.com/drblury/traceflow/internal/runtime/telemetry"
)

func TestNewMessage(t *testing.T) {
	msg, err := NewMessage(formatpkg.JSON(), &Ping1{Value: 3}, metadatapkg.Metadata{"origin": "unit"}, metadatapkg.Outbound{
		RequestType: "Ping1",
		Expiration:  time.Second,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(msg.Payload) != `{"Value":3}` {
		t.Fatalf("unexpected payload %s", msg.Payload)
	}
	if msg.UUID == "" {
		t.Fatal("expected message uuid")
	}
	if msg.Metadata.Get("origin") != "unit" {
		t.Fatalf("expected preset metadata to be preserved, got %#v", msg.Metadata)
	}
	if msg.Metadata.Get(metadatapkg.KeyContentType) != formatpkg.ContentTypeJSON {
		t.Fatalf("unexpected content type %q", msg.Metadata.Get(metadatapkg.KeyContentType))
	}
	if msg.Metadata.Get(metadatapkg.KeyExpiration) != "1000" {
		t.Fatalf("unexpected expiration %q", msg.Metadata.Get(metadatapkg.KeyExpiration))
	}
}

func TestNewMessageContentTypeComesFromFormat(t *testing.T) {
	preset := metadatapkg.New(metadatapkg.KeyContentType, "text/plain")
	msg, err := NewMessage(formatpkg.YAML(), &Ping1{}, preset, metadatapkg.Outbound{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := msg.Metadata.Get(metadatapkg.KeyContentType); got != formatpkg.ContentTypeYAML {
		t.Fatalf("expected yaml content type, got %q", got)
	}
}

func TestNewMessageValidations(t *testing.T) {
	if _, err := NewMessage(nil, &Ping1{}, nil, metadatapkg.Outbound{}); !errors.Is(err, errspkg.ErrFormatRequired) {
		t.Fatalf("expected ErrFormatRequired, got %v", err)
	}
	if _, err := NewMessage(formatpkg.JSON(), nil, nil, metadatapkg.Outbound{}); !errors.Is(err, errspkg.ErrRequestRequired) {
		t.Fatalf("expected ErrRequestRequired, got %v", err)
	}
	if _, err := NewMessage(formatpkg.JSON(), func() {}, nil, metadatapkg.Outbound{}); err == nil {
		t.Fatal("expected marshal error")
	}
}

func TestNewPublisherValidations(t *testing.T) {
	if _, err := NewPublisher(nil, PublisherConfig{Topic: "t"}); !errors.Is(err, errspkg.ErrServiceRequired) {
		t.Fatalf("expected ErrServiceRequired, got %v", err)
	}
	if _, err := NewPublisher(newTestService(t), PublisherConfig{}); !errors.Is(err, errspkg.ErrTopicRequired) {
		t.Fatalf("expected ErrTopicRequired, got %v", err)
	}
}

func TestPublisherSend(t *testing.T) {
	svc := newTestService(t)
	pub, err := NewPublisher(svc, PublisherConfig{Topic: "events"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pub.timeout != svc.Conf.MessageTimeout() {
		t.Fatalf("expected default message timeout, got %s", pub.timeout)
	}

	ctx := context.WithValue(context.Background(), publisherTestKey{}, "value")
	if err := pub.Send(ctx, &Ping1{Value: 1}, WithAccessToken("tok"), WithTimeout(5*time.Second)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	recorder := svc.publisher.(*testPublisher)
	if topics := recorder.Topics(); len(topics) != 1 || topics[0] != "events" {
		t.Fatalf("unexpected topics %v", topics)
	}
	msg := recorder.Messages()[0]
	if msg.Context().Value(publisherTestKey{}) != "value" {
		t.Fatal("expected context to be attached to the message")
	}
	md := msg.Metadata
	if md.Get(metadatapkg.HeaderRequestType) != "Ping1" {
		t.Fatalf("unexpected request type %q", md.Get(metadatapkg.HeaderRequestType))
	}
	if md.Get(metadatapkg.HeaderAccessToken) != "tok" {
		t.Fatal("expected access token header")
	}
	if md.Get(metadatapkg.KeyExpiration) != "5000" {
		t.Fatalf("unexpected expiration %q", md.Get(metadatapkg.KeyExpiration))
	}
	for _, key := range []string{metadatapkg.KeyCorrelationID, metadatapkg.KeyReplyTo, metadatapkg.HeaderTimeout} {
		if md.Get(key) != "" {
			t.Fatalf("one-way message must not carry %s", key)
		}
	}
}

func TestPublisherSendErrors(t *testing.T) {
	svc := newTestService(t)
	pub, err := NewPublisher(svc, PublisherConfig{Topic: "events", Timeout: time.Minute})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := pub.Send(context.Background(), nil); !errors.Is(err, errspkg.ErrRequestRequired) {
		t.Fatalf("expected ErrRequestRequired, got %v", err)
	}

	brokerErr := errors.New("broker down")
	svc.publisher.(*testPublisher).err = brokerErr
	if err := pub.Send(context.Background(), &Ping1{}); !errors.Is(err, brokerErr) {
		t.Fatalf("expected broker error, got %v", err)
	}
}

type publisherTestKey struct{}

type recordingTracker struct {
	infos    []telemetry.DependencyInfo
	statuses []telemetry.Status
}

type recordingDependency struct {
	tracker *recordingTracker
}

func (d recordingDependency) TraceHeaders() metadatapkg.TraceHeaders {
	return metadatapkg.TraceHeaders{OperationID: "op", ParentID: "parent", Source: "unit"}
}

func (d recordingDependency) Finish(status telemetry.Status, _ error) {
	d.tracker.statuses = append(d.tracker.statuses, status)
}

func (r *recordingTracker) StartDependency(ctx context.Context, info telemetry.DependencyInfo) (context.Context, telemetry.Dependency) {
	r.infos = append(r.infos, info)
	return ctx, recordingDependency{tracker: r}
}

func TestPublisherSendTracksDependency(t *testing.T) {
	svc := newTestService(t)
	tracker := &recordingTracker{}
	svc.tracker = tracker
	pub, err := NewPublisher(svc, PublisherConfig{Topic: "events"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := pub.Send(context.Background(), &Ping1{}, WithRequestType("Custom")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tracker.infos) != 1 || tracker.infos[0].Kind != telemetry.DependencyPublish || tracker.infos[0].Name != "Custom" {
		t.Fatalf("unexpected dependency %+v", tracker.infos)
	}
	if len(tracker.statuses) != 1 || tracker.statuses[0] != telemetry.StatusSuccess {
		t.Fatalf("unexpected statuses %v", tracker.statuses)
	}
	md := svc.publisher.(*testPublisher).Messages()[0].Metadata
	if md.Get(metadatapkg.HeaderTelemetryOperationID) != "op" || md.Get(metadatapkg.HeaderTelemetrySource) != "unit" {
		t.Fatalf("expected trace headers, got %v", md)
	}
}
