package runtime

import (
	"context"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	configpkg "github.com/drblury/traceflow/internal/runtime/config"
	formatpkg "github.com/drblury/traceflow/internal/runtime/format"
	loggingpkg "github.com/drblury/traceflow/internal/runtime/logging"
)

type Ping1 struct {
	Value int
}

type Pong1 struct {
	Reply
	Value int
}

type testPublisher struct {
	mu        sync.Mutex
	published []string
	messages  []*message.Message
	err       error
	closed    int
}

func (p *testPublisher) Publish(topic string, messages ...*message.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	for _, msg := range messages {
		p.published = append(p.published, topic)
		p.messages = append(p.messages, msg)
	}
	return nil
}

func (p *testPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed++
	return nil
}

func (p *testPublisher) Topics() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	clone := make([]string, len(p.published))
	copy(clone, p.published)
	return clone
}

func (p *testPublisher) Messages() []*message.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	clone := make([]*message.Message, len(p.messages))
	copy(clone, p.messages)
	return clone
}

type testSubscriber struct {
	err    error
	closed int
}

func (s *testSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	if s.err != nil {
		return nil, s.err
	}
	ch := make(chan *message.Message)
	close(ch)
	return ch, nil
}

func (s *testSubscriber) Close() error {
	s.closed++
	return nil
}

func newTestSlogLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func newTestLogger() loggingpkg.ServiceLogger {
	return loggingpkg.NewSlogServiceLogger(newTestSlogLogger())
}

// newTestService returns a service with a bare router and fake transport.
// Nothing is started.
func newTestService(t *testing.T) *Service {
	t.Helper()
	log := newTestLogger()
	wmLogger := loggingpkg.NewWatermillAdapter(log)
	router, err := message.NewRouter(message.RouterConfig{}, wmLogger)
	if err != nil {
		t.Fatalf("router init failed: %v", err)
	}
	return &Service{
		Conf:       &configpkg.Config{ServiceName: "test"},
		Logger:     log,
		router:     router,
		publisher:  &testPublisher{},
		subscriber: &testSubscriber{},
		format:     formatpkg.JSON(),
	}
}

// newChannelService builds a service on the in-memory transport. Handlers
// are added by the caller before startService.
func newChannelService(t *testing.T, conf *configpkg.Config, deps ServiceDependencies) *Service {
	t.Helper()
	if conf == nil {
		conf = &configpkg.Config{}
	}
	conf.PubSubSystem = "channel"
	if conf.ServiceName == "" {
		conf.ServiceName = "test"
	}
	deps.DisableDefaultMiddlewares = true
	svc, err := NewService(conf, newTestLogger(), context.Background(), deps)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

// startService runs svc until the test ends.
func startService(t *testing.T, svc *Service) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = svc.Start(ctx)
	}()
	select {
	case <-svc.Running():
	case <-time.After(5 * time.Second):
		t.Fatal("service did not start")
	}
	t.Cleanup(func() {
		_ = svc.Close()
		cancel()
		<-done
	})
}

// waitFor polls cond until it holds or the timeout passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func getFreePort() (int, error) {
	addr, err := net.ResolveTCPAddr("tcp", "localhost:0")
	if err != nil {
		return 0, err
	}

	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

type logEntry struct {
	level  string
	msg    string
	fields loggingpkg.LogFields
}

type logRecorder struct {
	mu      sync.Mutex
	entries []logEntry
}

// recordingLogger keeps every entry, including those of loggers derived
// through With.
type recordingLogger struct {
	rec    *logRecorder
	fields loggingpkg.LogFields
}

func newRecordingLogger() *recordingLogger {
	return &recordingLogger{rec: &logRecorder{}}
}

func (r *recordingLogger) With(fields loggingpkg.LogFields) loggingpkg.ServiceLogger {
	return &recordingLogger{rec: r.rec, fields: r.fields.With(fields)}
}

func (r *recordingLogger) Debug(msg string, fields loggingpkg.LogFields) {
	r.add("debug", msg, fields)
}

func (r *recordingLogger) Info(msg string, fields loggingpkg.LogFields) {
	r.add("info", msg, fields)
}

func (r *recordingLogger) Error(msg string, err error, fields loggingpkg.LogFields) {
	r.add("error", msg, fields.With(loggingpkg.LogFields{"error": err}))
}

func (r *recordingLogger) Trace(msg string, fields loggingpkg.LogFields) {
	r.add("trace", msg, fields)
}

func (r *recordingLogger) add(level, msg string, fields loggingpkg.LogFields) {
	r.rec.mu.Lock()
	defer r.rec.mu.Unlock()
	r.rec.entries = append(r.rec.entries, logEntry{level: level, msg: msg, fields: r.fields.With(fields)})
}

func (r *recordingLogger) find(msg string) (logEntry, bool) {
	r.rec.mu.Lock()
	defer r.rec.mu.Unlock()
	for _, e := range r.rec.entries {
		if e.msg == msg {
			return e, true
		}
	}
	return logEntry{}, false
}

func (r *recordingLogger) count(level string) int {
	r.rec.mu.Lock()
	defer r.rec.mu.Unlock()
	n := 0
	for _, e := range r.rec.entries {
		if e.level == level {
			n++
		}
	}
	return n
}
