package runtime

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	errspkg "github.com/drblury/traceflow/internal/runtime/errors"
	"github.com/drblury/traceflow/internal/runtime/telemetry"
)

// RPCMetrics tracks server and client call statistics.
type RPCMetrics struct {
	mu sync.RWMutex

	// Per-server counts
	servers map[string]*ServerCallMetrics

	// Prometheus collectors
	callsTotal         *prometheus.CounterVec
	callDuration       *prometheus.HistogramVec
	activeCalls        *prometheus.GaugeVec
	rejectedTotal      *prometheus.CounterVec
	clientCallsTotal   *prometheus.CounterVec
	clientCallDuration *prometheus.HistogramVec

	registerer prometheus.Registerer
	registered bool
}

// ServerCallMetrics holds the counts of one server.
type ServerCallMetrics struct {
	Started       uint64    `json:"started"`
	Completed     uint64    `json:"completed"`
	TimedOut      uint64    `json:"timed_out"`
	Rejected      uint64    `json:"rejected"`
	Active        int64     `json:"active"`
	LastUpdatedAt time.Time `json:"last_updated_at"`
}

// RPCMetricsSnapshot provides a point-in-time view of the server counts.
type RPCMetricsSnapshot struct {
	Servers     map[string]ServerCallMetrics `json:"servers"`
	CollectedAt time.Time                    `json:"collected_at"`
}

var callDurationBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60}

func newRPCCounterVec(name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "traceflow",
			Subsystem: "rpc",
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

func newRPCGaugeVec(name, help string, labels []string) *prometheus.GaugeVec {
	return prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "traceflow",
			Subsystem: "rpc",
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

func newRPCHistogramVec(name, help string, labels []string) *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "traceflow",
			Subsystem: "rpc",
			Name:      name,
			Help:      help,
			Buckets:   callDurationBuckets,
		},
		labels,
	)
}

// NewRPCMetrics creates the collectors. A nil registerer means the default
// Prometheus registerer.
func NewRPCMetrics(registerer prometheus.Registerer) *RPCMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &RPCMetrics{
		servers:            make(map[string]*ServerCallMetrics),
		registerer:         registerer,
		callsTotal:         newRPCCounterVec("calls_total", "Total number of terminated server calls", []string{"server", "request_type", "status"}),
		callDuration:       newRPCHistogramVec("call_duration_seconds", "Time from request arrival to call termination", []string{"server", "status"}),
		activeCalls:        newRPCGaugeVec("active_calls", "Number of calls awaiting a reply or their deadline", []string{"server"}),
		rejectedTotal:      newRPCCounterVec("rejected_total", "Requests rejected before a call was created", []string{"server", "reason"}),
		clientCallsTotal:   newRPCCounterVec("client_calls_total", "Total number of completed client calls", []string{"client", "status"}),
		clientCallDuration: newRPCHistogramVec("client_call_duration_seconds", "Time a client waited for its reply", []string{"client"}),
	}
}

// Register registers the Prometheus collectors. Safe to call multiple times.
func (m *RPCMetrics) Register() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}

	collectors := []prometheus.Collector{
		m.callsTotal,
		m.callDuration,
		m.activeCalls,
		m.rejectedTotal,
		m.clientCallsTotal,
		m.clientCallDuration,
	}

	for _, c := range collectors {
		if err := m.registerer.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				return err
			}
		}
	}

	m.registered = true
	return nil
}

func (m *RPCMetrics) callStarted(server string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.getOrCreateServer(server)
	s.Started++
	s.Active++
	s.LastUpdatedAt = time.Now()

	m.activeCalls.WithLabelValues(server).Inc()
}

func (m *RPCMetrics) callDone(server, requestType string, status telemetry.Status, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.getOrCreateServer(server)
	s.Completed++
	if status == telemetry.StatusTimeout {
		s.TimedOut++
	}
	s.Active--
	s.LastUpdatedAt = time.Now()

	m.callsTotal.WithLabelValues(server, requestType, string(status)).Inc()
	m.callDuration.WithLabelValues(server, string(status)).Observe(duration.Seconds())
	m.activeCalls.WithLabelValues(server).Dec()
}

func (m *RPCMetrics) rejected(server string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.getOrCreateServer(server)
	s.Rejected++
	s.LastUpdatedAt = time.Now()

	m.rejectedTotal.WithLabelValues(server, rejectionReason(err)).Inc()
}

func (m *RPCMetrics) clientCallDone(client string, status telemetry.Status, duration time.Duration) {
	m.clientCallsTotal.WithLabelValues(client, string(status)).Inc()
	m.clientCallDuration.WithLabelValues(client).Observe(duration.Seconds())
}

// GetServerMetrics returns a copy of the counts for server, or nil.
func (m *RPCMetrics) GetServerMetrics(server string) *ServerCallMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.servers[server]
	if !ok {
		return nil
	}
	c := *s
	return &c
}

// Snapshot returns a point-in-time copy of all server counts.
func (m *RPCMetrics) Snapshot() RPCMetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snapshot := RPCMetricsSnapshot{
		Servers:     make(map[string]ServerCallMetrics, len(m.servers)),
		CollectedAt: time.Now(),
	}
	for name, s := range m.servers {
		snapshot.Servers[name] = *s
	}
	return snapshot
}

func (m *RPCMetrics) getOrCreateServer(server string) *ServerCallMetrics {
	s, ok := m.servers[server]
	if !ok {
		s = &ServerCallMetrics{}
		m.servers[server] = s
	}
	return s
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, errspkg.ErrMissingCorrelationID):
		return "missing_correlation_id"
	case errors.Is(err, errspkg.ErrMissingReplyTo):
		return "missing_reply_to"
	case errors.Is(err, errspkg.ErrDuplicateCall):
		return "duplicate"
	case errors.Is(err, errspkg.ErrServerClosed):
		return "closed"
	default:
		return "other"
	}
}
