package runtime

import (
	"net/http"
	"strings"

	"github.com/drblury/traceflow/internal/runtime/jsoncodec"
)

const defaultCallsAPIPort = 8081

// EndpointInfo describes a server, client reply or consumer subscription.
type EndpointInfo struct {
	Name  string `json:"name"`
	Topic string `json:"topic"`
}

// CallsOverview is the body served by the calls API.
type CallsOverview struct {
	Service   string              `json:"service"`
	Transport string              `json:"transport"`
	Endpoints []EndpointInfo      `json:"endpoints"`
	Metrics   *RPCMetricsSnapshot `json:"metrics,omitempty"`
}

func (s *Service) startCallsAPI() {
	if !s.Conf.CallsAPIEnabled {
		return
	}

	port := s.Conf.CallsAPIPort
	if port == 0 {
		port = defaultCallsAPIPort
	}

	s.RegisterHTTPHandler(port, "/api/calls", http.HandlerFunc(s.handleGetCalls))
}

// Endpoints returns the subscriptions registered on the service.
func (s *Service) Endpoints() []EndpointInfo {
	s.endpointsMu.RLock()
	defer s.endpointsMu.RUnlock()
	return append([]EndpointInfo(nil), s.endpoints...)
}

// CallsOverview collects the registered endpoints and, when metrics are
// enabled, the per-server call counts.
func (s *Service) CallsOverview() CallsOverview {
	overview := CallsOverview{
		Service:   s.Conf.ServiceName,
		Transport: s.capabilities.Name,
		Endpoints: s.Endpoints(),
	}
	if overview.Endpoints == nil {
		overview.Endpoints = []EndpointInfo{}
	}
	if s.metrics != nil {
		snap := s.metrics.Snapshot()
		overview.Metrics = &snap
	}
	return overview
}

func (s *Service) handleGetCalls(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if len(s.Conf.CallsAPICORSAllowedOrigins) > 0 {
		if allowed := s.allowedCORSOrigin(r.Header.Get("Origin")); allowed != "" {
			w.Header().Set("Access-Control-Allow-Origin", allowed)
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
	}

	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
		return
	case http.MethodGet, http.MethodHead:
	default:
		w.Header().Set("Allow", "GET, HEAD, OPTIONS")
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := jsoncodec.Encode(w, s.CallsOverview()); err != nil {
		s.Logger.Error("Failed to encode calls overview", err, nil)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

// allowedCORSOrigin returns the Access-Control-Allow-Origin value for
// requestOrigin, or "" when it is not allowed.
func (s *Service) allowedCORSOrigin(requestOrigin string) string {
	for _, allowed := range s.Conf.CallsAPICORSAllowedOrigins {
		if allowed == "*" {
			return "*"
		}
		if requestOrigin != "" && strings.EqualFold(allowed, requestOrigin) {
			return requestOrigin
		}
	}
	return ""
}
