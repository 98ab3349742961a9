// Package statusapi exposes a topology's current state, proxy sets,
// and latency bookkeeping as read-only JSON over chi. It is an
// observability convenience; nothing in the topology core depends on
// it.
package statusapi

import (
	"encoding/json"
	"math"
	"net/http"
	"time"

	units "github.com/docker/go-units"
	"github.com/gluk-w/mongostopo/internal/topology"
	"github.com/go-chi/chi/v5"
)

// Server binds HTTP handlers to a single Topology.
type Server struct {
	topo    *topology.Topology
	started time.Time
}

// New wraps topo for mounting into a chi router.
func New(topo *topology.Topology) *Server {
	return &Server{topo: topo, started: time.Now()}
}

// Routes returns a chi.Router exposing /healthz and /status.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealthz)
	r.Get("/status", s.handleStatus)
	return r
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

// handleHealthz reports liveness: healthy iff the topology currently
// has at least one connected proxy.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if !s.topo.IsConnected() {
		writeError(w, http.StatusServiceUnavailable, "no mongos proxy connected")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// proxySummary is the JSON shape of a single handle in /status's
// proxy lists.
type proxySummary struct {
	Name          string `json:"name"`
	LastLatencyMS int64  `json:"last_latency_ms"`
	RehabFailures int    `json:"rehab_failures,omitempty"`
}

// handleStatus reports the topology's lifecycle state, the connected
// and disconnected proxy sets, and minLatencyMS, without touching the
// dispatch path. The connecting set is not reported.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	connected := s.topo.Connections()
	connectedSummaries := make([]proxySummary, 0, len(connected))
	for _, h := range connected {
		connectedSummaries = append(connectedSummaries, proxySummary{
			Name:          h.Name(),
			LastLatencyMS: h.LastIsMasterMS(),
		})
	}

	disconnected := s.topo.Disconnected()
	disconnectedSummaries := make([]proxySummary, 0, len(disconnected))
	for _, h := range disconnected {
		disconnectedSummaries = append(disconnectedSummaries, proxySummary{
			Name:          h.Name(),
			RehabFailures: s.topo.GetRehabFailures(h.Name()),
		})
	}

	minLatency := s.topo.MinLatencyMS()
	if minLatency == math.MaxInt64 {
		minLatency = -1
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"topology_id":    s.topo.ID(),
		"type":           s.topo.Type(),
		"uptime":         units.HumanDuration(time.Since(s.started)),
		"state":          s.topo.State().String(),
		"is_connected":   s.topo.IsConnected(),
		"min_latency_ms": minLatency,
		"connected":      connectedSummaries,
		"disconnected":   disconnectedSummaries,
	})
}
