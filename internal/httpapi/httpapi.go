// Package httpapi implements the HTTP introspection surface (§6.4): the
// three in-band paths the proxy short-circuits instead of forwarding
// upstream, reporting the live state of ProxyState and the connection
// tracker as JSON.
package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/relaywatch/relaywatch/internal/domain"
	"github.com/relaywatch/relaywatch/internal/proxystate"
	"github.com/relaywatch/relaywatch/internal/tracker"
)

// StaticConfig carries the configuration fields echoed back on /status;
// it is a snapshot taken at startup, not a live pointer into config.Config.
type StaticConfig struct {
	Port                       int
	SwitchThresholdMS          int
	HealthCheckIntervalSeconds uint64
}

// Handlers builds the three introspection http.Handlers.
type Handlers struct {
	state *proxystate.State
	track *tracker.Tracker
	cfg   StaticConfig
}

func New(state *proxystate.State, track *tracker.Tracker, cfg StaticConfig) *Handlers {
	return &Handlers{state: state, track: track, cfg: cfg}
}

type statusResponse struct {
	CurrentEndpoint        string                           `json:"current_endpoint"`
	TotalActiveConnections int                               `json:"total_active_connections"`
	EndpointConnections    domain.ConnectionDistribution     `json:"endpoint_connections"`
	Endpoints              map[string]domain.EndpointStatus  `json:"endpoints"`
	Timestamp              time.Time                         `json:"timestamp"`
	Config                 statusConfig                      `json:"config"`
}

type statusConfig struct {
	Port                       int    `json:"port"`
	SwitchThresholdMS          int    `json:"switch_threshold_ms"`
	HealthCheckIntervalSeconds uint64 `json:"health_check_interval_seconds"`
}

// Status handles GET /status.
func (h *Handlers) Status() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		snap := h.track.Snapshot()
		resp := statusResponse{
			CurrentEndpoint:        h.state.Current(),
			TotalActiveConnections: snap.ActiveCount,
			EndpointConnections:    snap.Distribution,
			Endpoints:              h.state.StatusByURL(),
			Timestamp:              time.Now().UTC(),
			Config: statusConfig{
				Port:                       h.cfg.Port,
				SwitchThresholdMS:          h.cfg.SwitchThresholdMS,
				HealthCheckIntervalSeconds: h.cfg.HealthCheckIntervalSeconds,
			},
		}
		writeJSON(w, resp)
	})
}

type diagnosticsResponse struct {
	ConnectionDiagnostics connectionDiagnostics `json:"connection_diagnostics"`
}

type connectionDiagnostics struct {
	TotalActive               int                           `json:"total_active"`
	EndpointDistribution      domain.ConnectionDistribution `json:"endpoint_distribution"`
	ConnectionDurations       []int64                       `json:"connection_durations"`
	CompletedCount            int64                         `json:"completed_count"`
	PeakConcurrent            int                            `json:"peak_concurrent"`
	LongestConnectionSeconds  int64                          `json:"longest_connection_seconds"`
	AverageDurationSeconds    int64                          `json:"average_duration_seconds"`
}

// Diagnostics handles GET /diagnostics.
func (h *Handlers) Diagnostics() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		snap := h.track.Snapshot()
		durations := h.track.ActiveDurations(time.Now())

		var longest, sum int64
		for _, d := range durations {
			sum += d
			if d > longest {
				longest = d
			}
		}
		var average int64
		if len(durations) > 0 {
			average = sum / int64(len(durations))
		}

		resp := diagnosticsResponse{ConnectionDiagnostics: connectionDiagnostics{
			TotalActive:              snap.ActiveCount,
			EndpointDistribution:     snap.Distribution,
			ConnectionDurations:      durations,
			CompletedCount:           snap.TotalCompleted,
			PeakConcurrent:           snap.Peak,
			LongestConnectionSeconds: longest,
			AverageDurationSeconds:   average,
		}}
		writeJSON(w, resp)
	})
}

// Health handles GET /health.
func (h *Handlers) Health() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	enc := json.NewEncoder(w)
	enc.Encode(v)
}
