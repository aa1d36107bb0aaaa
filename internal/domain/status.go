package domain

import (
	"encoding/json"
	"time"
)

// EndpointStatus is the orchestrator's view of one endpoint's health.
// The "checking" state is encoded rather than named: Available=false and
// LastError="" means a probe is in flight but hasn't resolved yet.
type EndpointStatus struct {
	EndpointURL   string
	LastLatencyMS int64
	Available     bool
	LastError     string
	LastCheckTime time.Time
	History       *LatencyHistory
}

// endpointStatusJSON mirrors the original's field names so /status responds
// with the shape the dashboard's sparkline rendering expects.
type endpointStatusJSON struct {
	EndpointURL   string          `json:"endpoint"`
	LastLatencyMS int64           `json:"latency"`
	Available     bool            `json:"available"`
	LastError     *string         `json:"error"`
	LastCheckTime time.Time       `json:"last_check"`
	History       *LatencyHistory `json:"latency_history"`
}

// MarshalJSON serializes with snake_case keys and a nullable error field,
// matching the original's Option<String>, instead of the default
// PascalCase/always-present-zero-value shape Go would otherwise produce.
func (s EndpointStatus) MarshalJSON() ([]byte, error) {
	var lastError *string
	if s.LastError != "" {
		msg := s.LastError
		lastError = &msg
	}
	return json.Marshal(endpointStatusJSON{
		EndpointURL:   s.EndpointURL,
		LastLatencyMS: s.LastLatencyMS,
		Available:     s.Available,
		LastError:     lastError,
		LastCheckTime: s.LastCheckTime,
		History:       s.History,
	})
}

// NewCheckingStatus returns the status value used when an endpoint has
// never been probed, or is about to be re-probed this cycle.
func NewCheckingStatus(endpointURL string, history *LatencyHistory) EndpointStatus {
	if history == nil {
		history = NewLatencyHistory()
	}
	return EndpointStatus{
		EndpointURL: endpointURL,
		Available:   false,
		LastError:   "",
		History:     history,
	}
}

// IsChecking reports the transient "probe started, not yet resolved" state.
func (s EndpointStatus) IsChecking() bool {
	return !s.Available && s.LastError == ""
}

// IsFailed reports a resolved, unavailable endpoint.
func (s EndpointStatus) IsFailed() bool {
	return !s.Available && s.LastError != ""
}

// EffectiveLatencyMS returns the latency to use in switch-decision
// arithmetic: the real latency when available, or the +Inf sentinel
// otherwise (§3, §4.7.1).
func (s EndpointStatus) EffectiveLatencyMS() int64 {
	if !s.Available {
		return FailedLatencySentinel
	}
	return s.LastLatencyMS
}

// WithSuccess returns a copy of s updated for a successful probe,
// recording the measurement into a cloned history so the caller's
// existing snapshot is untouched.
func (s EndpointStatus) WithSuccess(now time.Time, latencyMS int64) EndpointStatus {
	history := s.cloneOrNewHistory()
	history.Record(LatencySuccess(now, latencyMS))
	return EndpointStatus{
		EndpointURL:   s.EndpointURL,
		LastLatencyMS: latencyMS,
		Available:     true,
		LastError:     "",
		LastCheckTime: now,
		History:       history,
	}
}

// WithFailure returns a copy of s updated for a failed probe.
func (s EndpointStatus) WithFailure(now time.Time, errMsg string) EndpointStatus {
	history := s.cloneOrNewHistory()
	history.Record(LatencyFailure(now, errMsg))
	return EndpointStatus{
		EndpointURL:   s.EndpointURL,
		LastLatencyMS: FailedLatencySentinel,
		Available:     false,
		LastError:     errMsg,
		LastCheckTime: now,
		History:       history,
	}
}

// WithChecking returns a copy of s transitioned into the checking state,
// preserving history so the dashboard keeps showing the trend line.
func (s EndpointStatus) WithChecking() EndpointStatus {
	return EndpointStatus{
		EndpointURL: s.EndpointURL,
		History:     s.cloneOrNewHistory(),
	}
}

func (s EndpointStatus) cloneOrNewHistory() *LatencyHistory {
	if s.History == nil {
		return NewLatencyHistory()
	}
	return s.History.Clone()
}
