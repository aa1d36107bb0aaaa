// Package proxystate implements ProxyState (C8): the shared, mutable view
// of "which endpoint is current" and "what does every endpoint's health
// look like right now" that the orchestrator writes and the proxy pipeline
// reads on every request (§3, §4.8).
package proxystate

import (
	"log/slog"
	"sync"
	"time"

	"github.com/relaywatch/relaywatch/internal/domain"
)

// State is safe for concurrent use. Reads take a read lock only; the
// critical sections under the write lock never perform I/O.
type State struct {
	mu sync.RWMutex

	registryAll []*domain.Endpoint

	currentURL    string
	statusByURL   map[string]domain.EndpointStatus
	selectionMode domain.SelectionMode

	log *slog.Logger
}

// New seeds status entries for every registry endpoint in the checking
// state and leaves current_endpoint_url empty until the first pick.
func New(endpoints []*domain.Endpoint, log *slog.Logger) *State {
	statuses := make(map[string]domain.EndpointStatus, len(endpoints))
	for _, ep := range endpoints {
		statuses[ep.Identity()] = domain.NewCheckingStatus(ep.Identity(), nil)
	}
	return &State{
		registryAll: endpoints,
		statusByURL: statuses,
		log:         log,
	}
}

// Current returns the current endpoint's identity URL, or "" before the
// first pick.
func (s *State) Current() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentURL
}

// AuthForCurrent returns the bearer credential for the current endpoint, or
// "" if none is current or the endpoint is unknown to the registry.
func (s *State) AuthForCurrent(authFor func(string) string) string {
	s.mu.RLock()
	cur := s.currentURL
	s.mu.RUnlock()
	if cur == "" {
		return ""
	}
	return authFor(cur)
}

// StatusByURL returns a defensive copy of the full status map.
func (s *State) StatusByURL() map[string]domain.EndpointStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]domain.EndpointStatus, len(s.statusByURL))
	for k, v := range s.statusByURL {
		out[k] = v
	}
	return out
}

// StatusFor returns a single endpoint's status.
func (s *State) StatusFor(url string) (domain.EndpointStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.statusByURL[url]
	return st, ok
}

// SetStatus overwrites one endpoint's status, used by the orchestrator
// after merging a probe result (§4.7 step 6).
func (s *State) SetStatus(url string, status domain.EndpointStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statusByURL[url] = status
}

// Switch moves current_endpoint_url to newURL, logging From->To with
// latencies, unless newURL is already current (no-op).
func (s *State) Switch(newURL string, fromLatency, toLatency int64, reason domain.SwitchReason) bool {
	return s.switchInternal(newURL, fromLatency, toLatency, reason, true)
}

// SwitchSilent has the identical contract to Switch but never logs,
// used for operator-directed manual selection that doesn't need an
// audible announcement on top of the ManualEndpointSelected event, and
// by the proxy pipeline's cross-endpoint fallback.
func (s *State) SwitchSilent(newURL string, fromLatency, toLatency int64, reason domain.SwitchReason) bool {
	return s.switchInternal(newURL, fromLatency, toLatency, reason, false)
}

func (s *State) switchInternal(newURL string, fromLatency, toLatency int64, reason domain.SwitchReason, audible bool) bool {
	s.mu.Lock()
	prev := s.currentURL
	if prev == newURL {
		s.mu.Unlock()
		return false
	}
	s.currentURL = newURL
	s.mu.Unlock()

	if audible && s.log != nil {
		s.log.Info("endpoint switch",
			"from", prev, "to", newURL,
			"from_latency_ms", fromLatency, "to_latency_ms", toLatency,
			"reason", string(reason))
	}
	return true
}

// MarkFailed sets an endpoint unavailable with the given error, used by the
// proxy pipeline when a forwarding attempt independently discovers a
// failure outside the orchestrator's own probe cycle (§4.8).
func (s *State) MarkFailed(url string, errMsg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing := s.statusByURL[url]
	s.statusByURL[url] = existing.WithFailure(time.Now(), errMsg)
}

// SelectionMode reads the current selection mode.
func (s *State) SelectionMode() domain.SelectionMode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selectionMode
}

// SetSelectionMode writes the selection mode.
func (s *State) SetSelectionMode(mode domain.SelectionMode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selectionMode = mode
}

// Endpoints returns the immutable registry endpoint list this state was
// built from, for callers that need to walk every endpoint rather than
// just the current one.
func (s *State) Endpoints() []*domain.Endpoint {
	out := make([]*domain.Endpoint, len(s.registryAll))
	copy(out, s.registryAll)
	return out
}
