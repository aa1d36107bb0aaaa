// Package tracker implements the Connection Tracker (C3): bookkeeping for
// in-flight proxied requests, with the distribution and streaming-mean
// invariants required by spec §4.3.
package tracker

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/relaywatch/relaywatch/internal/domain"
)

// Tracker is safe for concurrent use. Reads (Snapshot) take a read lock
// only; writers hold the write lock for the minimal critical section
// needed to keep the distribution invariant exact.
type Tracker struct {
	mu sync.RWMutex

	active       map[string]*domain.ActiveConnection
	distribution domain.ConnectionDistribution

	peakConcurrent int
	totalCompleted int64
	totalFailed    int64
	meanDuration   time.Duration

	idSeq atomic.Uint64
}

func New() *Tracker {
	return &Tracker{
		active:       make(map[string]*domain.ActiveConnection),
		distribution: make(domain.ConnectionDistribution),
	}
}

// Start allocates a unique connection id, inserts it in the Connecting
// state, and returns the id.
func (t *Tracker) Start(endpointURL string) string {
	id := t.nextID()

	t.mu.Lock()
	defer t.mu.Unlock()

	t.active[id] = &domain.ActiveConnection{
		ID:          id,
		EndpointURL: endpointURL,
		StartTime:   time.Now(),
		Status:      domain.Connecting,
	}
	t.distribution[endpointURL]++
	if len(t.active) > t.peakConcurrent {
		t.peakConcurrent = len(t.active)
	}
	return id
}

// SetStatus performs a monotone status update; unknown ids and backward
// transitions are silently ignored.
func (t *Tracker) SetStatus(id string, status domain.ConnectionStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()

	conn, ok := t.active[id]
	if !ok {
		return
	}
	if !conn.Status.CanTransitionTo(status) {
		return
	}
	conn.Status = status
}

// Complete removes the entry, decrements the distribution, and updates the
// streaming mean duration. Returns the connection's duration and true, or
// (0, false) for an unknown id.
func (t *Tracker) Complete(id string) (time.Duration, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	conn, ok := t.active[id]
	if !ok {
		return 0, false
	}

	duration := time.Since(conn.StartTime)
	t.removeLocked(id, conn.EndpointURL)

	t.totalCompleted++
	n := t.totalCompleted
	t.meanDuration = time.Duration((int64(t.meanDuration)*(n-1) + int64(duration)) / n)

	return duration, true
}

// CleanupStale removes entries older than maxAge, counting each as a
// failure, and returns their ids.
func (t *Tracker) CleanupStale(maxAge time.Duration) []string {
	cutoff := time.Now().Add(-maxAge)

	t.mu.Lock()
	defer t.mu.Unlock()

	var removed []string
	for id, conn := range t.active {
		if conn.StartTime.Before(cutoff) {
			removed = append(removed, id)
		}
	}
	for _, id := range removed {
		conn := t.active[id]
		t.removeLocked(id, conn.EndpointURL)
		t.totalFailed++
	}
	return removed
}

func (t *Tracker) removeLocked(id, endpointURL string) {
	delete(t.active, id)
	t.distribution[endpointURL]--
	if t.distribution[endpointURL] <= 0 {
		delete(t.distribution, endpointURL)
	}
}

// ActiveCount returns the current number of in-flight connections. Cheaper
// than Snapshot for callers (the load classifier) that need only the count.
func (t *Tracker) ActiveCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.active)
}

// ActiveDurations returns, in no particular order, the elapsed seconds of
// every currently in-flight connection, used by the diagnostics endpoint
// to compute longest/average duration over the live set.
func (t *Tracker) ActiveDurations(now time.Time) []int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]int64, 0, len(t.active))
	for _, conn := range t.active {
		out = append(out, int64(now.Sub(conn.StartTime).Seconds()))
	}
	return out
}

// Snapshot is a cheap, point-in-time, value-only view (§9 "back-references":
// the dashboard must never hold a reference to a live tracker entry).
type Snapshot struct {
	ActiveCount    int
	Distribution   domain.ConnectionDistribution
	Peak           int
	TotalCompleted int64
	TotalFailed    int64
	MeanDuration   time.Duration
}

func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	dist := make(domain.ConnectionDistribution, len(t.distribution))
	for k, v := range t.distribution {
		dist[k] = v
	}

	return Snapshot{
		ActiveCount:    len(t.active),
		Distribution:   dist,
		Peak:           t.peakConcurrent,
		TotalCompleted: t.totalCompleted,
		TotalFailed:    t.totalFailed,
		MeanDuration:   t.meanDuration,
	}
}

// ForceCompleteAll removes every active connection (used on shutdown, §5),
// returning their ids so callers can emit ConnectionCompleted for each.
func (t *Tracker) ForceCompleteAll() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	ids := make([]string, 0, len(t.active))
	for id, conn := range t.active {
		ids = append(ids, id)
		t.removeLocked(id, conn.EndpointURL)
	}
	return ids
}

func (t *Tracker) nextID() string {
	n := t.idSeq.Add(1)
	return domain.NewConnectionID(n)
}
