package domain

import (
	"testing"
	"time"
)

func TestLatencyHistoryBoundedAtCapacity(t *testing.T) {
	h := NewLatencyHistory()
	now := time.Now()
	for i := 0; i < LatencyHistoryCapacity+5; i++ {
		h.Record(LatencySuccess(now, int64(i)))
	}

	if h.Len() != LatencyHistoryCapacity {
		t.Fatalf("expected history bounded at %d, got %d", LatencyHistoryCapacity, h.Len())
	}

	newest := h.MeasurementsNewestFirst()
	if newest[0].LatencyMS != LatencyHistoryCapacity+4 {
		t.Fatalf("expected newest measurement at tail, got %d", newest[0].LatencyMS)
	}
}

func TestLatencyHistoryAverageIgnoresFailures(t *testing.T) {
	h := NewLatencyHistory()
	now := time.Now()
	h.Record(LatencySuccess(now, 100))
	h.Record(LatencyFailure(now, "boom"))
	h.Record(LatencySuccess(now, 200))

	avg, ok := h.Average()
	if !ok {
		t.Fatal("expected an average to be present")
	}
	if avg != 150 {
		t.Fatalf("expected average 150, got %v", avg)
	}
}

func TestLatencyHistoryAverageAbsentWhenAllFailed(t *testing.T) {
	h := NewLatencyHistory()
	h.Record(LatencyFailure(time.Now(), "err"))

	if _, ok := h.Average(); ok {
		t.Fatal("expected no average when every measurement failed")
	}
}

func TestRecentFailureCount(t *testing.T) {
	h := NewLatencyHistory()
	now := time.Now()
	h.Record(LatencySuccess(now, 1))
	h.Record(LatencyFailure(now, "a"))
	h.Record(LatencyFailure(now, "b"))

	if got := h.RecentFailureCount(2); got != 2 {
		t.Fatalf("expected 2 recent failures, got %d", got)
	}
	if got := h.RecentFailureCount(10); got != 2 {
		t.Fatalf("expected failure count to saturate at history length, got %d", got)
	}
}
