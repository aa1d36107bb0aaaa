package loadclassifier

import (
	"testing"
	"time"

	"github.com/relaywatch/relaywatch/internal/domain"
)

func TestClassifyLadder(t *testing.T) {
	cases := []struct {
		name    string
		active  int
		rate    int
		want    domain.LoadLevel
	}{
		{"high by active", 11, 0, domain.LoadHigh},
		{"high by rate", 0, 31, domain.LoadHigh},
		{"medium by active", 4, 0, domain.LoadMedium},
		{"medium by rate", 0, 10, domain.LoadMedium},
		{"low by active", 1, 0, domain.LoadLow},
		{"low by rate", 0, 2, domain.LoadLow},
		{"idle", 0, 0, domain.LoadIdle},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := classify(tc.active, tc.rate); got != tc.want {
				t.Errorf("classify(%d, %d) = %v, want %v", tc.active, tc.rate, got, tc.want)
			}
		})
	}
}

func TestClassifyRecordsLevelChangeTime(t *testing.T) {
	c := New()
	base := time.Now()

	c.Classify(0, base)
	firstChange := c.lastLevelChange

	c.Classify(0, base.Add(time.Second))
	if c.lastLevelChange != firstChange {
		t.Fatal("expected lastLevelChange to stay fixed while level is unchanged")
	}

	c.Classify(12, base.Add(2*time.Second))
	if c.lastLevelChange == firstChange {
		t.Fatal("expected lastLevelChange to update on a level transition")
	}
}

func TestRequestsLastMinuteExcludesOlderArrivals(t *testing.T) {
	c := New()
	base := time.Now()

	c.RecordRequest(base.Add(-90 * time.Second))
	c.RecordRequest(base.Add(-30 * time.Second))
	c.RecordRequest(base.Add(-10 * time.Second))

	if got := c.RequestsLastMinute(base); got != 2 {
		t.Fatalf("expected 2 requests in the last minute, got %d", got)
	}
}

func TestArrivalsTrimmedAtFiveMinutes(t *testing.T) {
	c := New()
	base := time.Now()

	c.RecordRequest(base.Add(-6 * time.Minute))
	c.RecordRequest(base.Add(-1 * time.Minute))

	c.mu.Lock()
	n := len(c.arrivals)
	c.mu.Unlock()

	if n != 1 {
		t.Fatalf("expected stale arrival trimmed, got %d remaining", n)
	}
}

func TestIdleDurationTracksLastLevelChange(t *testing.T) {
	c := New()
	base := time.Now()
	// Leave Idle and come back so the recorded level change lands exactly at base.
	c.Classify(1, base.Add(-time.Minute))
	c.Classify(0, base)

	d := c.IdleDuration(base.Add(45 * time.Second))
	if d != 45*time.Second {
		t.Fatalf("expected idle duration 45s, got %v", d)
	}
}
