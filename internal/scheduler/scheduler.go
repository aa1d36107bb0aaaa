// Package scheduler implements the Dynamic Interval Scheduler (C5): it
// turns the current LoadLevel and idle duration into the next health-check
// interval, scaling between configured min/max bounds (§4.5).
package scheduler

import (
	"time"

	"github.com/relaywatch/relaywatch/internal/domain"
)

// Bounds are the base/min/max intervals read from configuration.
type Bounds struct {
	Base time.Duration
	Min  time.Duration
	Max  time.Duration
}

// Scheduler computes the next health-check interval. It holds only its
// bounds, the dynamic-scaling toggle and the last interval it returned;
// callers hold load state externally.
type Scheduler struct {
	bounds  Bounds
	dynamic bool
	current time.Duration
}

func New(bounds Bounds, dynamic bool) *Scheduler {
	return &Scheduler{bounds: bounds, dynamic: dynamic}
}

// CurrentOr returns the most recently computed interval, or fallback if
// NextInterval has never been called.
func (s *Scheduler) CurrentOr(fallback time.Duration) time.Duration {
	if s.current <= 0 {
		return fallback
	}
	return s.current
}

// NextInterval returns the interval to wait before the next probe cycle and
// whether the change from the previously returned interval should be
// announced to the log (§4.5's "announce-threshold" rule).
func (s *Scheduler) NextInterval(level domain.LoadLevel, idle time.Duration, requestsPerMinute int) (time.Duration, bool) {
	if !s.dynamic {
		changed := s.current != s.bounds.Base
		s.current = s.bounds.Base
		return s.bounds.Base, changed
	}

	var next time.Duration
	if level == domain.LoadHigh {
		next = s.bounds.Min
	} else {
		factor := scaleFactor(level, idle, requestsPerMinute, s.bounds)
		next = clamp(time.Duration(float64(s.bounds.Base)*factor), s.bounds.Min, s.bounds.Max)
	}

	announce := shouldAnnounce(s.current, next, level)
	s.current = next
	return next, announce
}

func scaleFactor(level domain.LoadLevel, idle time.Duration, requestsPerMinute int, bounds Bounds) float64 {
	switch level {
	case domain.LoadMedium:
		if requestsPerMinute > 5 {
			return 1.2
		}
		return 1.5
	case domain.LoadLow:
		if requestsPerMinute > 2 {
			return 2.0
		}
		return 2.5
	default: // LoadIdle
		return idleFactor(idle, bounds)
	}
}

func idleFactor(idle time.Duration, bounds Bounds) float64 {
	d := idle.Seconds()
	switch {
	case d <= 60:
		return 1.0
	case d <= 300:
		return 1.0 + 0.5*(d-60)/240
	case d <= 900:
		return 1.5 + 1.5*(d-300)/600
	case d <= 1800:
		return 3.0 + 5.0*(d-900)/900
	default:
		ratio := 0.0
		if bounds.Base > 0 {
			ratio = float64(bounds.Max) / float64(bounds.Base)
		}
		frac := (d - 1800) / 1800
		if frac > 1 {
			frac = 1
		}
		return 8.0 + (ratio-8.0)*frac
	}
}

func clamp(d, min, max time.Duration) time.Duration {
	if min > 0 && d < min {
		return min
	}
	if max > 0 && d > max {
		return max
	}
	return d
}

// shouldAnnounce decides whether an interval change is worth a log line:
// the first interval ever computed, any change whose ratio to the previous
// interval exceeds 1.1, any shortening while at High load, or any
// lengthening while Idle.
func shouldAnnounce(prev, next time.Duration, level domain.LoadLevel) bool {
	if prev <= 0 {
		return true
	}
	ratio := float64(next) / float64(prev)
	if ratio > 1.1 || ratio < 1/1.1 {
		return true
	}
	if level == domain.LoadHigh && next < prev {
		return true
	}
	if level == domain.LoadIdle && next > prev {
		return true
	}
	return false
}
