// Package timingtest implements the --test-timing self-test (§6.3, SPEC_FULL
// §4.2): it listens to HealthCheckStarted events for a fixed window and
// checks that each cycle actually fires close to the next_check_time it
// announced on the previous cycle.
package timingtest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/relaywatch/relaywatch/internal/domain"
	"github.com/relaywatch/relaywatch/pkg/eventbus"
)

const (
	// Window is the duration the self-test observes health cycles for.
	Window = 120 * time.Second
	// Tolerance is the per-cycle accuracy threshold.
	Tolerance = 3 * time.Second
	// MinAccuracyRate is the minimum fraction of cycles within Tolerance.
	MinAccuracyRate = 0.70
	// MaxAllowedError is the hard ceiling on any single cycle's error.
	MaxAllowedError = 10 * time.Second
	// StallWarning is logged when no cycle has fired for this long.
	StallWarning = 80 * time.Second
)

// CycleResult is one observed health-check cycle's timing error.
type CycleResult struct {
	Cycle        int
	ExpectedTime time.Time
	ActualTime   time.Time
	TimingError  time.Duration
	Accurate     bool
	Interval     time.Duration
}

// Report summarizes the whole observation window.
type Report struct {
	Results      []CycleResult
	AccuracyRate float64
	AverageError time.Duration
	MaxError     time.Duration
	Passed       bool
	FailReason   string
}

// Run subscribes to the event bus and observes HealthCheckStarted events
// for window, returning the accuracy report. The orchestrator must already
// be running elsewhere; Run only watches.
func Run(ctx context.Context, bus *eventbus.EventBus[domain.Event], window time.Duration, log *slog.Logger) Report {
	events, unsubscribe := bus.Subscribe(ctx)
	defer unsubscribe()

	deadline := time.Now().Add(window)
	stallCheck := time.NewTicker(time.Second)
	defer stallCheck.Stop()

	var results []CycleResult
	var expectedNext time.Time
	cycle := 0
	lastEventTime := time.Now()

	for time.Now().Before(deadline) {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}

		select {
		case <-ctx.Done():
			return analyze(results)

		case ev, ok := <-events:
			if !ok {
				return analyze(results)
			}
			started, isStart := ev.(domain.HealthCheckStarted)
			if !isStart {
				continue
			}
			cycle++
			now := time.Now()

			if !expectedNext.IsZero() {
				errDur := now.Sub(expectedNext)
				if errDur < 0 {
					errDur = -errDur
				}
				accurate := errDur < Tolerance
				results = append(results, CycleResult{
					Cycle:        cycle,
					ExpectedTime: expectedNext,
					ActualTime:   now,
					TimingError:  errDur,
					Accurate:     accurate,
					Interval:     started.Interval,
				})
				if log != nil {
					log.Info("timing self-test cycle observed",
						"cycle", cycle, "interval_s", started.Interval.Seconds(),
						"error_ms", errDur.Milliseconds(), "accurate", accurate)
				}
			}

			expectedNext = started.NextCheckTime
			lastEventTime = now

		case <-stallCheck.C:
			if log != nil && time.Since(lastEventTime) > StallWarning {
				log.Warn("no health check cycles observed recently, possible stall", "elapsed", time.Since(lastEventTime))
			}
		}
	}

	return analyze(results)
}

func analyze(results []CycleResult) Report {
	if len(results) == 0 {
		return Report{
			Passed:     false,
			FailReason: "no health check cycles observed during the test window",
		}
	}

	accurate := 0
	var sum, max time.Duration
	for _, r := range results {
		if r.Accurate {
			accurate++
		}
		sum += r.TimingError
		if r.TimingError > max {
			max = r.TimingError
		}
	}

	rate := float64(accurate) / float64(len(results))
	avg := sum / time.Duration(len(results))
	passed := rate >= MinAccuracyRate && max < MaxAllowedError

	report := Report{
		Results:      results,
		AccuracyRate: rate,
		AverageError: avg,
		MaxError:     max,
		Passed:       passed,
	}
	if !passed {
		switch {
		case rate < MinAccuracyRate && max >= MaxAllowedError:
			report.FailReason = fmt.Sprintf("accuracy %.1f%% below 70%% and max error %s exceeds 10s", rate*100, max)
		case rate < MinAccuracyRate:
			report.FailReason = fmt.Sprintf("accuracy %.1f%% below required 70%%", rate*100)
		default:
			report.FailReason = fmt.Sprintf("max error %s exceeds allowed 10s", max)
		}
	}
	return report
}

// Summary renders a human-readable report, suitable for stdout or a
// styled logger's final message.
func (r Report) Summary() string {
	if len(r.Results) == 0 {
		return fmt.Sprintf("FAILED: %s", r.FailReason)
	}
	status := "PASSED"
	if !r.Passed {
		status = "FAILED"
	}
	summary := fmt.Sprintf(
		"%s: %d cycles observed, accuracy %.1f%%, average error %s, max error %s",
		status, len(r.Results), r.AccuracyRate*100, r.AverageError, r.MaxError,
	)
	if !r.Passed {
		summary += fmt.Sprintf(" (%s)", r.FailReason)
	}
	return summary
}

// ExitCode returns the process exit code for this report (§6.3).
func (r Report) ExitCode() int {
	if r.Passed {
		return 0
	}
	return 1
}
