// Package orchestrator implements the Health Orchestrator (C7): the cycle
// loop that periodically probes every endpoint, merges results into
// ProxyState, and performs race-winner endpoint switching in Auto mode
// (§4.7).
package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/relaywatch/relaywatch/internal/domain"
	"github.com/relaywatch/relaywatch/internal/healthprobe"
	"github.com/relaywatch/relaywatch/internal/loadclassifier"
	"github.com/relaywatch/relaywatch/internal/proxystate"
	"github.com/relaywatch/relaywatch/internal/registry"
	"github.com/relaywatch/relaywatch/internal/scheduler"
	"github.com/relaywatch/relaywatch/pkg/eventbus"
)

// commandKind identifies a control-plane message on the command channel.
type commandKind int

const (
	cmdPause commandKind = iota
	cmdResume
	cmdManualRefresh
)

// RunState is the orchestrator's own running/paused flag, independent of
// the per-cycle idle/probing flag tracked only for the duration of a tick.
type RunState int32

const (
	Running RunState = iota
	Paused
)

// Orchestrator owns the health-check cycle loop.
type Orchestrator struct {
	reg      *registry.Registry
	state    *proxystate.State
	sched    *scheduler.Scheduler
	classify *loadclassifier.Classifier
	probe    *healthprobe.Executor
	bus      *eventbus.EventBus[domain.Event]
	tracker  activeCounter

	authFor        func(string) string
	probeTimeout   time.Duration
	switchThreshMS int64

	runState atomic.Int32
	cmdCh    chan commandKind

	mu sync.Mutex
}

// activeCounter is the subset of the connection tracker the orchestrator
// needs: the current active-connection count for load classification.
type activeCounter interface {
	ActiveCount() int
}

// Config bundles the orchestrator's dependencies, resolved by the caller
// from the loaded configuration.
type Config struct {
	Registry           *registry.Registry
	State              *proxystate.State
	Scheduler          *scheduler.Scheduler
	Classifier         *loadclassifier.Classifier
	Probe              *healthprobe.Executor
	Bus                *eventbus.EventBus[domain.Event]
	Tracker            activeCounter
	AuthFor            func(string) string
	ProbeTimeout       time.Duration
	SwitchThresholdMS  int64
}

func New(cfg Config) *Orchestrator {
	o := &Orchestrator{
		reg:            cfg.Registry,
		state:          cfg.State,
		sched:          cfg.Scheduler,
		classify:       cfg.Classifier,
		probe:          cfg.Probe,
		bus:            cfg.Bus,
		tracker:        cfg.Tracker,
		authFor:        cfg.AuthFor,
		probeTimeout:   cfg.ProbeTimeout,
		switchThreshMS: cfg.SwitchThresholdMS,
		cmdCh:          make(chan commandKind, 8),
	}
	o.runState.Store(int32(Running))
	return o
}

// Pause requests a transition to paused; scheduled cycles suspend.
func (o *Orchestrator) Pause() { o.cmdCh <- cmdPause }

// Resume requests a transition to running plus an immediate cycle.
func (o *Orchestrator) Resume() { o.cmdCh <- cmdResume }

// ManualRefresh requests one out-of-band cycle, honored in either state.
func (o *Orchestrator) ManualRefresh() { o.cmdCh <- cmdManualRefresh }

// Run drives the cycle loop until ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) {
	o.runOneCycle(ctx)

	timer := time.NewTimer(o.sched.CurrentOr(time.Second))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case cmd := <-o.cmdCh:
			switch cmd {
			case cmdPause:
				o.runState.Store(int32(Paused))
				o.bus.Publish(domain.SystemPaused{})
			case cmdResume:
				o.runState.Store(int32(Running))
				o.bus.Publish(domain.SystemResumed{})
				o.runOneCycle(ctx)
				resetTimer(timer, o.sched.CurrentOr(time.Second))
			case cmdManualRefresh:
				o.bus.Publish(domain.ManualRefreshTriggered{})
				o.runOneCycle(ctx)
				if o.isRunning() {
					resetTimer(timer, o.sched.CurrentOr(time.Second))
				}
			}

		case <-timer.C:
			if o.isRunning() {
				interval := o.runOneCycle(ctx)
				resetTimer(timer, interval)
			} else {
				resetTimer(timer, time.Second)
			}
		}
	}
}

func (o *Orchestrator) isRunning() bool {
	return RunState(o.runState.Load()) == Running
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

// runOneCycle executes the seven-step protocol from §4.7 and returns the
// interval the caller should wait before the next scheduled cycle.
func (o *Orchestrator) runOneCycle(ctx context.Context) time.Duration {
	now := time.Now()
	active := 0
	if o.tracker != nil {
		active = o.tracker.ActiveCount()
	}
	level := o.classify.Classify(active, now)
	idle := o.classify.IdleDuration(now)
	rpm := o.classify.RequestsLastMinute(now)

	interval, _ := o.sched.NextInterval(level, idle, rpm)
	nextCheck := now.Add(interval)

	o.bus.Publish(domain.HealthCheckStarted{
		Interval:          interval,
		NextCheckTime:     nextCheck,
		LoadLevel:         level,
		ActiveConnections: active,
	})

	endpoints := o.reg.All()
	for _, ep := range endpoints {
		existing, ok := o.state.StatusFor(ep.Identity())
		var checking domain.EndpointStatus
		if ok {
			checking = existing.WithChecking()
		} else {
			checking = domain.NewCheckingStatus(ep.Identity(), nil)
		}
		o.state.SetStatus(ep.Identity(), checking)
		o.bus.Publish(domain.HealthUpdate{EndpointURL: ep.Identity(), Status: checking})
	}

	estimatedDuration := o.probeTimeout + 5*time.Second
	o.bus.Publish(domain.HealthCheckRunning{StartedAt: now, EstimatedDuration: estimatedDuration})

	cycleCtx, cancel := context.WithTimeout(ctx, estimatedDuration)
	defer cancel()

	var winnerChosen atomic.Bool
	var wg sync.WaitGroup
	for _, ep := range endpoints {
		wg.Add(1)
		go func(ep *domain.Endpoint) {
			defer wg.Done()
			o.runProbe(cycleCtx, ep, &winnerChosen)
		}(ep)
	}
	wg.Wait()

	o.bus.Publish(domain.HealthCheckCompleted{Duration: time.Since(now)})
	return interval
}

func (o *Orchestrator) runProbe(ctx context.Context, ep *domain.Endpoint, winnerChosen *atomic.Bool) {
	auth := o.authFor(ep.Identity())
	result := o.probe.Probe(ctx, ep.Identity(), auth, o.probeTimeout)

	existing, _ := o.state.StatusFor(ep.Identity())
	now := time.Now()

	var updated domain.EndpointStatus
	if result.Available {
		updated = existing.WithSuccess(now, result.LatencyMS)
	} else {
		updated = existing.WithFailure(now, result.Err)
	}
	o.state.SetStatus(ep.Identity(), updated)
	o.bus.Publish(domain.HealthUpdate{EndpointURL: ep.Identity(), Status: updated})

	if !result.Available {
		return
	}
	if o.state.SelectionMode() == domain.Manual {
		return
	}
	if !winnerChosen.CompareAndSwap(false, true) {
		return
	}

	o.evaluateSwitch(ep, updated)
}

// evaluateSwitch implements the §4.7.1 decision table for the probe that
// won the race to flip winnerChosen.
func (o *Orchestrator) evaluateSwitch(candidate *domain.Endpoint, candidateStatus domain.EndpointStatus) {
	current := o.state.Current()
	toLatency := candidateStatus.EffectiveLatencyMS()

	if current == "" {
		o.doSwitch(current, candidate.Identity(), domain.FailedLatencySentinel, toLatency, domain.ReasonInitial)
		return
	}

	currentStatus, _ := o.state.StatusFor(current)
	fromLatency := currentStatus.EffectiveLatencyMS()

	if !currentStatus.Available {
		o.doSwitch(current, candidate.Identity(), fromLatency, toLatency, domain.ReasonFailover)
		return
	}

	if saturatingSub(fromLatency, toLatency) >= o.switchThreshMS {
		o.doSwitch(current, candidate.Identity(), fromLatency, toLatency, domain.ReasonLatencyImprovement)
	}
}

func (o *Orchestrator) doSwitch(from, to string, fromLatency, toLatency int64, reason domain.SwitchReason) {
	if !o.state.Switch(to, fromLatency, toLatency, reason) {
		return
	}
	o.bus.Publish(domain.EndpointSwitch{
		From:        from,
		To:          to,
		FromLatency: fromLatency,
		ToLatency:   toLatency,
		Reason:      reason,
	})
}

func saturatingSub(a, b int64) int64 {
	if b >= a {
		return 0
	}
	return a - b
}
