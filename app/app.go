// Package app wires every component in the component-to-package map
// (SPEC_FULL §5) into a runnable Application: it builds the registry from
// loaded configuration, constructs the health-check cycle and the proxy
// pipeline around a shared event bus and ProxyState, and owns the single
// HTTP server both are mounted on.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/relaywatch/relaywatch/internal/app/middleware"
	"github.com/relaywatch/relaywatch/internal/config"
	"github.com/relaywatch/relaywatch/internal/domain"
	"github.com/relaywatch/relaywatch/internal/healthprobe"
	"github.com/relaywatch/relaywatch/internal/httpapi"
	"github.com/relaywatch/relaywatch/internal/loadclassifier"
	"github.com/relaywatch/relaywatch/internal/logger"
	"github.com/relaywatch/relaywatch/internal/orchestrator"
	"github.com/relaywatch/relaywatch/internal/proxy"
	"github.com/relaywatch/relaywatch/internal/proxystate"
	"github.com/relaywatch/relaywatch/internal/registry"
	"github.com/relaywatch/relaywatch/internal/scheduler"
	"github.com/relaywatch/relaywatch/internal/tracker"
	"github.com/relaywatch/relaywatch/pkg/eventbus"
	"github.com/relaywatch/relaywatch/pkg/nerdstats"
)

// Application owns every long-lived component and the HTTP server they're
// mounted on. Start/Stop follow the teacher's lifecycle shape; everything
// between is relaywatch's own wiring.
type Application struct {
	cfg    *config.Config
	log    *slog.Logger
	styled logger.StyledLogger

	bus     *eventbus.EventBus[domain.Event]
	reg     *registry.Registry
	state   *proxystate.State
	track   *tracker.Tracker
	orch    *orchestrator.Orchestrator
	proxy   *proxy.Proxy
	server  *http.Server
	started time.Time

	errCh chan error
}

// New builds every component from cfg but starts nothing; callers that
// only need the orchestrator (e.g. --test-timing) can reach it via
// Orchestrator() and its events via Bus() without ever calling Start().
func New(cfg *config.Config, log *slog.Logger, styled logger.StyledLogger) (*Application, error) {
	sources, err := buildSources(cfg)
	if err != nil {
		return nil, err
	}

	reg, err := registry.New(sources)
	if err != nil {
		return nil, fmt.Errorf("app: building endpoint registry: %w", err)
	}

	state := proxystate.New(reg.All(), log)
	track := tracker.New()
	bus := eventbus.New[domain.Event]()

	bounds := scheduler.Bounds{
		Base: time.Duration(cfg.HealthCheck.IntervalSeconds) * time.Second,
		Min:  time.Duration(cfg.HealthCheck.MinIntervalSeconds) * time.Second,
		Max:  time.Duration(cfg.HealthCheck.MaxIntervalSeconds) * time.Second,
	}
	sched := scheduler.New(bounds, cfg.HealthCheck.DynamicScaling)
	classifier := loadclassifier.New()
	probe := healthprobe.New(cfg.HealthCheck.ProbeBinaryPath, probeWorkerCount(reg.Len()))

	orch := orchestrator.New(orchestrator.Config{
		Registry:          reg,
		State:             state,
		Scheduler:         sched,
		Classifier:        classifier,
		Probe:             probe,
		Bus:               bus,
		Tracker:           track,
		AuthFor:           reg.AuthFor,
		ProbeTimeout:      time.Duration(cfg.HealthCheck.TimeoutSeconds) * time.Second,
		SwitchThresholdMS: int64(cfg.Server.SwitchThresholdMS),
	})

	px := proxy.New(reg, state, track, bus, cfg.Retry, log)
	handlers := httpapi.New(state, track, httpapi.StaticConfig{
		Port:                       cfg.Server.Port,
		SwitchThresholdMS:          cfg.Server.SwitchThresholdMS,
		HealthCheckIntervalSeconds: cfg.HealthCheck.IntervalSeconds,
	})
	px.SetIntrospectionHandlers(handlers.Status(), handlers.Diagnostics(), handlers.Health())

	return &Application{
		cfg:    cfg,
		log:    log,
		styled: styled,
		bus:    bus,
		reg:    reg,
		state:  state,
		track:  track,
		orch:   orch,
		proxy:  px,
		errCh:  make(chan error, 1),
	}, nil
}

// probeWorkerCount bounds the dedicated probe pool so it scales with the
// registry size without letting one slow group starve another.
func probeWorkerCount(endpointCount int) int {
	if endpointCount < 4 {
		return 4
	}
	return endpointCount
}

// buildSources resolves each group's endpoints into registry.Source values,
// reading the bearer token out of its configured environment variable.
func buildSources(cfg *config.Config) ([]registry.Source, error) {
	var sources []registry.Source
	for _, g := range cfg.Groups {
		token := os.Getenv(g.AuthTokenEnv)
		for i, ep := range g.Endpoints {
			sources = append(sources, registry.Source{
				URL:            ep.URL,
				DisplayName:    ep.Name,
				GroupName:      g.Name,
				AuthCredential: token,
				IsGroupDefault: g.Default && i == 0,
			})
		}
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("app: no endpoints resolved from configuration")
	}
	return sources, nil
}

// Bus exposes the event stream for callers (the dashboard, --test-timing)
// that need to subscribe independently of the HTTP server.
func (a *Application) Bus() *eventbus.EventBus[domain.Event] { return a.bus }

// State exposes ProxyState for the dashboard's read-only snapshots.
func (a *Application) State() *proxystate.State { return a.state }

// Tracker exposes the connection tracker for the dashboard's snapshots.
func (a *Application) Tracker() *tracker.Tracker { return a.track }

// Orchestrator exposes the pause/resume/manual-refresh control surface.
func (a *Application) Orchestrator() *orchestrator.Orchestrator { return a.orch }

// Start launches the health-check cycle and the HTTP server, and returns
// once both are listening. It does not block.
func (a *Application) Start(ctx context.Context) error {
	a.started = time.Now()

	a.bus.Publish(domain.ConfigLoaded{EndpointCount: a.reg.Len(), GroupCount: len(a.cfg.Groups)})

	go a.orch.Run(ctx)

	mux := http.NewServeMux()
	mux.Handle("/", a.proxy)

	handler := middleware.EnhancedLoggingMiddleware(a.styled)(mux)

	addr := fmt.Sprintf("127.0.0.1:%d", a.cfg.Server.Port)
	a.server = &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("app: binding %s: %w", addr, err)
	}

	go func() {
		if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("http server error", "error", err)
			a.errCh <- err
		}
	}()

	a.bus.Publish(domain.ServerStarted{Addr: addr})
	if a.styled != nil {
		a.styled.InfoWithCount("relaywatch listening", a.reg.Len(), "addr", addr)
	} else {
		a.log.Info("relaywatch listening", "addr", addr, "endpoints", a.reg.Len())
	}

	return nil
}

// Errs surfaces fatal server errors raised after Start returns.
func (a *Application) Errs() <-chan error { return a.errCh }

// Stop implements the shutdown sequence of spec §5: force-complete every
// active connection (emitting ConnectionCompleted for each), stop the HTTP
// server within server.graceful_switch_timeout_ms, and log a final runtime
// snapshot.
func (a *Application) Stop(ctx context.Context) error {
	for _, id := range a.track.ForceCompleteAll() {
		a.bus.Publish(domain.ConnectionCompleted{ConnectionID: id})
	}

	var shutdownErr error
	if a.server != nil {
		timeout := time.Duration(a.cfg.Server.GracefulSwitchTimeoutMS) * time.Millisecond
		shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			shutdownErr = fmt.Errorf("app: http server shutdown: %w", err)
		}
	}

	stats := nerdstats.Snapshot(a.started)
	a.log.Info("runtime snapshot at shutdown",
		"heap_alloc", stats.HeapAlloc, "goroutines", stats.NumGoroutines,
		"num_gc", stats.NumGC, "uptime", stats.Uptime)

	return shutdownErr
}
