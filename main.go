// Command relaywatch runs the reverse proxy: it loads config.toml, brings
// up the health-check orchestrator and proxy pipeline, and serves both on
// one port until SIGINT/SIGTERM, per spec §5/§6.3.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/relaywatch/relaywatch/app"
	"github.com/relaywatch/relaywatch/internal/config"
	"github.com/relaywatch/relaywatch/internal/dashboard"
	"github.com/relaywatch/relaywatch/internal/i18n"
	"github.com/relaywatch/relaywatch/internal/logger"
	"github.com/relaywatch/relaywatch/internal/timingtest"
	"github.com/relaywatch/relaywatch/pkg/container"
	"github.com/relaywatch/relaywatch/pkg/format"
	"github.com/relaywatch/relaywatch/pkg/nerdstats"
)

func main() {
	startTime := time.Now()

	useDashboard := flag.Bool("dashboard", false, "enable the terminal dashboard (suppresses console logging)")
	testTiming := flag.Bool("test-timing", false, "run the health-check timing self-test and exit")
	flag.Parse()

	cfg, err := config.Load(nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "relaywatch: configuration error: %v\n", err)
		os.Exit(1)
	}

	lcfg := buildLoggerConfig(cfg, *useDashboard)
	logInstance, styledLogger, cleanup, err := logger.NewWithTheme(lcfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "relaywatch: failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()
	slog.SetDefault(logInstance)

	styledLogger.Info("initialising", "pid", os.Getpid(), "port", cfg.Server.Port)

	application, err := app.New(cfg, logInstance, styledLogger)
	if err != nil {
		styledLogger.Error("failed to build application", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		styledLogger.Info("shutdown signal received", "signal", sig.String())
		cancel()
	}()

	if *testTiming {
		code := runTimingSelfTest(ctx, application, logInstance)
		cleanup()
		os.Exit(code)
	}

	if err := application.Start(ctx); err != nil {
		styledLogger.Error("failed to start application", "error", err)
		os.Exit(1)
	}

	if *useDashboard {
		runDashboard(ctx, application, cfg)
	} else {
		waitForShutdown(ctx, application)
	}

	if err := application.Stop(context.Background()); err != nil {
		styledLogger.Error("error during shutdown", "error", err)
	}

	reportProcessStats(styledLogger, startTime)
	styledLogger.Info("relaywatch has shutdown")
}

// waitForShutdown blocks until ctx is cancelled (by a signal) or the
// application reports a fatal server error.
func waitForShutdown(ctx context.Context, application *app.Application) {
	select {
	case <-ctx.Done():
	case <-application.Errs():
	}
}

// runDashboard hands the terminal over to the Bubble Tea program until the
// operator quits or ctx is cancelled.
func runDashboard(ctx context.Context, application *app.Application, cfg *config.Config) {
	deps := dashboard.Deps{
		Bus:          application.Bus(),
		State:        application.State(),
		Tracker:      application.Tracker(),
		Orchestrator: application.Orchestrator(),
		Strings:      i18n.For(cfg.UI.Language),
	}
	if err := dashboard.Run(ctx, deps); err != nil {
		slog.Error("dashboard exited with error", "error", err)
	}
}

// runTimingSelfTest starts the application's health-check cycle without
// its HTTP server and watches it for the self-test window (§6.3, SPEC_FULL
// §4.2), returning the process exit code.
func runTimingSelfTest(ctx context.Context, application *app.Application, log *slog.Logger) int {
	orchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go application.Orchestrator().Run(orchCtx)

	report := timingtest.Run(orchCtx, application.Bus(), timingtest.Window, log)
	log.Info("timing self-test complete", "summary", report.Summary())
	fmt.Println(report.Summary())
	return report.ExitCode()
}

func buildLoggerConfig(cfg *config.Config, dashboardMode bool) *logger.Config {
	// Pretty/pterm output assumes an attached TTY; a containerised deploy
	// almost never has one, so fall back to plain JSON lines even if the
	// config asks for pretty_logs.
	pretty := cfg.Logging.PrettyLogs && cfg.Logging.ConsoleEnabled && !dashboardMode && !container.IsContainerised()
	return &logger.Config{
		Level:      cfg.Logging.Level,
		FileOutput: cfg.Logging.FileEnabled,
		LogDir:     dirOf(cfg.Logging.FilePath),
		MaxSize:    cfg.Logging.MaxFileSizeMB,
		MaxBackups: cfg.Logging.MaxFiles,
		MaxAge:     30,
		Theme:      cfg.Logging.Theme,
		PrettyLogs: pretty,
	}
}

func dirOf(filePath string) string {
	if filePath == "" {
		return "./logs"
	}
	for i := len(filePath) - 1; i >= 0; i-- {
		if filePath[i] == '/' {
			return filePath[:i]
		}
	}
	return "."
}

func reportProcessStats(log logger.StyledLogger, startTime time.Time) {
	stats := nerdstats.Snapshot(startTime)

	log.Info("process memory stats",
		"heap_alloc", format.Bytes(stats.HeapAlloc),
		"heap_sys", format.Bytes(stats.HeapSys),
		"total_alloc", format.Bytes(stats.TotalAlloc),
		"memory_pressure", stats.GetMemoryPressure(),
	)
	log.Info("runtime stats",
		"uptime", format.Duration(stats.Uptime),
		"go_version", stats.GoVersion,
		"num_goroutines", stats.NumGoroutines,
		"goroutine_health", stats.GetGoroutineHealthStatus(),
	)
	if stats.NumGC > 0 {
		log.Info("garbage collection stats",
			"num_gc_cycles", stats.NumGC,
			"avg_gc_pause", nerdstats.CalculateAverageGCPause(stats),
		)
	}
}
