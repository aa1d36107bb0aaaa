package app

import (
	"log/slog"
	"os"
	"testing"

	"github.com/relaywatch/relaywatch/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("RELAYWATCH_TEST_TOKEN", "sk-real-token")

	cfg := config.DefaultConfig()
	cfg.Server.Port = 0
	cfg.HealthCheck.ProbeBinaryPath = "true"
	cfg.Groups = []config.GroupConfig{
		{
			Name:         "default",
			AuthTokenEnv: "RELAYWATCH_TEST_TOKEN",
			Default:      true,
			Endpoints: []config.SimpleEndpointConfig{
				{URL: "http://a.local", Name: "a"},
				{URL: "http://b.local", Name: "b"},
			},
		},
	}
	return cfg
}

func TestBuildSourcesResolvesTokenAndDefault(t *testing.T) {
	cfg := testConfig(t)
	sources, err := buildSources(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sources) != 2 {
		t.Fatalf("expected 2 sources, got %d", len(sources))
	}
	if sources[0].AuthCredential != "sk-real-token" {
		t.Fatalf("expected token resolved from env, got %q", sources[0].AuthCredential)
	}
	if !sources[0].IsGroupDefault {
		t.Fatal("expected first endpoint of default group to be flagged default")
	}
	if sources[1].IsGroupDefault {
		t.Fatal("expected only the first endpoint in a group to be flagged default")
	}
}

func TestBuildSourcesErrorsWithNoGroups(t *testing.T) {
	cfg := config.DefaultConfig()
	if _, err := buildSources(cfg); err == nil {
		t.Fatal("expected error when no groups configured")
	}
}

func TestProbeWorkerCountHasAFloor(t *testing.T) {
	if probeWorkerCount(1) != 4 {
		t.Fatalf("expected floor of 4 workers for a small registry, got %d", probeWorkerCount(1))
	}
	if probeWorkerCount(9) != 9 {
		t.Fatalf("expected worker count to scale with registry size, got %d", probeWorkerCount(9))
	}
}

func TestNewWiresEveryComponent(t *testing.T) {
	cfg := testConfig(t)
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	a, err := New(cfg, log, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Bus() == nil || a.State() == nil || a.Tracker() == nil || a.Orchestrator() == nil {
		t.Fatal("expected every component to be non-nil after New")
	}
	if len(a.state.Endpoints()) != 2 {
		t.Fatalf("expected 2 endpoints seeded into state, got %d", len(a.state.Endpoints()))
	}
}
