package dashboard

import (
	"context"
	"net/url"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/relaywatch/relaywatch/internal/domain"
	"github.com/relaywatch/relaywatch/internal/i18n"
	"github.com/relaywatch/relaywatch/internal/proxystate"
	"github.com/relaywatch/relaywatch/internal/tracker"
	"github.com/relaywatch/relaywatch/pkg/eventbus"
)

type stubController struct {
	paused    bool
	resumed   bool
	refreshed bool
}

func (s *stubController) Pause()         { s.paused = true }
func (s *stubController) Resume()        { s.resumed = true }
func (s *stubController) ManualRefresh() { s.refreshed = true }

func newTestModel(t *testing.T) (model, *stubController) {
	t.Helper()
	a, _ := url.Parse("http://a.local")
	eps := []*domain.Endpoint{{URL: a, URLString: "http://a.local", DisplayName: "a"}}
	state := proxystate.New(eps, nil)
	ctrl := &stubController{}
	deps := Deps{
		Bus:          eventbus.New[domain.Event](),
		State:        state,
		Tracker:      tracker.New(),
		Orchestrator: ctrl,
		Strings:      i18n.For(i18n.En),
	}
	return newModel(deps, make(chan domain.Event)), ctrl
}

func keyMsg(key string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(key)}
}

func namedKeyMsg(t tea.KeyType) tea.KeyMsg {
	return tea.KeyMsg{Type: t}
}

// newTestModelWithEndpoints builds a model over two endpoints so manual
// cursor movement and selection have something to move between.
func newTestModelWithEndpoints(t *testing.T) model {
	t.Helper()
	a, _ := url.Parse("http://a.local")
	b, _ := url.Parse("http://b.local")
	eps := []*domain.Endpoint{
		{URL: a, URLString: "http://a.local", DisplayName: "a"},
		{URL: b, URLString: "http://b.local", DisplayName: "b"},
	}
	state := proxystate.New(eps, nil)
	state.Switch("http://a.local", 0, 10, domain.ReasonInitial)
	deps := Deps{
		Bus:          eventbus.New[domain.Event](),
		State:        state,
		Tracker:      tracker.New(),
		Orchestrator: &stubController{},
		Strings:      i18n.For(i18n.En),
	}
	return newModel(deps, make(chan domain.Event))
}

func TestHandleKeyQuitReturnsQuitCmd(t *testing.T) {
	m, _ := newTestModel(t)
	_, cmd := m.handleKey(keyMsg("q"))
	if cmd == nil {
		t.Fatal("expected a quit command")
	}
}

func TestHandleKeyPauseTogglesController(t *testing.T) {
	m, ctrl := newTestModel(t)
	next, _ := m.handleKey(keyMsg("p"))
	m = next.(model)
	if !ctrl.paused {
		t.Fatal("expected Pause() to be called")
	}

	m.paused = true
	m.handleKey(keyMsg("p"))
	if !ctrl.resumed {
		t.Fatal("expected Resume() to be called once already paused")
	}
}

func TestHandleKeyManualRefresh(t *testing.T) {
	m, ctrl := newTestModel(t)
	m.handleKey(keyMsg("r"))
	if !ctrl.refreshed {
		t.Fatal("expected ManualRefresh() to be called")
	}
}

func TestHandleKeyToggleSelectionMode(t *testing.T) {
	m, _ := newTestModel(t)
	if m.deps.State.SelectionMode() != domain.Auto {
		t.Fatal("expected default Auto mode")
	}
	next, _ := m.handleKey(keyMsg("m"))
	m = next.(model)
	if m.deps.State.SelectionMode() != domain.Manual {
		t.Fatal("expected Manual after toggle")
	}
	m.handleKey(keyMsg("m"))
	if m.deps.State.SelectionMode() != domain.Auto {
		t.Fatal("expected Auto after toggling back")
	}
}

func TestHandleEventUpdatesLoadLabelAndNextCheck(t *testing.T) {
	m, _ := newTestModel(t)
	next := time.Now().Add(30 * time.Second)
	m = m.handleEvent(domain.HealthCheckStarted{
		Interval:          30 * time.Second,
		NextCheckTime:     next,
		LoadLevel:         domain.LoadHigh,
		ActiveConnections: 5,
	})
	if !strings.Contains(m.loadLabel, "High Load") {
		t.Fatalf("expected high load label, got %q", m.loadLabel)
	}
	if !m.nextCheckAt.Equal(next) {
		t.Fatal("expected next check time recorded")
	}
}

func TestHandleEventRecordsSwitchAndPauseState(t *testing.T) {
	m, _ := newTestModel(t)
	m = m.handleEvent(domain.EndpointSwitch{From: "http://a.local", To: "http://b.local", Reason: domain.ReasonFailover})
	if !strings.Contains(m.lastSwitch, "http://a.local") || !strings.Contains(m.lastSwitch, "http://b.local") {
		t.Fatalf("expected switch summary to name both endpoints, got %q", m.lastSwitch)
	}

	m = m.handleEvent(domain.SystemPaused{})
	if !m.paused {
		t.Fatal("expected paused true after SystemPaused event")
	}
	m = m.handleEvent(domain.SystemResumed{})
	if m.paused {
		t.Fatal("expected paused false after SystemResumed event")
	}
}

func TestViewRendersCurrentEndpointURL(t *testing.T) {
	m, _ := newTestModel(t)
	m.deps.State.Switch("http://a.local", 0, 10, domain.ReasonInitial)

	out := m.View()
	if !strings.Contains(out, "http://a.local") {
		t.Fatal("expected endpoint URL rendered in view")
	}
}

func TestHandleKeyTogglePublishesSelectionModeChanged(t *testing.T) {
	m, _ := newTestModel(t)
	events, unsubscribe := m.deps.Bus.Subscribe(context.Background())
	defer unsubscribe()

	next, _ := m.handleKey(keyMsg("m"))
	m = next.(model)

	select {
	case ev := <-events:
		change, ok := ev.(domain.SelectionModeChanged)
		if !ok {
			t.Fatalf("expected SelectionModeChanged, got %T", ev)
		}
		if change.Mode != domain.Manual {
			t.Fatalf("expected Manual mode, got %v", change.Mode)
		}
	case <-time.After(time.Second):
		t.Fatal("expected SelectionModeChanged to be published")
	}
}

func TestHandleKeyCursorWrapsAcrossEndpoints(t *testing.T) {
	m := newTestModelWithEndpoints(t)

	next, _ := m.handleKey(namedKeyMsg(tea.KeyDown))
	m = next.(model)
	if m.cursor != 1 {
		t.Fatalf("expected cursor to advance to 1, got %d", m.cursor)
	}

	next, _ = m.handleKey(namedKeyMsg(tea.KeyDown))
	m = next.(model)
	if m.cursor != 0 {
		t.Fatalf("expected cursor to wrap back to 0, got %d", m.cursor)
	}

	next, _ = m.handleKey(namedKeyMsg(tea.KeyUp))
	m = next.(model)
	if m.cursor != 1 {
		t.Fatalf("expected cursor to wrap to 1 going up from 0, got %d", m.cursor)
	}
}

func TestHandleKeyEnterIgnoredOutsideManualMode(t *testing.T) {
	m := newTestModelWithEndpoints(t)
	m.cursor = 1

	m.handleKey(namedKeyMsg(tea.KeyEnter))
	if m.deps.State.Current() != "http://a.local" {
		t.Fatalf("expected current endpoint unchanged in auto mode, got %q", m.deps.State.Current())
	}
}

func TestHandleKeyEnterSelectsEndpointInManualMode(t *testing.T) {
	m := newTestModelWithEndpoints(t)
	m.deps.State.SetSelectionMode(domain.Manual)
	m.cursor = 1

	events, unsubscribe := m.deps.Bus.Subscribe(context.Background())
	defer unsubscribe()

	m.handleKey(namedKeyMsg(tea.KeyEnter))

	if m.deps.State.Current() != "http://b.local" {
		t.Fatalf("expected current endpoint switched to http://b.local, got %q", m.deps.State.Current())
	}

	select {
	case ev := <-events:
		selected, ok := ev.(domain.ManualEndpointSelected)
		if !ok {
			t.Fatalf("expected ManualEndpointSelected, got %T", ev)
		}
		if selected.EndpointURL != "http://b.local" {
			t.Fatalf("expected http://b.local selected, got %q", selected.EndpointURL)
		}
	case <-time.After(time.Second):
		t.Fatal("expected ManualEndpointSelected to be published")
	}
}
