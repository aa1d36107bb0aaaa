// Package dashboard implements the terminal UI enabled by --dashboard: a
// Bubble Tea program that renders the live endpoint table, load level and
// countdown to the next health cycle by consuming the internal event
// stream (§6.5) alongside point-in-time snapshots of ProxyState and the
// connection tracker. q quits, r triggers a manual refresh, p toggles
// pause, m toggles auto/manual selection mode, up/down (or j/k) move the
// cursor, and in manual mode enter commits the highlighted endpoint as
// current.
package dashboard

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/relaywatch/relaywatch/internal/domain"
	"github.com/relaywatch/relaywatch/internal/i18n"
	"github.com/relaywatch/relaywatch/internal/proxystate"
	"github.com/relaywatch/relaywatch/internal/tracker"
	"github.com/relaywatch/relaywatch/internal/util"
	"github.com/relaywatch/relaywatch/pkg/eventbus"
)

// Controller is the subset of the orchestrator the dashboard drives
// directly from keypresses.
type Controller interface {
	Pause()
	Resume()
	ManualRefresh()
}

// Deps bundles everything the dashboard reads or drives.
type Deps struct {
	Bus          *eventbus.EventBus[domain.Event]
	State        *proxystate.State
	Tracker      *tracker.Tracker
	Orchestrator Controller
	Strings      i18n.Strings
}

// Run starts the Bubble Tea program and blocks until the user quits or ctx
// is cancelled. It owns the terminal for its duration, so the caller must
// have disabled console logging beforehand (§6.3).
func Run(ctx context.Context, deps Deps) error {
	events, unsubscribe := deps.Bus.Subscribe(ctx)
	defer unsubscribe()

	m := newModel(deps, events)
	p := tea.NewProgram(m, tea.WithContext(ctx))
	_, err := p.Run()
	return err
}

type model struct {
	deps   Deps
	events <-chan domain.Event
	table  table.Model

	paused       bool
	loadLabel    string
	nextCheckIn  time.Duration
	nextCheckAt  time.Time
	lastSwitch   string
	activeCount  int
	distribution map[string]int
	cursor       int
}

// newEndpointTable sizes the Endpoint column off the real terminal width so
// long upstream URLs don't get truncated on a wide terminal, or wrap badly
// on a narrow one.
func newEndpointTable() table.Model {
	const markerW, statusW, connsW = 2, 20, 6
	endpointW := util.TerminalWidth() - markerW - statusW - connsW - 8
	if endpointW < 20 {
		endpointW = 20
	}

	columns := []table.Column{
		{Title: "", Width: markerW},
		{Title: "Endpoint", Width: endpointW},
		{Title: "Status", Width: statusW},
		{Title: "Conns", Width: connsW},
	}
	t := table.New(table.WithColumns(columns), table.WithFocused(false), table.WithHeight(8))
	styles := table.DefaultStyles()
	styles.Header = styles.Header.Bold(true)
	styles.Selected = styles.Selected.Foreground(lipgloss.Color("2")).Bold(true)
	t.SetStyles(styles)
	return t
}

func newModel(deps Deps, events <-chan domain.Event) model {
	return model{
		deps:         deps,
		events:       events,
		table:        newEndpointTable(),
		loadLabel:    deps.Strings.LoadIdle(),
		distribution: map[string]int{},
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(waitForEvent(m.events), tickCmd())
}

type tickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func waitForEvent(events <-chan domain.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return nil
		}
		return ev
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tickMsg:
		snap := m.deps.Tracker.Snapshot()
		m.activeCount = snap.ActiveCount
		m.distribution = snap.Distribution
		if !m.nextCheckAt.IsZero() {
			m.nextCheckIn = time.Until(m.nextCheckAt)
		}
		return m, tickCmd()

	case domain.Event:
		return m.handleEvent(msg), waitForEvent(m.events)

	case nil:
		return m, nil
	}
	return m, nil
}

// sortedEndpointURLs returns every known endpoint URL in the same order
// the table renders them, so a cursor index means the same endpoint in
// both View and handleKey.
func sortedEndpointURLs(state *proxystate.State) []string {
	statuses := state.StatusByURL()
	urls := make([]string, 0, len(statuses))
	for u := range statuses {
		urls = append(urls, u)
	}
	sort.Strings(urls)
	return urls
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "r":
		m.deps.Orchestrator.ManualRefresh()
	case "p":
		if m.paused {
			m.deps.Orchestrator.Resume()
		} else {
			m.deps.Orchestrator.Pause()
		}
	case "m":
		mode := domain.Manual
		if m.deps.State.SelectionMode() == domain.Manual {
			mode = domain.Auto
		}
		m.deps.State.SetSelectionMode(mode)
		m.deps.Bus.Publish(domain.SelectionModeChanged{Mode: mode})
	case "up", "k":
		if urls := sortedEndpointURLs(m.deps.State); len(urls) > 0 {
			m.cursor = (m.cursor - 1 + len(urls)) % len(urls)
		}
	case "down", "j":
		if urls := sortedEndpointURLs(m.deps.State); len(urls) > 0 {
			m.cursor = (m.cursor + 1) % len(urls)
		}
	case "enter":
		if m.deps.State.SelectionMode() != domain.Manual {
			return m, nil
		}
		urls := sortedEndpointURLs(m.deps.State)
		if m.cursor < 0 || m.cursor >= len(urls) {
			return m, nil
		}
		target := urls[m.cursor]
		if m.deps.State.SwitchSilent(target, 0, 0, domain.ReasonManual) {
			m.deps.Bus.Publish(domain.ManualEndpointSelected{EndpointURL: target})
		}
	}
	return m, nil
}

func (m model) handleEvent(ev domain.Event) model {
	switch e := ev.(type) {
	case domain.HealthCheckStarted:
		m.nextCheckAt = e.NextCheckTime
		m.loadLabel = loadLabelFor(m.deps.Strings, e.LoadLevel, e.ActiveConnections)
	case domain.EndpointSwitch:
		m.lastSwitch = fmt.Sprintf("%s -> %s (%s)", shortURL(e.From), shortURL(e.To), e.Reason)
	case domain.SystemPaused:
		m.paused = true
	case domain.SystemResumed:
		m.paused = false
	}
	return m
}

func loadLabelFor(s i18n.Strings, level domain.LoadLevel, count int) string {
	switch level {
	case domain.LoadHigh:
		return s.LoadHigh(count)
	case domain.LoadMedium:
		return s.LoadMedium(count)
	case domain.LoadLow:
		return s.LoadLow(count)
	default:
		return s.LoadIdle()
	}
}

func shortURL(u string) string {
	if u == "" {
		return "-"
	}
	return u
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true)
	currentMark = lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Bold(true)
	failedMark  = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

func (m model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render(m.deps.Strings.AppTitle()))
	b.WriteString("\n")
	if m.paused {
		b.WriteString(m.deps.Strings.PausedSubtitle())
	} else {
		b.WriteString(m.deps.Strings.StatusMonitoring())
	}
	b.WriteString("\n\n")

	current := m.deps.State.Current()
	statuses := m.deps.State.StatusByURL()
	urls := sortedEndpointURLs(m.deps.State)

	rows := make([]table.Row, 0, len(urls))
	for _, u := range urls {
		st := statuses[u]
		marker := "  "
		if u == current {
			marker = currentMark.Render("▶")
		}

		var statusText string
		switch {
		case st.IsChecking():
			statusText = m.deps.Strings.StatusChecking()
		case st.Available:
			statusText = fmt.Sprintf("%dms", st.LastLatencyMS)
		default:
			statusText = failedMark.Render(st.LastError)
		}

		rows = append(rows, table.Row{marker, u, statusText, fmt.Sprintf("%d", m.distribution[u])})
	}
	m.table.SetRows(rows)
	if m.deps.State.SelectionMode() == domain.Manual {
		m.table.Focus()
		if m.cursor >= 0 && m.cursor < len(urls) {
			m.table.SetCursor(m.cursor)
		}
	} else {
		m.table.Blur()
	}
	b.WriteString(m.table.View())

	b.WriteString("\n")
	b.WriteString(m.loadLabel)
	if m.nextCheckIn > 0 {
		b.WriteString("  ")
		b.WriteString(m.deps.Strings.HealthNext(int64(m.nextCheckIn.Seconds())))
	}
	b.WriteString("\n")

	if m.lastSwitch != "" {
		b.WriteString(mutedStyle.Render(m.lastSwitch))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	mode := m.deps.Strings.ModeAuto()
	if m.deps.State.SelectionMode() == domain.Manual {
		mode = m.deps.Strings.ModeManual(m.cursor)
	}
	b.WriteString(mode)
	b.WriteString("  ")
	b.WriteString(m.deps.Strings.BtnManualCheck())
	b.WriteString("  ")
	if m.paused {
		b.WriteString(m.deps.Strings.BtnResume())
	} else {
		b.WriteString(m.deps.Strings.BtnPause())
	}
	b.WriteString("  ")
	if m.deps.State.SelectionMode() == domain.Manual {
		b.WriteString(m.deps.Strings.BtnToAuto())
	} else {
		b.WriteString(m.deps.Strings.BtnToManual())
	}
	b.WriteString("  ")
	b.WriteString(m.deps.Strings.BtnQuit())
	b.WriteString("\n")

	return b.String()
}
