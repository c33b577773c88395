package watch

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/wayguard/internal/events"
)

// Model is the main BubbleTea model for the watch TUI.
type Model struct {
	apiURL string
	apiKey string

	width  int
	height int

	health    HealthState
	state     State
	lastEvent time.Time
	lastID    int64
	now       time.Time

	theme         Theme
	keys          keyMap
	help          help.Model
	selectedGrant int

	hubEvents chan events.Event

	lastError string
}

// New creates a new watch TUI model.
func New(apiURL, apiKey string) *Model {
	return &Model{
		apiURL:    apiURL,
		apiKey:    apiKey,
		state:     NewState(),
		now:       time.Now(),
		theme:     NewDefaultTheme(),
		keys:      newKeyMap(),
		help:      help.New(),
		hubEvents: make(chan events.Event, 100),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		func() tea.Msg { return fetchSnapshot(m.apiURL, m.apiKey) },
		subscribeToEvents(m.apiURL, m.apiKey, 0, m.hubEvents),
		receiveNextEvent(m.hubEvents),
		func() tea.Msg { return fetchHealth(m.apiURL, m.apiKey) },
		tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) }),
		tea.EnterAltScreen,
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Help):
			m.help.ShowAll = !m.help.ShowAll
		case key.Matches(msg, m.keys.Up):
			if m.selectedGrant > 0 {
				m.selectedGrant--
			}
		case key.Matches(msg, m.keys.Down):
			if m.selectedGrant < len(m.state.Grants)-1 {
				m.selectedGrant++
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width

	case tickMsg:
		m.now = time.Time(msg)
		m.state.Expire(m.now)
		m.selectedGrant = min(m.selectedGrant, max(len(m.state.Grants)-1, 0))
		return m, tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })

	case snapshotMsg:
		m.state.Seed(msg.Grants, msg.Registrations, time.Now())

	case eventMsg:
		e := events.Event(msg)
		m.state.Apply(e)
		m.lastEvent = e.At
		if e.ID > m.lastID {
			m.lastID = e.ID
		}
		m.health.Connected = true
		m.lastError = ""
		return m, receiveNextEvent(m.hubEvents)

	case healthMsg:
		m.health.Status = msg.Status
		m.health.UptimeSeconds = msg.UptimeSeconds
		m.health.Grants = msg.Grants
		m.health.Keybindings = msg.Keybindings
		m.health.Connected = true
		m.health.LastCheck = time.Now()
		m.lastError = ""
		return m, tea.Tick(5*time.Second, func(t time.Time) tea.Msg {
			return fetchHealth(m.apiURL, m.apiKey)
		})

	case sseDisconnectedMsg:
		m.health.Connected = false
		m.lastError = "event stream disconnected, reconnecting..."
		return m, tea.Tick(3*time.Second, func(t time.Time) tea.Msg {
			return reconnectMsg{lastID: max(msg.lastID, m.lastID)}
		})

	case reconnectMsg:
		return m, subscribeToEvents(m.apiURL, m.apiKey, msg.lastID, m.hubEvents)

	case errMsg:
		m.lastError = msg.Error()
		return m, tea.Tick(5*time.Second, func(t time.Time) tea.Msg {
			return fetchHealth(m.apiURL, m.apiKey)
		})
	}

	return m, nil
}

func (m Model) View() string {
	if m.width == 0 {
		return "Initializing..."
	}

	parts := []string{
		renderHeader(m.health, m.lastEvent, m.now, m.theme, m.width),
		renderGrants(m.state.SortedGrants(), m.selectedGrant, m.theme, m.width),
		renderBindings(m.state.SortedBindings(), m.state.Claims, m.theme, m.width),
		renderEventStream(m.state.EventLog, m.theme, m.width),
	}
	if m.lastError != "" {
		parts = append(parts, m.theme.StatusFailed.Render(fmt.Sprintf(" ⚠ %s", m.lastError)))
	}
	parts = append(parts, " "+m.help.View(m.keys))

	return lipgloss.NewStyle().Margin(1, 2).Render(
		lipgloss.JoinVertical(lipgloss.Left, parts...),
	)
}
