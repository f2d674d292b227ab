package main

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/c360studio/planengine/imc"
)

// model is the operator console's bubbletea Model, grounded on the teacher
// pack's tui.Model shape (single flat struct, no sub-models) rather than
// the heavier Elm-with-list-widgets shape: the console has one screen and
// no navigation, so it stays closer to felixgeelhaar-specular's model.go.
type model struct {
	natsURL string

	connected bool
	lastErr   string

	state   imc.PlanControlStateEnum
	planID  string
	manID   string
	manType string
	progress float64
	eta      int32
	outcome  imc.LastOutcome
	lastSeen time.Time

	events []string

	width  int
	height int

	styles styles
}

type styles struct {
	title    lipgloss.Style
	label    lipgloss.Style
	value    lipgloss.Style
	ok       lipgloss.Style
	warn     lipgloss.Style
	bad      lipgloss.Style
	box      lipgloss.Style
	help     lipgloss.Style
}

func defaultStyles() styles {
	return styles{
		title: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63")).MarginBottom(1),
		label: lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		value: lipgloss.NewStyle().Bold(true),
		ok:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("46")),
		warn:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("226")),
		bad:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196")),
		box: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("63")).
			Padding(1, 2),
		help: lipgloss.NewStyle().Foreground(lipgloss.Color("241")).MarginTop(1),
	}
}

func newModel(natsURL string) model {
	return model{
		natsURL: natsURL,
		styles:  defaultStyles(),
	}
}

// stateMsg is delivered whenever a fresh PlanControlState arrives over the bus.
type stateMsg imc.PlanControlState

// replyMsg is delivered whenever a PlanControl reply (not a request) arrives.
type replyMsg imc.PlanControl

// connErrMsg reports a bus connection failure; the console keeps running so
// the operator can retry rather than exiting on a transient dial failure.
type connErrMsg struct{ err error }

// connOKMsg reports a successful (re)connection.
type connOKMsg struct{}

func (m model) Init() tea.Cmd {
	return nil
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		}
		return m, nil

	case connOKMsg:
		m.connected = true
		m.lastErr = ""
		return m, nil

	case connErrMsg:
		m.connected = false
		m.lastErr = msg.err.Error()
		return m, nil

	case stateMsg:
		m.state = msg.State
		m.planID = msg.PlanID
		m.manID = msg.ManID
		m.manType = msg.ManType
		m.progress = msg.PlanProgress
		m.eta = msg.PlanETA
		m.outcome = msg.LastOutcome
		m.lastSeen = time.Now()
		return m, nil

	case replyMsg:
		m.events = appendEvent(m.events, fmt.Sprintf("%s %v %s: %s", msg.Op, msg.Type, msg.PlanID, msg.Info))
		return m, nil
	}
	return m, nil
}

func appendEvent(events []string, line string) []string {
	const maxEvents = 8
	events = append(events, line)
	if len(events) > maxEvents {
		events = events[len(events)-maxEvents:]
	}
	return events
}

func (m model) View() string {
	conn := m.styles.bad.Render("disconnected")
	if m.connected {
		conn = m.styles.ok.Render("connected")
	}

	var stateLine string
	switch m.state {
	case imc.PCSExecuting:
		stateLine = m.styles.ok.Render(m.state.String())
	case imc.PCSInitializing:
		stateLine = m.styles.warn.Render(m.state.String())
	case imc.PCSBlocked:
		stateLine = m.styles.bad.Render(m.state.String())
	default:
		stateLine = m.styles.value.Render(m.state.String())
	}

	progress := "unknown"
	if m.progress >= 0 {
		progress = fmt.Sprintf("%.1f%%", m.progress)
	}

	body := fmt.Sprintf(
		"%s  bus %s\n\n%s %s\n%s %s\n%s %s\n%s %s\n%s %ds\n%s %s\n",
		m.styles.title.Render("PLAN CONTROL"), conn,
		m.styles.label.Render("state:"), stateLine,
		m.styles.label.Render("plan:"), m.styles.value.Render(valueOr(m.planID, "-")),
		m.styles.label.Render("maneuver:"), m.styles.value.Render(valueOr(m.manID, "-")),
		m.styles.label.Render("progress:"), m.styles.value.Render(progress),
		m.styles.label.Render("eta:"), m.eta,
		m.styles.label.Render("last outcome:"), outcomeStyle(m.styles, m.outcome),
	)

	if m.lastErr != "" {
		body += "\n" + m.styles.bad.Render("error: "+m.lastErr) + "\n"
	}

	if len(m.events) > 0 {
		body += "\n" + m.styles.label.Render("recent replies:") + "\n"
		for _, e := range m.events {
			body += e + "\n"
		}
	}

	box := m.styles.box.Render(body)
	help := m.styles.help.Render("q to quit")
	return lipgloss.JoinVertical(lipgloss.Left, box, help)
}

func valueOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func outcomeStyle(s styles, o imc.LastOutcome) string {
	switch o {
	case imc.OutcomeSuccess:
		return s.ok.Render("SUCCESS")
	case imc.OutcomeFailure:
		return s.bad.Render("FAILURE")
	default:
		return s.value.Render("NONE")
	}
}
