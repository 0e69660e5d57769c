// Package tui provides a Bubble Tea view that watches the daemon's active
// sessions.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fakeyudi/gitclock/internal/report"
	"github.com/fakeyudi/gitclock/internal/session"
)

// ── Styles ────────────

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62")).
			Padding(0, 2)

	errStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("235")).
			Foreground(lipgloss.Color("245")).
			Padding(0, 1)
)

// ── Messages ────────────

// FetchFunc returns the daemon's active sessions.
type FetchFunc func() ([]session.TrackingSession, error)

type statusMsg struct {
	sessions []session.TrackingSession
	err      error
	at       time.Time
}

type tickMsg struct{}

// ── Model ────────────

// Model is the root Bubble Tea model for `status --watch`.
type Model struct {
	fetch    FetchFunc
	interval time.Duration
	now      func() time.Time

	table    table.Model
	sessions []session.TrackingSession
	err      error
	updated  time.Time
	width    int
}

var columns = []table.Column{
	{Title: "Directory", Width: 36},
	{Title: "Branch", Width: 24},
	{Title: "Issue", Width: 10},
	{Title: "Elapsed", Width: 10},
}

// New returns a model that refreshes through fetch every interval.
func New(fetch FetchFunc, interval time.Duration) Model {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(10),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.Bold(true).
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true)
	styles.Selected = styles.Selected.
		Foreground(lipgloss.Color("15")).
		Background(lipgloss.Color("62"))
	t.SetStyles(styles)

	return Model{fetch: fetch, interval: interval, now: time.Now, table: t}
}

func (m Model) fetchCmd() tea.Cmd {
	fetch, now := m.fetch, m.now
	return func() tea.Msg {
		sessions, err := fetch()
		return statusMsg{sessions: sessions, err: err, at: now()}
	}
}

func (m Model) tickCmd() tea.Cmd {
	return tea.Tick(m.interval, func(time.Time) tea.Msg { return tickMsg{} })
}

func (m Model) Init() tea.Cmd { return m.fetchCmd() }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "r":
			return m, m.fetchCmd()
		}
		var cmd tea.Cmd
		m.table, cmd = m.table.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		if h := msg.Height - 5; h > 3 {
			m.table.SetHeight(h)
		}
		return m, nil

	case statusMsg:
		m.err = msg.err
		m.updated = msg.at
		if msg.err == nil {
			m.sessions = msg.sessions
			m.table.SetRows(rows(m.sessions, msg.at))
		}
		return m, m.tickCmd()

	case tickMsg:
		return m, m.fetchCmd()
	}
	return m, nil
}

func (m Model) View() string {
	var sb strings.Builder
	sb.WriteString(titleStyle.Render(fmt.Sprintf("gitclock  %d active", len(m.sessions))))
	sb.WriteString("\n\n")
	if len(m.sessions) == 0 && m.err == nil {
		sb.WriteString(dimStyle.Render("No active sessions."))
	} else {
		sb.WriteString(m.table.View())
	}
	sb.WriteString("\n")

	line := "  ↑/↓ select  r refresh  q quit"
	if !m.updated.IsZero() {
		line += "  updated " + m.updated.Local().Format(time.TimeOnly)
	}
	if m.err != nil {
		sb.WriteString(errStyle.Render("  " + m.err.Error()))
		sb.WriteString("\n")
	}
	bar := statusBarStyle
	if m.width > 0 {
		bar = bar.Width(m.width)
	}
	sb.WriteString(bar.Render(line))
	return sb.String()
}

func rows(sessions []session.TrackingSession, now time.Time) []table.Row {
	out := make([]table.Row, 0, len(sessions))
	for _, s := range sessions {
		issue := s.IssueID
		if issue == "" {
			issue = "-"
		}
		out = append(out, table.Row{s.Directory, s.Branch, issue, report.FormatDuration(s.Elapsed(now))})
	}
	return out
}

// Run starts the watch view and blocks until the user quits.
func Run(fetch FetchFunc, interval time.Duration) error {
	p := tea.NewProgram(New(fetch, interval), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
