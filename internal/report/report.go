// Package report renders sessions, activity log entries and sync results
// for the CLI, either as JSON or as console tables.
package report

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/fakeyudi/gitclock/internal/session"
	"github.com/fakeyudi/gitclock/internal/worklog"
)

// Renderer serializes report data to bytes.
type Renderer interface {
	Sessions(sessions []session.TrackingSession, now time.Time) ([]byte, error)
	Entries(entries []session.ActivityLogEntry) ([]byte, error)
	SyncResult(r worklog.Result) ([]byte, error)
}

// For returns the JSON renderer when asJSON is set, the table renderer otherwise.
func For(asJSON bool) Renderer {
	if asJSON {
		return &JSONRenderer{}
	}
	return &TableRenderer{}
}

// FormatDuration rounds d to whole seconds. Negative durations print as 0s.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return d.Round(time.Second).String()
}

// JSONRenderer renders report data as indented JSON.
type JSONRenderer struct{}

type sessionView struct {
	session.TrackingSession
	ElapsedSeconds int64 `json:"elapsedSeconds"`
}

type entryView struct {
	session.ActivityLogEntry
	DurationSeconds int64 `json:"durationSeconds"`
}

func (r *JSONRenderer) Sessions(sessions []session.TrackingSession, now time.Time) ([]byte, error) {
	views := make([]sessionView, 0, len(sessions))
	for _, s := range sessions {
		views = append(views, sessionView{TrackingSession: s, ElapsedSeconds: int64(s.Elapsed(now).Seconds())})
	}
	return json.MarshalIndent(views, "", "  ")
}

func (r *JSONRenderer) Entries(entries []session.ActivityLogEntry) ([]byte, error) {
	views := make([]entryView, 0, len(entries))
	for _, e := range entries {
		views = append(views, entryView{ActivityLogEntry: e, DurationSeconds: int64(e.Duration().Seconds())})
	}
	return json.MarshalIndent(views, "", "  ")
}

func (r *JSONRenderer) SyncResult(res worklog.Result) ([]byte, error) {
	return json.MarshalIndent(res, "", "  ")
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	syncedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("82")).Padding(0, 1)
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("82"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

// TableRenderer renders report data as bordered console tables.
type TableRenderer struct{}

func (r *TableRenderer) Sessions(sessions []session.TrackingSession, now time.Time) ([]byte, error) {
	if len(sessions) == 0 {
		return []byte("No active sessions.\n"), nil
	}
	rows := make([][]string, 0, len(sessions))
	for _, s := range sessions {
		rows = append(rows, []string{
			s.Directory,
			s.Branch,
			orDash(s.IssueID),
			s.StartTime.Local().Format(time.DateTime),
			FormatDuration(s.Elapsed(now)),
		})
	}
	t := newTable(nil, "Directory", "Branch", "Issue", "Started", "Elapsed").Rows(rows...)
	return []byte(t.String() + "\n"), nil
}

func (r *TableRenderer) Entries(entries []session.ActivityLogEntry) ([]byte, error) {
	if len(entries) == 0 {
		return []byte("No activity recorded.\n"), nil
	}
	rows := make([][]string, 0, len(entries))
	var total time.Duration
	for _, e := range entries {
		total += e.Duration()
		synced := "no"
		if e.Synced {
			synced = "yes"
		}
		rows = append(rows, []string{
			e.StartTime.Local().Format(time.DateOnly),
			e.StartTime.Local().Format(time.TimeOnly) + "-" + e.EndTime.Local().Format(time.TimeOnly),
			e.Branch,
			orDash(e.IssueID),
			FormatDuration(e.Duration()),
			synced,
		})
	}
	styleFn := func(row, col int) lipgloss.Style {
		if row >= 0 && col == 5 && rows[row][5] == "yes" {
			return syncedStyle
		}
		return cellStyle
	}
	t := newTable(styleFn, "Date", "Time", "Branch", "Issue", "Duration", "Synced").Rows(rows...)

	var sb strings.Builder
	sb.WriteString(t.String())
	fmt.Fprintf(&sb, "\nTotal: %s across %d entries\n", FormatDuration(total), len(entries))
	return []byte(sb.String()), nil
}

func (r *TableRenderer) SyncResult(res worklog.Result) ([]byte, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %d synced", okStyle.Render("✓"), res.Synced)
	if res.Failed > 0 {
		fmt.Fprintf(&sb, ", %s", failStyle.Render(fmt.Sprintf("%d failed", res.Failed)))
	} else {
		sb.WriteString(", 0 failed")
	}
	if res.Skipped > 0 {
		fmt.Fprintf(&sb, ", %d skipped (too short)", res.Skipped)
	}
	sb.WriteString("\n")
	return []byte(sb.String()), nil
}

func newTable(styleFn table.StyleFunc, headers ...string) *table.Table {
	if styleFn == nil {
		styleFn = func(row, col int) lipgloss.Style { return cellStyle }
	}
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(borderStyle).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return styleFn(row, col)
		})
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
