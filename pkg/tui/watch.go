package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-runewidth"

	"github.com/ormasoftchile/fleetcheck/pkg/report"
	"github.com/ormasoftchile/fleetcheck/pkg/runtime"
	"github.com/ormasoftchile/fleetcheck/pkg/validate"
)

const pollInterval = 200 * time.Millisecond

// --- Tea messages ---

// tickMsg drives registry polling.
type tickMsg time.Time

// --- Model ---

// Model is the top-level Bubble Tea model for the watch view.
type Model struct {
	registry *runtime.Registry
	jobID    string

	spinner  spinner.Model
	progress progress.Model

	status   runtime.Status
	percent  int
	result   *report.JobResult
	fatalErr string

	startTime time.Time
	width     int
	height    int
}

// Run launches the watch view for a job already started on the
// registry and blocks until the user quits or the job finishes.
func Run(registry *runtime.Registry, jobID string) error {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = runningStyle

	m := Model{
		registry:  registry,
		jobID:     jobID,
		spinner:   sp,
		progress:  progress.New(progress.WithDefaultGradient()),
		status:    runtime.StatusPending,
		startTime: time.Now(),
	}

	_, err := tea.NewProgram(m).Run()
	return err
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tick())
}

func tick() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.progress.Width = min(msg.Width-12, 60)
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tickMsg:
		job, ok := m.registry.Get(m.jobID)
		if !ok {
			m.fatalErr = fmt.Sprintf("job %s disappeared from registry", m.jobID)
			return m, tea.Quit
		}
		m.status = job.Status()
		m.percent = job.Progress().Percent
		if m.status.Terminal() {
			m.result = job.Result()
			if m.status == runtime.StatusFailed {
				m.fatalErr = job.Err()
			}
			return m, tea.Quit
		}
		return m, tick()
	}
	return m, nil
}

func (m Model) View() string {
	var b strings.Builder

	b.WriteString(headerStyle.Render("fleetcheck " + m.jobID))
	b.WriteString("\n\n")

	switch {
	case m.fatalErr != "":
		b.WriteString(errorStyle.Render("✗ " + m.fatalErr))
		b.WriteString("\n")
	case m.status.Terminal():
		b.WriteString(m.renderSummary())
	default:
		b.WriteString(fmt.Sprintf("  %s %s  ", m.spinner.View(), m.status))
		b.WriteString(m.progress.ViewAs(float64(m.percent) / 100))
		b.WriteString(fmt.Sprintf(" %d%%\n", m.percent))
		b.WriteString(dimStyle.Render(fmt.Sprintf("\n  elapsed %s", time.Since(m.startTime).Round(time.Second))))
		b.WriteString("\n\n")
		b.WriteString(dimStyle.Render("  q to detach (the job keeps running)"))
		b.WriteString("\n")
	}
	return b.String()
}

// renderSummary shows per-host rows and the final counts banner.
func (m Model) renderSummary() string {
	if m.result == nil {
		return dimStyle.Render("  no result available\n")
	}
	var b strings.Builder

	for _, hs := range m.result.Hosts {
		if !hs.Reachable {
			b.WriteString("  " + unreachableStyle.Render(GlyphUnreachable+" "+hs.Host))
			b.WriteString(dimStyle.Render("  " + truncate(hs.ReachError, 60)))
			b.WriteString("\n")
			continue
		}
		b.WriteString("  " + hostStyle.Render(hs.Host) + "\n")
		for _, row := range hs.Rows {
			glyph, style := verdictGlyph(row.Verdict)
			b.WriteString(fmt.Sprintf("    %s %s\n",
				style.Render(glyph),
				truncate(row.Title, 70)))
		}
	}

	banner := fmt.Sprintf("OK %d   NotOK %d   Skipped %d   Total %d",
		m.result.Summary.OK, m.result.Summary.NotOK,
		m.result.Summary.Skipped, m.result.Summary.Total)
	b.WriteString("\n" + summaryBannerStyle.Render(banner) + "\n")
	return b.String()
}

func verdictGlyph(v validate.Verdict) (string, interface{ Render(...string) string }) {
	switch v {
	case validate.VerdictOK:
		return GlyphOK, okStyle
	case validate.VerdictNotOK:
		return GlyphNotOK, notOKStyle
	default:
		return GlyphSkipped, skippedStyle
	}
}

func truncate(s string, max int) string {
	if runewidth.StringWidth(s) <= max {
		return s
	}
	return runewidth.Truncate(s, max-3, "...")
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
