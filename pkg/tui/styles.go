// Package tui implements a live terminal view for running checklist
// jobs, polling the in-process job registry and rendering progress and
// per-host verdicts with Bubble Tea.
package tui

import "github.com/charmbracelet/lipgloss"

// Verdict glyphs — convey meaning without relying on color alone.
const (
	GlyphOK          = "✓"
	GlyphNotOK       = "✗"
	GlyphSkipped     = "⏭"
	GlyphUnreachable = "⚡"
	GlyphRunning     = "▸"
)

// Palette adapts to terminal capabilities via lipgloss.
var (
	colorGreen  = lipgloss.Color("42")
	colorRed    = lipgloss.Color("196")
	colorYellow = lipgloss.Color("214")
	colorCyan   = lipgloss.Color("51")
	colorDim    = lipgloss.Color("240")
	colorWhite  = lipgloss.Color("255")
)

var headerStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(colorCyan).
	Padding(0, 1)

var (
	hostStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorWhite)

	okStyle = lipgloss.NewStyle().
		Foreground(colorGreen)

	notOKStyle = lipgloss.NewStyle().
			Foreground(colorRed).
			Bold(true)

	skippedStyle = lipgloss.NewStyle().
			Faint(true)

	unreachableStyle = lipgloss.NewStyle().
				Foreground(colorYellow).
				Bold(true)

	runningStyle = lipgloss.NewStyle().
			Foreground(colorYellow)

	dimStyle = lipgloss.NewStyle().
			Foreground(colorDim)

	errorStyle = lipgloss.NewStyle().
			Foreground(colorRed).
			Bold(true)
)

var summaryBannerStyle = lipgloss.NewStyle().
	Border(lipgloss.DoubleBorder()).
	BorderForeground(colorCyan).
	Foreground(colorCyan).
	Bold(true).
	Padding(0, 2).
	Align(lipgloss.Center)
