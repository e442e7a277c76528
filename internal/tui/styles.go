package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/kalambet/ragdesk/internal/notify"
	"github.com/kalambet/ragdesk/internal/prefs"
)

type palette struct {
	fg, dim, accent, border    lipgloss.Color
	success, warning, errColor lipgloss.Color
	headerFg, headerBg         lipgloss.Color
}

var (
	lightPalette = palette{
		fg: "235", dim: "244", accent: "25", border: "250",
		success: "28", warning: "136", errColor: "160",
		headerFg: "231", headerBg: "25",
	}
	darkPalette = palette{
		fg: "252", dim: "245", accent: "51", border: "238",
		success: "46", warning: "226", errColor: "196",
		headerFg: "0", headerBg: "51",
	}
)

// styles is the rendered style set for one theme.
type styles struct {
	header   lipgloss.Style
	title    lipgloss.Style
	panel    lipgloss.Style
	selected lipgloss.Style
	label    lipgloss.Style
	value    lipgloss.Style
	dim      lipgloss.Style
	question lipgloss.Style
	answer   lipgloss.Style
	star     lipgloss.Style
	footer   lipgloss.Style
	key      lipgloss.Style
	severity map[notify.Severity]lipgloss.Style
}

func newStyles(theme prefs.Theme) styles {
	p := lightPalette
	if theme == prefs.ThemeDark {
		p = darkPalette
	}
	return styles{
		header: lipgloss.NewStyle().
			Foreground(p.headerFg).
			Background(p.headerBg).
			Bold(true).
			Padding(0, 1),
		title: lipgloss.NewStyle().
			Foreground(p.accent).
			Bold(true),
		panel: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(p.border).
			Padding(0, 1),
		selected: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(p.accent).
			Padding(0, 1),
		label:    lipgloss.NewStyle().Foreground(p.accent),
		value:    lipgloss.NewStyle().Foreground(p.fg).Bold(true),
		dim:      lipgloss.NewStyle().Foreground(p.dim),
		question: lipgloss.NewStyle().Foreground(p.accent).Bold(true),
		answer:   lipgloss.NewStyle().Foreground(p.fg),
		star:     lipgloss.NewStyle().Foreground(p.warning),
		footer:   lipgloss.NewStyle().Foreground(p.dim).MarginTop(1),
		key:      lipgloss.NewStyle().Foreground(p.accent).Bold(true),
		severity: map[notify.Severity]lipgloss.Style{
			notify.Info:    lipgloss.NewStyle().Foreground(p.accent),
			notify.Success: lipgloss.NewStyle().Foreground(p.success).Bold(true),
			notify.Warning: lipgloss.NewStyle().Foreground(p.warning).Bold(true),
			notify.Error:   lipgloss.NewStyle().Foreground(p.errColor).Bold(true),
		},
	}
}

var severityGlyph = map[notify.Severity]string{
	notify.Info:    "ℹ",
	notify.Success: "✓",
	notify.Warning: "⚠",
	notify.Error:   "✕",
}
