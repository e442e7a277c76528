package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/kalambet/ragdesk/internal/notify"
	"github.com/kalambet/ragdesk/internal/query"
	"github.com/kalambet/ragdesk/internal/session"
	"github.com/kalambet/ragdesk/internal/upload"
)

const coldStartHint = "thinking… the first answer can take a while"

// View renders the session.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	s := m.styles

	sideWidth := max(m.width/3, 28)
	chatWidth := max(m.width-sideWidth-4, 30)

	side := lipgloss.JoinVertical(lipgloss.Left,
		m.panelStyle(panelTasks).Width(sideWidth).Render(m.renderTasks(sideWidth)),
		m.panelStyle(panelHistory).Width(sideWidth).Render(m.renderHistory(sideWidth)),
	)
	chat := m.panelStyle(panelChat).Width(chatWidth).Render(m.renderChat(chatWidth))

	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString("\n")
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, side, chat))
	b.WriteString("\n")
	b.WriteString(m.renderNotification())
	b.WriteString("\n")
	b.WriteString(m.input.View())
	b.WriteString("\n")
	b.WriteString(s.footer.Render(m.renderHelp()))
	return b.String()
}

func (m Model) panelStyle(p panel) lipgloss.Style {
	if m.focus == p {
		return m.styles.selected
	}
	return m.styles.panel
}

func (m Model) renderHeader() string {
	s := m.styles
	status := s.severity[notify.Success].Render("● connected")
	if !m.snap.Connected {
		status = s.severity[notify.Error].Render("● offline")
	}
	st := m.snap.Stats
	stats := fmt.Sprintf("%s %s  %s %s  %s %s",
		s.label.Render("docs"), s.value.Render(humanize.Comma(int64(st.TotalDocuments))),
		s.label.Render("queries"), s.value.Render(humanize.Comma(int64(st.TotalQueries))),
		s.label.Render("chunks"), s.value.Render(humanize.Comma(int64(st.IndexSize))),
	)
	uploading := ""
	if m.snap.Uploading() {
		uploading = s.severity[notify.Info].Render("⇡ uploading")
	}
	refreshed := ""
	if !m.snap.LastRefresh.IsZero() {
		refreshed = s.dim.Render("updated " + humanize.RelTime(m.snap.LastRefresh, m.now(), "ago", "from now"))
	}
	return strings.Join([]string{
		s.header.Render("ragdesk"),
		status,
		stats,
		uploading,
		refreshed,
		s.dim.Render(string(m.snap.Preferences.Theme)),
	}, "  ")
}

func (m Model) renderTasks(width int) string {
	s := m.styles
	lines := []string{s.title.Render("Uploads") + s.dim.Render(" · sort: "+m.sortKey.String())}
	tasks := m.tasks()
	if len(tasks) == 0 {
		lines = append(lines, s.dim.Render("No documents yet. ctrl+u to upload."))
	}
	for i, t := range tasks {
		marker := "  "
		if m.focus == panelTasks && i == m.cursor[panelTasks] {
			marker = s.key.Render("▸ ")
		}
		detail := t.Detail
		if !t.Status.Terminal() {
			detail = upload.Describe(t)
		}
		line := fmt.Sprintf("%s%s %s %s", marker, upload.Icon(t.FileName), truncate(t.FileName, width-20), m.taskStatus(t))
		if detail != "" {
			line += " " + s.dim.Render(truncate(detail, width-8))
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func (m Model) taskStatus(t upload.Task) string {
	s := m.styles
	switch t.Status {
	case upload.Succeeded:
		return s.severity[notify.Success].Render("✓")
	case upload.Failed:
		return s.severity[notify.Error].Render("✕")
	case upload.InFlight:
		return s.severity[notify.Info].Render("↑")
	}
	return s.dim.Render("…")
}

func (m Model) renderHistory(width int) string {
	s := m.styles
	head := s.title.Render("History") + s.dim.Render(" · "+m.window.String())
	if m.search != "" {
		head += s.dim.Render(fmt.Sprintf(" · %q", m.search))
	}
	lines := []string{head}
	entries := m.entries()
	if len(entries) == 0 {
		lines = append(lines, s.dim.Render("Nothing here."))
	}
	now := m.now()
	for i, e := range entries {
		marker := "  "
		if m.focus == panelHistory && i == m.cursor[panelHistory] {
			marker = s.key.Render("▸ ")
		}
		when := "unknown time"
		if !e.Timestamp.IsZero() {
			when = humanize.RelTime(e.Timestamp, now, "ago", "from now")
		}
		lines = append(lines, marker+truncate(e.Question, width-4))
		lines = append(lines, "  "+s.dim.Render(fmt.Sprintf("%s · %d sources", when, e.SourceCount)))
	}
	return strings.Join(lines, "\n")
}

func (m Model) renderChat(width int) string {
	s := m.styles
	lines := []string{s.title.Render("Chat")}
	if len(m.snap.Messages) == 0 {
		lines = append(lines, s.dim.Render("Upload documents and ask questions. Answers cite the passages they came from."))
	}
	for i, msg := range m.snap.Messages {
		lines = append(lines, m.renderMessage(i, msg, width))
	}
	return strings.Join(lines, "\n")
}

func (m Model) renderMessage(i int, msg session.MessageView, width int) string {
	s := m.styles
	marker := "  "
	if m.focus == panelChat && i == m.cursor[panelChat] {
		marker = s.key.Render("▸ ")
	}
	star := ""
	if msg.Favorite {
		star = " " + s.star.Render("★")
	}
	out := []string{marker + s.question.Render("Q: "+msg.Question) + star}

	body := lipgloss.NewStyle().Width(max(width-6, 10))
	switch msg.State {
	case query.Pending:
		out = append(out, "  "+s.dim.Render(coldStartHint))
	case query.Errored:
		out = append(out, "  "+s.severity[notify.Error].Render("Error: "+msg.Error))
	case query.Resolved:
		out = append(out, "  "+body.Render(s.answer.Render(msg.Answer)))
		for _, src := range msg.Sources {
			out = append(out, "  "+s.dim.Render(fmt.Sprintf("• %s (%.0f%%)", src.DocumentRef, src.Relevance*100)))
		}
		if msg.ProcessingTime > 0 {
			out = append(out, "  "+s.dim.Render(fmt.Sprintf("answered in %.1fs", msg.ProcessingTime.Seconds())))
		}
	}
	return strings.Join(out, "\n")
}

func (m Model) renderNotification() string {
	n := m.snap.Notification
	if n == nil {
		return ""
	}
	style, ok := m.styles.severity[n.Severity]
	if !ok {
		style = m.styles.severity[notify.Info]
	}
	return style.Render(severityGlyph[n.Severity] + " " + n.Message)
}

func (m Model) renderHelp() string {
	k := m.styles.key.Render
	pairs := []string{
		k("enter") + " send",
		k("ctrl+u") + " upload",
		k("ctrl+f") + " search",
		k("ctrl+w") + " window",
		k("tab") + " panel",
		k("ctrl+b") + " favorite",
		k("ctrl+y") + " copy",
		k("ctrl+o") + " load",
		k("ctrl+x") + " remove",
		k("ctrl+s") + " sort",
		k("ctrl+t") + " theme",
		k("ctrl+e") + " export",
		k("ctrl+l") + " clear chat",
		k("ctrl+k") + " clear uploads",
		k("ctrl+r") + " refresh",
		k("ctrl+c") + " quit",
	}
	return strings.Join(pairs, "  ")
}

func truncate(s string, n int) string {
	if n < 4 {
		n = 4
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
