// Package tui renders a session in the terminal with bubbletea.
package tui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/kalambet/ragdesk/internal/history"
	"github.com/kalambet/ragdesk/internal/notify"
	"github.com/kalambet/ragdesk/internal/prefs"
	"github.com/kalambet/ragdesk/internal/session"
	"github.com/kalambet/ragdesk/internal/upload"
)

// Session is the orchestrator surface the UI drives.
type Session interface {
	Snapshot() session.Snapshot
	Subscribe() (<-chan session.Snapshot, func())
	SubmitQuestion(question string) (string, error)
	EnqueueFiles(paths []string) ([]string, error)
	ToggleFavorite(id string) (bool, error)
	ToggleTheme() (prefs.Theme, error)
	RemoveUploadTask(id string)
	DismissNotification()
	LoadFromHistory(entry history.Entry) bool
	ClearTasks()
	ClearMessages()
	ExportMessages(w io.Writer) error
	Refresh(ctx context.Context) error
	Notify(message string, severity notify.Severity)
}

type inputMode int

const (
	modeAsk inputMode = iota
	modeUpload
	modeSearch
)

type panel int

const (
	panelChat panel = iota
	panelTasks
	panelHistory
)

type (
	snapshotMsg session.Snapshot
	closedMsg   struct{}
	refreshMsg  struct{ err error }
)

// Model is the bubbletea model of the session view.
type Model struct {
	sess   Session
	snapC  <-chan session.Snapshot
	unsub  func()
	snap   session.Snapshot
	styles styles

	input  textinput.Model
	mode   inputMode
	focus  panel
	cursor map[panel]int

	window  history.Window
	search  string
	sortKey upload.SortKey

	exportDir string
	now       func() time.Time

	width, height int
	quitting      bool
}

// New creates a Model bound to sess. Exports are written to exportDir.
func New(sess Session, exportDir string) Model {
	ti := textinput.New()
	ti.Placeholder = "Ask a question about your documents..."
	ti.Prompt = "❯ "
	ti.CharLimit = 2000
	ti.Focus()

	snapC, unsub := sess.Subscribe()
	snap := sess.Snapshot()
	return Model{
		sess:      sess,
		snapC:     snapC,
		unsub:     unsub,
		snap:      snap,
		styles:    newStyles(snap.Preferences.Theme),
		input:     ti,
		cursor:    map[panel]int{},
		exportDir: exportDir,
		now:       time.Now,
		width:     100,
		height:    30,
	}
}

// WithSortKey sets the initial order of the uploads panel.
func (m Model) WithSortKey(k upload.SortKey) Model {
	m.sortKey = k
	return m
}

// Init starts listening for snapshots.
func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, waitForSnapshot(m.snapC))
}

func waitForSnapshot(ch <-chan session.Snapshot) tea.Cmd {
	return func() tea.Msg {
		s, ok := <-ch
		if !ok {
			return closedMsg{}
		}
		return snapshotMsg(s)
	}
}

func refresh(sess Session) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		return refreshMsg{err: sess.Refresh(ctx)}
	}
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.input.Width = max(msg.Width-6, 10)
		return m, nil

	case snapshotMsg:
		m.setSnapshot(session.Snapshot(msg))
		return m, waitForSnapshot(m.snapC)

	case closedMsg:
		m.quitting = true
		return m, tea.Quit

	case refreshMsg:
		if msg.err != nil && !errors.Is(msg.err, context.Canceled) {
			m.sess.Notify("Refresh failed", notify.Warning)
		}
		return m, nil

	case tea.KeyMsg:
		if cmd, handled := m.handleKey(msg); handled {
			return m, cmd
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	if m.mode == modeSearch {
		m.search = m.input.Value()
		m.clampCursors()
	}
	return m, cmd
}

func (m *Model) setSnapshot(s session.Snapshot) {
	if s.Version < m.snap.Version {
		return
	}
	if s.Preferences.Theme != m.snap.Preferences.Theme {
		m.styles = newStyles(s.Preferences.Theme)
	}
	m.snap = s
	m.clampCursors()
}

func (m *Model) handleKey(k tea.KeyMsg) (tea.Cmd, bool) {
	switch k.String() {
	case "ctrl+c":
		m.quitting = true
		m.unsub()
		return tea.Quit, true
	case "enter":
		m.submit()
		return nil, true
	case "esc":
		if m.mode != modeAsk {
			m.setMode(modeAsk)
		} else {
			m.sess.DismissNotification()
		}
		return nil, true
	case "tab":
		m.focus = (m.focus + 1) % 3
		return nil, true
	case "up":
		m.moveCursor(-1)
		return nil, true
	case "down":
		m.moveCursor(1)
		return nil, true
	case "ctrl+u":
		m.toggleMode(modeUpload)
		return nil, true
	case "ctrl+f":
		m.toggleMode(modeSearch)
		return nil, true
	case "ctrl+t":
		m.sess.ToggleTheme()
		return nil, true
	case "ctrl+w":
		m.window = (m.window + 1) % 3
		m.clampCursors()
		return nil, true
	case "ctrl+s":
		m.sortKey = m.sortKey.Next()
		return nil, true
	case "ctrl+r":
		return refresh(m.sess), true
	case "ctrl+e":
		m.export()
		return nil, true
	case "ctrl+l":
		m.sess.ClearMessages()
		return nil, true
	case "ctrl+k":
		m.sess.ClearTasks()
		return nil, true
	case "ctrl+x":
		if t, ok := m.selectedTask(); ok {
			m.sess.RemoveUploadTask(t.ID)
		}
		return nil, true
	case "ctrl+b":
		if msg, ok := m.selectedMessage(); ok {
			m.sess.ToggleFavorite(msg.ID)
		}
		return nil, true
	case "ctrl+y":
		if msg, ok := m.selectedMessage(); ok {
			m.copyMessage(msg)
		}
		return nil, true
	case "ctrl+o":
		if e, ok := m.selectedEntry(); ok {
			if !m.sess.LoadFromHistory(e) {
				m.sess.Notify("Already in chat", notify.Info)
			}
		}
		return nil, true
	}
	return nil, false
}

func (m *Model) submit() {
	value := strings.TrimSpace(m.input.Value())
	switch m.mode {
	case modeAsk:
		if _, err := m.sess.SubmitQuestion(value); err != nil && !session.IsValidation(err) {
			m.sess.Notify(err.Error(), notify.Error)
		}
		m.input.SetValue("")
	case modeUpload:
		if _, err := m.sess.EnqueueFiles(splitPaths(value)); err != nil && !session.IsValidation(err) {
			m.sess.Notify(err.Error(), notify.Error)
		}
		m.setMode(modeAsk)
	case modeSearch:
		m.setMode(modeAsk)
	}
}

func (m *Model) toggleMode(mode inputMode) {
	if m.mode == mode {
		m.setMode(modeAsk)
		return
	}
	m.setMode(mode)
}

func (m *Model) setMode(mode inputMode) {
	if m.mode == modeSearch && mode != modeSearch {
		m.input.SetValue("")
	}
	m.mode = mode
	switch mode {
	case modeAsk:
		m.input.Placeholder = "Ask a question about your documents..."
		m.input.SetValue("")
	case modeUpload:
		m.input.Placeholder = "Paths of files to upload, separated by spaces"
		m.input.SetValue("")
	case modeSearch:
		m.input.Placeholder = "Search history questions"
		m.input.SetValue(m.search)
		m.focus = panelHistory
	}
}

// splitPaths splits on whitespace, honouring double quotes and expanding a
// leading ~.
func splitPaths(s string) []string {
	var (
		out     []string
		cur     strings.Builder
		inQuote bool
	)
	flush := func() {
		if cur.Len() == 0 {
			return
		}
		p := cur.String()
		if strings.HasPrefix(p, "~/") {
			if home, err := os.UserHomeDir(); err == nil {
				p = filepath.Join(home, p[2:])
			}
		}
		out = append(out, p)
		cur.Reset()
	}
	for _, r := range s {
		switch {
		case r == '"':
			inQuote = !inQuote
		case (r == ' ' || r == '\t') && !inQuote:
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return out
}

// writeClipboard is replaced in tests.
var writeClipboard = clipboard.WriteAll

// copyMessage copies the answer, or the question while none has arrived.
func (m *Model) copyMessage(msg session.MessageView) {
	text := msg.Answer
	if text == "" {
		text = msg.Question
	}
	if err := writeClipboard(text); err != nil {
		m.sess.Notify("Copy failed: "+err.Error(), notify.Error)
		return
	}
	m.sess.Notify("Copied to clipboard", notify.Success)
}

func (m *Model) export() {
	name := fmt.Sprintf("chat-export-%s.json", m.now().Format("2006-01-02"))
	path := filepath.Join(m.exportDir, name)
	f, err := os.Create(path)
	if err != nil {
		m.sess.Notify("Export failed: "+err.Error(), notify.Error)
		return
	}
	defer f.Close()
	if err := m.sess.ExportMessages(f); err != nil {
		m.sess.Notify("Export failed: "+err.Error(), notify.Error)
	}
}

func (m Model) tasks() []upload.Task {
	return upload.Sorted(m.snap.Tasks, m.sortKey)
}

func (m Model) entries() []history.Entry {
	return history.Filter(m.snap.History, m.window, m.search, m.now())
}

func (m Model) panelLen(p panel) int {
	switch p {
	case panelTasks:
		return len(m.snap.Tasks)
	case panelHistory:
		return len(m.entries())
	}
	return len(m.snap.Messages)
}

func (m *Model) moveCursor(delta int) {
	n := m.panelLen(m.focus)
	if n == 0 {
		return
	}
	m.cursor[m.focus] = min(max(m.cursor[m.focus]+delta, 0), n-1)
}

func (m *Model) clampCursors() {
	for _, p := range []panel{panelChat, panelTasks, panelHistory} {
		n := m.panelLen(p)
		m.cursor[p] = min(max(m.cursor[p], 0), max(n-1, 0))
	}
}

func (m Model) selectedTask() (upload.Task, bool) {
	tasks := m.tasks()
	if m.focus != panelTasks || len(tasks) == 0 {
		return upload.Task{}, false
	}
	return tasks[m.cursor[panelTasks]], true
}

func (m Model) selectedMessage() (session.MessageView, bool) {
	if m.focus != panelChat || len(m.snap.Messages) == 0 {
		return session.MessageView{}, false
	}
	return m.snap.Messages[m.cursor[panelChat]], true
}

func (m Model) selectedEntry() (history.Entry, bool) {
	entries := m.entries()
	if m.focus != panelHistory || len(entries) == 0 {
		return history.Entry{}, false
	}
	return entries[m.cursor[panelHistory]], true
}
