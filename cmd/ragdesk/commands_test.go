package main

import (
	"bytes"
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/ragdesk/internal/config"
	"github.com/kalambet/ragdesk/internal/history"
	"github.com/kalambet/ragdesk/internal/query"
	"github.com/kalambet/ragdesk/internal/remote"
	"github.com/kalambet/ragdesk/internal/remote/remotetest"
	"github.com/kalambet/ragdesk/internal/session"
	"github.com/kalambet/ragdesk/internal/upload"
)

type harness struct {
	fake   *remotetest.Server
	dir    string
	stdout *bytes.Buffer
	stderr *bytes.Buffer
}

// newHarness points every command at a fake remote service and a private
// data directory.
func newHarness(t *testing.T) *harness {
	t.Helper()
	fake := remotetest.New()
	srv := fake.Start()
	t.Cleanup(srv.Close)
	return newHarnessAt(t, fake, srv.URL)
}

func newHarnessAt(t *testing.T, fake *remotetest.Server, baseURL string) *harness {
	t.Helper()
	h := &harness{
		fake:   fake,
		dir:    t.TempDir(),
		stdout: &bytes.Buffer{},
		stderr: &bytes.Buffer{},
	}
	cfg := config.Config{
		Remote:  config.RemoteConfig{BaseURL: baseURL},
		Query:   config.QueryConfig{TopK: 4},
		History: config.HistoryConfig{Limit: 50},
		Upload:  config.UploadConfig{Concurrency: 1},
		Session: config.SessionConfig{RefreshInterval: time.Minute},
		Notify:  config.NotifyConfig{TTL: time.Second},
		Storage: config.StorageConfig{DataDir: h.dir},
		Log:     config.LogConfig{Level: "error"},
	}

	oldLoad, oldStderr, oldNoColor := loadConfig, stderr, color.NoColor
	loadConfig = func() (config.Config, error) { return cfg, nil }
	stderr = h.stderr
	color.NoColor = true
	t.Cleanup(func() {
		loadConfig, stderr, color.NoColor = oldLoad, oldStderr, oldNoColor
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})
	rootCmd.SetOut(h.stdout)
	return h
}

func (h *harness) run(args ...string) error {
	h.stdout.Reset()
	h.stderr.Reset()
	rootCmd.SetArgs(args)
	return rootCmd.Execute()
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestStatsCommand(t *testing.T) {
	h := newHarness(t)
	h.fake.SetDocuments(1234)

	require.NoError(t, h.run("stats"))
	assert.Contains(t, h.stdout.String(), "1,234")
	assert.Contains(t, h.stdout.String(), "Queries: 0")
}

func TestStatsCommand_Unreachable(t *testing.T) {
	fake := remotetest.New()
	srv := fake.Start()
	url := srv.URL
	srv.Close()
	h := newHarnessAt(t, fake, url)

	err := h.run("stats")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot connect to backend at "+url)
}

func TestUploadCommand_ReportsEachFile(t *testing.T) {
	h := newHarness(t)
	h.fake.Upload = func(name string, data []byte) (remote.UploadResult, error) {
		if name == "b.pdf" {
			return remote.UploadResult{}, &remotetest.RejectError{Status: http.StatusBadRequest, Detail: "corrupt file"}
		}
		return remote.UploadResult{ChunksCreated: 3, Filename: name}, nil
	}
	a := writeFile(t, h.dir, "a.pdf", "not really a pdf")
	b := writeFile(t, h.dir, "b.pdf", "broken")

	err := h.run("upload", a, b)
	require.Error(t, err)
	assert.Equal(t, "1 of 2 uploads failed", err.Error())
	assert.Contains(t, h.stderr.String(), "a.pdf uploaded (3 chunks)")
	assert.Contains(t, h.stderr.String(), "b.pdf: corrupt file")
	assert.Equal(t, []string{"a.pdf", "b.pdf"}, h.fake.Uploads())
}

func TestAskCommand(t *testing.T) {
	h := newHarness(t)
	h.fake.Query = func(ctx context.Context, req remote.QueryRequest) (remote.Answer, error) {
		return remote.Answer{
			Answer:         "X is a thing",
			ProcessingTime: 2.5,
			Sources:        []remote.Source{{File: "a.pdf", Similarity: 0.87, Excerpt: "X is"}},
		}, nil
	}

	require.NoError(t, h.run("ask", "what", "is", "X?"))
	out := h.stdout.String()
	assert.Contains(t, out, "X is a thing")
	assert.Contains(t, out, "a.pdf [87%]")
	assert.Contains(t, out, "2.5s")

	queries := h.fake.Queries()
	require.Len(t, queries, 1)
	assert.Equal(t, "what is X?", queries[0].Question)
	assert.Equal(t, 4, queries[0].TopK)
}

func TestAskCommand_Failure(t *testing.T) {
	h := newHarness(t)
	h.fake.Query = func(ctx context.Context, req remote.QueryRequest) (remote.Answer, error) {
		return remote.Answer{}, &remotetest.RejectError{Status: http.StatusInternalServerError, Detail: "model down"}
	}

	err := h.run("ask", "why?")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model down")
}

func TestHistoryCommand(t *testing.T) {
	h := newHarness(t)
	now := time.Now()
	h.fake.SetHistory([]remote.HistoryRecord{
		{Question: "old invoice question", Answer: "a1", Timestamp: now.Add(-30 * 24 * time.Hour).Format(time.RFC3339)},
		{Question: "recent invoice question", Answer: "a2", Timestamp: now.Format(time.RFC3339)},
		{Question: "unrelated", Answer: "a3", Timestamp: now.Format(time.RFC3339)},
	})

	require.NoError(t, h.run("history", "--window", "week", "--search", "INVOICE", "--limit", "20"))
	out := h.stdout.String()
	assert.Contains(t, out, "recent invoice question")
	assert.NotContains(t, out, "old invoice question")
	assert.NotContains(t, out, "unrelated")

	require.NoError(t, h.run("history", "--window", "all", "--search", "nothing matches", "--limit", "20"))
	assert.Contains(t, h.stdout.String(), "No history found.")
}

func TestHistoryCommand_BadWindow(t *testing.T) {
	h := newHarness(t)
	err := h.run("history", "--window", "fortnight", "--search", "", "--limit", "20")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown history window")
}

func TestPrefsCommands(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.run("prefs", "theme"))
	assert.Contains(t, h.stderr.String(), "Switched to dark mode")

	require.NoError(t, h.run("prefs", "favorite", "m-1"))
	assert.Contains(t, h.stderr.String(), "Added to favorites")

	require.NoError(t, h.run("prefs", "show"))
	out := h.stdout.String()
	assert.Contains(t, out, "theme dark")
	assert.Contains(t, out, "favorites 1")
	assert.Contains(t, out, "m-1")

	assert.Contains(t, out, "stored theme saved")

	require.NoError(t, h.run("prefs", "favorite", "m-1"))
	assert.Contains(t, h.stderr.String(), "Removed from favorites")

	require.NoError(t, h.run("prefs", "reset"))
	require.NoError(t, h.run("prefs", "show"))
	assert.Contains(t, h.stdout.String(), "theme light")
	assert.NotContains(t, h.stdout.String(), "stored")
}

func TestConfigSetAndShow(t *testing.T) {
	h := newHarness(t)
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	require.NoError(t, h.run("config", "set", "query.top_k", "7"))
	assert.Contains(t, h.stderr.String(), "Set query.top_k = 7")

	loadConfig = config.Load
	require.NoError(t, h.run("config", "show"))
	out := h.stdout.String()
	assert.Contains(t, out, "query.top_k = 7")
	assert.NotContains(t, out, "remote.api_token")

	assert.Error(t, h.run("config", "set", "query.top_k", "many"))

	require.NoError(t, h.run("config", "unset", "query.top_k"))
	require.NoError(t, h.run("config", "show"))
	assert.Contains(t, h.stdout.String(), "query.top_k = 4")
}

func TestNoColorFlag(t *testing.T) {
	h := newHarness(t)
	color.NoColor = false
	defer func() { noColor = false }()

	require.NoError(t, h.run("--no-color", "prefs", "show"))
	assert.True(t, color.NoColor)
	assert.NotContains(t, h.stdout.String(), "\033[")
}

func TestReportTasks(t *testing.T) {
	buf := &bytes.Buffer{}
	old := stderr
	stderr = buf
	defer func() { stderr = old }()

	err := reportTasks([]upload.Task{
		{FileName: "a.pdf", Status: upload.Succeeded, Detail: "2 chunks"},
	})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "a.pdf uploaded (2 chunks)")
}

func TestPrintAnswer_NoSources(t *testing.T) {
	buf := &bytes.Buffer{}
	printAnswer(buf, session.MessageView{Message: query.Message{Answer: "just this"}})
	assert.Equal(t, "just this\n", buf.String())
}

func TestPrintHistory_UnknownTime(t *testing.T) {
	buf := &bytes.Buffer{}
	now := time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)
	printHistory(buf, []history.Entry{
		{Question: "q1", Answer: "a1", Timestamp: now.Add(-2 * time.Hour)},
		{Question: "q2", Answer: "a2"},
	}, now)
	out := buf.String()
	assert.Contains(t, out, "2 hours ago")
	assert.Contains(t, out, "unknown time")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "a b c", truncate("a\n b\t c", 10))
	assert.Equal(t, "abcd…", truncate("abcdefgh", 5))
	assert.True(t, strings.HasSuffix(truncate(strings.Repeat("é", 40), 10), "…"))
}
