package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kalambet/ragdesk/internal/history"
	"github.com/kalambet/ragdesk/internal/query"
	"github.com/kalambet/ragdesk/internal/remote"
	"github.com/kalambet/ragdesk/internal/session"
	"github.com/kalambet/ragdesk/internal/upload"
)

// --- mocks ---

type fakeSession struct {
	mu         sync.Mutex
	snap       session.Snapshot
	submitted  []string
	submitErr  error
	answer     session.MessageView
	enqueued   []string
	tasks      []upload.Task
	entries    []history.Entry
	window     history.Window
	search     string
	refreshErr error
	refreshes  int
	favorites  map[string]bool
}

func newFakeSession() *fakeSession {
	return &fakeSession{favorites: map[string]bool{}}
}

func (f *fakeSession) Snapshot() session.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeSession) SubmitQuestion(q string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, q)
	return "m1", f.submitErr
}

func (f *fakeSession) EnqueueFiles(paths []string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(paths) == 0 {
		return nil, upload.ErrEmptyBatch
	}
	f.enqueued = append(f.enqueued, paths...)
	ids := make([]string, len(paths))
	for i := range paths {
		ids[i] = f.tasks[i].ID
	}
	return ids, nil
}

func (f *fakeSession) Await(ctx context.Context, id string) (session.MessageView, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := f.answer
	m.ID = id
	return m, nil
}

func (f *fakeSession) AwaitTasks(ctx context.Context, ids []string) ([]upload.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tasks[:len(ids)], nil
}

func (f *fakeSession) FilterHistory(window history.Window, search string) []history.Entry {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.window, f.search = window, search
	return f.entries
}

func (f *fakeSession) Refresh(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	return f.refreshErr
}

func (f *fakeSession) ToggleFavorite(id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id != "m1" {
		return false, session.ErrUnknownMessage
	}
	f.favorites[id] = !f.favorites[id]
	return f.favorites[id], nil
}

// --- helpers ---

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content, "no content in result")
	tc, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected TextContent, got %T", result.Content[0])
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func makeReadResourceRequest(uri string) mcp.ReadResourceRequest {
	return mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{
			URI: uri,
		},
	}
}

// --- tests ---

func TestMCPTool_Ask_ReturnsAnswerWithSources(t *testing.T) {
	sess := newFakeSession()
	sess.answer = session.MessageView{Message: query.Message{
		Question:       "what is X?",
		Answer:         "X is a thing",
		State:          query.Resolved,
		ProcessingTime: 1500 * time.Millisecond,
		Sources: []query.Source{
			{DocumentRef: "a.pdf", Type: "pdf", Relevance: 0.9, Excerpt: "X is"},
		},
	}}

	result, err := mcpAsk(sess)(context.Background(), makeCallToolRequest("ask_question", map[string]interface{}{
		"question": "what is X?",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, toolText(t, result))

	var got messageResult
	require.NoError(t, json.Unmarshal([]byte(toolText(t, result)), &got))
	assert.Equal(t, "m1", got.ID)
	assert.Equal(t, "resolved", got.State)
	assert.Equal(t, "X is a thing", got.Answer)
	assert.InDelta(t, 1.5, got.ProcessingTime, 0.001)
	require.Len(t, got.Sources, 1)
	assert.Equal(t, "a.pdf", got.Sources[0].Document)
	assert.Equal(t, []string{"what is X?"}, sess.submitted)
}

func TestMCPTool_Ask_MissingQuestion(t *testing.T) {
	result, err := mcpAsk(newFakeSession())(context.Background(), makeCallToolRequest("ask_question", map[string]interface{}{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestMCPTool_Ask_EmptyQuestion(t *testing.T) {
	sess := newFakeSession()
	sess.submitErr = query.ErrEmptyQuestion

	result, err := mcpAsk(sess)(context.Background(), makeCallToolRequest("ask_question", map[string]interface{}{
		"question": "   ",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Equal(t, "question is empty", toolText(t, result))
}

func TestMCPTool_Ask_AlreadyPendingWaitsOnExisting(t *testing.T) {
	sess := newFakeSession()
	sess.submitErr = query.ErrAlreadyPending
	sess.answer = session.MessageView{Message: query.Message{Question: "q", Answer: "a", State: query.Resolved}}

	result, err := mcpAsk(sess)(context.Background(), makeCallToolRequest("ask_question", map[string]interface{}{
		"question": "q",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, toolText(t, result))
	assert.Contains(t, toolText(t, result), `"answer":"a"`)
}

func TestMCPTool_Ask_ErroredMessage(t *testing.T) {
	sess := newFakeSession()
	sess.answer = session.MessageView{Message: query.Message{Question: "q", State: query.Errored, Error: "model down"}}

	result, err := mcpAsk(sess)(context.Background(), makeCallToolRequest("ask_question", map[string]interface{}{
		"question": "q",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, toolText(t, result), "model down")
}

func TestMCPTool_Upload_ReportsEachTask(t *testing.T) {
	sess := newFakeSession()
	sess.tasks = []upload.Task{
		{ID: "t1", FileName: "a.pdf", Status: upload.Succeeded, Detail: "3 chunks", Chunks: 3},
		{ID: "t2", FileName: "b.pdf", Status: upload.Failed, Detail: "corrupt file"},
	}

	result, err := mcpUpload(sess)(context.Background(), makeCallToolRequest("upload_files", map[string]interface{}{
		"paths": []interface{}{"/tmp/a.pdf", "/tmp/b.pdf"},
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, toolText(t, result))

	var got []taskResult
	require.NoError(t, json.Unmarshal([]byte(toolText(t, result)), &got))
	require.Len(t, got, 2)
	assert.Equal(t, "done", got[0].Status)
	assert.Equal(t, 3, got[0].Chunks)
	assert.Equal(t, "failed", got[1].Status)
	assert.Equal(t, "corrupt file", got[1].Detail)
	assert.Equal(t, []string{"/tmp/a.pdf", "/tmp/b.pdf"}, sess.enqueued)
}

func TestMCPTool_Upload_EmptyPaths(t *testing.T) {
	result, err := mcpUpload(newFakeSession())(context.Background(), makeCallToolRequest("upload_files", map[string]interface{}{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Equal(t, "paths is required", toolText(t, result))
}

func TestMCPTool_History_FiltersAndLimits(t *testing.T) {
	sess := newFakeSession()
	ts := time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)
	sess.entries = []history.Entry{
		{Question: "q3", Answer: "a3", Timestamp: ts, SourceCount: 2},
		{Question: "q2", Answer: "a2"},
		{Question: "q1", Answer: "a1"},
	}

	result, err := mcpHistory(sess, zap.NewNop())(context.Background(), makeCallToolRequest("list_history", map[string]interface{}{
		"window": "today",
		"search": "q",
		"limit":  2,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, toolText(t, result))

	var got []historyResult
	require.NoError(t, json.Unmarshal([]byte(toolText(t, result)), &got))
	require.Len(t, got, 2)
	assert.Equal(t, "q3", got[0].Question)
	assert.Equal(t, ts.Format(time.RFC3339), got[0].Timestamp)
	assert.Empty(t, got[1].Timestamp)
	assert.Equal(t, history.Today, sess.window)
	assert.Equal(t, "q", sess.search)
	assert.Equal(t, 1, sess.refreshes)
}

func TestMCPTool_History_StaleOnRefreshFailure(t *testing.T) {
	sess := newFakeSession()
	sess.refreshErr = errors.New("down")
	sess.entries = []history.Entry{{Question: "old"}}
	core, logs := observer.New(zapcore.WarnLevel)

	result, err := mcpHistory(sess, zap.New(core))(context.Background(), makeCallToolRequest("list_history", map[string]interface{}{}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Contains(t, toolText(t, result), "old")
	assert.Equal(t, history.All, sess.window)

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "down", entries[0].ContextMap()["error"])
}

func TestMCPTool_History_BadWindow(t *testing.T) {
	result, err := mcpHistory(newFakeSession(), zap.NewNop())(context.Background(), makeCallToolRequest("list_history", map[string]interface{}{
		"window": "fortnight",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestMCPTool_Stats(t *testing.T) {
	sess := newFakeSession()
	sess.snap.Stats = remote.Stats{TotalDocuments: 7, TotalQueries: 3}

	result, err := mcpStats(sess, zap.NewNop())(context.Background(), makeCallToolRequest("get_stats", nil))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var got remote.Stats
	require.NoError(t, json.Unmarshal([]byte(toolText(t, result)), &got))
	assert.Equal(t, 7, got.TotalDocuments)
	assert.Equal(t, 3, got.TotalQueries)
}

func TestMCPTool_Stats_RefreshError(t *testing.T) {
	for name, refreshErr := range map[string]error{
		"stats":    fmt.Errorf("%w: unreachable", session.ErrStatsRefresh),
		"both":     errors.Join(fmt.Errorf("%w: a", session.ErrStatsRefresh), fmt.Errorf("%w: b", session.ErrHistoryRefresh)),
		"untagged": session.ErrClosed,
	} {
		t.Run(name, func(t *testing.T) {
			sess := newFakeSession()
			sess.refreshErr = refreshErr

			result, err := mcpStats(sess, zap.NewNop())(context.Background(), makeCallToolRequest("get_stats", nil))
			require.NoError(t, err)
			assert.True(t, result.IsError)
		})
	}
}

func TestMCPTool_Stats_HistoryOnlyFailure(t *testing.T) {
	sess := newFakeSession()
	sess.snap.Stats = remote.Stats{TotalDocuments: 5}
	sess.refreshErr = fmt.Errorf("%w: history store down", session.ErrHistoryRefresh)
	core, logs := observer.New(zapcore.WarnLevel)

	result, err := mcpStats(sess, zap.New(core))(context.Background(), makeCallToolRequest("get_stats", nil))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var got remote.Stats
	require.NoError(t, json.Unmarshal([]byte(toolText(t, result)), &got))
	assert.Equal(t, 5, got.TotalDocuments)
	assert.Equal(t, 1, logs.Len())
}

func TestMCPTool_ToggleFavorite(t *testing.T) {
	sess := newFakeSession()
	handler := mcpToggleFavorite(sess)
	req := makeCallToolRequest("toggle_favorite", map[string]interface{}{"message_id": "m1"})

	result, err := handler(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "Added to favorites", toolText(t, result))

	result, err = handler(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "Removed from favorites", toolText(t, result))

	result, err = handler(context.Background(), makeCallToolRequest("toggle_favorite", map[string]interface{}{"message_id": "nope"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestMCPResource_Messages(t *testing.T) {
	sess := newFakeSession()
	sess.snap.Messages = []session.MessageView{
		{Message: query.Message{ID: "m1", Question: "q", Answer: "a", State: query.Resolved}, Favorite: true},
		{Message: query.Message{ID: "m2", Question: "q2", State: query.Pending}},
	}

	contents, err := mcpResourceMessages(sess)(context.Background(), makeReadResourceRequest("session://messages"))
	require.NoError(t, err)
	require.Len(t, contents, 1)

	tc, ok := contents[0].(mcp.TextResourceContents)
	require.True(t, ok)
	assert.Equal(t, "session://messages", tc.URI)

	var got []messageResult
	require.NoError(t, json.Unmarshal([]byte(tc.Text), &got))
	require.Len(t, got, 2)
	assert.True(t, got[0].Favorite)
	assert.Equal(t, "pending", got[1].State)
}

func TestNewMCPServer_RegistersTools(t *testing.T) {
	s := NewMCPServer(newFakeSession(), "test", nil)
	require.NotNil(t, s)
}
