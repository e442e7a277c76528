package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/kalambet/ragdesk/internal/history"
	"github.com/kalambet/ragdesk/internal/query"
	"github.com/kalambet/ragdesk/internal/session"
	"github.com/kalambet/ragdesk/internal/upload"
)

// Session is the orchestrator surface exposed as MCP tools.
type Session interface {
	Snapshot() session.Snapshot
	SubmitQuestion(question string) (string, error)
	EnqueueFiles(paths []string) ([]string, error)
	Await(ctx context.Context, id string) (session.MessageView, error)
	AwaitTasks(ctx context.Context, ids []string) ([]upload.Task, error)
	FilterHistory(window history.Window, search string) []history.Entry
	Refresh(ctx context.Context) error
	ToggleFavorite(id string) (bool, error)
}

// NewMCPServer creates an MCP server with the ragdesk tools and resources
// registered. A nil logger discards.
func NewMCPServer(sess Session, version string, logger *zap.Logger) *server.MCPServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("mcp")
	s := server.NewMCPServer(
		"ragdesk",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("ragdesk: ask questions about documents indexed by a remote retrieval service, upload new documents, and browse past questions."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("ask_question",
			mcp.WithDescription("Ask a natural-language question about the indexed documents and wait for the answer with its sources."),
			mcp.WithString("question", mcp.Description("The question to ask"), mcp.Required()),
		),
		mcpAsk(sess),
	)

	s.AddTool(
		mcp.NewTool("upload_files",
			mcp.WithDescription("Upload local files to the remote index, one after another, and report each file's outcome."),
			mcp.WithArray("paths", mcp.Description("Absolute paths of the files to upload"), mcp.Required(), mcp.WithStringItems()),
		),
		mcpUpload(sess),
	)

	s.AddTool(
		mcp.NewTool("list_history",
			mcp.WithDescription("List past questions and answers recorded by the remote service, newest first."),
			mcp.WithString("window", mcp.Description("Time window: all, today, or week (default all)")),
			mcp.WithString("search", mcp.Description("Case-insensitive text that questions must contain")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of entries (default 20)")),
		),
		mcpHistory(sess, logger),
	)

	s.AddTool(
		mcp.NewTool("get_stats",
			mcp.WithDescription("Return document and query counters of the remote index."),
		),
		mcpStats(sess, logger),
	)

	s.AddTool(
		mcp.NewTool("toggle_favorite",
			mcp.WithDescription("Mark or unmark a message of this session as a favorite."),
			mcp.WithString("message_id", mcp.Description("Message id returned by ask_question"), mcp.Required()),
		),
		mcpToggleFavorite(sess),
	)

	s.AddResource(
		mcp.NewResource(
			"session://messages",
			"Conversation",
			mcp.WithResourceDescription("Questions and answers of the current session as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceMessages(sess),
	)

	return s
}

type sourceResult struct {
	Document  string  `json:"document"`
	Type      string  `json:"type,omitempty"`
	Relevance float64 `json:"relevance"`
	Excerpt   string  `json:"excerpt,omitempty"`
}

type messageResult struct {
	ID             string         `json:"id"`
	Question       string         `json:"question"`
	State          string         `json:"state"`
	Answer         string         `json:"answer,omitempty"`
	Error          string         `json:"error,omitempty"`
	Sources        []sourceResult `json:"sources,omitempty"`
	ProcessingTime float64        `json:"processing_time_seconds,omitempty"`
	Favorite       bool           `json:"favorite"`
}

func toMessageResult(m session.MessageView) messageResult {
	r := messageResult{
		ID:             m.ID,
		Question:       m.Question,
		State:          m.State.String(),
		Answer:         m.Answer,
		Error:          m.Error,
		ProcessingTime: m.ProcessingTime.Seconds(),
		Favorite:       m.Favorite,
	}
	for _, s := range m.Sources {
		r.Sources = append(r.Sources, sourceResult{
			Document:  s.DocumentRef,
			Type:      s.Type,
			Relevance: s.Relevance,
			Excerpt:   s.Excerpt,
		})
	}
	return r
}

func mcpAsk(sess Session) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil {
			return mcpError("question is required"), nil
		}

		id, err := sess.SubmitQuestion(question)
		switch {
		case errors.Is(err, query.ErrAlreadyPending):
			// Wait on the identical question already in flight.
		case errors.Is(err, query.ErrEmptyQuestion):
			return mcpError("question is empty"), nil
		case err != nil:
			return mcpError(fmt.Sprintf("ask failed: %v", err)), nil
		}

		msg, err := sess.Await(ctx, id)
		if err != nil {
			return mcpError(fmt.Sprintf("waiting for answer: %v", err)), nil
		}
		if msg.State == query.Errored {
			return mcpError(fmt.Sprintf("query failed: %s", msg.Error)), nil
		}
		return mcpJSON(toMessageResult(msg))
	}
}

type taskResult struct {
	ID     string `json:"id"`
	File   string `json:"file"`
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
	Chunks int    `json:"chunks,omitempty"`
}

func mcpUpload(sess Session) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		paths := req.GetStringSlice("paths", nil)
		ids, err := sess.EnqueueFiles(paths)
		if errors.Is(err, upload.ErrEmptyBatch) {
			return mcpError("paths is required"), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("upload failed: %v", err)), nil
		}

		tasks, err := sess.AwaitTasks(ctx, ids)
		if err != nil {
			return mcpError(fmt.Sprintf("waiting for uploads: %v", err)), nil
		}
		results := make([]taskResult, len(tasks))
		for i, t := range tasks {
			results[i] = taskResult{ID: t.ID, File: t.FileName, Status: t.Status.String(), Detail: t.Detail, Chunks: t.Chunks}
		}
		return mcpJSON(results)
	}
}

type historyResult struct {
	Question  string `json:"question"`
	Answer    string `json:"answer"`
	Timestamp string `json:"timestamp,omitempty"`
	Sources   int    `json:"sources"`
}

func mcpHistory(sess Session, logger *zap.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		window, err := history.ParseWindow(req.GetString("window", "all"))
		if err != nil {
			return mcpError(err.Error()), nil
		}
		limit := req.GetInt("limit", 20)
		if limit <= 0 {
			limit = 20
		}

		// Stale history is still listed.
		if err := sess.Refresh(ctx); err != nil {
			logger.Warn("history refresh failed, listing cached entries", zap.Error(err))
		}

		entries := sess.FilterHistory(window, req.GetString("search", ""))
		if len(entries) > limit {
			entries = entries[:limit]
		}
		results := make([]historyResult, len(entries))
		for i, e := range entries {
			results[i] = historyResult{Question: e.Question, Answer: e.Answer, Sources: e.SourceCount}
			if !e.Timestamp.IsZero() {
				results[i].Timestamp = e.Timestamp.Format(time.RFC3339)
			}
		}
		return mcpJSON(results)
	}
}

func mcpStats(sess Session, logger *zap.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		err := sess.Refresh(ctx)
		switch {
		case err == nil:
		case errors.Is(err, session.ErrHistoryRefresh) && !errors.Is(err, session.ErrStatsRefresh):
			logger.Warn("history refresh failed, stats are current", zap.Error(err))
		default:
			return mcpError(err.Error()), nil
		}
		return mcpJSON(sess.Snapshot().Stats)
	}
}

func mcpToggleFavorite(sess Session) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("message_id")
		if err != nil {
			return mcpError("message_id is required"), nil
		}
		fav, err := sess.ToggleFavorite(id)
		if errors.Is(err, session.ErrUnknownMessage) {
			return mcpError(fmt.Sprintf("no message %s in this session", id)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("toggle failed: %v", err)), nil
		}
		if fav {
			return mcpText("Added to favorites"), nil
		}
		return mcpText("Removed from favorites"), nil
	}
}

func mcpResourceMessages(sess Session) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		msgs := sess.Snapshot().Messages
		results := make([]messageResult, len(msgs))
		for i, m := range msgs {
			results[i] = toMessageResult(m)
		}
		b, err := json.Marshal(results)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal messages: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
