package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kalambet/ragdesk/internal/api"
	"github.com/kalambet/ragdesk/internal/config"
	"github.com/kalambet/ragdesk/internal/history"
	"github.com/kalambet/ragdesk/internal/prefs"
	"github.com/kalambet/ragdesk/internal/query"
	"github.com/kalambet/ragdesk/internal/session"
	"github.com/kalambet/ragdesk/internal/storage"
	"github.com/kalambet/ragdesk/internal/tui"
	"github.com/kalambet/ragdesk/internal/upload"
)

// loadConfig is swapped in tests.
var loadConfig = config.Load

func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}

// startConnected runs Start and fails when the health probe did not reach
// the service.
func startConnected(ctx context.Context, a *app) error {
	a.sess.Start(ctx)
	if !a.sess.Snapshot().Connected {
		return fmt.Errorf("cannot connect to backend at %s", a.cfg.Remote.BaseURL)
	}
	return nil
}

// --- tui ---

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Open the interactive interface",
	Args:  cobra.NoArgs,
	RunE:  runTUI,
}

func runTUI(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := openSession(cfg, false)
	if err != nil {
		return err
	}
	defer a.close()

	exportDir, err := os.Getwd()
	if err != nil {
		exportDir = os.TempDir()
	}

	ctx, stop := commandContext(cmd)
	defer stop()
	waitStart := a.startBackground(ctx)
	defer waitStart()

	sortFlag, _ := cmd.Flags().GetString("sort")
	model := tui.New(a.sess, exportDir).WithSortKey(upload.ParseSortKey(sortFlag))
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("running interface: %w", err)
	}
	return nil
}

func init() {
	for _, c := range []*cobra.Command{rootCmd, tuiCmd} {
		c.Flags().String("sort", "recent", "initial order of the uploads panel: recent, name, or type")
	}
}

// --- upload ---

var uploadCmd = &cobra.Command{
	Use:   "upload <file>...",
	Short: "Upload documents to the remote index",
	Long: `Upload documents to the remote index. Files are sent one after another
and each outcome is reported.

Examples:
  ragdesk upload ./paper.pdf
  ragdesk upload ./notes.docx ./scan.png`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := openSession(cfg, false)
		if err != nil {
			return err
		}
		defer a.close()

		ctx, stop := commandContext(cmd)
		defer stop()
		if err := startConnected(ctx, a); err != nil {
			return err
		}

		ids, err := a.sess.EnqueueFiles(args)
		if err != nil {
			return err
		}
		for _, id := range ids {
			if t, ok := a.sess.Snapshot().Task(id); ok {
				printStep("%s %s (%s)", upload.Icon(t.FileName), t.FileName, upload.Describe(t))
			}
		}

		tasks, err := a.sess.AwaitTasks(ctx, ids)
		if err != nil {
			return err
		}
		return reportTasks(tasks)
	},
}

func reportTasks(tasks []upload.Task) error {
	failed := 0
	for _, t := range tasks {
		if t.Status == upload.Succeeded {
			printSuccess("%s uploaded (%s)", t.FileName, t.Detail)
			continue
		}
		failed++
		printError("%s: %s", t.FileName, t.Detail)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d uploads failed", failed, len(tasks))
	}
	return nil
}

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <question>...",
	Short: "Ask a question about the indexed documents",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := openSession(cfg, false)
		if err != nil {
			return err
		}
		defer a.close()

		ctx, stop := commandContext(cmd)
		defer stop()
		if err := startConnected(ctx, a); err != nil {
			return err
		}

		id, err := a.sess.SubmitQuestion(strings.Join(args, " "))
		if err != nil {
			return err
		}
		printStep("thinking… the first answer can take a while")

		msg, err := a.sess.Await(ctx, id)
		if err != nil {
			return err
		}
		if msg.State == query.Errored {
			return fmt.Errorf("query failed: %s", msg.Error)
		}
		printAnswer(cmd.OutOrStdout(), msg)
		return nil
	},
}

func printAnswer(w io.Writer, msg session.MessageView) {
	fmt.Fprintln(w, msg.Answer)
	if len(msg.Sources) > 0 {
		fmt.Fprintf(w, "\n%s\n", label("Sources"))
		for i, s := range msg.Sources {
			fmt.Fprintf(w, "  %d. %s [%.0f%%]\n", i+1, s.DocumentRef, s.Relevance*100)
			if s.Excerpt != "" {
				fmt.Fprintf(w, "     %s\n", truncate(s.Excerpt, 160))
			}
		}
	}
	if msg.ProcessingTime > 0 {
		fmt.Fprintf(w, "\n%s %.1fs\n", label("Time:"), msg.ProcessingTime.Seconds())
	}
}

// --- history ---

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List past questions, newest first",
	Long: `List past questions recorded by the remote service, newest first.

Examples:
  ragdesk history
  ragdesk history --window today
  ragdesk history --window week --search invoice`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		windowFlag, _ := cmd.Flags().GetString("window")
		search, _ := cmd.Flags().GetString("search")
		limit, _ := cmd.Flags().GetInt("limit")

		window, err := history.ParseWindow(windowFlag)
		if err != nil {
			return err
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := openSession(cfg, false)
		if err != nil {
			return err
		}
		defer a.close()

		ctx, stop := commandContext(cmd)
		defer stop()
		if err := startConnected(ctx, a); err != nil {
			return err
		}

		entries := a.sess.FilterHistory(window, search)
		if len(entries) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No history found.")
			return nil
		}
		if limit > 0 && len(entries) > limit {
			entries = entries[:limit]
		}
		printHistory(cmd.OutOrStdout(), entries, time.Now())
		return nil
	},
}

func printHistory(w io.Writer, entries []history.Entry, now time.Time) {
	for _, e := range entries {
		when := "unknown time"
		if !e.Timestamp.IsZero() {
			when = humanize.RelTime(e.Timestamp, now, "ago", "from now")
		}
		fmt.Fprintf(w, "%s  %s\n", label(truncate(e.Question, 80)), when)
		fmt.Fprintf(w, "  %s\n", truncate(e.Answer, 200))
	}
}

func init() {
	historyCmd.Flags().String("window", "all", "time window: all, today, or week")
	historyCmd.Flags().String("search", "", "only questions containing this text")
	historyCmd.Flags().Int("limit", 20, "maximum number of entries")
}

// --- stats ---

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show counters of the remote index",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := openSession(cfg, false)
		if err != nil {
			return err
		}
		defer a.close()

		ctx, stop := commandContext(cmd)
		defer stop()
		if err := startConnected(ctx, a); err != nil {
			return err
		}

		snap := a.sess.Snapshot()
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "  %s %s\n", label("Backend:"), cfg.Remote.BaseURL)
		fmt.Fprintf(w, "  %s %s\n", label("Documents:"), humanize.Comma(int64(snap.Stats.TotalDocuments)))
		fmt.Fprintf(w, "  %s %s\n", label("Queries:"), humanize.Comma(int64(snap.Stats.TotalQueries)))
		return nil
	},
}

// --- prefs ---

var prefsCmd = &cobra.Command{
	Use:   "prefs",
	Short: "Show or change stored preferences",
}

var prefsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show theme and favorite message ids",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := openLocal(cfg, false)
		if err != nil {
			return err
		}
		defer a.close()

		p := a.prefs.Preferences()
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "  %s %s\n", label("theme"), p.Theme)
		ids := p.FavoriteIDs()
		fmt.Fprintf(w, "  %s %d\n", label("favorites"), len(ids))
		for _, id := range ids {
			fmt.Fprintf(w, "    %s\n", id)
		}

		stored, err := a.store.AllPreferences()
		if err != nil {
			return fmt.Errorf("reading stored preferences: %w", err)
		}
		for _, sp := range stored {
			fmt.Fprintf(w, "  %s %s saved %s\n", label("stored"), sp.Key, humanize.Time(sp.UpdatedAt))
		}
		return nil
	},
}

var prefsResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Forget the stored theme and favorites",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := openLocal(cfg, false)
		if err != nil {
			return err
		}
		defer a.close()

		for _, key := range []string{prefs.KeyTheme, prefs.KeyFavorites} {
			if err := a.store.DeletePreference(key); err != nil && !errors.Is(err, storage.ErrNotFound) {
				return fmt.Errorf("deleting %s: %w", key, err)
			}
		}
		printSuccess("Preferences reset")
		return nil
	},
}

var prefsThemeCmd = &cobra.Command{
	Use:   "theme",
	Short: "Toggle between light and dark mode",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := openLocal(cfg, false)
		if err != nil {
			return err
		}
		defer a.close()

		theme, err := a.prefs.ToggleTheme()
		if err != nil {
			return fmt.Errorf("could not save theme: %w", err)
		}
		printSuccess("Switched to %s mode", theme)
		return nil
	},
}

var prefsFavoriteCmd = &cobra.Command{
	Use:   "favorite <message-id>",
	Short: "Toggle the favorite mark of a message id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := openLocal(cfg, false)
		if err != nil {
			return err
		}
		defer a.close()

		fav, err := a.prefs.ToggleFavorite(args[0])
		if err != nil {
			return fmt.Errorf("could not save favorites: %w", err)
		}
		if fav {
			printSuccess("Added to favorites")
		} else {
			printSuccess("Removed from favorites")
		}
		return nil
	},
}

func init() {
	prefsCmd.AddCommand(prefsShowCmd, prefsThemeCmd, prefsFavoriteCmd, prefsResetCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "  %s %s\n", label("file:"), config.Path())
		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(w, "  %s = %s\n", label(k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Remove a configuration value so its default applies",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UnsetKey(args[0]); err != nil {
			return err
		}
		printSuccess("Unset %s", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configUnsetCmd)
}

// --- mcp ---

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the session as MCP tools over stdio",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := openSession(cfg, false)
		if err != nil {
			return err
		}
		defer a.close()

		ctx, stop := commandContext(cmd)
		defer stop()
		waitStart := a.startBackground(ctx)
		defer waitStart()

		a.logger.Info("serving MCP over stdio", zap.String("version", version))
		return server.ServeStdio(api.NewMCPServer(a.sess, version, a.logger))
	},
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
