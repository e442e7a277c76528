package session

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/kalambet/ragdesk/internal/history"
	"github.com/kalambet/ragdesk/internal/notify"
	"github.com/kalambet/ragdesk/internal/prefs"
	"github.com/kalambet/ragdesk/internal/query"
	"github.com/kalambet/ragdesk/internal/upload"
)

// SubmitQuestion asks question in the background and returns the message
// id. See query.Session.Submit for the validation errors.
func (o *Orchestrator) SubmitQuestion(question string) (string, error) {
	if o.isClosed() {
		return "", ErrClosed
	}
	id, err := o.queries.Submit(o.ctx, question)
	if errors.Is(err, query.ErrClosed) {
		return "", ErrClosed
	}
	return id, err
}

// EnqueueFiles starts uploading paths as one batch and returns the task ids.
func (o *Orchestrator) EnqueueFiles(paths []string) ([]string, error) {
	if o.isClosed() {
		return nil, ErrClosed
	}
	ids, err := o.uploads.Enqueue(o.ctx, paths)
	if errors.Is(err, upload.ErrClosed) {
		return nil, ErrClosed
	}
	return ids, err
}

// RemoveUploadTask drops a task from the list whatever its status.
func (o *Orchestrator) RemoveUploadTask(id string) {
	if o.isClosed() || !o.uploads.Remove(id) {
		return
	}
	o.notes.Notify("Document removed from list", notify.Info)
}

// ClearTasks drops every task.
func (o *Orchestrator) ClearTasks() {
	if o.isClosed() {
		return
	}
	o.uploads.Clear()
	o.notes.Notify("Documents list cleared", notify.Info)
}

// ToggleFavorite flips the favorite mark of message id and reports the new
// value. A persistence failure is surfaced as a warning notification.
func (o *Orchestrator) ToggleFavorite(id string) (bool, error) {
	if o.isClosed() {
		return false, ErrClosed
	}
	fav, ok, err := o.queries.ToggleFavorite(id)
	if !ok {
		return false, ErrUnknownMessage
	}
	o.publish()
	if err != nil {
		o.logger.Warn("saving favorites failed", zap.Error(err))
		o.notes.Notify("Could not save favorites", notify.Warning)
	}
	return fav, nil
}

// ToggleTheme switches between light and dark.
func (o *Orchestrator) ToggleTheme() (prefs.Theme, error) {
	if o.isClosed() {
		return "", ErrClosed
	}
	theme, err := o.prefs.ToggleTheme()
	o.publish()
	if err != nil {
		o.logger.Warn("saving theme failed", zap.Error(err))
		o.notes.Notify("Could not save theme", notify.Warning)
		return theme, nil
	}
	o.notes.Notify(fmt.Sprintf("Switched to %s mode", theme), notify.Info)
	return theme, nil
}

// DismissNotification hides the visible notification early.
func (o *Orchestrator) DismissNotification() {
	o.notes.Dismiss()
}

// Notify shows an advisory message on behalf of a renderer.
func (o *Orchestrator) Notify(message string, severity notify.Severity) {
	o.notes.Notify(message, severity)
}

// LoadFromHistory adds a history entry to the conversation as an answered
// message. It reports false if the question is already shown.
func (o *Orchestrator) LoadFromHistory(entry history.Entry) bool {
	if o.isClosed() {
		return false
	}
	return o.queries.LoadFromHistory(entry)
}

// ClearMessages empties the conversation.
func (o *Orchestrator) ClearMessages() {
	if o.isClosed() {
		return
	}
	o.queries.Clear()
	o.notes.Notify("Chat cleared", notify.Info)
}

// ExportMessages writes the conversation as JSON to w.
func (o *Orchestrator) ExportMessages(w io.Writer) error {
	snap := o.Snapshot()
	msgs := make([]query.Message, len(snap.Messages))
	for i, m := range snap.Messages {
		msgs[i] = m.Message
	}
	if err := query.Export(w, msgs); err != nil {
		return fmt.Errorf("exporting chat: %w", err)
	}
	o.notes.Notify("Chat exported successfully", notify.Success)
	return nil
}

// FilterHistory evaluates window and search against the current history.
func (o *Orchestrator) FilterHistory(window history.Window, search string) []history.Entry {
	return o.history.Filter(window, search)
}

// Await blocks until message id leaves Pending and returns it.
func (o *Orchestrator) Await(ctx context.Context, id string) (MessageView, error) {
	return awaitSnapshot(ctx, o, func(s Snapshot) (MessageView, bool, error) {
		m, ok := s.Message(id)
		if !ok {
			return MessageView{}, true, ErrUnknownMessage
		}
		return m, m.State != query.Pending, nil
	})
}

// AwaitTasks blocks until every task in ids settled or was removed, and
// returns the ones still present in ids order.
func (o *Orchestrator) AwaitTasks(ctx context.Context, ids []string) ([]upload.Task, error) {
	return awaitSnapshot(ctx, o, func(s Snapshot) ([]upload.Task, bool, error) {
		out := make([]upload.Task, 0, len(ids))
		for _, id := range ids {
			t, ok := s.Task(id)
			if !ok {
				continue
			}
			if !t.Status.Terminal() {
				return nil, false, nil
			}
			out = append(out, t)
		}
		return out, true, nil
	})
}

// awaitSnapshot evaluates check against each published snapshot until it
// reports done.
func awaitSnapshot[T any](ctx context.Context, o *Orchestrator, check func(Snapshot) (T, bool, error)) (T, error) {
	var zero T
	ch, unsubscribe := o.Subscribe()
	defer unsubscribe()
	for {
		select {
		case snap, ok := <-ch:
			if !ok {
				return zero, ErrClosed
			}
			v, done, err := check(snap)
			if err != nil {
				return zero, err
			}
			if done {
				return v, nil
			}
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

// IsValidation reports whether err is a synchronous input rejection that
// renderers can ignore silently.
func IsValidation(err error) bool {
	return errors.Is(err, upload.ErrEmptyBatch) ||
		errors.Is(err, query.ErrEmptyQuestion) ||
		errors.Is(err, query.ErrAlreadyPending)
}
