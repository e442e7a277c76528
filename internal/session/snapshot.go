package session

import (
	"time"

	"github.com/kalambet/ragdesk/internal/history"
	"github.com/kalambet/ragdesk/internal/notify"
	"github.com/kalambet/ragdesk/internal/prefs"
	"github.com/kalambet/ragdesk/internal/query"
	"github.com/kalambet/ragdesk/internal/remote"
	"github.com/kalambet/ragdesk/internal/upload"
)

// MessageView is a message joined with its favorite mark.
type MessageView struct {
	query.Message
	Favorite bool
}

// Snapshot is an immutable view of the whole session. Slices in a published
// snapshot are never modified afterwards; callers must not modify them
// either.
type Snapshot struct {
	Version      uint64
	Stats        remote.Stats
	Tasks        []upload.Task
	Messages     []MessageView
	History      []history.Entry
	Notification *notify.Notification
	Preferences  prefs.Preferences
	Connected    bool
	LastRefresh  time.Time
}

// Task returns the task with id.
func (s Snapshot) Task(id string) (upload.Task, bool) {
	for _, t := range s.Tasks {
		if t.ID == id {
			return t, true
		}
	}
	return upload.Task{}, false
}

// Message returns the message with id.
func (s Snapshot) Message(id string) (MessageView, bool) {
	for _, m := range s.Messages {
		if m.ID == id {
			return m, true
		}
	}
	return MessageView{}, false
}

// Pending reports how many messages still await an answer.
func (s Snapshot) Pending() int {
	n := 0
	for _, m := range s.Messages {
		if m.State == query.Pending {
			n++
		}
	}
	return n
}

// Uploading reports whether any task has not settled.
func (s Snapshot) Uploading() bool {
	for _, t := range s.Tasks {
		if !t.Status.Terminal() {
			return true
		}
	}
	return false
}
