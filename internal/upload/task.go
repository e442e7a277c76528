// Package upload tracks file uploads to the remote service, one task per
// file, from enqueue to a terminal state.
package upload

import (
	"cmp"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

// Status is a task's position in its lifecycle. It only moves forward.
type Status int

const (
	Queued Status = iota
	InFlight
	Succeeded
	Failed
)

func (s Status) String() string {
	switch s {
	case Queued:
		return "queued"
	case InFlight:
		return "uploading"
	case Succeeded:
		return "done"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Terminal reports whether s is Succeeded or Failed.
func (s Status) Terminal() bool { return s == Succeeded || s == Failed }

// canAdvance reports whether a task may move from s to next.
func (s Status) canAdvance(next Status) bool {
	if s.Terminal() {
		return false
	}
	switch next {
	case InFlight:
		return s == Queued
	case Succeeded, Failed:
		return true
	}
	return false
}

// Task is one file's upload record.
type Task struct {
	ID         string
	FileName   string
	Path       string
	Size       int64
	Pages      int
	Status     Status
	Detail     string
	Chunks     int
	EnqueuedAt time.Time
}

// Ext returns the lower-cased extension without the dot.
func (t Task) Ext() string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(t.FileName)), ".")
}

// SortKey orders a task list for display.
type SortKey int

const (
	SortRecent SortKey = iota
	SortName
	SortType
)

// ParseSortKey accepts "recent", "name", and "type".
func ParseSortKey(s string) SortKey {
	switch strings.ToLower(s) {
	case "name":
		return SortName
	case "type":
		return SortType
	}
	return SortRecent
}

func (k SortKey) String() string {
	switch k {
	case SortName:
		return "name"
	case SortType:
		return "type"
	}
	return "recent"
}

// Next cycles through the sort keys.
func (k SortKey) Next() SortKey { return (k + 1) % 3 }

// Sorted returns a copy of tasks in display order. SortRecent keeps
// enqueue order.
func Sorted(tasks []Task, key SortKey) []Task {
	out := slices.Clone(tasks)
	switch key {
	case SortName:
		slices.SortStableFunc(out, func(a, b Task) int {
			return cmp.Compare(strings.ToLower(a.FileName), strings.ToLower(b.FileName))
		})
	case SortType:
		slices.SortStableFunc(out, func(a, b Task) int { return cmp.Compare(a.Ext(), b.Ext()) })
	}
	return out
}

var icons = map[string]string{
	"pdf":  "📕",
	"docx": "📘",
	"doc":  "📘",
	"png":  "🖼️",
	"jpg":  "🖼️",
	"jpeg": "🖼️",
	"mp3":  "🎵",
	"wav":  "🎵",
}

// Icon returns a glyph for the file's type.
func Icon(fileName string) string {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(fileName)), ".")
	if icon, ok := icons[ext]; ok {
		return icon
	}
	return "📄"
}
