// Package history keeps a point-in-time copy of the remote question/answer
// log and answers window and text filters against it.
package history

import (
	"fmt"
	"strings"
	"time"

	"github.com/kalambet/ragdesk/internal/remote"
)

// Window restricts entries by timestamp relative to an evaluation instant.
type Window int

const (
	All Window = iota
	Today
	ThisWeek
)

func (w Window) String() string {
	switch w {
	case Today:
		return "today"
	case ThisWeek:
		return "week"
	default:
		return "all"
	}
}

// ParseWindow accepts "all", "today", and "week" (or "this-week").
func ParseWindow(s string) (Window, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "all":
		return All, nil
	case "today":
		return Today, nil
	case "week", "this-week", "thisweek":
		return ThisWeek, nil
	}
	return All, fmt.Errorf("unknown history window %q (want all, today or week)", s)
}

// Entry is one past exchange.
type Entry struct {
	Question          string
	Answer            string
	Timestamp         time.Time
	SourceCount       int
	ProcessingSeconds float64
}

var layouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// ParseTimestamp reads the service's ISO-8601 timestamps. Values without a
// zone offset are taken as local time. Unparsable input yields the zero time.
func ParseTimestamp(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t
	}
	for _, layout := range layouts[1:] {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t
		}
	}
	return time.Time{}
}

// FromRecords converts remote records to entries, keeping arrival order.
func FromRecords(records []remote.HistoryRecord) []Entry {
	out := make([]Entry, len(records))
	for i, r := range records {
		out[i] = Entry{
			Question:          r.Question,
			Answer:            r.Answer,
			Timestamp:         ParseTimestamp(r.Timestamp),
			SourceCount:       r.RetrievedDocuments,
			ProcessingSeconds: r.ProcessingTimeSeconds,
		}
	}
	return out
}

// Filter returns the entries inside window as seen from now whose question
// contains search (case-insensitive, whitespace included as typed), newest
// arrival first. entries is not modified.
func Filter(entries []Entry, window Window, search string, now time.Time) []Entry {
	needle := strings.ToLower(search)
	start, end := bounds(window, now)

	out := make([]Entry, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if window != All {
			if e.Timestamp.IsZero() || e.Timestamp.Before(start) || !e.Timestamp.Before(end) {
				continue
			}
		}
		if needle != "" && !strings.Contains(strings.ToLower(e.Question), needle) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// bounds returns the half-open interval [start, end) covered by window.
func bounds(window Window, now time.Time) (time.Time, time.Time) {
	y, m, d := now.Date()
	startOfToday := time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	startOfTomorrow := time.Date(y, m, d+1, 0, 0, 0, 0, now.Location())
	switch window {
	case Today:
		return startOfToday, startOfTomorrow
	case ThisWeek:
		return startOfToday.Add(-7 * 24 * time.Hour), startOfTomorrow
	}
	return time.Time{}, time.Time{}
}
