// Package query runs question/answer exchanges against the remote service.
package query

import (
	"encoding/json"
	"io"
	"time"

	"github.com/kalambet/ragdesk/internal/remote"
)

// State is a message's resolution state.
type State int

const (
	Pending State = iota
	Resolved
	Errored
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Resolved:
		return "resolved"
	case Errored:
		return "errored"
	}
	return "unknown"
}

// Source is one ranked excerpt backing an answer.
type Source struct {
	DocumentRef string
	Type        string
	Relevance   float64 // clamped to [0, 1]
	Excerpt     string
}

// Message is one question and, once settled, its answer or error.
type Message struct {
	ID             string
	Question       string
	Answer         string
	Sources        []Source
	State          State
	Error          string
	SubmittedAt    time.Time
	ResolvedAt     time.Time
	ProcessingTime time.Duration
	FromHistory    bool
}

func sourcesFrom(in []remote.Source) []Source {
	if len(in) == 0 {
		return nil
	}
	out := make([]Source, len(in))
	for i, s := range in {
		out[i] = Source{
			DocumentRef: s.File,
			Type:        s.Type,
			Relevance:   min(max(s.Similarity, 0), 1),
			Excerpt:     s.Excerpt,
		}
	}
	return out
}

type exportedMessage struct {
	Question string   `json:"question"`
	Answer   string   `json:"answer"`
	Sources  []string `json:"sources"`
}

// Export writes messages as an indented JSON array of question, answer, and
// source document references.
func Export(w io.Writer, messages []Message) error {
	out := make([]exportedMessage, len(messages))
	for i, m := range messages {
		refs := make([]string, len(m.Sources))
		for j, s := range m.Sources {
			refs[j] = s.DocumentRef
		}
		out[i] = exportedMessage{Question: m.Question, Answer: m.Answer, Sources: refs}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
