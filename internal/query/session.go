package query

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/facebookgo/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kalambet/ragdesk/internal/history"
	"github.com/kalambet/ragdesk/internal/notify"
	"github.com/kalambet/ragdesk/internal/remote"
)

// DefaultTopK is how many sources a question asks for.
const DefaultTopK = 4

var (
	// ErrEmptyQuestion is returned for blank questions.
	ErrEmptyQuestion = errors.New("question is empty")
	// ErrAlreadyPending is returned, together with the existing message id,
	// when the same question is still awaiting an answer.
	ErrAlreadyPending = errors.New("question is already pending")
	// ErrClosed is returned when the ledger no longer accepts changes.
	ErrClosed = errors.New("message list is closed")
)

// Ledger owns the message list. ApplyMessages runs fn at most once under
// the ledger's lock and skips it entirely once the ledger is closed. fn must
// not modify its argument.
type Ledger interface {
	Messages() []Message
	ApplyMessages(fn func([]Message) []Message)
}

// Asker sends a question to the remote service.
type Asker interface {
	Query(ctx context.Context, question string, topK int) (remote.Answer, error)
}

// Favorites is the durable favorite set.
type Favorites interface {
	ToggleFavorite(id string) (bool, error)
}

// Notifier shows a transient notification.
type Notifier interface {
	Notify(message string, severity notify.Severity)
}

// Options configures a Session.
type Options struct {
	TopK int
	// OnResolved runs after each message resolves successfully.
	OnResolved func()
	Clock      clock.Clock
	Logger     *zap.Logger
}

// Session submits questions and reconciles answers into the ledger by
// message id. Several questions may be outstanding at once.
type Session struct {
	ledger    Ledger
	asker     Asker
	favorites Favorites
	notifier  Notifier
	opts      Options
	logger    *zap.Logger

	wg sync.WaitGroup
}

// NewSession creates a Session.
func NewSession(ledger Ledger, asker Asker, favorites Favorites, notifier Notifier, opts Options) *Session {
	if opts.TopK <= 0 {
		opts.TopK = DefaultTopK
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		ledger:    ledger,
		asker:     asker,
		favorites: favorites,
		notifier:  notifier,
		opts:      opts,
		logger:    logger.Named("query"),
	}
}

// Submit appends a Pending message for question and asks the remote service
// in the background. It returns the message id.
func (s *Session) Submit(ctx context.Context, question string) (string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", ErrEmptyQuestion
	}

	msg := Message{
		ID:          uuid.New().String(),
		Question:    question,
		State:       Pending,
		SubmittedAt: s.opts.Clock.Now(),
	}
	var existing string
	queued := false
	s.ledger.ApplyMessages(func(msgs []Message) []Message {
		for _, m := range msgs {
			if m.State == Pending && m.Question == question {
				existing = m.ID
				return msgs
			}
		}
		// Counted under the ledger lock so a concurrent Wait sees it.
		s.wg.Add(1)
		queued = true
		return append(slices.Clone(msgs), msg)
	})
	switch {
	case existing != "":
		return existing, ErrAlreadyPending
	case !queued:
		return "", ErrClosed
	}

	go func() {
		defer s.wg.Done()
		s.ask(ctx, msg)
	}()
	return msg.ID, nil
}

func (s *Session) ask(ctx context.Context, msg Message) {
	log := s.logger.With(zap.String("message_id", msg.ID))
	ans, err := s.asker.Query(ctx, msg.Question, s.opts.TopK)
	if ctx.Err() != nil {
		return
	}

	now := s.opts.Clock.Now()
	if err != nil {
		log.Warn("query failed", zap.Error(err))
		if s.settle(msg.ID, func(m *Message) {
			m.State = Errored
			m.Error = remote.Detail(err)
			m.ResolvedAt = now
		}) {
			s.notifier.Notify("Query failed", notify.Error)
		}
		return
	}

	log.Info("query resolved", zap.Int("sources", len(ans.Sources)), zap.Float64("processing_time", ans.ProcessingTime))
	resolved := s.settle(msg.ID, func(m *Message) {
		m.State = Resolved
		m.Answer = ans.Answer
		m.Sources = sourcesFrom(ans.Sources)
		m.ResolvedAt = now
		m.ProcessingTime = time.Duration(ans.ProcessingTime * float64(time.Second))
	})
	if resolved && s.opts.OnResolved != nil {
		s.opts.OnResolved()
	}
}

// settle applies fn to the Pending message with id. It reports false when
// the message is gone or already settled.
func (s *Session) settle(id string, fn func(*Message)) bool {
	applied := false
	s.ledger.ApplyMessages(func(msgs []Message) []Message {
		i := slices.IndexFunc(msgs, func(m Message) bool { return m.ID == id })
		if i < 0 || msgs[i].State != Pending {
			return msgs
		}
		out := slices.Clone(msgs)
		fn(&out[i])
		applied = true
		return out
	})
	return applied
}

// ToggleFavorite flips the favorite mark of a known message. ok is false
// when no message has that id. A non-nil error means the new value could not
// be persisted; it is still in effect for this session.
func (s *Session) ToggleFavorite(id string) (favorite, ok bool, err error) {
	if !slices.ContainsFunc(s.ledger.Messages(), func(m Message) bool { return m.ID == id }) {
		return false, false, nil
	}
	favorite, err = s.favorites.ToggleFavorite(id)
	if favorite {
		s.notifier.Notify("Added to favorites", notify.Info)
	} else {
		s.notifier.Notify("Removed from favorites", notify.Info)
	}
	return favorite, true, err
}

// LoadFromHistory appends an already answered message built from entry,
// unless a message with the same question text exists.
func (s *Session) LoadFromHistory(entry history.Entry) bool {
	added := false
	s.ledger.ApplyMessages(func(msgs []Message) []Message {
		if slices.ContainsFunc(msgs, func(m Message) bool { return m.Question == entry.Question }) {
			return msgs
		}
		added = true
		return append(slices.Clone(msgs), Message{
			ID:             uuid.New().String(),
			Question:       entry.Question,
			Answer:         entry.Answer,
			State:          Resolved,
			SubmittedAt:    entry.Timestamp,
			ResolvedAt:     entry.Timestamp,
			ProcessingTime: time.Duration(entry.ProcessingSeconds * float64(time.Second)),
			FromHistory:    true,
		})
	})
	return added
}

// Clear removes every message. Favorites are left alone.
func (s *Session) Clear() {
	s.ledger.ApplyMessages(func([]Message) []Message { return nil })
}

// Wait blocks until every outstanding question has returned.
func (s *Session) Wait() {
	s.wg.Wait()
}
