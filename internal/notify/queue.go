package notify

import (
	"sync"
	"time"

	"github.com/facebookgo/clock"
)

// DefaultTTL is how long a notification stays visible.
const DefaultTTL = 3 * time.Second

// Severity classifies a notification for display.
type Severity string

const (
	Info    Severity = "info"
	Success Severity = "success"
	Warning Severity = "warning"
	Error   Severity = "error"
)

// Notification is a single advisory message shown to the user.
type Notification struct {
	Message   string
	Severity  Severity
	CreatedAt time.Time
}

// Queue holds at most one visible notification. A new notification replaces
// the current one and restarts the expiry timer; there is no backlog.
type Queue struct {
	clock    clock.Clock
	ttl      time.Duration
	onChange func()

	mu      sync.Mutex
	current *Notification
	timer   *clock.Timer
	gen     uint64
	closed  bool
}

// NewQueue creates a Queue. If clk is nil the wall clock is used; if ttl is
// <= 0 it defaults to DefaultTTL. onChange, if non-nil, is called after every
// change to the visible notification, outside the queue's lock.
func NewQueue(clk clock.Clock, ttl time.Duration, onChange func()) *Queue {
	if clk == nil {
		clk = clock.New()
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Queue{clock: clk, ttl: ttl, onChange: onChange}
}

// Notify shows message, preempting whatever is currently visible.
func (q *Queue) Notify(message string, severity Severity) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.stopTimerLocked()
	q.gen++
	gen := q.gen
	q.current = &Notification{
		Message:   message,
		Severity:  severity,
		CreatedAt: q.clock.Now(),
	}
	q.timer = q.clock.AfterFunc(q.ttl, func() { q.expire(gen) })
	q.mu.Unlock()

	q.changed()
}

// Dismiss clears the current notification early.
func (q *Queue) Dismiss() {
	q.mu.Lock()
	if q.closed || q.current == nil {
		q.mu.Unlock()
		return
	}
	q.stopTimerLocked()
	q.gen++
	q.current = nil
	q.mu.Unlock()

	q.changed()
}

// Current returns the visible notification, if any.
func (q *Queue) Current() (Notification, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.current == nil {
		return Notification{}, false
	}
	return *q.current, true
}

// Close stops the expiry timer. Subsequent calls to Notify and Dismiss are
// ignored.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.stopTimerLocked()
	q.closed = true
	q.current = nil
}

func (q *Queue) expire(gen uint64) {
	q.mu.Lock()
	// A newer notification or a dismissal already superseded this timer.
	if q.closed || gen != q.gen || q.current == nil {
		q.mu.Unlock()
		return
	}
	q.current = nil
	q.timer = nil
	q.mu.Unlock()

	q.changed()
}

func (q *Queue) stopTimerLocked() {
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
}

func (q *Queue) changed() {
	if q.onChange != nil {
		q.onChange()
	}
}
