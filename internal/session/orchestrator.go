// Package session composes uploads, questions, history, notifications, and
// preferences into one observable session state.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"
	"time"

	"github.com/facebookgo/clock"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/kalambet/ragdesk/internal/history"
	"github.com/kalambet/ragdesk/internal/notify"
	"github.com/kalambet/ragdesk/internal/prefs"
	"github.com/kalambet/ragdesk/internal/query"
	"github.com/kalambet/ragdesk/internal/remote"
	"github.com/kalambet/ragdesk/internal/upload"
)

// DefaultRefreshInterval is the period of the background stats/history poll.
const DefaultRefreshInterval = 30 * time.Second

var (
	// ErrClosed is returned by callbacks after Close.
	ErrClosed = errors.New("session closed")
	// ErrUnknownMessage is returned for message ids not in the session.
	ErrUnknownMessage = errors.New("unknown message")
	// ErrStatsRefresh and ErrHistoryRefresh tag the part of a refresh that
	// failed. Both may be present in one error.
	ErrStatsRefresh   = errors.New("fetching stats")
	ErrHistoryRefresh = errors.New("fetching history")
)

// Remote is the subset of the remote service the session uses.
type Remote interface {
	BaseURL() string
	Health(ctx context.Context) (remote.Health, error)
	Stats(ctx context.Context) (remote.Stats, error)
	History(ctx context.Context, limit int) ([]remote.HistoryRecord, error)
	Query(ctx context.Context, question string, topK int) (remote.Answer, error)
	Upload(ctx context.Context, fileName string, body io.Reader) (remote.UploadResult, error)
}

// Preferences is the durable preference store.
type Preferences interface {
	Preferences() prefs.Preferences
	ToggleTheme() (prefs.Theme, error)
	ToggleFavorite(id string) (bool, error)
}

// Options configures an Orchestrator. Remote and Prefs are required.
type Options struct {
	Remote            Remote
	Prefs             Preferences
	TopK              int
	HistoryLimit      int
	UploadConcurrency int
	RefreshInterval   time.Duration
	NotifyTTL         time.Duration
	Clock             clock.Clock
	Logger            *zap.Logger
}

// Orchestrator owns the task and message lists and publishes a new Snapshot
// after every change. All mutation is serialized behind one lock; remote
// calls run in their own goroutines and never hold it.
type Orchestrator struct {
	remote   Remote
	prefs    Preferences
	clock    clock.Clock
	logger   *zap.Logger
	interval time.Duration

	notes   *notify.Queue
	uploads *upload.Tracker
	queries *query.Session
	history *history.Index
	sf      singleflight.Group

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	closed      bool
	started     bool
	ticker      *clock.Ticker
	tasks       []upload.Task
	messages    []query.Message
	stats       remote.Stats
	connected   bool
	lastRefresh time.Time
	version     uint64
	snap        Snapshot
	subs        map[int]chan Snapshot
	nextSub     int
}

// New wires an Orchestrator. Call Start to probe the service and begin
// periodic refreshes, and Close to tear it down.
func New(opts Options) *Orchestrator {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = DefaultRefreshInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		remote:   opts.Remote,
		prefs:    opts.Prefs,
		clock:    opts.Clock,
		logger:   opts.Logger.Named("session"),
		interval: opts.RefreshInterval,
		ctx:      ctx,
		cancel:   cancel,
		subs:     make(map[int]chan Snapshot),
	}
	o.notes = notify.NewQueue(opts.Clock, opts.NotifyTTL, o.publish)
	o.history = history.NewIndex(opts.Remote, opts.Clock, opts.HistoryLimit)
	o.uploads = upload.NewTracker(taskLedger{o}, opts.Remote, o.notes, upload.Options{
		Concurrency: opts.UploadConcurrency,
		OnBatchDone: o.refreshAfterAction,
		Clock:       opts.Clock,
		Logger:      opts.Logger,
	})
	o.queries = query.NewSession(messageLedger{o}, opts.Remote, opts.Prefs, o.notes, query.Options{
		TopK:       opts.TopK,
		OnResolved: o.refreshAfterAction,
		Clock:      opts.Clock,
		Logger:     opts.Logger,
	})

	o.mu.Lock()
	o.publishLocked()
	o.mu.Unlock()
	return o
}

// Start probes the service, runs the initial refresh, and starts the
// periodic refresh. It returns once the initial refresh settled.
func (o *Orchestrator) Start(ctx context.Context) {
	o.mu.Lock()
	if o.closed || o.started {
		o.mu.Unlock()
		return
	}
	o.started = true
	o.mu.Unlock()

	o.probe(ctx)
	if err := o.fetch(ctx); err != nil {
		o.logger.Warn("initial refresh failed", zap.Error(err))
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.ticker = o.clock.Ticker(o.interval)
	o.wg.Add(1)
	go o.poll(o.ticker)
}

func (o *Orchestrator) probe(ctx context.Context) {
	_, err := o.remote.Health(ctx)
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.connected = err == nil
	o.publishLocked()
	o.mu.Unlock()

	switch {
	case err == nil:
		o.logger.Info("connected", zap.String("base_url", o.remote.BaseURL()))
		o.notes.Notify("Connected to backend", notify.Success)
	case errors.Is(err, remote.ErrRejected):
		o.logger.Warn("health probe rejected", zap.Error(err))
		o.notes.Notify("Backend not responding properly", notify.Warning)
	default:
		o.logger.Warn("health probe failed", zap.Error(err))
		o.notes.Notify("Cannot connect to backend at "+o.remote.BaseURL(), notify.Error)
	}
}

func (o *Orchestrator) poll(t *clock.Ticker) {
	defer o.wg.Done()
	for {
		select {
		case <-o.ctx.Done():
			return
		case <-t.C:
			if err := o.coalescedRefresh(); err != nil {
				o.logger.Debug("periodic refresh failed", zap.Error(err))
			}
		}
	}
}

// Close stops the periodic refresh and the notification timer, cancels
// outstanding remote calls, and waits for background work. Results that
// arrive afterwards are discarded. Subscriber channels are closed.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	if o.ticker != nil {
		o.ticker.Stop()
	}
	for id, ch := range o.subs {
		close(ch)
		delete(o.subs, id)
	}
	o.mu.Unlock()

	o.cancel()
	o.notes.Close()
	o.uploads.Wait()
	o.queries.Wait()
	o.wg.Wait()
	o.logger.Debug("session closed")
}

// Snapshot returns the latest published snapshot.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snap
}

// Subscribe returns a channel that always holds the most recent snapshot not
// yet received; intermediate ones are dropped. The current snapshot is
// delivered first. The channel is closed by the returned func or by Close.
func (o *Orchestrator) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		close(ch)
		return ch, func() {}
	}
	id := o.nextSub
	o.nextSub++
	o.subs[id] = ch
	ch <- o.snap

	return ch, func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		if c, ok := o.subs[id]; ok {
			close(c)
			delete(o.subs, id)
		}
	}
}

// publish rebuilds and broadcasts the snapshot.
func (o *Orchestrator) publish() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.publishLocked()
}

func (o *Orchestrator) publishLocked() {
	o.version++
	p := o.prefs.Preferences()

	views := make([]MessageView, len(o.messages))
	for i, m := range o.messages {
		views[i] = MessageView{Message: m, Favorite: p.IsFavorite(m.ID)}
	}

	var note *notify.Notification
	if n, ok := o.notes.Current(); ok {
		note = &n
	}

	o.snap = Snapshot{
		Version:      o.version,
		Stats:        o.stats,
		Tasks:        o.tasks,
		Messages:     views,
		History:      o.history.Entries(),
		Notification: note,
		Preferences:  p,
		Connected:    o.connected,
		LastRefresh:  o.lastRefresh,
	}
	for _, ch := range o.subs {
		select {
		case <-ch:
		default:
		}
		ch <- o.snap
	}
}

type taskLedger struct{ o *Orchestrator }

func (l taskLedger) ApplyTasks(fn func([]upload.Task) []upload.Task) {
	o := l.o
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.tasks = fn(o.tasks)
	o.publishLocked()
}

type messageLedger struct{ o *Orchestrator }

func (l messageLedger) Messages() []query.Message {
	l.o.mu.Lock()
	defer l.o.mu.Unlock()
	return slices.Clone(l.o.messages)
}

func (l messageLedger) ApplyMessages(fn func([]query.Message) []query.Message) {
	o := l.o
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.messages = fn(o.messages)
	o.publishLocked()
}

// refreshAfterAction issues a fresh stats/history read in the background.
// It is never coalesced so the read observes the action that triggered it.
func (o *Orchestrator) refreshAfterAction() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.wg.Add(1)
	o.mu.Unlock()

	go func() {
		defer o.wg.Done()
		if err := o.fetch(o.ctx); err != nil {
			o.logger.Debug("refresh failed", zap.Error(err))
		}
	}()
}

func (o *Orchestrator) coalescedRefresh() error {
	_, err, _ := o.sf.Do("refresh", func() (any, error) {
		return nil, o.fetch(o.ctx)
	})
	return err
}

// Refresh re-reads stats and history now, joining a refresh already in
// progress.
func (o *Orchestrator) Refresh(ctx context.Context) error {
	if o.isClosed() {
		return ErrClosed
	}
	ch := o.sf.DoChan("refresh", func() (any, error) {
		return nil, o.fetch(o.ctx)
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// fetch reads stats and history concurrently and installs whichever part
// succeeded.
func (o *Orchestrator) fetch(ctx context.Context) error {
	var (
		g        errgroup.Group
		stats    remote.Stats
		statsErr error
		entries  []history.Entry
		histErr  error
	)
	g.Go(func() error {
		stats, statsErr = o.remote.Stats(ctx)
		return nil
	})
	g.Go(func() error {
		entries, histErr = o.history.Fetch(ctx)
		return nil
	})
	g.Wait()

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return ErrClosed
	}
	if statsErr == nil {
		o.stats = stats
		o.connected = true
	} else if errors.Is(statsErr, remote.ErrUnreachable) {
		o.connected = false
	}
	if histErr == nil {
		o.history.Replace(entries)
	}
	if statsErr == nil || histErr == nil {
		o.lastRefresh = o.clock.Now()
	}
	o.publishLocked()

	if statsErr != nil {
		statsErr = fmt.Errorf("%w: %w", ErrStatsRefresh, statsErr)
	}
	if histErr != nil {
		histErr = fmt.Errorf("%w: %w", ErrHistoryRefresh, histErr)
	}
	return errors.Join(statsErr, histErr)
}

func (o *Orchestrator) isClosed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}
