package history

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/facebookgo/clock"

	"github.com/kalambet/ragdesk/internal/remote"
)

// DefaultLimit is how many records a refresh asks for.
const DefaultLimit = 50

// Fetcher reads the remote history log.
type Fetcher interface {
	History(ctx context.Context, limit int) ([]remote.HistoryRecord, error)
}

// Index holds the latest history snapshot. A refresh replaces it wholesale.
type Index struct {
	fetcher Fetcher
	clock   clock.Clock
	limit   int

	mu      sync.RWMutex
	entries []Entry
	fetched time.Time
}

// NewIndex creates an empty index. limit <= 0 means DefaultLimit; a nil
// clock means the wall clock.
func NewIndex(f Fetcher, clk clock.Clock, limit int) *Index {
	if clk == nil {
		clk = clock.New()
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Index{fetcher: f, clock: clk, limit: limit}
}

// Fetch reads the remote log without touching the index.
func (x *Index) Fetch(ctx context.Context) ([]Entry, error) {
	records, err := x.fetcher.History(ctx, x.limit)
	if err != nil {
		return nil, fmt.Errorf("fetching history: %w", err)
	}
	return FromRecords(records), nil
}

// Refresh fetches and installs a new snapshot. On error the previous
// snapshot is kept.
func (x *Index) Refresh(ctx context.Context) error {
	entries, err := x.Fetch(ctx)
	if err != nil {
		return err
	}
	x.Replace(entries)
	return nil
}

// Replace installs entries as the current snapshot.
func (x *Index) Replace(entries []Entry) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.entries = slices.Clone(entries)
	x.fetched = x.clock.Now()
}

// Entries returns the current snapshot in arrival order.
func (x *Index) Entries() []Entry {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return slices.Clone(x.entries)
}

// FetchedAt reports when the snapshot was last replaced.
func (x *Index) FetchedAt() time.Time {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.fetched
}

// Filter evaluates window and search against the current snapshot at the
// index clock's current instant.
func (x *Index) Filter(window Window, search string) []Entry {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return Filter(x.entries, window, search, x.clock.Now())
}
