package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/facebookgo/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/ragdesk/internal/notify"
	"github.com/kalambet/ragdesk/internal/remote"
)

var (
	// ErrEmptyBatch is returned by Enqueue when no paths are given.
	ErrEmptyBatch = errors.New("no files to upload")
	// ErrClosed is returned when the ledger no longer accepts changes.
	ErrClosed = errors.New("task list is closed")
)

// Ledger owns the task list. ApplyTasks runs fn at most once under the
// ledger's lock and skips it entirely once the ledger is closed. fn
// receives the current list and returns the replacement; it must not modify
// its argument.
type Ledger interface {
	ApplyTasks(fn func([]Task) []Task)
}

// Uploader sends one file to the remote service.
type Uploader interface {
	Upload(ctx context.Context, fileName string, body io.Reader) (remote.UploadResult, error)
}

// Notifier shows a transient notification.
type Notifier interface {
	Notify(message string, severity notify.Severity)
}

// Options configures a Tracker.
type Options struct {
	// Concurrency bounds in-flight uploads per batch. Values below 2 make a
	// batch strictly sequential.
	Concurrency int
	// OnBatchDone runs once after every task of a batch settled.
	OnBatchDone func()
	Clock       clock.Clock
	Logger      *zap.Logger
}

// Tracker turns file paths into upload tasks and drives them to completion.
// It holds no task state of its own.
type Tracker struct {
	ledger   Ledger
	uploader Uploader
	notifier Notifier
	opts     Options
	logger   *zap.Logger

	wg sync.WaitGroup
}

// NewTracker creates a Tracker.
func NewTracker(ledger Ledger, uploader Uploader, notifier Notifier, opts Options) *Tracker {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		ledger:   ledger,
		uploader: uploader,
		notifier: notifier,
		opts:     opts,
		logger:   logger.Named("upload"),
	}
}

// Enqueue creates one Queued task per path and starts processing them in the
// background. It returns the new task ids in path order.
func (t *Tracker) Enqueue(ctx context.Context, paths []string) ([]string, error) {
	if len(paths) == 0 {
		return nil, ErrEmptyBatch
	}

	now := t.opts.Clock.Now()
	batch := make([]Task, len(paths))
	ids := make([]string, len(paths))
	for i, p := range paths {
		size, pages := inspect(p)
		batch[i] = Task{
			ID:         uuid.New().String(),
			FileName:   filepath.Base(p),
			Path:       p,
			Size:       size,
			Pages:      pages,
			Status:     Queued,
			EnqueuedAt: now,
		}
		ids[i] = batch[i].ID
	}

	queued := false
	t.ledger.ApplyTasks(func(tasks []Task) []Task {
		t.wg.Add(1)
		queued = true
		return append(slices.Clone(tasks), batch...)
	})
	if !queued {
		return nil, ErrClosed
	}
	t.logger.Info("batch queued", zap.Int("files", len(batch)))

	go func() {
		defer t.wg.Done()
		t.run(ctx, batch)
	}()
	return ids, nil
}

// Remove deletes a task regardless of its status and reports whether it was
// present. A later settlement for it is dropped.
func (t *Tracker) Remove(id string) bool {
	removed := false
	t.ledger.ApplyTasks(func(tasks []Task) []Task {
		i := slices.IndexFunc(tasks, func(task Task) bool { return task.ID == id })
		if i < 0 {
			return tasks
		}
		removed = true
		return slices.Delete(slices.Clone(tasks), i, i+1)
	})
	return removed
}

// Clear deletes every task.
func (t *Tracker) Clear() {
	t.ledger.ApplyTasks(func([]Task) []Task { return nil })
}

// Wait blocks until every background batch has returned.
func (t *Tracker) Wait() {
	t.wg.Wait()
}

func (t *Tracker) run(ctx context.Context, batch []Task) {
	if t.opts.Concurrency < 2 {
		for _, task := range batch {
			if ctx.Err() != nil {
				return
			}
			t.process(ctx, task)
		}
	} else {
		g := new(errgroup.Group)
		g.SetLimit(t.opts.Concurrency)
		for _, task := range batch {
			g.Go(func() error {
				if ctx.Err() == nil {
					t.process(ctx, task)
				}
				return nil
			})
		}
		g.Wait()
		if ctx.Err() != nil {
			return
		}
	}

	if t.opts.OnBatchDone != nil {
		t.opts.OnBatchDone()
	}
}

func (t *Tracker) process(ctx context.Context, task Task) {
	log := t.logger.With(zap.String("task_id", task.ID), zap.String("file", task.FileName))

	f, err := os.Open(task.Path)
	if err != nil {
		log.Warn("open failed", zap.Error(err))
		if t.settle(task.ID, Failed, err.Error(), 0) {
			t.notifier.Notify("Error uploading "+task.FileName, notify.Error)
		}
		return
	}
	defer f.Close()

	if !t.advance(task.ID, InFlight, func(*Task) {}) {
		return
	}

	res, err := t.uploader.Upload(ctx, task.FileName, f)
	if err != nil {
		log.Warn("upload failed", zap.Error(err))
		if !t.settle(task.ID, Failed, remote.Detail(err), 0) {
			return
		}
		if errors.Is(err, remote.ErrRejected) {
			t.notifier.Notify("Failed to upload "+task.FileName, notify.Error)
		} else {
			t.notifier.Notify("Error uploading "+task.FileName, notify.Error)
		}
		return
	}

	log.Info("uploaded", zap.Int("chunks", res.ChunksCreated))
	if t.settle(task.ID, Succeeded, fmt.Sprintf("%d chunks", res.ChunksCreated), res.ChunksCreated) {
		t.notifier.Notify(task.FileName+" uploaded successfully", notify.Success)
	}
}

func (t *Tracker) settle(id string, status Status, detail string, chunks int) bool {
	return t.advance(id, status, func(task *Task) {
		task.Detail = detail
		task.Chunks = chunks
	})
}

// advance moves the task with the given id to next and applies mutate to
// it. It reports false when the task is gone or the move would go backwards.
func (t *Tracker) advance(id string, next Status, mutate func(*Task)) bool {
	applied := false
	t.ledger.ApplyTasks(func(tasks []Task) []Task {
		i := slices.IndexFunc(tasks, func(task Task) bool { return task.ID == id })
		if i < 0 {
			return tasks
		}
		if !tasks[i].Status.canAdvance(next) {
			t.logger.Warn("refusing status regression",
				zap.String("task_id", id),
				zap.Stringer("from", tasks[i].Status),
				zap.Stringer("to", next))
			return tasks
		}
		out := slices.Clone(tasks)
		out[i].Status = next
		mutate(&out[i])
		applied = true
		return out
	})
	return applied
}
