package tracker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/loqalabs/loqa-podcast/internal/podcast"
	"github.com/loqalabs/loqa-podcast/internal/taskstore"
)

// Store persists task rows and their timeline.
type Store interface {
	ReadTask(ctx context.Context, id string) (taskstore.Task, error)
	WriteTask(ctx context.Context, task taskstore.Task) error
	AppendTaskEvent(ctx context.Context, evt taskstore.TaskEvent) error
}

// Notifier receives every state change. Failures are the notifier's problem to log.
type Notifier interface {
	Notify(ctx context.Context, task taskstore.Task)
}

type Option func(*Tracker)

func WithLogger(log *slog.Logger) Option {
	return func(t *Tracker) {
		if log != nil {
			t.log = log
		}
	}
}

func WithNotifier(n Notifier) Option {
	return func(t *Tracker) { t.notifier = n }
}

// Tracker owns the state transitions of a single generation task.
type Tracker struct {
	mu       sync.Mutex
	store    Store
	log      *slog.Logger
	notifier Notifier
	task     taskstore.Task
	warnings []string
}

func New(store Store, taskID string, opts ...Option) *Tracker {
	t := &Tracker{
		store: store,
		log:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		task:  taskstore.Task{ID: taskID, Status: taskstore.StatusPending},
	}
	for _, opt := range opts {
		opt(t)
	}
	t.log = t.log.With(slog.String("task_id", taskID))
	return t
}

// Start loads the persisted row (if any) and moves the task to in_progress at 0%.
// A task that is already terminal stays terminal.
func (t *Tracker) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	existing, err := t.store.ReadTask(ctx, t.task.ID)
	switch {
	case err == nil:
		t.task = existing
	case errors.Is(err, taskstore.ErrNotFound):
	default:
		return fmt.Errorf("%w: load task %s: %v", podcast.ErrPersistence, t.task.ID, err)
	}
	if t.task.Status.Terminal() {
		return nil
	}

	t.task.Status = taskstore.StatusInProgress
	t.task.ProgressMessage = "Starting podcast generation"
	if err := t.persist(ctx); err != nil {
		return fmt.Errorf("%w: start task %s: %v", podcast.ErrPersistence, t.task.ID, err)
	}
	return nil
}

// Update records progress. Lower values than the last recorded one are clamped up.
// Store failures are logged and swallowed.
func (t *Tracker) Update(ctx context.Context, percent int, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.task.Status.Terminal() {
		return
	}
	percent = clamp(percent)
	if percent < t.task.Progress {
		percent = t.task.Progress
	}
	t.task.Status = taskstore.StatusInProgress
	t.task.Progress = percent
	t.task.ProgressMessage = message
	if err := t.persist(ctx); err != nil {
		t.log.Warn("progress write failed", slog.Int("progress", percent), slog.String("error", err.Error()))
	}
}

// LinkPodcast associates the podcast record with the task. The write must succeed.
func (t *Tracker) LinkPodcast(ctx context.Context, podcastID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.task.Status.Terminal() {
		return nil
	}
	prev := t.task.PodcastID
	t.task.PodcastID = podcastID
	if err := t.persist(ctx); err != nil {
		t.task.PodcastID = prev
		return fmt.Errorf("%w: link podcast %s: %v", podcast.ErrPersistence, podcastID, err)
	}
	return nil
}

// Warn records a non-fatal problem that will be surfaced with the terminal state.
func (t *Tracker) Warn(ctx context.Context, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.task.Status.Terminal() || message == "" {
		return
	}
	t.warnings = append(t.warnings, message)
	t.task.WarningMessage = strings.Join(t.warnings, "; ")
	t.log.Warn("task warning", slog.String("warning", message))
	if err := t.persist(ctx); err != nil {
		t.log.Warn("warning write failed", slog.String("error", err.Error()))
	}
}

// Complete marks the task completed at 100%.
func (t *Tracker) Complete(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.task.Status.Terminal() {
		return nil
	}
	prev := t.task
	t.task.Status = taskstore.StatusCompleted
	t.task.Progress = 100
	t.task.ProgressMessage = "Podcast generation complete"
	if err := t.persist(ctx); err != nil {
		t.task = prev
		return fmt.Errorf("%w: complete task %s: %v", podcast.ErrPersistence, t.task.ID, err)
	}
	return nil
}

// Fail marks the task failed with errMessage. Progress keeps its last value.
func (t *Tracker) Fail(ctx context.Context, errMessage string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.task.Status.Terminal() {
		return nil
	}
	prev := t.task
	t.task.Status = taskstore.StatusFailed
	t.task.ErrorMessage = errMessage
	t.task.ProgressMessage = "Podcast generation failed"
	if err := t.persist(ctx); err != nil {
		t.task = prev
		return fmt.Errorf("%w: fail task %s: %v", podcast.ErrPersistence, t.task.ID, err)
	}
	return nil
}

// Snapshot returns a copy of the in-memory task state.
func (t *Tracker) Snapshot() taskstore.Task {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.task
}

// persist writes the row, appends a timeline event and notifies. Callers hold mu.
func (t *Tracker) persist(ctx context.Context) error {
	if err := t.store.WriteTask(ctx, t.task); err != nil {
		return err
	}
	msg := t.task.ProgressMessage
	if t.task.Status == taskstore.StatusFailed {
		msg = t.task.ErrorMessage
	}
	if err := t.store.AppendTaskEvent(ctx, taskstore.TaskEvent{
		TaskID:   t.task.ID,
		Status:   t.task.Status,
		Progress: t.task.Progress,
		Message:  msg,
	}); err != nil {
		t.log.Warn("task event append failed", slog.String("error", err.Error()))
	}
	if t.notifier != nil {
		t.notifier.Notify(ctx, t.task)
	}
	return nil
}

func clamp(percent int) int {
	if percent < 0 {
		return 0
	}
	if percent > 100 {
		return 100
	}
	return percent
}
