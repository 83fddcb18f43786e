package tracker

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/loqalabs/loqa-podcast/internal/config"
	"github.com/loqalabs/loqa-podcast/internal/podcast"
	"github.com/loqalabs/loqa-podcast/internal/taskstore"
)

type memStore struct {
	mu       sync.Mutex
	tasks    map[string]taskstore.Task
	events   []taskstore.TaskEvent
	failNext int
	writes   int
}

func newMemStore() *memStore {
	return &memStore{tasks: map[string]taskstore.Task{}}
}

func (m *memStore) ReadTask(_ context.Context, id string) (taskstore.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[id]
	if !ok {
		return taskstore.Task{}, taskstore.ErrNotFound
	}
	return task, nil
}

func (m *memStore) WriteTask(_ context.Context, task taskstore.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNext > 0 {
		m.failNext--
		return errors.New("disk full")
	}
	m.writes++
	m.tasks[task.ID] = task
	return nil
}

func (m *memStore) AppendTaskEvent(_ context.Context, evt taskstore.TaskEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, evt)
	return nil
}

type recordingNotifier struct {
	mu       sync.Mutex
	progress []int
}

func (r *recordingNotifier) Notify(_ context.Context, task taskstore.Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = append(r.progress, task.Progress)
}

func TestProgressNeverDecreases(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	notes := &recordingNotifier{}
	tr := New(store, "t1", WithNotifier(notes))
	if err := tr.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	for _, p := range []int{5, 9, 50, 20, 80, 150, -3} {
		tr.Update(ctx, p, "step")
	}
	if got := tr.Snapshot().Progress; got != 100 {
		t.Fatalf("expected clamped progress 100, got %d", got)
	}
	last := -1
	for _, p := range notes.progress {
		if p < last {
			t.Fatalf("observed decreasing progress: %v", notes.progress)
		}
		last = p
	}
}

func TestTerminalStatesAreIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	tr := New(store, "t1")
	if err := tr.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	tr.Update(ctx, 40, "rendering")
	if err := tr.Fail(ctx, "synthesis failed for turn 3"); err != nil {
		t.Fatalf("fail: %v", err)
	}
	writes := store.writes

	if err := tr.Complete(ctx); err != nil {
		t.Fatalf("complete after fail: %v", err)
	}
	if err := tr.Fail(ctx, "again"); err != nil {
		t.Fatalf("second fail: %v", err)
	}
	tr.Update(ctx, 90, "late")
	if err := tr.LinkPodcast(ctx, "pod"); err != nil {
		t.Fatalf("link after fail: %v", err)
	}

	snap := tr.Snapshot()
	if snap.Status != taskstore.StatusFailed || snap.ErrorMessage != "synthesis failed for turn 3" {
		t.Fatalf("terminal state changed: %+v", snap)
	}
	if snap.Progress != 40 {
		t.Fatalf("expected progress to stay at 40, got %d", snap.Progress)
	}
	if store.writes != writes {
		t.Fatalf("expected no writes after terminal state, got %d more", store.writes-writes)
	}
}

func TestUpdateSwallowsStoreErrors(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	tr := New(store, "t1")
	if err := tr.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	store.failNext = 1
	tr.Update(ctx, 10, "content")
	if tr.Snapshot().Progress != 10 {
		t.Fatalf("expected in-memory progress to advance")
	}
}

func TestLinkAndTerminalWritesAreFatal(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	tr := New(store, "t1")
	if err := tr.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	store.failNext = 1
	if err := tr.LinkPodcast(ctx, "pod-1"); !errors.Is(err, podcast.ErrPersistence) {
		t.Fatalf("expected ErrPersistence from link, got %v", err)
	}
	store.failNext = 1
	if err := tr.Complete(ctx); !errors.Is(err, podcast.ErrPersistence) {
		t.Fatalf("expected ErrPersistence from complete, got %v", err)
	}
	if tr.Snapshot().Status.Terminal() {
		t.Fatal("failed terminal write must not leave the tracker terminal")
	}
	if err := tr.Fail(ctx, "could not save"); err != nil {
		t.Fatalf("fail: %v", err)
	}
	if store.tasks["t1"].Status != taskstore.StatusFailed {
		t.Fatalf("expected failed row, got %+v", store.tasks["t1"])
	}
}

func TestWarningsSurfaceOnTask(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	tr := New(store, "t1")
	_ = tr.Start(ctx)
	tr.Warn(ctx, "cover image failed")
	tr.Warn(ctx, "portrait for guest failed")
	if err := tr.Complete(ctx); err != nil {
		t.Fatalf("complete: %v", err)
	}
	row := store.tasks["t1"]
	if row.Status != taskstore.StatusCompleted || row.Progress != 100 {
		t.Fatalf("unexpected row: %+v", row)
	}
	if row.WarningMessage != "cover image failed; portrait for guest failed" {
		t.Fatalf("unexpected warning message: %q", row.WarningMessage)
	}
}

func TestStartKeepsTerminalTask(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.tasks["done"] = taskstore.Task{ID: "done", Status: taskstore.StatusCompleted, Progress: 100}
	tr := New(store, "done")
	if err := tr.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if tr.Snapshot().Status != taskstore.StatusCompleted {
		t.Fatalf("expected completed task to stay completed")
	}
}

func TestTrackerAgainstSQLite(t *testing.T) {
	ctx := context.Background()
	cfg := config.TaskStoreConfig{Path: filepath.Join(t.TempDir(), "tasks.db")}
	store, err := taskstore.Open(ctx, cfg, nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if err := store.CreateTask(ctx, taskstore.Task{ID: "t1", Request: podcast.Request{Topic: "bees"}}); err != nil {
		t.Fatalf("create: %v", err)
	}

	tr := New(store, "t1")
	if err := tr.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	tr.Update(ctx, 50, "Generating audio...")
	if err := tr.LinkPodcast(ctx, "pod-1"); err != nil {
		t.Fatalf("link: %v", err)
	}
	if err := tr.Complete(ctx); err != nil {
		t.Fatalf("complete: %v", err)
	}

	row, err := store.ReadTask(ctx, "t1")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if row.Status != taskstore.StatusCompleted || row.PodcastID != "pod-1" || row.Request.Topic != "bees" {
		t.Fatalf("unexpected row: %+v", row)
	}
	events, _ := store.ListTaskEvents(ctx, "t1", 0)
	if len(events) != 4 {
		t.Fatalf("expected 4 timeline events, got %d", len(events))
	}
}

func TestCompleteFailsWhenRowWasFinishedElsewhere(t *testing.T) {
	ctx := context.Background()
	store, err := taskstore.Open(ctx, config.TaskStoreConfig{Path: filepath.Join(t.TempDir(), "tasks.db")}, nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if err := store.CreateTask(ctx, taskstore.Task{ID: "t1"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	tr := New(store, "t1")
	if err := tr.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	// another process marks the run interrupted
	if err := store.WriteTask(ctx, taskstore.Task{ID: "t1", Status: taskstore.StatusFailed, ErrorMessage: "interrupted"}); err != nil {
		t.Fatalf("fail elsewhere: %v", err)
	}

	if err := tr.Complete(ctx); !errors.Is(err, podcast.ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
	if tr.Snapshot().Status != taskstore.StatusInProgress {
		t.Fatalf("expected in-memory state to roll back, got %s", tr.Snapshot().Status)
	}
	row, _ := store.ReadTask(ctx, "t1")
	if row.Status != taskstore.StatusFailed || row.ErrorMessage != "interrupted" {
		t.Fatalf("finished row was overwritten: %+v", row)
	}
}
