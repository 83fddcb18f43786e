package taskstore

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/loqalabs/loqa-podcast/internal/config"
	"github.com/loqalabs/loqa-podcast/internal/podcast"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func openStore(t *testing.T, cfg config.TaskStoreConfig) *Store {
	t.Helper()
	if cfg.Path == "" {
		cfg.Path = filepath.Join(t.TempDir(), "tasks.db")
	}
	s, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open task store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCreateAndReadTask(t *testing.T) {
	s := openStore(t, config.TaskStoreConfig{})
	ctx := context.Background()

	req := podcast.Request{Topic: "tide pools", Language: "en-US"}
	if err := s.CreateTask(ctx, Task{ID: "task-1", Request: req}); err != nil {
		t.Fatalf("create task: %v", err)
	}
	task, err := s.ReadTask(ctx, "task-1")
	if err != nil {
		t.Fatalf("read task: %v", err)
	}
	if task.Status != StatusPending {
		t.Fatalf("expected pending, got %s", task.Status)
	}
	if task.Request.Topic != "tide pools" {
		t.Fatalf("unexpected request: %+v", task.Request)
	}
	if err := s.CreateTask(ctx, Task{ID: "task-1"}); err == nil {
		t.Fatal("expected duplicate id to be rejected")
	}
}

func TestReadTaskNotFound(t *testing.T) {
	s := openStore(t, config.TaskStoreConfig{})
	if _, err := s.ReadTask(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestWriteTaskNeverRegresses(t *testing.T) {
	s := openStore(t, config.TaskStoreConfig{})
	ctx := context.Background()
	if err := s.CreateTask(ctx, Task{ID: "t"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := s.WriteTask(ctx, Task{ID: "t", Status: StatusInProgress, Progress: 50, ProgressMessage: "audio"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := s.WriteTask(ctx, Task{ID: "t", Status: StatusInProgress, Progress: 20, ProgressMessage: "late"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	task, _ := s.ReadTask(ctx, "t")
	if task.Progress != 50 {
		t.Fatalf("expected progress to stay at 50, got %d", task.Progress)
	}

	if err := s.WriteTask(ctx, Task{ID: "t", Status: StatusFailed, Progress: 50, ErrorMessage: "boom"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	err := s.WriteTask(ctx, Task{ID: "t", Status: StatusCompleted, Progress: 100})
	if !errors.Is(err, ErrTaskFinished) || !errors.Is(err, podcast.ErrPersistence) {
		t.Fatalf("expected finished task error, got %v", err)
	}
	if err := s.WriteTask(ctx, Task{ID: "t", Status: StatusInProgress, Progress: 80}); !errors.Is(err, ErrTaskFinished) {
		t.Fatalf("expected progress write on a failed task to be rejected, got %v", err)
	}
	task, _ = s.ReadTask(ctx, "t")
	if task.Status != StatusFailed || task.ErrorMessage != "boom" {
		t.Fatalf("terminal state overwritten: %+v", task)
	}
}

func TestWriteTaskKeepsPodcastLink(t *testing.T) {
	s := openStore(t, config.TaskStoreConfig{})
	ctx := context.Background()
	_ = s.CreateTask(ctx, Task{ID: "t"})
	if err := s.WriteTask(ctx, Task{ID: "t", Status: StatusInProgress, PodcastID: "pod-1"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := s.WriteTask(ctx, Task{ID: "t", Status: StatusInProgress, Progress: 20}); err != nil {
		t.Fatalf("write: %v", err)
	}
	task, _ := s.ReadTask(ctx, "t")
	if task.PodcastID != "pod-1" {
		t.Fatalf("expected podcast link to survive, got %q", task.PodcastID)
	}
}

func TestTaskEvents(t *testing.T) {
	s := openStore(t, config.TaskStoreConfig{})
	ctx := context.Background()
	_ = s.CreateTask(ctx, Task{ID: "t"})
	for i, msg := range []string{"started", "metadata", "content"} {
		if err := s.AppendTaskEvent(ctx, TaskEvent{TaskID: "t", Status: StatusInProgress, Progress: i * 5, Message: msg}); err != nil {
			t.Fatalf("append event: %v", err)
		}
	}
	events, err := s.ListTaskEvents(ctx, "t", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[0].Message != "started" || events[2].Message != "content" {
		t.Fatalf("events out of order: %+v", events)
	}
}

func TestListTasksByStatus(t *testing.T) {
	s := openStore(t, config.TaskStoreConfig{})
	ctx := context.Background()
	_ = s.CreateTask(ctx, Task{ID: "a"})
	_ = s.CreateTask(ctx, Task{ID: "b"})
	_ = s.WriteTask(ctx, Task{ID: "b", Status: StatusInProgress})

	pending, err := s.ListTasks(ctx, StatusPending, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != "a" {
		t.Fatalf("unexpected pending tasks: %+v", pending)
	}
	all, _ := s.ListTasks(ctx, "", 0)
	if len(all) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(all))
	}
}

func TestSaveAndReadPodcast(t *testing.T) {
	s := openStore(t, config.TaskStoreConfig{})
	ctx := context.Background()
	start, end := 0.5, 1.5
	p := Podcast{
		ID:     "pod-1",
		TaskID: "t",
		Metadata: podcast.Metadata{
			Title:  "Tides",
			Tags:   []string{"ocean"},
			People: []podcast.Person{{ID: "host", Name: "Ana", Gender: podcast.GenderFemale, Interviewer: true}},
		},
		Generating: true,
	}
	if err := s.SavePodcast(ctx, p); err != nil {
		t.Fatalf("save: %v", err)
	}
	p.Turns = []podcast.Turn{{Ordinal: 0, SpeakerID: "host", Text: "Hi", Start: &start, End: &end}}
	p.Duration = 1.5
	p.AudioPath = "podcast-audio/pod-1.wav"
	p.Generating = false
	if err := s.SavePodcast(ctx, p); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := s.ReadPodcast(ctx, "pod-1")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Generating || got.AudioPath != p.AudioPath || got.Duration != 1.5 {
		t.Fatalf("unexpected podcast: %+v", got)
	}
	if len(got.Turns) != 1 || got.Turns[0].End == nil || *got.Turns[0].End != 1.5 {
		t.Fatalf("turn markers not persisted: %+v", got.Turns)
	}
	if got.Metadata.People[0].Name != "Ana" {
		t.Fatalf("people not persisted: %+v", got.Metadata.People)
	}
}

func TestPruneTerminalTasks(t *testing.T) {
	s := openStore(t, config.TaskStoreConfig{RetentionDays: 1})
	ctx := context.Background()

	s.clock = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	_ = s.CreateTask(ctx, Task{ID: "old-done"})
	_ = s.WriteTask(ctx, Task{ID: "old-done", Status: StatusCompleted, Progress: 100})
	_ = s.AppendTaskEvent(ctx, TaskEvent{TaskID: "old-done", Status: StatusCompleted, Progress: 100})
	_ = s.CreateTask(ctx, Task{ID: "old-pending"})

	s.clock = func() time.Time { return time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC) }
	_ = s.CreateTask(ctx, Task{ID: "fresh"})
	if err := s.Prune(ctx); err != nil {
		t.Fatalf("prune: %v", err)
	}

	if _, err := s.ReadTask(ctx, "old-done"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected old terminal task pruned, got %v", err)
	}
	if _, err := s.ReadTask(ctx, "old-pending"); err != nil {
		t.Fatalf("pending task must survive prune: %v", err)
	}
	events, _ := s.ListTaskEvents(ctx, "old-done", 10)
	if len(events) != 0 {
		t.Fatalf("expected events pruned, got %d", len(events))
	}
}
