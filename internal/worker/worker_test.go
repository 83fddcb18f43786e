package worker

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/loqalabs/loqa-podcast/internal/bus"
	"github.com/loqalabs/loqa-podcast/internal/config"
	"github.com/loqalabs/loqa-podcast/internal/natsserver"
	"github.com/loqalabs/loqa-podcast/internal/pipeline"
	"github.com/loqalabs/loqa-podcast/internal/podcast"
	"github.com/loqalabs/loqa-podcast/internal/protocol"
	"github.com/loqalabs/loqa-podcast/internal/taskstore"
	"github.com/nats-io/nats.go"
)

type recordingRunner struct {
	mu    sync.Mutex
	calls chan string
	topic map[string]string
}

func newRecordingRunner() *recordingRunner {
	return &recordingRunner{calls: make(chan string, 16), topic: map[string]string{}}
}

func (r *recordingRunner) Run(_ context.Context, taskID string, req podcast.Request) (pipeline.Result, error) {
	r.mu.Lock()
	r.topic[taskID] = req.Topic
	r.mu.Unlock()
	r.calls <- taskID
	return pipeline.Result{Task: taskstore.Task{ID: taskID, Status: taskstore.StatusCompleted}}, nil
}

func (r *recordingRunner) wait(t *testing.T) string {
	t.Helper()
	select {
	case id := <-r.calls:
		return id
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for runner")
		return ""
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startBus(t *testing.T) *bus.Client {
	t.Helper()
	srv, err := natsserver.Start(config.BusConfig{Embedded: true, Port: -1}, testLogger())
	if err != nil {
		t.Fatalf("start nats: %v", err)
	}
	t.Cleanup(srv.Shutdown)
	client, err := bus.Connect(context.Background(), config.BusConfig{
		Servers:        []string{srv.ClientURL()},
		ConnectTimeout: 2000,
	}, testLogger())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

func openStore(t *testing.T) *taskstore.Store {
	t.Helper()
	store, err := taskstore.Open(context.Background(), config.TaskStoreConfig{Path: filepath.Join(t.TempDir(), "tasks.db")}, testLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func workerConfig(resume bool) config.WorkerConfig {
	return config.WorkerConfig{Enabled: true, QueueGroup: "podcast-workers", MaxConcurrent: 2, ResumePending: resume}
}

func TestWorkerRunsQueuedRequests(t *testing.T) {
	client := startBus(t)
	runner := newRecordingRunner()
	w, err := New(context.Background(), workerConfig(false), client, openStore(t), runner, testLogger())
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}
	defer w.Close()
	if !w.Healthy() {
		t.Fatal("expected healthy worker")
	}

	if err := Enqueue(client, "task-1", podcast.Request{Topic: "comets"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if id := runner.wait(t); id != "task-1" {
		t.Fatalf("unexpected task %s", id)
	}
	runner.mu.Lock()
	defer runner.mu.Unlock()
	if runner.topic["task-1"] != "comets" {
		t.Fatalf("request not forwarded: %v", runner.topic)
	}
}

func TestWorkerRecoversTasksOnStart(t *testing.T) {
	client := startBus(t)
	store := openStore(t)
	ctx := context.Background()
	if err := store.CreateTask(ctx, taskstore.Task{ID: "pending", Status: taskstore.StatusPending, Request: podcast.Request{Topic: "rivers"}}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.CreateTask(ctx, taskstore.Task{ID: "stale", Status: taskstore.StatusPending}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.WriteTask(ctx, taskstore.Task{ID: "stale", Status: taskstore.StatusInProgress, Progress: 40}); err != nil {
		t.Fatalf("write: %v", err)
	}

	runner := newRecordingRunner()
	w, err := New(ctx, workerConfig(true), client, store, runner, testLogger())
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}
	defer w.Close()

	if id := runner.wait(t); id != "pending" {
		t.Fatalf("expected pending task to be resumed, got %s", id)
	}
	stale, err := store.ReadTask(ctx, "stale")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if stale.Status != taskstore.StatusFailed || stale.ErrorMessage != interruptedMessage || stale.Progress != 40 {
		t.Fatalf("unexpected stale task %+v", stale)
	}
}

func TestDisabledWorkerIsNil(t *testing.T) {
	w, err := New(context.Background(), config.WorkerConfig{}, nil, nil, nil, testLogger())
	if err != nil || w != nil {
		t.Fatalf("expected nil worker, got %v %v", w, err)
	}
	if w.Healthy() {
		t.Fatal("nil worker must not be healthy")
	}
}

func TestStatusPublisherBroadcasts(t *testing.T) {
	client := startBus(t)
	received := make(chan *nats.Msg, 1)
	sub, err := client.Conn().ChanSubscribe(protocol.SubjectTaskStatusAll, received)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe()
	if err := client.Conn().Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	NewStatusPublisher(client, testLogger()).Notify(context.Background(), taskstore.Task{
		ID: "task-9", Status: taskstore.StatusInProgress, Progress: 55, ProgressMessage: "Generating audio...",
	})

	select {
	case msg := <-received:
		if msg.Subject != "podcast.task.status.task-9" {
			t.Fatalf("unexpected subject %s", msg.Subject)
		}
		var status protocol.TaskStatus
		if err := json.Unmarshal(msg.Data, &status); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if status.Progress != 55 || status.Status != "in_progress" {
			t.Fatalf("unexpected status %+v", status)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for status")
	}
}
