package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/loqalabs/loqa-podcast/internal/bus"
	"github.com/loqalabs/loqa-podcast/internal/config"
	"github.com/loqalabs/loqa-podcast/internal/pipeline"
	"github.com/loqalabs/loqa-podcast/internal/podcast"
	"github.com/loqalabs/loqa-podcast/internal/protocol"
	"github.com/loqalabs/loqa-podcast/internal/taskstore"
	"github.com/nats-io/nats.go"
)

const interruptedMessage = "interrupted: worker restarted before the task finished"

type Runner interface {
	Run(ctx context.Context, taskID string, req podcast.Request) (pipeline.Result, error)
}

type Store interface {
	ListTasks(ctx context.Context, status taskstore.Status, limit int) ([]taskstore.Task, error)
	WriteTask(ctx context.Context, task taskstore.Task) error
	AppendTaskEvent(ctx context.Context, evt taskstore.TaskEvent) error
}

// Worker consumes generation requests from the bus and runs them through the pipeline.
type Worker struct {
	cfg    config.WorkerConfig
	log    *slog.Logger
	bus    *bus.Client
	store  Store
	runner Runner
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	sema   chan struct{}

	mu      sync.Mutex
	sub     *nats.Subscription
	healthy bool
}

// New subscribes the worker to generation requests. When cfg.Enabled is false, nil
// is returned.
func New(ctx context.Context, cfg config.WorkerConfig, busClient *bus.Client, store Store, runner Runner, logger *slog.Logger) (*Worker, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if busClient == nil {
		return nil, errors.New("worker requires bus client")
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stdout, nil))
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	cctx, cancel := context.WithCancel(ctx)
	w := &Worker{
		cfg:    cfg,
		log:    logger.With(slog.String("component", "worker")),
		bus:    busClient,
		store:  store,
		runner: runner,
		ctx:    cctx,
		cancel: cancel,
		sema:   make(chan struct{}, cfg.MaxConcurrent),
	}

	sub, err := busClient.Conn().QueueSubscribe(protocol.SubjectGenerateRequest, cfg.QueueGroup, w.handleRequest)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe %s: %w", protocol.SubjectGenerateRequest, err)
	}
	if err := busClient.Conn().Flush(); err != nil {
		_ = sub.Unsubscribe()
		cancel()
		return nil, fmt.Errorf("flush subscription: %w", err)
	}
	w.sub = sub
	w.healthy = true
	w.log.Info("worker subscribed",
		slog.String("subject", protocol.SubjectGenerateRequest),
		slog.String("queue", cfg.QueueGroup),
		slog.Int("max_concurrent", cfg.MaxConcurrent))

	if cfg.ResumePending {
		if err := w.Recover(ctx); err != nil {
			w.log.Warn("task recovery failed", slog.String("error", err.Error()))
		}
	}
	return w, nil
}

// Close drains the subscription and waits for in-flight runs.
func (w *Worker) Close() {
	if w == nil {
		return
	}
	w.cancel()
	w.mu.Lock()
	if w.sub != nil {
		_ = w.sub.Drain()
		w.sub = nil
	}
	w.healthy = false
	w.mu.Unlock()
	w.wg.Wait()
}

func (w *Worker) Healthy() bool {
	if w == nil {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.healthy
}

// Recover fails tasks a previous process left in_progress and re-enqueues the ones
// that never started.
func (w *Worker) Recover(ctx context.Context) error {
	stale, err := w.store.ListTasks(ctx, taskstore.StatusInProgress, 0)
	if err != nil {
		return fmt.Errorf("list in-progress tasks: %w", err)
	}
	for _, task := range stale {
		task.Status = taskstore.StatusFailed
		task.ErrorMessage = interruptedMessage
		task.ProgressMessage = "Podcast generation failed"
		if err := w.store.WriteTask(ctx, task); err != nil {
			w.log.Warn("failed to mark task interrupted", slog.String("task_id", task.ID), slog.String("error", err.Error()))
			continue
		}
		if err := w.store.AppendTaskEvent(ctx, taskstore.TaskEvent{
			TaskID:   task.ID,
			Status:   task.Status,
			Progress: task.Progress,
			Message:  task.ErrorMessage,
		}); err != nil {
			w.log.Warn("task event append failed", slog.String("task_id", task.ID), slog.String("error", err.Error()))
		}
		w.log.Info("marked interrupted task failed", slog.String("task_id", task.ID))
	}

	pending, err := w.store.ListTasks(ctx, taskstore.StatusPending, 0)
	if err != nil {
		return fmt.Errorf("list pending tasks: %w", err)
	}
	for _, task := range pending {
		if err := Enqueue(w.bus, task.ID, task.Request); err != nil {
			return err
		}
		w.log.Info("re-enqueued pending task", slog.String("task_id", task.ID))
	}
	return nil
}

// Enqueue publishes a generation request for an already persisted task.
func Enqueue(busClient *bus.Client, taskID string, req podcast.Request) error {
	msg := protocol.GenerateRequest{TaskID: taskID, Request: req, SubmittedAt: time.Now().UTC()}
	if err := busClient.PublishJSON(protocol.SubjectGenerateRequest, msg); err != nil {
		return fmt.Errorf("enqueue task %s: %w", taskID, err)
	}
	return nil
}

func (w *Worker) handleRequest(msg *nats.Msg) {
	select {
	case <-w.ctx.Done():
		return
	default:
	}
	var req protocol.GenerateRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		w.log.Warn("invalid generate request", slog.String("error", err.Error()))
		return
	}
	if req.TaskID == "" {
		w.log.Warn("generate request without task id")
		return
	}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		select {
		case w.sema <- struct{}{}:
		case <-w.ctx.Done():
			return
		}
		defer func() { <-w.sema }()

		log := w.log.With(slog.String("task_id", req.TaskID))
		log.Info("generation started", slog.String("topic", req.Request.Topic))
		res, err := w.runner.Run(w.ctx, req.TaskID, req.Request)
		if err != nil {
			log.Error("generation failed", slog.String("error", err.Error()))
			return
		}
		log.Info("generation finished",
			slog.String("status", string(res.Task.Status)),
			slog.String("podcast_id", res.Podcast.ID))
	}()
}
