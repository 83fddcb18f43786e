package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-podcast/internal/podcast"
	"github.com/loqalabs/loqa-podcast/internal/taskstore"
)

// TaskStore is the persistence the HTTP surface reads and writes.
type TaskStore interface {
	CreateTask(ctx context.Context, task taskstore.Task) error
	WriteTask(ctx context.Context, task taskstore.Task) error
	ReadTask(ctx context.Context, id string) (taskstore.Task, error)
	ListTasks(ctx context.Context, status taskstore.Status, limit int) ([]taskstore.Task, error)
	ListTaskEvents(ctx context.Context, taskID string, limit int) ([]taskstore.TaskEvent, error)
	ReadPodcast(ctx context.Context, id string) (taskstore.Podcast, error)
}

// EnqueueFunc hands a persisted task to the workers.
type EnqueueFunc func(taskID string, req podcast.Request) error

type api struct {
	store   TaskStore
	enqueue EnqueueFunc
	log     *slog.Logger
	newID   func() string
}

func newAPI(store TaskStore, enqueue EnqueueFunc, logger *slog.Logger) *api {
	return &api{
		store:   store,
		enqueue: enqueue,
		log:     logger.With(slog.String("component", "api")),
		newID:   uuid.NewString,
	}
}

func (a *api) register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/podcasts", a.handleCreate)
	mux.HandleFunc("GET /v1/podcasts/{id}", a.handleGetPodcast)
	mux.HandleFunc("GET /v1/tasks", a.handleListTasks)
	mux.HandleFunc("GET /v1/tasks/{id}", a.handleGetTask)
	mux.HandleFunc("GET /v1/tasks/{id}/events", a.handleTaskEvents)
}

func (a *api) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req podcast.Request
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	req.Topic = strings.TrimSpace(req.Topic)
	if req.Topic == "" {
		writeError(w, http.StatusBadRequest, "topic is required")
		return
	}

	task := taskstore.Task{
		ID:              a.newID(),
		Status:          taskstore.StatusPending,
		ProgressMessage: "Queued",
		Request:         req,
	}
	if err := a.store.CreateTask(r.Context(), task); err != nil {
		a.log.Error("failed to create task", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to create task")
		return
	}
	if err := a.enqueue(task.ID, req); err != nil {
		a.log.Error("failed to enqueue task", slog.String("task_id", task.ID), slog.String("error", err.Error()))
		task.Status = taskstore.StatusFailed
		task.ErrorMessage = "could not enqueue task"
		if werr := a.store.WriteTask(r.Context(), task); werr != nil {
			a.log.Error("failed to mark task failed", slog.String("task_id", task.ID), slog.String("error", werr.Error()))
		}
		writeError(w, http.StatusServiceUnavailable, "generation queue unavailable")
		return
	}
	a.log.Info("task queued", slog.String("task_id", task.ID), slog.String("topic", req.Topic))
	writeJSON(w, http.StatusAccepted, map[string]string{"task_id": task.ID})
}

const maxTaskListing = 500

// taskListing is a task with its podcast record, once one has been linked.
type taskListing struct {
	taskstore.Task
	Podcast *taskstore.Podcast `json:"podcast,omitempty"`
}

func (a *api) handleListTasks(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	status := taskstore.Status(query.Get("status"))
	switch status {
	case "", taskstore.StatusPending, taskstore.StatusInProgress, taskstore.StatusCompleted, taskstore.StatusFailed:
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", status))
		return
	}
	limit := 0
	if raw := query.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxTaskListing)
	}

	tasks, err := a.store.ListTasks(r.Context(), status, limit)
	if err != nil {
		a.writeLookupError(w, "tasks", err)
		return
	}
	out := make([]taskListing, 0, len(tasks))
	for _, task := range tasks {
		item := taskListing{Task: task}
		if task.PodcastID != "" {
			record, err := a.store.ReadPodcast(r.Context(), task.PodcastID)
			switch {
			case err == nil:
				item.Podcast = &record
			case !errors.Is(err, taskstore.ErrNotFound):
				a.writeLookupError(w, "podcast", err)
				return
			}
		}
		out = append(out, item)
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *api) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := a.store.ReadTask(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeLookupError(w, "task", err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (a *api) handleTaskEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := a.store.ReadTask(r.Context(), id); err != nil {
		a.writeLookupError(w, "task", err)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	events, err := a.store.ListTaskEvents(r.Context(), id, limit)
	if err != nil {
		a.writeLookupError(w, "task events", err)
		return
	}
	if events == nil {
		events = []taskstore.TaskEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (a *api) handleGetPodcast(w http.ResponseWriter, r *http.Request) {
	record, err := a.store.ReadPodcast(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeLookupError(w, "podcast", err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (a *api) writeLookupError(w http.ResponseWriter, what string, err error) {
	if errors.Is(err, taskstore.ErrNotFound) {
		writeError(w, http.StatusNotFound, what+" not found")
		return
	}
	a.log.Error("lookup failed", slog.String("kind", what), slog.String("error", err.Error()))
	writeError(w, http.StatusInternalServerError, "lookup failed")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
