package worker

import (
	"context"
	"log/slog"

	"github.com/loqalabs/loqa-podcast/internal/bus"
	"github.com/loqalabs/loqa-podcast/internal/protocol"
	"github.com/loqalabs/loqa-podcast/internal/taskstore"
)

// StatusPublisher broadcasts task state changes on podcast.task.status.<id>.
type StatusPublisher struct {
	bus *bus.Client
	log *slog.Logger
}

func NewStatusPublisher(busClient *bus.Client, logger *slog.Logger) *StatusPublisher {
	return &StatusPublisher{bus: busClient, log: logger.With(slog.String("component", "worker.status"))}
}

func (p *StatusPublisher) Notify(_ context.Context, task taskstore.Task) {
	if p == nil || p.bus == nil {
		return
	}
	msg := protocol.TaskStatus{
		TaskID:          task.ID,
		Status:          string(task.Status),
		Progress:        task.Progress,
		ProgressMessage: task.ProgressMessage,
		ErrorMessage:    task.ErrorMessage,
		WarningMessage:  task.WarningMessage,
		PodcastID:       task.PodcastID,
		Timestamp:       task.UpdatedAt,
	}
	if err := p.bus.PublishJSON(protocol.TaskStatusSubject(task.ID), msg); err != nil {
		p.log.Warn("failed to publish task status", slog.String("task_id", task.ID), slog.String("error", err.Error()))
	}
}
