package protocol

import (
	"time"

	"github.com/loqalabs/loqa-podcast/internal/podcast"
)

// GenerateRequest asks a worker to run the pipeline for an already persisted task.
type GenerateRequest struct {
	TaskID      string          `json:"task_id"`
	Request     podcast.Request `json:"request"`
	SubmittedAt time.Time       `json:"submitted_at"`
}

// TaskStatus is broadcast on every task state change.
type TaskStatus struct {
	TaskID          string    `json:"task_id"`
	Status          string    `json:"status"`
	Progress        int       `json:"progress"`
	ProgressMessage string    `json:"progress_message"`
	ErrorMessage    string    `json:"error_message,omitempty"`
	WarningMessage  string    `json:"warning_message,omitempty"`
	PodcastID       string    `json:"podcast_id,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

const (
	SubjectGenerateRequest  = "podcast.generate.request"
	SubjectTaskStatusPrefix = "podcast.task.status"
	// SubjectTaskStatusAll matches the status subject of every task.
	SubjectTaskStatusAll = SubjectTaskStatusPrefix + ".>"

	StreamTaskStatus = "PODCAST_TASK_STATUS"
)

func TaskStatusSubject(taskID string) string {
	return SubjectTaskStatusPrefix + "." + taskID
}
