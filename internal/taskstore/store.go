package taskstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/loqalabs/loqa-podcast/internal/config"
	"github.com/loqalabs/loqa-podcast/internal/podcast"
	_ "modernc.org/sqlite"
)

var (
	// ErrNotFound is returned when a task or podcast row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrTaskFinished is returned when a write targets a task that is already completed or failed.
	ErrTaskFinished = errors.New("task already finished")
)

// Status is the lifecycle state of a generation task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Task is the persisted GenerationTask row pollers observe.
type Task struct {
	ID              string          `json:"id"`
	Status          Status          `json:"status"`
	Progress        int             `json:"progress"`
	ProgressMessage string          `json:"progress_message"`
	ErrorMessage    string          `json:"error_message,omitempty"`
	WarningMessage  string          `json:"warning_message,omitempty"`
	PodcastID       string          `json:"podcast_id,omitempty"`
	Request         podcast.Request `json:"request"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// TaskEvent is one entry of a task's state-change timeline.
type TaskEvent struct {
	ID        int64     `json:"id"`
	TaskID    string    `json:"task_id"`
	Status    Status    `json:"status"`
	Progress  int       `json:"progress"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// Podcast is the structured result of a run, kept even when the audio upload fails.
type Podcast struct {
	ID         string           `json:"id"`
	TaskID     string           `json:"task_id"`
	Metadata   podcast.Metadata `json:"metadata"`
	Turns      []podcast.Turn   `json:"turns"`
	Duration   float64          `json:"duration"`
	AudioPath  string           `json:"audio_path,omitempty"`
	CoverPath  string           `json:"cover_path,omitempty"`
	Generating bool             `json:"generating"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

// Store is a SQLite-backed task and podcast store.
type Store struct {
	db    *sql.DB
	cfg   config.TaskStoreConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the store according to config.
func Open(ctx context.Context, cfg config.TaskStoreConfig, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if err := s.vacuum(ctx); err != nil {
			log.Warn("task store vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("task store prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS tasks (
    id TEXT PRIMARY KEY,
    status TEXT NOT NULL,
    progress INTEGER NOT NULL DEFAULT 0,
    progress_message TEXT NOT NULL DEFAULT '',
    error_message TEXT NOT NULL DEFAULT '',
    warning_message TEXT NOT NULL DEFAULT '',
    podcast_id TEXT NOT NULL DEFAULT '',
    request BLOB,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_status_created ON tasks(status, created_at);
CREATE TABLE IF NOT EXISTS task_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    task_id TEXT NOT NULL,
    status TEXT NOT NULL,
    progress INTEGER NOT NULL,
    message TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL,
    FOREIGN KEY(task_id) REFERENCES tasks(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_task_events_task ON task_events(task_id, id);
CREATE TABLE IF NOT EXISTS podcasts (
    id TEXT PRIMARY KEY,
    task_id TEXT NOT NULL,
    metadata BLOB NOT NULL,
    turns BLOB NOT NULL,
    duration REAL NOT NULL DEFAULT 0,
    audio_path TEXT NOT NULL DEFAULT '',
    cover_path TEXT NOT NULL DEFAULT '',
    generating INTEGER NOT NULL DEFAULT 1,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *Store) vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// CreateTask inserts a new task row. The id must be unused.
func (s *Store) CreateTask(ctx context.Context, task Task) error {
	if task.ID == "" {
		return errors.New("task id must not be empty")
	}
	if task.Status == "" {
		task.Status = StatusPending
	}
	req, err := json.Marshal(task.Request)
	if err != nil {
		return fmt.Errorf("marshal task request: %w", err)
	}
	now := s.clock().UTC().UnixMilli()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tasks(id, status, progress, progress_message, error_message, warning_message, podcast_id, request, created_at, updated_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID, string(task.Status), task.Progress, task.ProgressMessage, task.ErrorMessage, task.WarningMessage,
		task.PodcastID, req, now, now)
	return err
}

// WriteTask upserts the mutable task fields. Progress never moves backwards. Rows
// already in a terminal state are left untouched and the write fails with
// ErrTaskFinished wrapped in podcast.ErrPersistence.
func (s *Store) WriteTask(ctx context.Context, task Task) error {
	req, err := json.Marshal(task.Request)
	if err != nil {
		return fmt.Errorf("marshal task request: %w", err)
	}
	now := s.clock().UTC().UnixMilli()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks(id, status, progress, progress_message, error_message, warning_message, podcast_id, request, created_at, updated_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   status=excluded.status,
		   progress=MAX(tasks.progress, excluded.progress),
		   progress_message=excluded.progress_message,
		   error_message=excluded.error_message,
		   warning_message=excluded.warning_message,
		   podcast_id=CASE WHEN excluded.podcast_id <> '' THEN excluded.podcast_id ELSE tasks.podcast_id END,
		   updated_at=excluded.updated_at
		 WHERE tasks.status NOT IN ('completed', 'failed')`,
		task.ID, string(task.Status), task.Progress, task.ProgressMessage, task.ErrorMessage, task.WarningMessage,
		task.PodcastID, req, now, now)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("write task %s: %w", task.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: write %s to task %s: %w", podcast.ErrPersistence, task.Status, task.ID, ErrTaskFinished)
	}
	return nil
}

// ReadTask loads a task by id.
func (s *Store) ReadTask(ctx context.Context, id string) (Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, status, progress, progress_message, error_message, warning_message, podcast_id, request, created_at, updated_at
		 FROM tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Task{}, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return task, err
}

// ListTasks returns tasks in the given status, oldest first. An empty status lists all.
func (s *Store) ListTasks(ctx context.Context, status Status, limit int) ([]Task, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, status, progress, progress_message, error_message, warning_message, podcast_id, request, created_at, updated_at
		 FROM tasks`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at ASC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (Task, error) {
	var (
		t                Task
		status           string
		req              []byte
		created, updated int64
	)
	if err := row.Scan(&t.ID, &status, &t.Progress, &t.ProgressMessage, &t.ErrorMessage, &t.WarningMessage,
		&t.PodcastID, &req, &created, &updated); err != nil {
		return Task{}, err
	}
	t.Status = Status(status)
	if len(req) > 0 {
		if err := json.Unmarshal(req, &t.Request); err != nil {
			return Task{}, fmt.Errorf("decode task request: %w", err)
		}
	}
	t.CreatedAt = time.UnixMilli(created).UTC()
	t.UpdatedAt = time.UnixMilli(updated).UTC()
	return t, nil
}

// AppendTaskEvent writes an entry into a task's timeline.
func (s *Store) AppendTaskEvent(ctx context.Context, evt TaskEvent) error {
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = s.clock().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO task_events(task_id, status, progress, message, created_at) VALUES(?, ?, ?, ?, ?)`,
		evt.TaskID, string(evt.Status), evt.Progress, evt.Message, evt.CreatedAt.UnixMilli())
	return err
}

// ListTaskEvents retrieves up to limit events for a task in insertion order.
func (s *Store) ListTaskEvents(ctx context.Context, taskID string, limit int) ([]TaskEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, task_id, status, progress, message, created_at
		 FROM task_events WHERE task_id = ? ORDER BY id ASC LIMIT ?`, taskID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []TaskEvent
	for rows.Next() {
		var (
			e       TaskEvent
			status  string
			created int64
		)
		if err := rows.Scan(&e.ID, &e.TaskID, &status, &e.Progress, &e.Message, &created); err != nil {
			return nil, err
		}
		e.Status = Status(status)
		e.CreatedAt = time.UnixMilli(created).UTC()
		events = append(events, e)
	}
	return events, rows.Err()
}

// SavePodcast upserts a podcast record.
func (s *Store) SavePodcast(ctx context.Context, p Podcast) error {
	if p.ID == "" {
		return errors.New("podcast id must not be empty")
	}
	meta, err := json.Marshal(p.Metadata)
	if err != nil {
		return fmt.Errorf("marshal podcast metadata: %w", err)
	}
	turns, err := json.Marshal(p.Turns)
	if err != nil {
		return fmt.Errorf("marshal podcast turns: %w", err)
	}
	now := s.clock().UTC().UnixMilli()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO podcasts(id, task_id, metadata, turns, duration, audio_path, cover_path, generating, created_at, updated_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   metadata=excluded.metadata,
		   turns=excluded.turns,
		   duration=excluded.duration,
		   audio_path=excluded.audio_path,
		   cover_path=excluded.cover_path,
		   generating=excluded.generating,
		   updated_at=excluded.updated_at`,
		p.ID, p.TaskID, meta, turns, p.Duration, p.AudioPath, p.CoverPath, boolToInt(p.Generating), now, now)
	return err
}

// ReadPodcast loads a podcast record by id.
func (s *Store) ReadPodcast(ctx context.Context, id string) (Podcast, error) {
	var (
		p                Podcast
		meta, turns      []byte
		generating       int
		created, updated int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, task_id, metadata, turns, duration, audio_path, cover_path, generating, created_at, updated_at
		 FROM podcasts WHERE id = ?`, id).
		Scan(&p.ID, &p.TaskID, &meta, &turns, &p.Duration, &p.AudioPath, &p.CoverPath, &generating, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Podcast{}, fmt.Errorf("podcast %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Podcast{}, err
	}
	if err := json.Unmarshal(meta, &p.Metadata); err != nil {
		return Podcast{}, fmt.Errorf("decode podcast metadata: %w", err)
	}
	if err := json.Unmarshal(turns, &p.Turns); err != nil {
		return Podcast{}, fmt.Errorf("decode podcast turns: %w", err)
	}
	p.Generating = generating != 0
	p.CreatedAt = time.UnixMilli(created).UTC()
	p.UpdatedAt = time.UnixMilli(updated).UTC()
	return p, nil
}

// Prune removes terminal tasks (and their timelines) older than the retention window.
func (s *Store) Prune(ctx context.Context) (err error) {
	if s.cfg.RetentionDays <= 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour).UTC().UnixMilli()
	if _, err = tx.ExecContext(ctx,
		`DELETE FROM task_events WHERE task_id IN (
			SELECT id FROM tasks WHERE status IN ('completed', 'failed') AND updated_at < ?
		)`, cutoff); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx,
		`DELETE FROM tasks WHERE status IN ('completed', 'failed') AND updated_at < ?`, cutoff); err != nil {
		return err
	}
	err = tx.Commit()
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
