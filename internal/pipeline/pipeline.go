package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-podcast/internal/audio"
	"github.com/loqalabs/loqa-podcast/internal/content"
	"github.com/loqalabs/loqa-podcast/internal/podcast"
	"github.com/loqalabs/loqa-podcast/internal/publisher"
	"github.com/loqalabs/loqa-podcast/internal/synthesis"
	"github.com/loqalabs/loqa-podcast/internal/taskstore"
	"github.com/loqalabs/loqa-podcast/internal/tracker"
	"github.com/loqalabs/loqa-podcast/internal/tts"
	"github.com/loqalabs/loqa-podcast/internal/voices"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/loqalabs/loqa-podcast/pipeline"

// Store is the persistence the pipeline needs beyond task tracking.
type Store interface {
	tracker.Store
	SavePodcast(ctx context.Context, p taskstore.Podcast) error
}

type Deps struct {
	Store     Store
	Content   *content.Generator
	Synth     tts.Synthesizer
	Renderer  *synthesis.Renderer
	Assembler *audio.Assembler
	Publisher *publisher.Publisher
	Notifier  tracker.Notifier
}

type Options struct {
	VoiceFamily string
	// Seed fixes voice selection. Zero seeds from the clock on every run.
	Seed         int64
	StageTimeout time.Duration
	Logger       *slog.Logger
	NewID        func() string
}

// Result carries everything a run produced, including partial output on failure.
type Result struct {
	Task       taskstore.Task
	Podcast    taskstore.Podcast
	Assignment voices.Assignment
	Markers    []audio.Marker
	Warnings   []string
}

type Pipeline struct {
	deps   Deps
	opts   Options
	log    *slog.Logger
	tracer trace.Tracer

	completed metric.Int64Counter
	failed    metric.Int64Counter
	duration  metric.Float64Histogram
}

func New(deps Deps, opts Options) *Pipeline {
	if opts.StageTimeout <= 0 {
		opts.StageTimeout = 20 * time.Minute
	}
	if opts.NewID == nil {
		opts.NewID = func() string { return uuid.NewString() }
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	p := &Pipeline{
		deps:   deps,
		opts:   opts,
		log:    logger.With(slog.String("component", "pipeline")),
		tracer: otel.Tracer(instrumentationName),
	}

	meter := otel.Meter(instrumentationName)
	var err error
	if p.completed, err = meter.Int64Counter("podcast.tasks.completed",
		metric.WithDescription("Generation tasks that completed")); err != nil {
		p.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}
	if p.failed, err = meter.Int64Counter("podcast.tasks.failed",
		metric.WithDescription("Generation tasks that failed")); err != nil {
		p.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}
	if p.duration, err = meter.Float64Histogram("podcast.audio.duration_seconds",
		metric.WithDescription("Length of published podcast audio"),
		metric.WithUnit("s")); err != nil {
		p.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}
	return p
}

// Run drives one task from pending to a terminal state. The returned error is the
// cause of a failed run; the task row is already marked failed when it is non-nil.
func (p *Pipeline) Run(ctx context.Context, taskID string, req podcast.Request) (Result, error) {
	ctx, span := p.tracer.Start(ctx, "podcast.generate", trace.WithAttributes(attribute.String("task.id", taskID)))
	defer span.End()

	log := p.log.With(slog.String("task_id", taskID))
	tr := tracker.New(p.deps.Store, taskID, tracker.WithLogger(p.log), tracker.WithNotifier(p.deps.Notifier))
	if err := tr.Start(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}
	if snap := tr.Snapshot(); snap.Status.Terminal() {
		log.Info("task already finished", slog.String("status", string(snap.Status)))
		return Result{Task: snap}, nil
	}

	runCtx, cancel := context.WithTimeout(ctx, p.opts.StageTimeout)
	defer cancel()

	started := time.Now()
	res, err := p.execute(runCtx, tr, taskID, req)
	if err == nil {
		err = tr.Complete(ctx)
	}
	if err != nil {
		failCtx, failCancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer failCancel()
		if ferr := tr.Fail(failCtx, err.Error()); ferr != nil {
			log.Error("failed to record task failure", slog.String("error", ferr.Error()))
		}
		if p.failed != nil {
			p.failed.Add(failCtx, 1)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Error("podcast generation failed", slog.String("error", err.Error()))
		res.Task = tr.Snapshot()
		return res, err
	}

	if p.completed != nil {
		p.completed.Add(ctx, 1)
	}
	if p.duration != nil {
		p.duration.Record(ctx, res.Podcast.Duration)
	}
	log.Info("podcast generated",
		slog.String("podcast_id", res.Podcast.ID),
		slog.Float64("duration_seconds", res.Podcast.Duration),
		slog.Duration("elapsed", time.Since(started)),
	)
	res.Task = tr.Snapshot()
	return res, nil
}

func (p *Pipeline) execute(ctx context.Context, tr *tracker.Tracker, taskID string, req podcast.Request) (res Result, err error) {
	script, err := p.stageContent(ctx, tr, req)
	if err != nil {
		return res, err
	}

	tr.Update(ctx, 15, "Saving podcast metadata...")
	record := taskstore.Podcast{
		ID:         p.opts.NewID(),
		TaskID:     taskID,
		Metadata:   script.Metadata,
		Turns:      script.Turns,
		Generating: true,
	}
	res.Podcast = record
	if err := p.deps.Store.SavePodcast(ctx, record); err != nil {
		return res, fmt.Errorf("%w: save podcast %s: %v", podcast.ErrPersistence, record.ID, err)
	}
	if err := tr.LinkPodcast(ctx, record.ID); err != nil {
		return res, err
	}

	job := p.deps.Publisher.StartImages(ctx, script.Metadata, record.ID)
	joined := false
	defer func() {
		if !joined {
			job.Cancel()
			job.Wait()
		}
	}()

	tr.Update(ctx, 20, "Selecting voices...")
	assignment, err := p.stageVoices(ctx, script)
	if err != nil {
		return res, err
	}
	res.Assignment = assignment

	tr.Update(ctx, 50, "Generating audio...")
	clips, err := p.stageRender(ctx, tr, script, assignment)
	if err != nil {
		return res, err
	}

	tr.Update(ctx, 80, "Combining audio...")
	assembled, err := p.deps.Assembler.Assemble(clips)
	if err != nil {
		return res, fmt.Errorf("assemble audio: %w", err)
	}
	res.Markers = assembled.Markers

	tr.Update(ctx, 85, "Saving podcast...")
	record.Turns = applyMarkers(script.Turns, assembled.Markers)
	record.Duration = assembled.Duration()
	record.Generating = false
	res.Podcast = record
	if err := p.deps.Store.SavePodcast(ctx, record); err != nil {
		return res, fmt.Errorf("%w: save podcast %s: %v", podcast.ErrPersistence, record.ID, err)
	}

	tr.Update(ctx, 90, "Uploading audio...")
	audioPath, err := p.stageUpload(ctx, record.ID, assembled)
	if err != nil {
		return res, err
	}
	record.AudioPath = audioPath

	tr.Update(ctx, 100, "Waiting for images...")
	images := job.Wait()
	joined = true
	for _, w := range images.Warnings {
		tr.Warn(ctx, w)
	}
	res.Warnings = images.Warnings
	record.CoverPath = images.CoverPath

	res.Podcast = record
	if err := p.deps.Store.SavePodcast(ctx, record); err != nil {
		return res, fmt.Errorf("%w: save podcast %s: %v", podcast.ErrPersistence, record.ID, err)
	}
	return res, nil
}

func (p *Pipeline) stageContent(ctx context.Context, tr *tracker.Tracker, req podcast.Request) (podcast.Script, error) {
	ctx, span := p.tracer.Start(ctx, "podcast.content")
	defer span.End()
	script, err := p.deps.Content.Generate(ctx, req, tr)
	if err != nil {
		span.RecordError(err)
		return podcast.Script{}, err
	}
	span.SetAttributes(
		attribute.String("podcast.language", script.Metadata.Language),
		attribute.Int("podcast.turns", len(script.Turns)),
	)
	return script, nil
}

func (p *Pipeline) stageVoices(ctx context.Context, script podcast.Script) (voices.Assignment, error) {
	ctx, span := p.tracer.Start(ctx, "podcast.voices")
	defer span.End()
	assignor := voices.NewAssignor(p.deps.Synth, p.opts.VoiceFamily, p.newRand())
	assignment, err := assignor.Assign(ctx, script.Metadata.People, script.Metadata.Language)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return assignment, nil
}

func (p *Pipeline) stageRender(ctx context.Context, tr *tracker.Tracker, script podcast.Script, assignment voices.Assignment) ([]audio.Clip, error) {
	ctx, span := p.tracer.Start(ctx, "podcast.synthesis", trace.WithAttributes(attribute.Int("podcast.turns", len(script.Turns))))
	defer span.End()
	clips, err := p.deps.Renderer.Render(ctx, script, assignment, func(done, total int) {
		tr.Update(ctx, 50+30*done/total, fmt.Sprintf("Generated audio for turn %d of %d", done, total))
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return clips, nil
}

func (p *Pipeline) stageUpload(ctx context.Context, podcastID string, assembled audio.Assembled) (string, error) {
	ctx, span := p.tracer.Start(ctx, "podcast.upload")
	defer span.End()
	path, err := p.deps.Publisher.PublishAudio(ctx, podcastID, assembled)
	if err != nil {
		span.RecordError(err)
		return "", err
	}
	return path, nil
}

func (p *Pipeline) newRand() *rand.Rand {
	if p.opts.Seed != 0 {
		return rand.New(rand.NewSource(p.opts.Seed))
	}
	return nil
}

func applyMarkers(turns []podcast.Turn, markers []audio.Marker) []podcast.Turn {
	out := make([]podcast.Turn, len(turns))
	copy(out, turns)
	for i := range out {
		if i >= len(markers) {
			break
		}
		start, end := markers[i].Start, markers[i].End
		out[i].Start = &start
		out[i].End = &end
	}
	return out
}
