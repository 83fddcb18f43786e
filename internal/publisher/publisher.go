package publisher

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/loqalabs/loqa-podcast/internal/audio"
	"github.com/loqalabs/loqa-podcast/internal/imagegen"
	"github.com/loqalabs/loqa-podcast/internal/podcast"
	"github.com/loqalabs/loqa-podcast/internal/storage"
)

type Options struct {
	AudioBucket      string
	CoverBucket      string
	AuthorBucket     string
	UploadAttempts   int
	InitialBackoff   time.Duration
	ImageConcurrency int
	Logger           *slog.Logger
}

func DefaultOptions() Options {
	return Options{
		AudioBucket:      "podcasts",
		CoverBucket:      "podcast-cover-images",
		AuthorBucket:     "podcast-authors",
		UploadAttempts:   3,
		InitialBackoff:   500 * time.Millisecond,
		ImageConcurrency: 4,
	}
}

// Publisher uploads finished artifacts. Images is optional; a nil generator skips
// cover and portrait generation.
type Publisher struct {
	store  storage.ObjectStore
	images imagegen.Generator
	opts   Options
	log    *slog.Logger
}

func New(store storage.ObjectStore, images imagegen.Generator, opts Options) *Publisher {
	def := DefaultOptions()
	if opts.AudioBucket == "" {
		opts.AudioBucket = def.AudioBucket
	}
	if opts.CoverBucket == "" {
		opts.CoverBucket = def.CoverBucket
	}
	if opts.AuthorBucket == "" {
		opts.AuthorBucket = def.AuthorBucket
	}
	if opts.UploadAttempts <= 0 {
		opts.UploadAttempts = def.UploadAttempts
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = def.InitialBackoff
	}
	if opts.ImageConcurrency <= 0 {
		opts.ImageConcurrency = def.ImageConcurrency
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Publisher{
		store:  store,
		images: images,
		opts:   opts,
		log:    logger.With(slog.String("component", "publisher")),
	}
}

// PublishAudio encodes the assembled stream and uploads it as <podcastID>.wav.
func (p *Publisher) PublishAudio(ctx context.Context, podcastID string, assembled audio.Assembled) (string, error) {
	data, err := audio.EncodeWAV(assembled)
	if err != nil {
		return "", fmt.Errorf("%w: encode audio: %w", podcast.ErrUpload, err)
	}
	path, err := p.upload(ctx, p.opts.AudioBucket, podcastID+".wav", data, "audio/wav")
	if err != nil {
		return "", fmt.Errorf("%w: %w", podcast.ErrUpload, err)
	}
	p.log.Info("audio published", slog.String("podcast_id", podcastID), slog.String("path", path), slog.Int("bytes", len(data)))
	return path, nil
}

// upload retries the whole Put. Puts are upserts, so a retry after a partial failure
// is safe.
func (p *Publisher) upload(ctx context.Context, bucket, key string, data []byte, contentType string) (string, error) {
	attempt := 0
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.opts.InitialBackoff

	return backoff.Retry(ctx, func() (string, error) {
		attempt++
		path, err := p.store.Put(ctx, bucket, key, data, contentType)
		if err != nil && ctx.Err() != nil {
			return "", backoff.Permanent(ctx.Err())
		}
		return path, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(p.opts.UploadAttempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			p.log.Warn("upload attempt failed",
				slog.String("bucket", bucket),
				slog.String("key", key),
				slog.Int("attempt", attempt),
				slog.Duration("retry_in", next),
				slog.String("error", err.Error()),
			)
		}),
	)
}
