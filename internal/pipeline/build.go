package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-podcast/internal/audio"
	"github.com/loqalabs/loqa-podcast/internal/config"
	"github.com/loqalabs/loqa-podcast/internal/content"
	"github.com/loqalabs/loqa-podcast/internal/imagegen"
	"github.com/loqalabs/loqa-podcast/internal/llm"
	"github.com/loqalabs/loqa-podcast/internal/publisher"
	"github.com/loqalabs/loqa-podcast/internal/storage"
	"github.com/loqalabs/loqa-podcast/internal/synthesis"
	"github.com/loqalabs/loqa-podcast/internal/tracker"
	"github.com/loqalabs/loqa-podcast/internal/tts"
)

func ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}

// FromConfig wires every backend named in cfg into a Pipeline.
func FromConfig(ctx context.Context, cfg config.Config, store Store, notifier tracker.Notifier, logger *slog.Logger) (*Pipeline, error) {
	gen, err := llm.New(ctx, cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("init llm: %w", err)
	}
	synth, err := tts.New(cfg.TTS)
	if err != nil {
		return nil, fmt.Errorf("init tts: %w", err)
	}
	objects, err := storage.New(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}
	var images imagegen.Generator
	if cfg.Images.Enabled {
		if images, err = imagegen.New(cfg.Images); err != nil {
			return nil, fmt.Errorf("init images: %w", err)
		}
	}

	renderer := synthesis.New(synth, synthesis.Options{
		PaceEvery:      cfg.Synthesis.PaceEvery,
		PaceDelay:      ms(cfg.Synthesis.PaceDelayMS),
		MaxInFlight:    cfg.Synthesis.MaxInFlight,
		MaxAttempts:    cfg.Synthesis.MaxAttempts,
		InitialBackoff: ms(cfg.Synthesis.InitialBackoffMS),
		MaxBackoff:     ms(cfg.Synthesis.MaxBackoffMS),
		RequestTimeout: ms(cfg.Synthesis.RequestTimeoutMS),
		Logger:         logger,
	})
	assembler := audio.NewAssembler(audio.Options{
		LeadIn:         ms(cfg.Assembly.LeadInMS),
		SilenceCap:     ms(cfg.Assembly.SilenceCapMS),
		SilenceDivisor: cfg.Assembly.SilenceDivisor,
		MinSilence:     ms(cfg.Assembly.MinSilenceMS),
	})
	pub := publisher.New(objects, images, publisher.Options{
		AudioBucket:      cfg.Storage.AudioBucket,
		CoverBucket:      cfg.Storage.CoverBucket,
		AuthorBucket:     cfg.Storage.AuthorBucket,
		UploadAttempts:   cfg.Storage.UploadAttempts,
		ImageConcurrency: cfg.Images.Concurrency,
		Logger:           logger,
	})

	return New(Deps{
		Store: store,
		Content: content.New(gen, content.Options{
			DefaultStyle: cfg.Pipeline.DefaultStyle,
			Temperature:  cfg.LLM.Temperature,
			Logger:       logger,
		}),
		Synth:     synth,
		Renderer:  renderer,
		Assembler: assembler,
		Publisher: pub,
		Notifier:  notifier,
	}, Options{
		VoiceFamily:  cfg.Voices.Family,
		Seed:         cfg.Voices.Seed,
		StageTimeout: ms(cfg.Pipeline.StageTimeoutMS),
		Logger:       logger,
	}), nil
}
