package synthesis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/loqalabs/loqa-podcast/internal/audio"
	"github.com/loqalabs/loqa-podcast/internal/podcast"
	"github.com/loqalabs/loqa-podcast/internal/tts"
	"github.com/loqalabs/loqa-podcast/internal/voices"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"
)

type Options struct {
	// PaceEvery dispatches are followed by a PaceDelay pause.
	PaceEvery      int
	PaceDelay      time.Duration
	MaxInFlight    int
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	RequestTimeout time.Duration
	Logger         *slog.Logger
}

func DefaultOptions() Options {
	return Options{
		PaceEvery:      8,
		PaceDelay:      time.Second,
		MaxInFlight:    4,
		MaxAttempts:    4,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     8 * time.Second,
		RequestTimeout: 45 * time.Second,
	}
}

// Renderer fans turns out to a synthesizer and fans the clips back in by ordinal.
type Renderer struct {
	synth   tts.Synthesizer
	opts    Options
	log     *slog.Logger
	retries metric.Int64Counter
}

func New(synth tts.Synthesizer, opts Options) *Renderer {
	def := DefaultOptions()
	if opts.PaceEvery <= 0 {
		opts.PaceEvery = def.PaceEvery
	}
	if opts.MaxInFlight <= 0 {
		opts.MaxInFlight = def.MaxInFlight
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = def.MaxAttempts
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = def.InitialBackoff
	}
	if opts.MaxBackoff < opts.InitialBackoff {
		opts.MaxBackoff = opts.InitialBackoff
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = def.RequestTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	r := &Renderer{synth: synth, opts: opts, log: logger.With(slog.String("component", "synthesis"))}

	counter, err := otel.Meter("github.com/loqalabs/loqa-podcast/synthesis").Int64Counter(
		"podcast.synthesis.retries",
		metric.WithDescription("Synthesis requests retried after a failed attempt"),
	)
	if err != nil {
		r.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}
	r.retries = counter
	return r
}

// Render synthesizes every turn of script and returns one clip per turn, indexed by
// ordinal. The first turn to exhaust its retries cancels the rest and is reported as a
// *podcast.SynthesisError.
func (r *Renderer) Render(ctx context.Context, script podcast.Script, assignment voices.Assignment, progress func(done, total int)) ([]audio.Clip, error) {
	total := len(script.Turns)
	if total == 0 {
		return nil, podcast.Validationf("script has no turns")
	}
	requests := make([]tts.SynthRequest, total)
	for i, turn := range script.Turns {
		req, err := buildRequest(script, assignment, turn)
		if err != nil {
			return nil, err
		}
		requests[i] = req
	}

	clips := make([]audio.Clip, total)
	var (
		mu   sync.Mutex
		done int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.MaxInFlight)

dispatch:
	for i := range requests {
		if i > 0 && i%r.opts.PaceEvery == 0 && r.opts.PaceDelay > 0 {
			select {
			case <-gctx.Done():
				break dispatch
			case <-time.After(r.opts.PaceDelay):
			}
		}
		if gctx.Err() != nil {
			break
		}
		ordinal, req := i, requests[i]
		g.Go(func() error {
			clip, attempts, err := r.renderTurn(gctx, ordinal, req)
			if err != nil {
				return &podcast.SynthesisError{Ordinal: ordinal, Attempts: attempts, Err: err}
			}
			clips[ordinal] = clip

			mu.Lock()
			done++
			if progress != nil {
				progress(done, total)
			}
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for i, c := range clips {
		if len(c.PCM) == 0 || c.Ordinal != i {
			return nil, fmt.Errorf("missing clip for turn %d", i)
		}
	}
	return clips, nil
}

func (r *Renderer) renderTurn(ctx context.Context, ordinal int, req tts.SynthRequest) (audio.Clip, int, error) {
	attempts := 0
	op := func() (audio.Clip, error) {
		attempts++
		callCtx, cancel := context.WithTimeout(ctx, r.opts.RequestTimeout)
		defer cancel()

		res, err := r.synth.Synthesize(callCtx, req)
		if err != nil {
			if ctx.Err() != nil {
				return audio.Clip{}, backoff.Permanent(ctx.Err())
			}
			return audio.Clip{}, err
		}
		return toClip(ordinal, res)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.opts.InitialBackoff
	b.MaxInterval = r.opts.MaxBackoff

	clip, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(r.opts.MaxAttempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			if r.retries != nil {
				r.retries.Add(ctx, 1, metric.WithAttributes(attribute.Int("turn", ordinal)))
			}
			r.log.Warn("synthesis attempt failed",
				slog.Int("turn", ordinal),
				slog.Int("attempt", attempts),
				slog.Duration("retry_in", next),
				slog.String("error", err.Error()),
			)
		}),
	)
	return clip, attempts, err
}

func toClip(ordinal int, res tts.SynthResult) (audio.Clip, error) {
	if len(res.Audio) == 0 {
		return audio.Clip{}, errors.New("synthesizer returned empty audio")
	}
	switch res.Format {
	case tts.FormatWAV:
		return audio.DecodeWAV(ordinal, res.Audio)
	case tts.FormatPCM, "":
		return audio.FromPCM(ordinal, res.Audio, res.SampleRate, res.Channels)
	default:
		return audio.Clip{}, backoff.Permanent(fmt.Errorf("unsupported audio format %q", res.Format))
	}
}

func buildRequest(script podcast.Script, assignment voices.Assignment, turn podcast.Turn) (tts.SynthRequest, error) {
	voice, ok := assignment[turn.SpeakerID]
	if !ok {
		return tts.SynthRequest{}, podcast.Validationf("turn %d: no voice assigned to speaker %q", turn.Ordinal, turn.SpeakerID)
	}
	locale := script.Metadata.Language
	if person, ok := script.Person(turn.SpeakerID); ok && person.Locale != "" {
		locale = person.Locale
	}
	if len(voice.LanguageCodes) > 0 && voice.LanguageCodes[0] != "" {
		locale = voice.LanguageCodes[0]
	}
	return tts.SynthRequest{
		Text:           turn.Text,
		Voice:          voice.Name,
		Locale:         locale,
		Pronunciations: turn.Pronunciations,
	}, nil
}
