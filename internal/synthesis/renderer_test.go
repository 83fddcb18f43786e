package synthesis

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/loqalabs/loqa-podcast/internal/podcast"
	"github.com/loqalabs/loqa-podcast/internal/tts"
	"github.com/loqalabs/loqa-podcast/internal/voices"
)

type fakeSynth struct {
	mu        sync.Mutex
	rnd       *rand.Rand
	maxJitter time.Duration
	fail      func(text string, attempt int) error
	empty     bool
	attempts  map[string]int
	inFlight  atomic.Int32
	peak      atomic.Int32
}

func (f *fakeSynth) ListVoices(context.Context, string) ([]tts.Voice, error) { return nil, nil }

func (f *fakeSynth) Synthesize(ctx context.Context, req tts.SynthRequest) (tts.SynthResult, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}

	f.mu.Lock()
	if f.attempts == nil {
		f.attempts = map[string]int{}
	}
	f.attempts[req.Text]++
	attempt := f.attempts[req.Text]
	var delay time.Duration
	if f.rnd != nil && f.maxJitter > 0 {
		delay = time.Duration(f.rnd.Int63n(int64(f.maxJitter)))
	}
	f.mu.Unlock()

	select {
	case <-ctx.Done():
		return tts.SynthResult{}, ctx.Err()
	case <-time.After(delay):
	}
	if f.fail != nil {
		if err := f.fail(req.Text, attempt); err != nil {
			return tts.SynthResult{}, err
		}
	}
	if f.empty {
		return tts.SynthResult{Format: tts.FormatPCM, SampleRate: 8000, Channels: 1}, nil
	}
	var ordinal int
	fmt.Sscanf(req.Text, "turn-%d", &ordinal)
	pcm := make([]byte, 160)
	for i := range pcm {
		pcm[i] = byte(ordinal)
	}
	return tts.SynthResult{Audio: pcm, Format: tts.FormatPCM, SampleRate: 8000, Channels: 1}, nil
}

func testScript(n int) (podcast.Script, voices.Assignment) {
	script := podcast.Script{
		Metadata: podcast.Metadata{
			Language: "en-US",
			People: []podcast.Person{
				{ID: "h", Name: "Ana", Gender: podcast.GenderFemale, Locale: "en-US"},
				{ID: "g", Name: "Ben", Gender: podcast.GenderMale, Locale: "en-GB"},
			},
		},
	}
	for i := 0; i < n; i++ {
		speaker := "h"
		if i%2 == 1 {
			speaker = "g"
		}
		script.Turns = append(script.Turns, podcast.Turn{Ordinal: i, SpeakerID: speaker, Text: fmt.Sprintf("turn-%d", i)})
	}
	assignment := voices.Assignment{
		"h": {Name: "voice-h", LanguageCodes: []string{"en-US"}, Gender: podcast.GenderFemale},
		"g": {Name: "voice-g", Gender: podcast.GenderMale},
	}
	return script, assignment
}

func fastOptions() Options {
	return Options{
		PaceEvery:      1000,
		PaceDelay:      0,
		MaxInFlight:    6,
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		RequestTimeout: time.Second,
	}
}

func TestRenderPreservesOrderUnderRandomLatency(t *testing.T) {
	for trial := 0; trial < 20; trial++ {
		synth := &fakeSynth{rnd: rand.New(rand.NewSource(int64(trial))), maxJitter: 3 * time.Millisecond}
		script, assignment := testScript(25)
		clips, err := New(synth, fastOptions()).Render(context.Background(), script, assignment, nil)
		if err != nil {
			t.Fatalf("trial %d: render: %v", trial, err)
		}
		if len(clips) != 25 {
			t.Fatalf("trial %d: expected 25 clips, got %d", trial, len(clips))
		}
		for i, c := range clips {
			if c.Ordinal != i || c.PCM[0] != byte(i) {
				t.Fatalf("trial %d: clip %d out of place (ordinal %d, payload %d)", trial, i, c.Ordinal, c.PCM[0])
			}
		}
	}
}

func TestRenderRespectsMaxInFlight(t *testing.T) {
	synth := &fakeSynth{rnd: rand.New(rand.NewSource(1)), maxJitter: 2 * time.Millisecond}
	opts := fastOptions()
	opts.MaxInFlight = 3
	script, assignment := testScript(30)
	if _, err := New(synth, opts).Render(context.Background(), script, assignment, nil); err != nil {
		t.Fatalf("render: %v", err)
	}
	if peak := synth.peak.Load(); peak > 3 {
		t.Fatalf("expected at most 3 in-flight calls, saw %d", peak)
	}
}

func TestRenderFailureNamesTurn(t *testing.T) {
	synth := &fakeSynth{fail: func(text string, _ int) error {
		if text == "turn-5" {
			return errors.New("quota exceeded")
		}
		return nil
	}}
	script, assignment := testScript(12)
	_, err := New(synth, fastOptions()).Render(context.Background(), script, assignment, nil)
	if !errors.Is(err, podcast.ErrSynthesis) {
		t.Fatalf("expected ErrSynthesis, got %v", err)
	}
	var synthErr *podcast.SynthesisError
	if !errors.As(err, &synthErr) {
		t.Fatalf("expected SynthesisError, got %T", err)
	}
	if synthErr.Ordinal != 5 || synthErr.Attempts != 3 {
		t.Fatalf("unexpected error detail %+v", synthErr)
	}
	if !strings.Contains(err.Error(), "turn 5") {
		t.Fatalf("expected turn 5 in message, got %q", err.Error())
	}
}

func TestRenderRetriesTransientFailures(t *testing.T) {
	synth := &fakeSynth{fail: func(_ string, attempt int) error {
		if attempt < 3 {
			return errors.New("503")
		}
		return nil
	}}
	script, assignment := testScript(4)
	clips, err := New(synth, fastOptions()).Render(context.Background(), script, assignment, nil)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if len(clips) != 4 {
		t.Fatalf("expected 4 clips, got %d", len(clips))
	}
}

func TestRenderTreatsEmptyAudioAsFailure(t *testing.T) {
	synth := &fakeSynth{empty: true}
	script, assignment := testScript(2)
	_, err := New(synth, fastOptions()).Render(context.Background(), script, assignment, nil)
	if !errors.Is(err, podcast.ErrSynthesis) {
		t.Fatalf("expected ErrSynthesis, got %v", err)
	}
}

func TestRenderPacesDispatch(t *testing.T) {
	synth := &fakeSynth{}
	opts := fastOptions()
	opts.PaceEvery = 2
	opts.PaceDelay = 25 * time.Millisecond
	script, assignment := testScript(5)
	start := time.Now()
	if _, err := New(synth, opts).Render(context.Background(), script, assignment, nil); err != nil {
		t.Fatalf("render: %v", err)
	}
	// Pauses before dispatching turns 2 and 4.
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Fatalf("expected at least 50ms of pacing, took %v", elapsed)
	}
}

func TestRenderReportsProgress(t *testing.T) {
	synth := &fakeSynth{rnd: rand.New(rand.NewSource(9)), maxJitter: time.Millisecond}
	script, assignment := testScript(10)
	var seen []int
	_, err := New(synth, fastOptions()).Render(context.Background(), script, assignment, func(done, total int) {
		if total != 10 {
			t.Errorf("unexpected total %d", total)
		}
		seen = append(seen, done)
	})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	for i, d := range seen {
		if d != i+1 {
			t.Fatalf("expected sequential progress, got %v", seen)
		}
	}
	if len(seen) != 10 {
		t.Fatalf("expected 10 progress calls, got %d", len(seen))
	}
}

func TestRenderRejectsUnassignedSpeaker(t *testing.T) {
	script, assignment := testScript(3)
	delete(assignment, "g")
	_, err := New(&fakeSynth{}, fastOptions()).Render(context.Background(), script, assignment, nil)
	if !errors.Is(err, podcast.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestBuildRequestLocale(t *testing.T) {
	script, assignment := testScript(2)
	req, err := buildRequest(script, assignment, script.Turns[1])
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	// Voice g declares no locale, so the speaker's own locale is used.
	if req.Locale != "en-GB" || req.Voice != "voice-g" {
		t.Fatalf("unexpected request %+v", req)
	}
}
