package tts

import (
	"context"
	"fmt"

	"github.com/loqalabs/loqa-podcast/internal/config"
	"github.com/loqalabs/loqa-podcast/internal/podcast"
)

// Voice is one entry of a synthesis catalog.
type Voice struct {
	Name          string         `json:"name"`
	LanguageCodes []string       `json:"language_codes"`
	Gender        podcast.Gender `json:"gender"`
}

// SynthRequest contains parameters to synthesize one turn.
type SynthRequest struct {
	Text           string
	Voice          string
	Locale         string
	Pronunciations []podcast.Pronunciation
}

// Format describes how SynthResult.Audio is encoded.
type Format string

const (
	// FormatWAV is a RIFF/WAVE container with LINEAR16 samples.
	FormatWAV Format = "wav"
	// FormatPCM is headerless 16-bit little-endian PCM described by SampleRate and Channels.
	FormatPCM Format = "pcm"
)

// SynthResult is the audio for a single request.
type SynthResult struct {
	Audio      []byte
	Format     Format
	SampleRate int
	Channels   int
}

// Catalog lists the voices available for a language.
type Catalog interface {
	ListVoices(ctx context.Context, languageCode string) ([]Voice, error)
}

// Synthesizer is the contract for producing audio.
type Synthesizer interface {
	Catalog
	Synthesize(ctx context.Context, req SynthRequest) (SynthResult, error)
}

// New builds the synthesizer selected by cfg.Mode.
func New(cfg config.TTSConfig) (Synthesizer, error) {
	switch cfg.Mode {
	case "", "mock":
		return NewMockSynth(cfg.SampleRate, cfg.Channels), nil
	case "exec":
		return NewExecSynth(cfg.Command, cfg.SampleRate, cfg.Channels)
	case "openai":
		return NewOpenAISynth(OpenAIConfig{APIKey: cfg.APIKey, BaseURL: cfg.Endpoint, Model: cfg.Model})
	default:
		return nil, fmt.Errorf("unknown tts mode %q", cfg.Mode)
	}
}
