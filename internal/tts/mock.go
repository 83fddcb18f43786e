package tts

import (
	"context"
	"encoding/binary"
	"math"
	"strings"
	"time"

	"github.com/loqalabs/loqa-podcast/internal/podcast"
)

var mockVoiceNames = []struct {
	name   string
	gender podcast.Gender
}{
	{"Chirp3-HD-Aoede", podcast.GenderFemale},
	{"Chirp3-HD-Kore", podcast.GenderFemale},
	{"Chirp3-HD-Leda", podcast.GenderFemale},
	{"Chirp3-HD-Zephyr", podcast.GenderFemale},
	{"Chirp3-HD-Charon", podcast.GenderMale},
	{"Chirp3-HD-Fenrir", podcast.GenderMale},
	{"Chirp3-HD-Orus", podcast.GenderMale},
	{"Chirp3-HD-Puck", podcast.GenderMale},
	{"Standard-A", podcast.GenderFemale},
	{"Standard-B", podcast.GenderMale},
}

type mockSynth struct {
	sampleRate int
	channels   int
}

// NewMockSynth returns a synthesizer that renders a quiet tone whose length is
// derived from the word count, so identical input always yields identical audio.
func NewMockSynth(sampleRate, channels int) Synthesizer {
	if sampleRate <= 0 {
		sampleRate = 24000
	}
	if channels <= 0 {
		channels = 1
	}
	return &mockSynth{sampleRate: sampleRate, channels: channels}
}

func (m *mockSynth) ListVoices(ctx context.Context, languageCode string) ([]Voice, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if languageCode == "" {
		languageCode = "en-US"
	}
	voices := make([]Voice, 0, len(mockVoiceNames))
	for _, v := range mockVoiceNames {
		voices = append(voices, Voice{
			Name:          languageCode + "-" + v.name,
			LanguageCodes: []string{languageCode},
			Gender:        v.gender,
		})
	}
	return voices, nil
}

func (m *mockSynth) Synthesize(ctx context.Context, req SynthRequest) (SynthResult, error) {
	select {
	case <-ctx.Done():
		return SynthResult{}, ctx.Err()
	case <-time.After(5 * time.Millisecond):
	}
	words := len(strings.Fields(req.Text))
	durationMS := 200 + 60*words
	frames := m.sampleRate * durationMS / 1000
	pcm := make([]byte, frames*m.channels*2)
	for i := 0; i < frames; i++ {
		sample := int16(800 * math.Sin(2*math.Pi*220*float64(i)/float64(m.sampleRate)))
		for c := 0; c < m.channels; c++ {
			binary.LittleEndian.PutUint16(pcm[(i*m.channels+c)*2:], uint16(sample))
		}
	}
	return SynthResult{Audio: pcm, Format: FormatPCM, SampleRate: m.sampleRate, Channels: m.channels}, nil
}
