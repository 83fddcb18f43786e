package audio

import (
	"errors"
	"fmt"
	"time"
)

type Options struct {
	LeadIn         time.Duration
	SilenceCap     time.Duration
	SilenceDivisor int
	MinSilence     time.Duration
}

func DefaultOptions() Options {
	return Options{
		LeadIn:         500 * time.Millisecond,
		SilenceCap:     500 * time.Millisecond,
		SilenceDivisor: 10,
		MinSilence:     time.Millisecond,
	}
}

// Marker is the [Start, End] position of a turn in seconds.
type Marker struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Assembled is the stitched episode.
type Assembled struct {
	PCM        []byte
	SampleRate int
	Channels   int
	Markers    []Marker
	DurationMS int
}

// Duration returns the total length in seconds.
func (a Assembled) Duration() float64 {
	return float64(a.DurationMS) / 1000.0
}

// Assembler stitches clips into one stream with a lead-in and a short silence after
// every clip. The silence after a clip is counted before the next clip's start.
type Assembler struct {
	opts Options
}

func NewAssembler(opts Options) *Assembler {
	if opts.SilenceDivisor <= 0 {
		opts.SilenceDivisor = 1
	}
	return &Assembler{opts: opts}
}

// Assemble concatenates clips in slice order. All arithmetic is in whole milliseconds;
// every boundary is written at the frame of its millisecond position, so the PCM never
// drifts from the markers. A clip is trimmed or zero-padded to its DurationMS.
func (a *Assembler) Assemble(clips []Clip) (Assembled, error) {
	if len(clips) == 0 {
		return Assembled{}, errors.New("no clips to assemble")
	}
	rate, channels := clips[0].SampleRate, clips[0].Channels
	for _, c := range clips {
		if c.SampleRate != rate || c.Channels != channels {
			return Assembled{}, fmt.Errorf("turn %d: format %d Hz x %d does not match %d Hz x %d",
				c.Ordinal, c.SampleRate, c.Channels, rate, channels)
		}
		if c.DurationMS <= 0 {
			return Assembled{}, fmt.Errorf("turn %d: clip has no duration", c.Ordinal)
		}
	}

	leadIn := int(a.opts.LeadIn.Milliseconds())
	silenceCap := int(a.opts.SilenceCap.Milliseconds())
	minSilence := int(a.opts.MinSilence.Milliseconds())

	// first pass fixes the timeline so the buffer is allocated once
	markers := make([]Marker, 0, len(clips))
	starts, ends := make([]int, len(clips)), make([]int, len(clips))
	cumulative := leadIn
	for i, c := range clips {
		starts[i] = cumulative
		cumulative += c.DurationMS
		ends[i] = cumulative

		silence := min(silenceCap, c.DurationMS/a.opts.SilenceDivisor)
		silence = max(silence, minSilence)
		cumulative += silence

		markers = append(markers, Marker{Start: float64(starts[i]) / 1000.0, End: float64(ends[i]) / 1000.0})
	}

	frameSize := channels * bytesPerSample
	pcm := make([]byte, framesAt(cumulative, rate)*frameSize)
	for i, c := range clips {
		from := framesAt(starts[i], rate) * frameSize
		to := framesAt(ends[i], rate) * frameSize
		copy(pcm[from:to], c.PCM)
	}

	return Assembled{
		PCM:        pcm,
		SampleRate: rate,
		Channels:   channels,
		Markers:    markers,
		DurationMS: cumulative,
	}, nil
}
