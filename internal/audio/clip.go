package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const bytesPerSample = 2

// Clip is the rendered audio of one turn as 16-bit little-endian PCM.
type Clip struct {
	Ordinal    int
	PCM        []byte
	SampleRate int
	Channels   int
	// DurationMS is derived from the sample count, rounded down to whole milliseconds.
	// PCM holds exactly framesAt(DurationMS) frames.
	DurationMS int
}

// FromPCM wraps raw LINEAR16 PCM into a Clip. Trailing frames that do not fill a whole
// millisecond are dropped; audio shorter than 1 ms is rejected.
func FromPCM(ordinal int, pcm []byte, sampleRate, channels int) (Clip, error) {
	if sampleRate <= 0 || channels <= 0 {
		return Clip{}, fmt.Errorf("turn %d: invalid format %d Hz x %d channels", ordinal, sampleRate, channels)
	}
	frameSize := channels * bytesPerSample
	if len(pcm) == 0 {
		return Clip{}, fmt.Errorf("turn %d: empty audio", ordinal)
	}
	if len(pcm)%frameSize != 0 {
		return Clip{}, fmt.Errorf("turn %d: pcm payload not aligned", ordinal)
	}
	frames := len(pcm) / frameSize
	durationMS := frames * 1000 / sampleRate
	if durationMS == 0 {
		return Clip{}, fmt.Errorf("turn %d: audio shorter than 1 ms (%d frames at %d Hz)", ordinal, frames, sampleRate)
	}
	return Clip{
		Ordinal:    ordinal,
		PCM:        pcm[:framesAt(durationMS, sampleRate)*frameSize],
		SampleRate: sampleRate,
		Channels:   channels,
		DurationMS: durationMS,
	}, nil
}

// framesAt is the frame index of a millisecond position.
func framesAt(ms, sampleRate int) int {
	return int(int64(ms) * int64(sampleRate) / 1000)
}

// DecodeWAV reads a RIFF/WAVE LINEAR16 payload into a Clip.
func DecodeWAV(ordinal int, data []byte) (Clip, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return Clip{}, fmt.Errorf("turn %d: invalid wav payload", ordinal)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return Clip{}, fmt.Errorf("turn %d: decode wav: %w", ordinal, err)
	}
	if dec.BitDepth != 16 {
		return Clip{}, fmt.Errorf("turn %d: unsupported bit depth %d", ordinal, dec.BitDepth)
	}
	if buf == nil || len(buf.Data) == 0 {
		return Clip{}, fmt.Errorf("turn %d: empty audio", ordinal)
	}
	return FromPCM(ordinal, intsToPCM(buf.Data), int(dec.SampleRate), int(dec.NumChans))
}

func intsToPCM(samples []int) []byte {
	pcm := make([]byte, len(samples)*bytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(pcm[i*bytesPerSample:], uint16(int16(s)))
	}
	return pcm
}

func pcmToIntBuffer(pcm []byte, sampleRate, channels int) *goaudio.IntBuffer {
	samples := make([]int, len(pcm)/bytesPerSample)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*bytesPerSample:])))
	}
	return &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:           samples,
		SourceBitDepth: 16,
	}
}
