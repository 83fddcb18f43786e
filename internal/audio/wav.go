package audio

import (
	"fmt"
	"io"
	"os"

	"github.com/go-audio/wav"
)

// WriteWAV encodes the assembled stream as 16-bit WAV.
func WriteWAV(w io.WriteSeeker, a Assembled) error {
	if len(a.PCM)%(bytesPerSample*a.Channels) != 0 {
		return fmt.Errorf("pcm payload not aligned")
	}
	enc := wav.NewEncoder(w, a.SampleRate, 16, a.Channels, 1)
	if err := enc.Write(pcmToIntBuffer(a.PCM, a.SampleRate, a.Channels)); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}

// EncodeWAV returns the assembled stream as a WAV file in memory. The encoder needs a
// seekable sink to patch the header, so the bytes are staged in a temp file.
func EncodeWAV(a Assembled) ([]byte, error) {
	file, err := os.CreateTemp("", "loqa_podcast_*.wav")
	if err != nil {
		return nil, fmt.Errorf("temp file: %w", err)
	}
	defer os.Remove(file.Name())
	defer file.Close()

	if err := WriteWAV(file, a); err != nil {
		return nil, err
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	return io.ReadAll(file)
}
