package tts

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os/exec"

	"github.com/loqalabs/loqa-podcast/internal/podcast"
	"github.com/mattn/go-shellwords"
)

// execSynth runs an external command per request. The command reads one JSON request on
// stdin and streams JSON lines of base64 PCM on stdout. Invoked with
// "--list-voices <lang>" it prints the catalog as a JSON array instead.
type execSynth struct {
	cmd        []string
	sampleRate int
	channels   int
}

type execRequest struct {
	Text           string                  `json:"text"`
	Voice          string                  `json:"voice"`
	Locale         string                  `json:"locale,omitempty"`
	Pronunciations []podcast.Pronunciation `json:"pronunciations,omitempty"`
	SampleRate     int                     `json:"sample_rate"`
	Channels       int                     `json:"channels"`
}

type execResponse struct {
	PCMBase64 string `json:"pcm_base64"`
}

type execVoice struct {
	Name          string   `json:"name"`
	LanguageCodes []string `json:"language_codes"`
	Gender        string   `json:"gender"`
}

func NewExecSynth(command string, sampleRate, channels int) (Synthesizer, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse tts command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("tts command empty")
	}
	return &execSynth{cmd: args, sampleRate: sampleRate, channels: channels}, nil
}

func (e *execSynth) ListVoices(ctx context.Context, languageCode string) ([]Voice, error) {
	args := append(append([]string{}, e.cmd[1:]...), "--list-voices", languageCode)
	output, err := exec.CommandContext(ctx, e.cmd[0], args...).Output()
	if err != nil {
		return nil, fmt.Errorf("tts list voices failed: %w", err)
	}
	var raw []execVoice
	if err := json.Unmarshal(output, &raw); err != nil {
		return nil, fmt.Errorf("decode tts voice list: %w", err)
	}
	voices := make([]Voice, 0, len(raw))
	for _, v := range raw {
		gender, ok := podcast.ParseGender(v.Gender)
		if !ok {
			gender = podcast.GenderNeutral
		}
		voices = append(voices, Voice{Name: v.Name, LanguageCodes: v.LanguageCodes, Gender: gender})
	}
	return voices, nil
}

func (e *execSynth) Synthesize(ctx context.Context, req SynthRequest) (SynthResult, error) {
	data, err := json.Marshal(execRequest{
		Text:           req.Text,
		Voice:          req.Voice,
		Locale:         req.Locale,
		Pronunciations: req.Pronunciations,
		SampleRate:     e.sampleRate,
		Channels:       e.channels,
	})
	if err != nil {
		return SynthResult{}, err
	}

	base := e.cmd[0]
	args := append([]string{}, e.cmd[1:]...)
	cmd := exec.CommandContext(ctx, base, args...)
	cmd.Stdin = bytes.NewReader(data)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return SynthResult{}, err
	}
	if err := cmd.Start(); err != nil {
		return SynthResult{}, err
	}

	var pcm bytes.Buffer
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var resp execResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			cmd.Wait()
			return SynthResult{}, fmt.Errorf("decode tts exec response: %w", err)
		}
		chunk, err := base64.StdEncoding.DecodeString(resp.PCMBase64)
		if err != nil {
			cmd.Wait()
			return SynthResult{}, fmt.Errorf("decode tts pcm: %w", err)
		}
		pcm.Write(chunk)
	}
	scanErr := scanner.Err()
	if err := cmd.Wait(); err != nil {
		return SynthResult{}, fmt.Errorf("tts exec command failed: %w", err)
	}
	if scanErr != nil {
		return SynthResult{}, scanErr
	}
	return SynthResult{Audio: pcm.Bytes(), Format: FormatPCM, SampleRate: e.sampleRate, Channels: e.channels}, nil
}
