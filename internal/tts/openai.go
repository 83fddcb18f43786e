package tts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/loqalabs/loqa-podcast/internal/podcast"
	openai "github.com/sashabaranov/go-openai"
)

// OpenAI speech is raw 24 kHz mono LINEAR16 when response_format=pcm.
const (
	openAISampleRate = 24000
	openAIChannels   = 1
)

var openAIVoices = []Voice{
	{Name: string(openai.VoiceAlloy), Gender: podcast.GenderNeutral},
	{Name: string(openai.VoiceEcho), Gender: podcast.GenderMale},
	{Name: string(openai.VoiceFable), Gender: podcast.GenderNeutral},
	{Name: string(openai.VoiceOnyx), Gender: podcast.GenderMale},
	{Name: string(openai.VoiceNova), Gender: podcast.GenderFemale},
	{Name: string(openai.VoiceShimmer), Gender: podcast.GenderFemale},
}

type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	HTTPClient *http.Client
}

type openAISynth struct {
	client *openai.Client
	model  openai.SpeechModel
}

func NewOpenAISynth(cfg OpenAIConfig) (Synthesizer, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("missing API key")
	}
	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}
	if cfg.HTTPClient != nil {
		config.HTTPClient = cfg.HTTPClient
	} else {
		config.HTTPClient = &http.Client{Timeout: 90 * time.Second}
	}
	model := openai.SpeechModel(cfg.Model)
	if model == "" {
		model = openai.TTSModel1
	}
	return &openAISynth{client: openai.NewClientWithConfig(config), model: model}, nil
}

// ListVoices returns the fixed OpenAI voice set; every voice speaks every language.
func (s *openAISynth) ListVoices(_ context.Context, languageCode string) ([]Voice, error) {
	voices := make([]Voice, 0, len(openAIVoices))
	for _, v := range openAIVoices {
		v.LanguageCodes = []string{languageCode}
		voices = append(voices, v)
	}
	return voices, nil
}

func (s *openAISynth) Synthesize(ctx context.Context, req SynthRequest) (SynthResult, error) {
	resp, err := s.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          s.model,
		Input:          req.Text,
		Voice:          openai.SpeechVoice(req.Voice),
		ResponseFormat: openai.SpeechResponseFormatPcm,
	})
	if err != nil {
		return SynthResult{}, err
	}
	defer resp.Close()
	audio, err := io.ReadAll(resp)
	if err != nil {
		return SynthResult{}, fmt.Errorf("read speech: %w", err)
	}
	return SynthResult{Audio: audio, Format: FormatPCM, SampleRate: openAISampleRate, Channels: openAIChannels}, nil
}
