package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/loqalabs/loqa-podcast/internal/config"
)

// Schema is a backend-neutral subset of JSON Schema used to constrain structured output.
type Schema struct {
	Type        string             `json:"type"`
	Description string             `json:"description,omitempty"`
	Properties  map[string]*Schema `json:"properties,omitempty"`
	Items       *Schema            `json:"items,omitempty"`
	Required    []string           `json:"required,omitempty"`
	Enum        []string           `json:"enum,omitempty"`
}

// Request describes a single completion call.
type Request struct {
	// Name identifies the call (e.g. "detect_language"); structured-output APIs require one.
	Name        string
	System      string
	Prompt      string
	Schema      *Schema
	JSON        bool
	Temperature float64
}

// Response is the complete, non-streamed model output.
type Response struct {
	Content string
	Model   string
	Latency time.Duration
}

// Generator defines a pluggable generative backend.
type Generator interface {
	Complete(ctx context.Context, req Request) (Response, error)
}

// New builds the generator selected by cfg.Mode.
func New(ctx context.Context, cfg config.LLMConfig) (Generator, error) {
	switch cfg.Mode {
	case "", "mock":
		return NewMockGenerator(), nil
	case "ollama":
		return NewOllamaGenerator(cfg.Endpoint, cfg.Model, time.Duration(cfg.TimeoutMS)*time.Millisecond), nil
	case "exec":
		return NewExecGenerator(cfg.Command)
	case "openai":
		return NewOpenAIGenerator(OpenAIConfig{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.Endpoint,
			Model:   cfg.Model,
			Timeout: time.Duration(cfg.TimeoutMS) * time.Millisecond,
		})
	case "gemini":
		return NewGeminiGenerator(ctx, cfg.APIKey, cfg.Model)
	default:
		return nil, fmt.Errorf("unknown llm mode %q", cfg.Mode)
	}
}
