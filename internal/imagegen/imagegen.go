package imagegen

import (
	"context"
	"fmt"
	"time"

	"github.com/loqalabs/loqa-podcast/internal/config"
)

// Generator renders a prompt into an encoded image.
type Generator interface {
	Generate(ctx context.Context, prompt string) ([]byte, error)
}

func New(cfg config.ImagesConfig) (Generator, error) {
	switch cfg.Mode {
	case "", "mock":
		return NewMockGenerator(256), nil
	case "openai":
		return NewOpenAIGenerator(OpenAIConfig{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.Endpoint,
			Model:   cfg.Model,
			Size:    cfg.Size,
			Timeout: 2 * time.Minute,
		})
	default:
		return nil, fmt.Errorf("unknown image mode %q", cfg.Mode)
	}
}
