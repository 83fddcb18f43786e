package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/mattn/go-shellwords"
)

type execGenerator struct {
	cmd []string
	mu  sync.Mutex
}

type execRequest struct {
	Name        string  `json:"name,omitempty"`
	System      string  `json:"system,omitempty"`
	Prompt      string  `json:"prompt"`
	Schema      *Schema `json:"schema,omitempty"`
	JSON        bool    `json:"json"`
	Temperature float64 `json:"temperature,omitempty"`
}

type execResponse struct {
	Content string `json:"content"`
	Model   string `json:"model,omitempty"`
}

func NewExecGenerator(command string) (Generator, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse llm command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("llm command empty")
	}
	return &execGenerator{cmd: args}, nil
}

func (g *execGenerator) Complete(ctx context.Context, req Request) (Response, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	input, err := json.Marshal(execRequest{
		Name:        req.Name,
		System:      req.System,
		Prompt:      req.Prompt,
		Schema:      req.Schema,
		JSON:        req.JSON || req.Schema != nil,
		Temperature: req.Temperature,
	})
	if err != nil {
		return Response{}, err
	}

	base := g.cmd[0]
	args := append([]string{}, g.cmd[1:]...)
	cmd := exec.CommandContext(ctx, base, args...)
	cmd.Stdin = bytes.NewReader(input)
	start := time.Now()
	output, err := cmd.Output()
	if err != nil {
		return Response{}, fmt.Errorf("llm exec command failed: %w", err)
	}

	var resp execResponse
	if err := json.Unmarshal(output, &resp); err != nil {
		return Response{}, fmt.Errorf("decode llm exec response: %w", err)
	}
	return Response{Content: resp.Content, Model: resp.Model, Latency: time.Since(start)}, nil
}
