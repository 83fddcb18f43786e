package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// NameDetectLanguage marks language detection calls so the mock can answer them.
const NameDetectLanguage = "detect_language"

type mockGenerator struct{}

// NewMockGenerator returns a generator with canned, deterministic output: a short
// two-person conversation about whatever follows "Topic:" in the prompt.
func NewMockGenerator() Generator { return &mockGenerator{} }

func (m *mockGenerator) Complete(ctx context.Context, req Request) (Response, error) {
	select {
	case <-ctx.Done():
		return Response{}, ctx.Err()
	case <-time.After(20 * time.Millisecond):
	}
	if req.Name == NameDetectLanguage {
		return Response{Content: `{"lang":"en-US","confidence":0.99}`, Model: "mock", Latency: 20 * time.Millisecond}, nil
	}

	topic := "something interesting"
	for _, line := range strings.Split(req.Prompt, "\n") {
		if rest, ok := strings.CutPrefix(strings.TrimSpace(line), "Topic:"); ok && strings.TrimSpace(rest) != "" {
			topic = strings.TrimSpace(rest)
			break
		}
	}

	type person struct {
		ID          string `json:"id"`
		Name        string `json:"name"`
		Country     string `json:"country"`
		Gender      string `json:"gender"`
		Interviewer bool   `json:"interviewer"`
	}
	type turn struct {
		Speaker string `json:"speaker"`
		Text    string `json:"text"`
	}
	script := map[string]any{
		"podcastTitle":       "Talking About " + topic,
		"podcastDescription": fmt.Sprintf("A friendly conversation about %s.", topic),
		"episodeTitle":       "An Introduction to " + topic,
		"episodeNumber":      "1",
		"language":           "en-US",
		"tags":               []string{"Mock", topic, "mock"},
		"people": []person{
			{ID: "host", Name: "Ana", Country: "en-US", Gender: "female", Interviewer: true},
			{ID: "guest", Name: "Ben", Country: "en-US", Gender: "male"},
		},
		"conversation": []turn{
			{Speaker: "host", Text: fmt.Sprintf("Welcome back! Today we are talking about %s.", topic)},
			{Speaker: "guest", Text: "Thanks for having me. It is one of my favourite subjects."},
			{Speaker: "host", Text: "So where should a newcomer start?"},
			{Speaker: "guest", Text: "Start small, stay curious, and ask a lot of questions."},
			{Speaker: "host", Text: "Great advice. Thanks for joining us."},
		},
	}
	data, err := json.Marshal(script)
	if err != nil {
		return Response{}, err
	}
	return Response{Content: string(data), Model: "mock", Latency: 20 * time.Millisecond}, nil
}
