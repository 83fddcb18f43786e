package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/loqalabs/loqa-podcast/internal/config"
)

func TestMockGeneratorDetectsLanguage(t *testing.T) {
	resp, err := NewMockGenerator().Complete(context.Background(), Request{Name: NameDetectLanguage, Prompt: "bees"})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	var out struct {
		Lang string `json:"lang"`
	}
	if err := json.Unmarshal([]byte(resp.Content), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Lang != "en-US" {
		t.Fatalf("unexpected language %q", out.Lang)
	}
}

func TestMockGeneratorUsesTopic(t *testing.T) {
	resp, err := NewMockGenerator().Complete(context.Background(), Request{Prompt: "Write a podcast.\nTopic: tide pools\nStyle: casual"})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if !strings.Contains(resp.Content, "tide pools") {
		t.Fatalf("expected topic in mock output: %s", resp.Content)
	}
}

func TestMockGeneratorHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewMockGenerator().Complete(ctx, Request{Prompt: "x"}); err == nil {
		t.Fatal("expected context error")
	}
}

func TestOllamaSendsSchemaAsFormat(t *testing.T) {
	var got ollamaRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(ollamaResponse{Model: "llama", Response: `{"lang":"fr-FR"}`, Done: true})
	}))
	defer srv.Close()

	gen := NewOllamaGenerator(srv.URL+"/", "llama", 0)
	schema := &Schema{Type: "object", Properties: map[string]*Schema{"lang": {Type: "string"}}, Required: []string{"lang"}}
	resp, err := gen.Complete(context.Background(), Request{Prompt: "bonjour", Schema: schema})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if resp.Content != `{"lang":"fr-FR"}` {
		t.Fatalf("unexpected content %q", resp.Content)
	}
	if got.Stream {
		t.Fatal("expected non-streaming request")
	}
	if !strings.Contains(string(got.Format), `"required":["lang"]`) {
		t.Fatalf("expected schema in format, got %s", got.Format)
	}
}

func TestOllamaErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()
	if _, err := NewOllamaGenerator(srv.URL, "", 0).Complete(context.Background(), Request{Prompt: "x"}); err == nil {
		t.Fatal("expected error on 500")
	}
}

func TestOpenAIGeneratorRequestsJSONSchema(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"x","object":"chat.completion","model":"gpt-test","choices":[{"index":0,"message":{"role":"assistant","content":"{\"ok\":true}"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	gen, err := NewOpenAIGenerator(OpenAIConfig{APIKey: "test", BaseURL: srv.URL + "/v1", Model: "gpt-test"})
	if err != nil {
		t.Fatalf("new generator: %v", err)
	}
	resp, err := gen.Complete(context.Background(), Request{
		Name:   "podcast",
		System: "you write podcasts",
		Prompt: "Topic: owls",
		Schema: &Schema{Type: "object", Properties: map[string]*Schema{"ok": {Type: "boolean"}}},
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if resp.Content != `{"ok":true}` || resp.Model != "gpt-test" {
		t.Fatalf("unexpected response %+v", resp)
	}
	format, _ := body["response_format"].(map[string]any)
	if format["type"] != "json_schema" {
		t.Fatalf("expected json_schema response format, got %v", body["response_format"])
	}
	messages, _ := body["messages"].([]any)
	if len(messages) != 2 {
		t.Fatalf("expected system and user messages, got %d", len(messages))
	}
}

func TestExecGeneratorRoundTrip(t *testing.T) {
	gen, err := NewExecGenerator(`sh -c 'cat >/dev/null; echo "{\"content\":\"hello\",\"model\":\"script\"}"'`)
	if err != nil {
		t.Fatalf("new exec generator: %v", err)
	}
	resp, err := gen.Complete(context.Background(), Request{Prompt: "hi"})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if resp.Content != "hello" || resp.Model != "script" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestExecGeneratorRejectsEmptyCommand(t *testing.T) {
	if _, err := NewExecGenerator("   "); err == nil {
		t.Fatal("expected error for empty command")
	}
}

func TestNewSelectsBackend(t *testing.T) {
	if _, err := New(context.Background(), config.LLMConfig{Mode: "mock"}); err != nil {
		t.Fatalf("mock: %v", err)
	}
	if _, err := New(context.Background(), config.LLMConfig{Mode: "ollama", Endpoint: "http://localhost:11434"}); err != nil {
		t.Fatalf("ollama: %v", err)
	}
	if _, err := New(context.Background(), config.LLMConfig{Mode: "openai"}); err == nil {
		t.Fatal("expected missing key error")
	}
	if _, err := New(context.Background(), config.LLMConfig{Mode: "carrier-pigeon"}); err == nil {
		t.Fatal("expected unknown mode error")
	}
}

func TestToGenaiSchema(t *testing.T) {
	s := toGenaiSchema(&Schema{
		Type:     "object",
		Required: []string{"people"},
		Properties: map[string]*Schema{
			"people": {Type: "array", Items: &Schema{Type: "string", Enum: []string{"male", "female"}}},
		},
	})
	items := s.Properties["people"].Items
	if items == nil || len(items.Enum) != 2 || items.Format != "enum" {
		t.Fatalf("unexpected converted schema: %+v", items)
	}
}
