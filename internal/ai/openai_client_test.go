package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"
)

func TestOpenAIClientGenerate(t *testing.T) {
	var payload map[string]any
	srv := newIPv4Server(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("unexpected auth header %q", r.Header.Get("Authorization"))
		}
		_ = json.NewDecoder(r.Body).Decode(&payload)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"chatcmpl-1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"{\"ok\":true}"},"finish_reason":"stop"}],"usage":{"prompt_tokens":12,"completion_tokens":3,"total_tokens":15}}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient("sk-test", srv.URL, &http.Client{Timeout: 2 * time.Second})
	resp, err := c.Generate(context.Background(), GenerateRequest{
		Model:       "o3-mini",
		Messages:    []Message{{Role: "system", Content: "s"}, {Role: "user", Content: "u"}},
		MaxTokens:   100,
		Temperature: 0.7,
		JSONMode:    true,
	})
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if resp.Text() != `{"ok":true}` {
		t.Fatalf("unexpected text %q", resp.Text())
	}
	if resp.ID != "chatcmpl-1" || resp.Usage.TotalTokens != 15 || resp.Usage.PromptTokens != 12 {
		t.Fatalf("unexpected response metadata: %+v", resp)
	}
	if payload["model"] != "o3-mini" {
		t.Fatalf("unexpected model %v", payload["model"])
	}
	if _, ok := payload["temperature"]; ok {
		t.Fatalf("temperature must not be sent to reasoning models")
	}
	if payload["max_completion_tokens"] != float64(100) {
		t.Fatalf("expected max_completion_tokens=100, got %v", payload["max_completion_tokens"])
	}
	rf, _ := payload["response_format"].(map[string]any)
	if rf["type"] != "json_object" {
		t.Fatalf("expected json_object response format, got %v", payload["response_format"])
	}
}

func TestOpenAIClientClassifiesErrors(t *testing.T) {
	srv := newIPv4Server(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"message":"The model does not exist","type":"invalid_request_error","code":"model_not_found"}}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient("sk-test", srv.URL, nil)
	_, err := c.Generate(context.Background(), GenerateRequest{Model: "nope", Messages: []Message{{Role: "user", Content: "hi"}}})
	var mnf *ModelNotFoundError
	if !errors.As(err, &mnf) {
		t.Fatalf("expected ModelNotFoundError, got %T: %v", err, err)
	}
}

func TestOpenAIClientRequiresKey(t *testing.T) {
	_, err := NewOpenAIClient("", "", nil).Generate(context.Background(), GenerateRequest{Model: "o3-mini"})
	if err == nil {
		t.Fatalf("expected error without api key")
	}
}

func TestIsReasoningModel(t *testing.T) {
	cases := map[string]bool{"o3-mini": true, "o1": true, "O4-mini": true, "gpt-4o": false, "openai/o3-mini": false}
	for in, want := range cases {
		if got := isReasoningModel(in); got != want {
			t.Fatalf("isReasoningModel(%q)=%v want %v", in, got, want)
		}
	}
}

func TestRegistryProviders(t *testing.T) {
	for _, p := range []string{ProviderOpenAI, ProviderOpenRouter} {
		rt, ok := GetRuntime(p, RuntimeConfig{APIKey: "k"})
		if !ok || rt == nil {
			t.Fatalf("provider %s not registered", p)
		}
	}
	if _, ok := GetRuntime("ollama", RuntimeConfig{}); ok {
		t.Fatalf("unexpected provider")
	}
	if _, ok := EstimateCostUSD("o3-mini", 1000, 1000); !ok {
		t.Fatalf("expected o3-mini pricing")
	}
}
