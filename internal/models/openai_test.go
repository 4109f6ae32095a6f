package models

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/openai/openai-go/option"

	"github.com/opera-os/opera/internal/config"
)

func newTestOpenAI(t *testing.T, handler http.HandlerFunc) *OpenAIProvider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	p, err := NewOpenAIProvider(config.OpenAIConfig{
		APIKey:  "sk-test",
		BaseURL: server.URL + "/v1/",
		Model:   "gpt-test",
	}, option.WithMaxRetries(0))
	if err != nil {
		t.Fatalf("NewOpenAIProvider: %v", err)
	}
	return p
}

func TestNewOpenAIProviderNoKey(t *testing.T) {
	_, err := NewOpenAIProvider(config.OpenAIConfig{Model: "gpt-4o-mini"})
	if !errors.Is(err, ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable, got %v", err)
	}
}

func TestNewOpenAIProviderDefaultModel(t *testing.T) {
	p, err := NewOpenAIProvider(config.OpenAIConfig{APIKey: "sk"})
	if err != nil {
		t.Fatal(err)
	}
	if p.Model() != DefaultOpenAIModel {
		t.Errorf("expected default model, got %s", p.Model())
	}
	if p.Name() != "openai" {
		t.Errorf("expected name openai, got %s", p.Name())
	}
}

func TestOpenAIComplete(t *testing.T) {
	p := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("expected path /v1/chat/completions, got %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("expected bearer auth, got %q", got)
		}

		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body["model"] != "gpt-test" {
			t.Errorf("expected model gpt-test, got %v", body["model"])
		}
		if body["temperature"] != 0.3 {
			t.Errorf("expected temperature 0.3, got %v", body["temperature"])
		}
		msgs, _ := body["messages"].([]any)
		if len(msgs) != 2 {
			t.Fatalf("expected 2 messages, got %d", len(msgs))
		}
		if first := msgs[0].(map[string]any); first["role"] != "system" {
			t.Errorf("expected system message first, got %v", first["role"])
		}

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"c1","object":"chat.completion","created":0,"model":"gpt-test",
			"choices":[{"index":0,"message":{"role":"assistant","content":"{\"category\":\"summarization\"}"},"finish_reason":"stop"}]}`)
	})

	out, err := p.Complete(context.Background(), []Message{
		{Role: RoleSystem, Content: "classify"},
		{Role: RoleUser, Content: "summarize my week"},
	}, Options{Temperature: 0.3, MaxTokens: 300})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if out != `{"category":"summarization"}` {
		t.Errorf("unexpected output %q", out)
	}
}

func TestOpenAICompleteError(t *testing.T) {
	p := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error":{"message":"boom","type":"server_error"}}`)
	})

	_, err := p.Complete(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, Options{})
	var be *BackendError
	if !errors.As(err, &be) {
		t.Fatalf("expected BackendError, got %v", err)
	}
	if be.Status != http.StatusInternalServerError {
		t.Errorf("expected status 500, got %d", be.Status)
	}
}

func TestOpenAIStream(t *testing.T) {
	p := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, piece := range []string{"Hel", "lo", "!"} {
			fmt.Fprintf(w, "data: {\"id\":\"c1\",\"object\":\"chat.completion.chunk\",\"created\":0,\"model\":\"gpt-test\",\"choices\":[{\"index\":0,\"delta\":{\"content\":%q}}]}\n\n", piece)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	ch, err := p.Stream(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, Options{})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	text, err := Collect(ch)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if text != "Hello!" {
		t.Errorf("expected Hello!, got %q", text)
	}
}
