package models

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/opera-os/opera/internal/config"
)

const (
	// DefaultOllamaBaseURL is where a local Ollama server listens by default.
	DefaultOllamaBaseURL = "http://localhost:11434"
	// DefaultOllamaModel is used when no local model is configured.
	DefaultOllamaModel = "llama3.2"
)

// OllamaProvider runs completions on a model served by a local Ollama.
type OllamaProvider struct {
	baseURL string
	model   string
	client  *http.Client
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  *ollamaOptions  `json:"options,omitempty"`
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaChatResponse struct {
	Model   string        `json:"model"`
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
	Error   string        `json:"error,omitempty"`
}

// NewOllamaProvider creates a local provider and checks that the configured
// model is available. It fails with ErrModelLoad when it is not.
func NewOllamaProvider(ctx context.Context, cfg config.LocalConfig) (*OllamaProvider, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultOllamaBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = DefaultOllamaModel
	}
	p := &OllamaProvider{
		baseURL: baseURL,
		model:   model,
		client: &http.Client{
			Timeout: 300 * time.Second, // local inference can be slow
		},
	}
	if err := p.checkModel(ctx); err != nil {
		return nil, fmt.Errorf("ollama %s: %w: %v", model, ErrModelLoad, err)
	}
	return p, nil
}

func (p *OllamaProvider) Name() string { return "ollama" }

// Model returns the local model name.
func (p *OllamaProvider) Model() string { return p.model }

func (p *OllamaProvider) checkModel(ctx context.Context) error {
	body, _ := json.Marshal(map[string]string{"model": p.model})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/show", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	return nil
}

func (p *OllamaProvider) post(ctx context.Context, messages []Message, opts Options, stream bool) (*http.Response, error) {
	msgs := make([]ollamaMessage, 0, len(messages))
	for _, m := range messages {
		msgs = append(msgs, ollamaMessage{Role: string(m.Role), Content: m.Content})
	}
	body, err := json.Marshal(ollamaChatRequest{
		Model:    p.model,
		Messages: msgs,
		Stream:   stream,
		Options:  &ollamaOptions{Temperature: opts.Temperature, NumPredict: opts.MaxTokens},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, &BackendError{Provider: p.Name(), Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close() //nolint:errcheck
		msg, _ := io.ReadAll(resp.Body)
		return nil, &BackendError{Provider: p.Name(), Status: resp.StatusCode, Err: errors.New(string(bytes.TrimSpace(msg)))}
	}
	return resp, nil
}

// Complete runs a non-streaming chat request.
func (p *OllamaProvider) Complete(ctx context.Context, messages []Message, opts Options) (string, error) {
	resp, err := p.post(ctx, messages, opts, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close() //nolint:errcheck

	var out ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", &BackendError{Provider: p.Name(), Err: fmt.Errorf("decode response: %w", err)}
	}
	if out.Error != "" {
		return "", &BackendError{Provider: p.Name(), Err: errors.New(out.Error)}
	}
	return out.Message.Content, nil
}

// Stream runs a streaming chat request. Ollama answers with one JSON object
// per line until an object with done=true.
func (p *OllamaProvider) Stream(ctx context.Context, messages []Message, opts Options) (<-chan StreamChunk, error) {
	resp, err := p.post(ctx, messages, opts, true)
	if err != nil {
		return nil, err
	}

	ch := make(chan StreamChunk, 16)
	go func() {
		defer close(ch)
		defer resp.Body.Close() //nolint:errcheck

		send := func(c StreamChunk) bool {
			select {
			case ch <- c:
				return true
			case <-ctx.Done():
				return false
			}
		}

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			var part ollamaChatResponse
			if err := json.Unmarshal(line, &part); err != nil {
				send(StreamChunk{Err: &BackendError{Provider: p.Name(), Err: fmt.Errorf("decode chunk: %w", err)}})
				return
			}
			if part.Error != "" {
				send(StreamChunk{Err: &BackendError{Provider: p.Name(), Err: errors.New(part.Error)}})
				return
			}
			if part.Message.Content != "" && !send(StreamChunk{Text: part.Message.Content}) {
				return
			}
			if part.Done {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			send(StreamChunk{Err: &BackendError{Provider: p.Name(), Err: err}})
		}
	}()
	return ch, nil
}

var _ Provider = (*OllamaProvider)(nil)
