// Package models wraps text-completion backends behind a single Provider
// interface: a hosted OpenAI-compatible API and a local Ollama server.
package models

import (
	"context"
	"errors"
	"fmt"
)

// Role tags a conversation turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one conversation turn.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Options tunes a single completion.
type Options struct {
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}

// StreamChunk is one piece of a streamed completion. A chunk with Err set is
// always the last one sent before the channel closes.
type StreamChunk struct {
	Text string
	Err  error
}

// Provider produces text completions.
type Provider interface {
	// Name identifies the backend, e.g. "openai" or "ollama".
	Name() string

	// Complete blocks until the full completion is available.
	Complete(ctx context.Context, messages []Message, opts Options) (string, error)

	// Stream starts a fresh generation and returns a channel of chunks that
	// is closed when generation ends.
	Stream(ctx context.Context, messages []Message, opts Options) (<-chan StreamChunk, error)
}

var (
	// ErrBackendUnavailable is returned when a remote backend has no credentials.
	ErrBackendUnavailable = errors.New("completion backend unavailable")

	// ErrModelLoad is returned when a local model cannot be loaded.
	ErrModelLoad = errors.New("model load failed")
)

// BackendError reports a failed call to a completion backend.
type BackendError struct {
	Provider string
	Status   int
	Err      error
}

func (e *BackendError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s backend error (status %d): %v", e.Provider, e.Status, e.Err)
	}
	return fmt.Sprintf("%s backend error: %v", e.Provider, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// Collect drains a stream into a single string.
func Collect(ch <-chan StreamChunk) (string, error) {
	var out []byte
	for chunk := range ch {
		if chunk.Err != nil {
			return string(out), chunk.Err
		}
		out = append(out, chunk.Text...)
	}
	return string(out), nil
}
