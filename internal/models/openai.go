package models

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/opera-os/opera/internal/config"
)

// DefaultOpenAIModel is used when no model is configured.
const DefaultOpenAIModel = "gpt-4o-mini"

// OpenAIProvider talks to OpenAI or any OpenAI-compatible endpoint.
type OpenAIProvider struct {
	client openai.Client
	model  string
}

// NewOpenAIProvider creates a remote provider. It fails with
// ErrBackendUnavailable when no API key is configured.
func NewOpenAIProvider(cfg config.OpenAIConfig, opts ...option.RequestOption) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: %w: no API key configured", ErrBackendUnavailable)
	}
	model := cfg.Model
	if model == "" {
		model = DefaultOpenAIModel
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}
	reqOpts = append(reqOpts, opts...)

	return &OpenAIProvider{
		client: openai.NewClient(reqOpts...),
		model:  model,
	}, nil
}

func (p *OpenAIProvider) Name() string { return "openai" }

// Model returns the configured model name.
func (p *OpenAIProvider) Model() string { return p.model }

func (p *OpenAIProvider) params(messages []Message, opts Options) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{Model: p.model}
	if opts.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(opts.MaxTokens))
	}
	params.Temperature = openai.Float(opts.Temperature)

	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			msgs = append(msgs, openai.SystemMessage(m.Content))
		case RoleAssistant:
			msgs = append(msgs, openai.AssistantMessage(m.Content))
		default:
			msgs = append(msgs, openai.UserMessage(m.Content))
		}
	}
	params.Messages = msgs
	return params
}

// Complete sends a chat completion request and returns the first choice.
func (p *OpenAIProvider) Complete(ctx context.Context, messages []Message, opts Options) (string, error) {
	resp, err := p.client.Chat.Completions.New(ctx, p.params(messages, opts))
	if err != nil {
		return "", p.wrap(err)
	}
	if len(resp.Choices) == 0 {
		return "", &BackendError{Provider: p.Name(), Err: errors.New("empty choices")}
	}
	return resp.Choices[0].Message.Content, nil
}

// Stream sends a streaming chat completion request.
func (p *OpenAIProvider) Stream(ctx context.Context, messages []Message, opts Options) (<-chan StreamChunk, error) {
	stream := p.client.Chat.Completions.NewStreaming(ctx, p.params(messages, opts))

	ch := make(chan StreamChunk, 16)
	go func() {
		defer close(ch)
		defer func() { _ = stream.Close() }()

		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
				continue
			}
			select {
			case ch <- StreamChunk{Text: chunk.Choices[0].Delta.Content}:
			case <-ctx.Done():
				return
			}
		}
		if err := stream.Err(); err != nil {
			select {
			case ch <- StreamChunk{Err: p.wrap(err)}:
			case <-ctx.Done():
			}
		}
	}()
	return ch, nil
}

func (p *OpenAIProvider) wrap(err error) error {
	be := &BackendError{Provider: p.Name(), Err: err}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		be.Status = apiErr.StatusCode
	}
	return be
}

var _ Provider = (*OpenAIProvider)(nil)
