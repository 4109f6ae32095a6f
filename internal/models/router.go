package models

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Chain tries a list of providers in order and returns the first success.
type Chain struct {
	providers []Provider
	logger    *slog.Logger

	mu    sync.Mutex
	stats map[string]*CallStats
}

// CallStats counts calls made through a Chain.
type CallStats struct {
	Requests int64 `json:"requests"`
	Failures int64 `json:"failures"`
}

// NewChain creates a fallback chain. At least one provider is required.
func NewChain(logger *slog.Logger, providers ...Provider) (*Chain, error) {
	if len(providers) == 0 {
		return nil, errors.New("chain: no providers")
	}
	c := &Chain{
		providers: providers,
		logger:    logger.With("component", "model-chain"),
		stats:     make(map[string]*CallStats),
	}
	for _, p := range providers {
		c.stats[p.Name()] = &CallStats{}
	}
	return c, nil
}

// Name joins the names of the chained providers.
func (c *Chain) Name() string {
	name := ""
	for i, p := range c.providers {
		if i > 0 {
			name += ">"
		}
		name += p.Name()
	}
	return name
}

// Complete tries each provider until one succeeds.
func (c *Chain) Complete(ctx context.Context, messages []Message, opts Options) (string, error) {
	var firstErr error
	for i, p := range c.providers {
		out, err := p.Complete(ctx, messages, opts)
		c.record(p.Name(), err)
		if err == nil {
			return out, nil
		}
		if firstErr == nil {
			firstErr = err
		}
		c.logger.Warn("provider failed, trying next", "provider", p.Name(), "attempt", i+1, "error", err)
		if ctx.Err() != nil {
			break
		}
	}
	return "", fmt.Errorf("all providers failed, primary error: %w", firstErr)
}

// Stream opens a stream on the first provider that accepts the request.
// Failures after the first chunk are not retried.
func (c *Chain) Stream(ctx context.Context, messages []Message, opts Options) (<-chan StreamChunk, error) {
	var firstErr error
	for i, p := range c.providers {
		ch, err := p.Stream(ctx, messages, opts)
		c.record(p.Name(), err)
		if err == nil {
			return ch, nil
		}
		if firstErr == nil {
			firstErr = err
		}
		c.logger.Warn("provider stream failed, trying next", "provider", p.Name(), "attempt", i+1, "error", err)
	}
	return nil, fmt.Errorf("all providers failed, primary error: %w", firstErr)
}

func (c *Chain) record(name string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats[name]
	s.Requests++
	if err != nil {
		s.Failures++
	}
}

// Stats returns a copy of the per-provider counters.
func (c *Chain) Stats() map[string]CallStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]CallStats, len(c.stats))
	for k, v := range c.stats {
		out[k] = *v
	}
	return out
}

var _ Provider = (*Chain)(nil)
