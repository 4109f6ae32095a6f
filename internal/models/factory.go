package models

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/opera-os/opera/internal/config"
)

// Provider kinds accepted in configuration.
const (
	KindOpenAI = "openai"
	KindLocal  = "local"
	KindAuto   = "auto"
	KindNone   = "none"
)

// New builds the provider selected by cfg.Provider. It returns a nil
// Provider and no error for "none", in which case callers fall back to
// rule-based behavior.
//
// "auto" chains whatever backends can be constructed, remote first. When
// none can, it also yields nil so the pipeline still runs on rules.
func New(ctx context.Context, cfg config.ModelsConfig, logger *slog.Logger) (Provider, error) {
	logger = logger.With("component", "models")

	switch cfg.Provider {
	case KindNone, "":
		logger.Info("no completion provider configured, using rules only")
		return nil, nil

	case KindOpenAI:
		p, err := NewOpenAIProvider(cfg.OpenAI)
		if err != nil {
			return nil, err
		}
		logger.Info("completion provider ready", "provider", p.Name(), "model", p.Model())
		return p, nil

	case KindLocal:
		p, err := NewOllamaProvider(ctx, cfg.Local)
		if err != nil {
			return nil, err
		}
		logger.Info("completion provider ready", "provider", p.Name(), "model", p.Model())
		return p, nil

	case KindAuto:
		var chain []Provider
		if p, err := NewOpenAIProvider(cfg.OpenAI); err == nil {
			chain = append(chain, p)
		} else {
			logger.Warn("remote provider unavailable", "error", err)
		}
		if p, err := NewOllamaProvider(ctx, cfg.Local); err == nil {
			chain = append(chain, p)
		} else {
			logger.Warn("local provider unavailable", "error", err)
		}
		if len(chain) == 0 {
			logger.Warn("no completion provider available, using rules only")
			return nil, nil
		}
		if len(chain) == 1 {
			return chain[0], nil
		}
		return NewChain(logger, chain...)

	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}
