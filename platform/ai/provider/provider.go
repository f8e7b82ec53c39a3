// Package provider selects the ai.Completer named by configuration.
package provider

import (
	"context"
	"fmt"

	"freight_ops_backend/platform/ai"
	"freight_ops_backend/platform/ai/gemini"
	"freight_ops_backend/platform/ai/openai"
	"freight_ops_backend/platform/config"
)

const (
	OpenAI   = "openai"
	Moonshot = "moonshot"
	Gemini   = "gemini"

	defaultMaxRetries = 2
)

// New returns nil without error when summarization is disabled.
func New(ctx context.Context, cfg config.SummarizerConfig) (ai.Completer, error) {
	if !cfg.IsSummarizerEnabled() {
		return nil, nil
	}

	switch cfg.GetAIProvider() {
	case OpenAI, Moonshot:
		clientCfg := openai.Config{
			APIKey:     cfg.GetAIAPIKey(),
			BaseURL:    cfg.GetAIBaseURL(),
			Model:      cfg.GetAIModel(),
			MaxRetries: defaultMaxRetries,
		}
		if cfg.GetAIProvider() == Moonshot {
			clientCfg = openai.MoonshotConfig(clientCfg)
		}
		client, err := openai.New(clientCfg)
		if err != nil {
			return nil, err
		}
		return client, nil
	case Gemini:
		client, err := gemini.New(ctx, gemini.Config{
			APIKey:  cfg.GetAIAPIKey(),
			BaseURL: cfg.GetAIBaseURL(),
			Model:   cfg.GetAIModel(),
		})
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unsupported AI provider %q", cfg.GetAIProvider())
	}
}
