// Package openai adapts OpenAI-compatible chat completion APIs (OpenAI, Moonshot)
// to ai.Completer.
package openai

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

const (
	defaultOpenAIModel   = "gpt-4o-mini"
	defaultMoonshotURL   = "https://api.moonshot.ai/v1"
	defaultMoonshotModel = "kimi-k2-turbo-preview"
)

// Config for an OpenAI-compatible endpoint.
type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	MaxRetries int
	RetryDelay time.Duration
}

// MoonshotConfig fills Moonshot defaults into cfg.
func MoonshotConfig(cfg Config) Config {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultMoonshotURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultMoonshotModel
	}
	return cfg
}

// Client wraps go-openai with retry logic and JSON-mode requests.
type Client struct {
	client     *openai.Client
	model      string
	maxRetries int
	retryDelay time.Duration
}

// New creates a client. The API key is required.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("openai: API key is required")
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.Model == "" {
		cfg.Model = defaultOpenAIModel
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 500 * time.Millisecond
	}
	return &Client{
		client:     openai.NewClientWithConfig(clientCfg),
		model:      cfg.Model,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
	}, nil
}

// Name returns the configured model.
func (c *Client) Name() string { return c.model }

// Complete sends one chat completion and returns the first choice's content.
// Retries stop early once ctx is done.
func (c *Client) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
		Temperature: 0.2,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff(c.retryDelay, attempt)):
			}
		}

		resp, err := c.client.CreateChatCompletion(ctx, req)
		if err != nil {
			lastErr = fmt.Errorf("attempt %d: %w", attempt+1, err)
			continue
		}
		if len(resp.Choices) == 0 {
			lastErr = fmt.Errorf("attempt %d: no completion choices returned", attempt+1)
			continue
		}
		return resp.Choices[0].Message.Content, nil
	}
	return "", fmt.Errorf("chat completion failed after %d attempts: %w", c.maxRetries+1, lastErr)
}

// backoff doubles base per attempt, capped at 10s, with +-25% jitter.
func backoff(base time.Duration, attempt int) time.Duration {
	if attempt > 10 {
		attempt = 10
	}
	d := base * time.Duration(1<<uint(attempt-1))
	if d > 10*time.Second {
		d = 10 * time.Second
	}
	if d < 4 {
		return d
	}
	return d + time.Duration(rand.Int64N(int64(d)/2)) - d/4
}
