// Package gemini adapts the Gemini API to ai.Completer.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

const defaultModel = "gemini-2.5-flash"

// Config for the Gemini API.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
}

// Client wraps a genai client bound to one model.
type Client struct {
	models *genai.Models
	model  string
}

// New creates a Gemini API client. The API key is required.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("gemini: API key is required")
	}
	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("gemini: %w", err)
	}
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	return &Client{models: client.Models, model: model}, nil
}

// Name returns the configured model.
func (c *Client) Name() string { return c.model }

// Complete asks for a JSON-typed response and returns its text.
func (c *Client) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	temperature := float32(0.2)
	resp, err := c.models.GenerateContent(ctx, c.model, genai.Text(userPrompt), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
		ResponseMIMEType:  "application/json",
		Temperature:       &temperature,
	})
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return "", errors.New("gemini: empty response")
	}
	return text, nil
}
