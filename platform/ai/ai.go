// Package ai defines the text completion capability used by enrichment.
// Provider adapters live in the subpackages.
package ai

import "context"

// Completer turns a system prompt plus user text into the model's raw reply.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
	// Name identifies the backing model for logs.
	Name() string
}
