// File: internal/llmclient/client.go

// Package llmclient provides access to the text-understanding model used for
// task analysis, step planning, and step explanations.
package llmclient

import "context"

// GenerationOptions tunes a single generation call.
type GenerationOptions struct {
	Temperature     float32
	ForceJSONFormat bool
}

// GenerationRequest carries the prompts for a single model call.
type GenerationRequest struct {
	SystemPrompt string
	UserPrompt   string
	Options      GenerationOptions
}

// Client is the contract for a text generation backend.
type Client interface {
	GenerateResponse(ctx context.Context, req GenerationRequest) (string, error)
}
