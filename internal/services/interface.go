package services

import "context"

// CompletionOptions tunes a single completion request.
type CompletionOptions struct {
	SystemMessage string
	Temperature   float64
	// JSONMode asks the model to answer with a single JSON object.
	JSONMode  bool
	MaxTokens int
}

// Completion is the text a model produced for a prompt.
type Completion struct {
	Content string
	Model   string
}

// LLMClient is an interface for communicating with the language model service.
type LLMClient interface {
	// Complete returns the model's completion for prompt.
	Complete(ctx context.Context, prompt string, opts CompletionOptions) (*Completion, error)
}
