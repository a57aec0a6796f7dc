package ai

import "context"

// Runtime is the minimal interface implemented by LLM backends such as
// OpenRouter and OpenAI. It aligns to the shared request/response types in
// this package.
type Runtime interface {
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error)
}

// Provider identifiers used across the CLI and config for selection.
const (
	ProviderOpenRouter = "openrouter"
	ProviderOpenAI     = "openai"
)
