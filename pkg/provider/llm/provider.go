// Package llm defines the Provider interface for the language-model backends
// that drive echonote's summarization, classification, and retrieval answers.
//
// A provider wraps a remote or local model API (OpenAI, Anthropic, Ollama, …)
// behind three text-in/text-out operations. Responses may be wrapped in
// markdown code fences; callers strip them before JSON parsing (see
// internal/llmjson).
//
// Implementations must be safe for concurrent use.
package llm

import "context"

// Options carries the per-call generation parameters common to all
// operations. The zero value requests provider defaults.
type Options struct {
	// System is an optional high-priority instruction injected before the
	// user prompt. Providers without a native system slot prepend it as a
	// system-role message.
	System string

	// Temperature controls output randomness in [0.0, 2.0]. Zero means the
	// provider default.
	Temperature float64

	// MaxTokens caps the completion length. Zero means the provider default.
	MaxTokens int
}

// Provider is the abstraction over any LM backend.
//
// All methods return the model's raw text output; structured-output contracts
// (JSON keys, fencing) are enforced by the callers, defensively.
// Implementations must be safe for concurrent use and propagate context
// cancellation promptly.
type Provider interface {
	// Generate sends prompt to the model and returns the completion text.
	Generate(ctx context.Context, prompt string, opts Options) (string, error)

	// Summarize asks the model for a JSON summary of text with keys
	// "summary", "keywords", and "topic".
	Summarize(ctx context.Context, text string, opts Options) (string, error)

	// Classify asks the model to assign text to one of categories, returning
	// JSON with keys "category" and "confidence".
	Classify(ctx context.Context, text string, categories []string, opts Options) (string, error)

	// ModelID returns the provider-specific model identifier, used for the
	// model_used field persisted with summaries and classifications.
	ModelID() string
}
