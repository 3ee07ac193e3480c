// Package model defines the capability interfaces for the remote AI services
// ragd depends on: text embedding and chat completion. Concrete providers
// (Gemini, Ollama, OpenAI) are interchangeable Genkit-backed implementations
// selected at startup; see genkit.go.
package model

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for remote model failures. Callers classify with errors.Is.
var (
	// ErrUnavailable indicates the model service could not be reached or
	// kept failing after the configured retry policy.
	ErrUnavailable = errors.New("model service unavailable")

	// ErrInputTooLarge indicates the input exceeds the model's token limit.
	// Not retried; callers must pre-chunk input to respect the limit.
	ErrInputTooLarge = errors.New("input exceeds model token limit")

	// ErrTimeout indicates the model call exceeded its configured deadline.
	// Not retried here; the caller may retry the whole operation.
	ErrTimeout = errors.New("model call timed out")

	// ErrEmptyResponse indicates the model returned no usable output.
	ErrEmptyResponse = errors.New("model returned empty response")
)

// Embedder converts text into fixed-dimension vectors.
// Embeddings are deterministic for a fixed model version; ModelVersion
// identifies that version so indexes can detect mismatched embeddings.
type Embedder interface {
	// Embed returns the embedding vector for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch returns one vector per input text, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// ModelVersion returns the embedding model identifier.
	ModelVersion() string
}

// Generator produces a chat completion for a grounded prompt.
type Generator interface {
	// Complete returns the model's text response for the given system and
	// user prompts. The call respects ctx cancellation and the configured
	// per-call timeout.
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// ClientConfig enumerates the knobs shared by embedder and generator
// implementations: which remote endpoint/model to talk to and how patiently.
type ClientConfig struct {
	ModelName      string        // provider-qualified model name for completions
	EmbedderModel  string        // embedding model identifier
	Temperature    float32       // sampling temperature for completions
	MaxTokens      int           // max output tokens for completions
	MaxInputTokens int           // embedding input token limit (0 = unchecked)
	Timeout        time.Duration // per-call deadline (0 = no extra deadline)
	Retry          RetryConfig   // backoff policy for transient failures
}
