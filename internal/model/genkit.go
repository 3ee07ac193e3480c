package model

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/firebase/genkit/go/ai"
	coreapi "github.com/firebase/genkit/go/core/api"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/compat_oai/openai"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/firebase/genkit/go/plugins/ollama"
	"golang.org/x/time/rate"
)

// Provider identifiers accepted by InitGenkit.
const (
	ProviderGemini = "gemini"
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

// InitGenkit initializes Genkit with the configured AI provider plugin and
// returns the Genkit instance together with the provider's embedder.
// Supports gemini (default), ollama, and openai providers.
//
// Each provider registers embedders differently:
//   - gemini: GoogleAIEmbedder(g, modelName)
//   - ollama: explicit registration (no auto-discovery), keyed by server address
//   - openai: auto-registered in Init(), looked up by model name
func InitGenkit(ctx context.Context, provider, modelName, embedderModel, ollamaHost string) (*genkit.Genkit, ai.Embedder, error) {
	var g *genkit.Genkit
	var embedder ai.Embedder

	switch provider {
	case ProviderOllama:
		ollamaPlugin := &ollama.Ollama{ServerAddress: ollamaHost}
		g = genkit.Init(ctx, genkit.WithPlugins(ollamaPlugin))
		if g == nil {
			return nil, nil, errors.New("initializing genkit with ollama provider")
		}
		// Ollama requires explicit model registration (no auto-discovery)
		ollamaPlugin.DefineModel(g, ollama.ModelDefinition{
			Name: modelName,
			Type: "chat",
		}, nil)
		ollamaPlugin.DefineEmbedder(g, ollamaHost, embedderModel, nil)
		embedder = ollama.Embedder(g, ollamaHost)
		slog.Info("initialized Genkit with ollama provider",
			"model", modelName, "host", ollamaHost)

	case ProviderOpenAI:
		g = genkit.Init(ctx, genkit.WithPlugins(&openai.OpenAI{}))
		if g == nil {
			return nil, nil, errors.New("initializing genkit with openai provider")
		}
		embedder = genkit.LookupEmbedder(g, coreapi.NewName("openai", embedderModel))
		slog.Info("initialized Genkit with openai provider", "model", modelName)

	default: // gemini
		g = genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
		if g == nil {
			return nil, nil, errors.New("initializing genkit with gemini provider")
		}
		embedder = googlegenai.GoogleAIEmbedder(g, embedderModel)
		slog.Info("initialized Genkit with gemini provider", "model", modelName)
	}

	if embedder == nil {
		return nil, nil, fmt.Errorf("embedder %q not found for provider %q", embedderModel, provider)
	}

	return g, embedder, nil
}

// GenkitEmbedder adapts a Genkit ai.Embedder to the Embedder capability
// interface, adding the input-token guard, per-call timeout and bounded
// retry on transient failures.
//
// Safe for concurrent use.
type GenkitEmbedder struct {
	embedder ai.Embedder
	cfg      ClientConfig
	logger   *slog.Logger
}

// NewGenkitEmbedder creates an Embedder backed by the given Genkit embedder.
func NewGenkitEmbedder(embedder ai.Embedder, cfg ClientConfig, logger *slog.Logger) *GenkitEmbedder {
	if logger == nil {
		logger = slog.Default()
	}
	return &GenkitEmbedder{embedder: embedder, cfg: cfg, logger: logger}
}

// ModelVersion returns the embedding model identifier.
func (e *GenkitEmbedder) ModelVersion() string {
	return e.cfg.EmbedderModel
}

// Embed returns the embedding vector for a single text.
func (e *GenkitEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch returns one vector per input text, in input order.
// Fails with ErrInputTooLarge before any remote call if a text exceeds the
// configured token limit, and with ErrUnavailable/ErrTimeout on remote
// failures.
func (e *GenkitEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	if e.cfg.MaxInputTokens > 0 {
		for i, text := range texts {
			if n := countTokens(text); n > e.cfg.MaxInputTokens {
				return nil, fmt.Errorf("%w: input %d has %d tokens (limit %d)",
					ErrInputTooLarge, i, n, e.cfg.MaxInputTokens)
			}
		}
	}

	input := make([]*ai.Document, len(texts))
	for i, text := range texts {
		input[i] = ai.DocumentFromText(text, nil)
	}

	callCtx := ctx
	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}

	var resp *ai.EmbedResponse
	err := withRetry(callCtx, e.cfg.Retry, e.logger, "embed", func(ctx context.Context) error {
		var embedErr error
		resp, embedErr = e.embedder.Embed(ctx, &ai.EmbedRequest{Input: input})
		return embedErr
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: embedding %d texts: %v", ErrTimeout, len(texts), err)
		}
		if errors.Is(err, ErrUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d texts",
			ErrEmptyResponse, len(resp.Embeddings), len(texts))
	}

	vectors := make([][]float32, len(texts))
	for i, emb := range resp.Embeddings {
		if emb == nil || len(emb.Embedding) == 0 {
			return nil, fmt.Errorf("%w: empty embedding at index %d", ErrEmptyResponse, i)
		}
		vectors[i] = emb.Embedding
	}

	return vectors, nil
}

// GenkitGenerator adapts genkit.Generate to the Generator capability
// interface with proactive rate limiting, per-call timeout and bounded
// retry.
//
// Safe for concurrent use.
type GenkitGenerator struct {
	g       *genkit.Genkit
	cfg     ClientConfig
	limiter *rate.Limiter // nil = no proactive rate limiting
	logger  *slog.Logger
}

// NewGenkitGenerator creates a Generator backed by the Genkit instance.
// limiter may be nil to disable proactive rate limiting.
func NewGenkitGenerator(g *genkit.Genkit, cfg ClientConfig, limiter *rate.Limiter, logger *slog.Logger) *GenkitGenerator {
	if logger == nil {
		logger = slog.Default()
	}
	return &GenkitGenerator{g: g, cfg: cfg, limiter: limiter, logger: logger}
}

// Complete returns the model's text response for the given prompts.
func (gn *GenkitGenerator) Complete(ctx context.Context, system, prompt string) (string, error) {
	if gn.limiter != nil {
		if err := gn.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("rate limit wait: %w", err)
		}
	}

	callCtx := ctx
	if gn.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, gn.cfg.Timeout)
		defer cancel()
	}

	var resp *ai.ModelResponse
	err := withRetry(callCtx, gn.cfg.Retry, gn.logger, "complete", func(ctx context.Context) error {
		var genErr error
		resp, genErr = genkit.Generate(ctx, gn.g,
			ai.WithModelName(gn.cfg.ModelName),
			ai.WithSystem(system),
			ai.WithPrompt(prompt),
			ai.WithConfig(&ai.GenerationCommonConfig{
				Temperature:     float64(gn.cfg.Temperature),
				MaxOutputTokens: gn.cfg.MaxTokens,
			}),
		)
		return genErr
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		if errors.Is(err, ErrUnavailable) {
			return "", err
		}
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	text := resp.Text()
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}
