package config

import (
	"errors"
	"fmt"
	"os"
)

// Sentinel validation errors for Go-idiomatic checking with errors.Is().
var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrInvalidProvider indicates the AI provider is not supported.
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrMissingAPIKey indicates a required API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidModelName indicates the model name is invalid.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidEmbedderModel indicates the embedder model is invalid.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidEmbedderDimension indicates the embedder vector dimension is invalid.
	ErrInvalidEmbedderDimension = errors.New("invalid embedder dimension")

	// ErrInvalidChunking indicates the chunk window configuration is invalid.
	ErrInvalidChunking = errors.New("invalid chunking configuration")

	// ErrInvalidTopK indicates a top-k default is out of range.
	ErrInvalidTopK = errors.New("invalid top-k")

	// ErrInvalidFilterMode indicates the search filter mode is unknown.
	ErrInvalidFilterMode = errors.New("invalid filter mode")

	// ErrInvalidNoContextPolicy indicates the no-context policy is unknown.
	ErrInvalidNoContextPolicy = errors.New("invalid no-context policy")

	// ErrInvalidStorageBackend indicates the storage backend is unknown.
	ErrInvalidStorageBackend = errors.New("invalid storage backend")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")
)

// validSSLModes are the sslmode values accepted by libpq/pgx.
var validSSLModes = map[string]bool{
	"disable":     true,
	"allow":       true,
	"prefer":      true,
	"require":     true,
	"verify-ca":   true,
	"verify-full": true,
}

// Validate checks the configuration for internal consistency.
// It does not reach the network; connectivity failures surface at startup.
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	switch c.Provider {
	case ProviderGemini, ProviderOllama, ProviderOpenAI:
	default:
		return fmt.Errorf("%w: %q (expected gemini, ollama or openai)", ErrInvalidProvider, c.Provider)
	}

	if c.ModelName == "" {
		return fmt.Errorf("%w: model name is empty", ErrInvalidModelName)
	}
	if c.EmbedderModel == "" {
		return fmt.Errorf("%w: embedder model is empty", ErrInvalidEmbedderModel)
	}
	if c.EmbedderDimension <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidEmbedderDimension, c.EmbedderDimension)
	}

	if c.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk_size must be positive, got %d", ErrInvalidChunking, c.ChunkSize)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("%w: chunk_overlap %d must be in [0, chunk_size)", ErrInvalidChunking, c.ChunkOverlap)
	}
	if c.EmbedBatchSize <= 0 {
		return fmt.Errorf("%w: embed_batch_size must be positive, got %d", ErrInvalidChunking, c.EmbedBatchSize)
	}

	if c.SearchTopK <= 0 || c.SearchTopK > 100 {
		return fmt.Errorf("%w: search_top_k %d must be in [1, 100]", ErrInvalidTopK, c.SearchTopK)
	}
	if c.AnswerTopK <= 0 || c.AnswerTopK > 100 {
		return fmt.Errorf("%w: answer_top_k %d must be in [1, 100]", ErrInvalidTopK, c.AnswerTopK)
	}

	switch c.FilterMode {
	case FilterModePre, FilterModePost:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidFilterMode, c.FilterMode)
	}

	switch c.NoContextPolicy {
	case NoContextFail, NoContextAnswer:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidNoContextPolicy, c.NoContextPolicy)
	}

	switch c.StorageBackend {
	case BackendMemory:
		// No further storage checks; everything lives in-process.
	case BackendPostgres:
		if c.PostgresHost == "" {
			return fmt.Errorf("%w: host is empty", ErrInvalidPostgresHost)
		}
		if c.PostgresPort < 1 || c.PostgresPort > 65535 {
			return fmt.Errorf("%w: %d", ErrInvalidPostgresPort, c.PostgresPort)
		}
		if c.PostgresDBName == "" {
			return fmt.Errorf("%w: database name is empty", ErrInvalidPostgresDBName)
		}
		if !validSSLModes[c.PostgresSSLMode] {
			return fmt.Errorf("%w: %q", ErrInvalidPostgresSSLMode, c.PostgresSSLMode)
		}
	default:
		return fmt.Errorf("%w: %q (expected postgres or memory)", ErrInvalidStorageBackend, c.StorageBackend)
	}

	return c.validateProviderCredentials()
}

// validateProviderCredentials checks that the selected provider's API key is
// present. The keys are read directly by the Genkit plugins; this check only
// produces a clear startup error instead of a late model-call failure.
func (c *Config) validateProviderCredentials() error {
	switch c.Provider {
	case ProviderGemini:
		if os.Getenv("GEMINI_API_KEY") == "" {
			return fmt.Errorf("%w: GEMINI_API_KEY not set", ErrMissingAPIKey)
		}
	case ProviderOpenAI:
		if os.Getenv("OPENAI_API_KEY") == "" {
			return fmt.Errorf("%w: OPENAI_API_KEY not set", ErrMissingAPIKey)
		}
	case ProviderOllama:
		// Local server, no API key required.
	}
	return nil
}
