// Package config provides application configuration management with multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.ragd/config.yaml or ./config.yaml)
//  3. Default values (sensible defaults for quick start)
//
// Main configuration categories:
//   - AI: provider, chat model, embedder model and vector dimension
//   - Retrieval: chunking window, search defaults, answer policy
//   - Storage: PostgreSQL connection or in-memory backend
//   - HTTP: listen address, CORS origins, proxy trust
//   - Tracing: OTLP agent endpoint (see tracing.go)
//
// Security: sensitive data (passwords) are never logged; secrets are masked
// in MarshalJSON. Validation lives in validation.go with sentinel errors
// so callers can use errors.Is().
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// AI provider identifiers used in Config.Provider.
const (
	ProviderGemini = "gemini"
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

// Storage backend identifiers used in Config.StorageBackend.
const (
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Metadata filter application modes for the search service.
const (
	FilterModePre  = "pre"  // overfetch, filter, then cut to k
	FilterModePost = "post" // cut to k, then filter (count may drop below k)
)

// Policies for answering when retrieval finds no context.
const (
	NoContextFail   = "fail"   // return an error (default)
	NoContextAnswer = "answer" // answer ungrounded, explicitly labeled as such
)

// DefaultEmbedderModel is the default Gemini embedder model.
// text-embedding-004 outputs 768 dimensions, matching the vector(768)
// column in db/migrations.
const DefaultEmbedderModel = "text-embedding-004"

// Config stores application configuration.
// SECURITY: sensitive fields are explicitly masked in MarshalJSON().
// When adding new sensitive fields (passwords, API keys), update MarshalJSON.
type Config struct {
	// AI provider and model configuration
	Provider    string  `mapstructure:"provider" json:"provider"`       // "gemini" (default), "ollama", "openai"
	ModelName   string  `mapstructure:"model_name" json:"model_name"`   // e.g. "gemini-2.5-flash", "llama3.3", "gpt-4o-mini"
	Temperature float32 `mapstructure:"temperature" json:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens" json:"max_tokens"`

	// Ollama configuration (only used when provider is "ollama")
	OllamaHost string `mapstructure:"ollama_host" json:"ollama_host"`

	// Embedder configuration
	EmbedderModel     string `mapstructure:"embedder_model" json:"embedder_model"`
	EmbedderDimension int    `mapstructure:"embedder_dimension" json:"embedder_dimension"`
	MaxInputTokens    int    `mapstructure:"max_input_tokens" json:"max_input_tokens"`

	// Ingestion configuration
	ChunkSize      int `mapstructure:"chunk_size" json:"chunk_size"`           // runes per chunk window
	ChunkOverlap   int `mapstructure:"chunk_overlap" json:"chunk_overlap"`     // runes carried across windows
	EmbedBatchSize int `mapstructure:"embed_batch_size" json:"embed_batch_size"`

	// Search and answer configuration
	SearchTopK      int    `mapstructure:"search_top_k" json:"search_top_k"`
	FilterMode      string `mapstructure:"filter_mode" json:"filter_mode"`
	AnswerTopK      int    `mapstructure:"answer_top_k" json:"answer_top_k"`
	NoContextPolicy string `mapstructure:"no_context_policy" json:"no_context_policy"`

	// Resilience configuration for remote model calls
	RetryLimit     int `mapstructure:"retry_limit" json:"retry_limit"`
	EmbedTimeoutMs int `mapstructure:"embed_timeout_ms" json:"embed_timeout_ms"`
	LLMTimeoutMs   int `mapstructure:"llm_timeout_ms" json:"llm_timeout_ms"`

	// Storage configuration
	StorageBackend   string `mapstructure:"storage_backend" json:"storage_backend"`
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// HTTP configuration (serve mode only)
	HTTPAddr    string   `mapstructure:"http_addr" json:"http_addr"`
	CORSOrigins []string `mapstructure:"cors_origins" json:"cors_origins"`
	TrustProxy  bool     `mapstructure:"trust_proxy" json:"trust_proxy"` // trust X-Real-IP/X-Forwarded-For (behind reverse proxy)

	// Tracing configuration (see tracing.go for type definition)
	Tracing TracingConfig `mapstructure:"tracing" json:"tracing"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > default values.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".ragd")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".") // Also support current directory

	setDefaults()
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		// Configuration file not found is not an error, use default values
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"search_paths", []string{configDir, "."},
			"config_name", "config.yaml")
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL, if set, overrides the individual postgres_* fields
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	// CRITICAL: validate immediately (fail-fast)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults() {
	// AI defaults
	viper.SetDefault("provider", ProviderGemini)
	viper.SetDefault("model_name", "gemini-2.5-flash")
	viper.SetDefault("temperature", 0.7)
	viper.SetDefault("max_tokens", 1024)
	viper.SetDefault("ollama_host", "http://localhost:11434")

	// Embedder defaults
	viper.SetDefault("embedder_model", DefaultEmbedderModel)
	viper.SetDefault("embedder_dimension", 768)
	viper.SetDefault("max_input_tokens", 2048)

	// Ingestion defaults. 500-rune windows with 80-rune overlap keep each
	// chunk well under the embedder token limit while preserving context
	// across sentence boundaries.
	viper.SetDefault("chunk_size", 500)
	viper.SetDefault("chunk_overlap", 80)
	viper.SetDefault("embed_batch_size", 10)

	// Search/answer defaults
	viper.SetDefault("search_top_k", 5)
	viper.SetDefault("filter_mode", FilterModePost)
	viper.SetDefault("answer_top_k", 3)
	viper.SetDefault("no_context_policy", NoContextFail)

	// Resilience defaults
	viper.SetDefault("retry_limit", 3)
	viper.SetDefault("embed_timeout_ms", 15000)
	viper.SetDefault("llm_timeout_ms", 60000)

	// Storage defaults (matching docker-compose.yml)
	viper.SetDefault("storage_backend", BackendPostgres)
	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "ragd")
	viper.SetDefault("postgres_password", "ragd_dev_password")
	viper.SetDefault("postgres_db_name", "ragd")
	viper.SetDefault("postgres_ssl_mode", "disable")

	// HTTP defaults (CORS origins match the frontend dev servers)
	viper.SetDefault("http_addr", "localhost:8080")
	viper.SetDefault("cors_origins", []string{"http://localhost:5173", "http://localhost:3000"})
	viper.SetDefault("trust_proxy", false)

	// Tracing defaults
	viper.SetDefault("tracing.agent_host", "localhost:4318")
	viper.SetDefault("tracing.environment", "dev")
	viper.SetDefault("tracing.service_name", "ragd")
}

// bindEnvVariables binds environment variables explicitly.
// Provider API keys (GEMINI_API_KEY, OPENAI_API_KEY) are read directly by
// the Genkit plugins, not via Viper; Validate() checks their presence based
// on the selected provider.
func bindEnvVariables() {
	// Helper to panic on unexpected bind errors (hardcoded strings can't fail).
	// If this panics, it's a BUG in our code, not a runtime error.
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("provider", "RAGD_PROVIDER")
	mustBind("model_name", "RAGD_MODEL_NAME")
	mustBind("embedder_model", "RAGD_EMBEDDER_MODEL")
	mustBind("ollama_host", "RAGD_OLLAMA_HOST")
	mustBind("storage_backend", "RAGD_STORAGE_BACKEND")
	mustBind("http_addr", "RAGD_HTTP_ADDR")
	mustBind("cors_origins", "RAGD_CORS_ORIGINS")
	mustBind("trust_proxy", "RAGD_TRUST_PROXY")
}

// parseDatabaseURL overrides the postgres_* fields from DATABASE_URL when set.
func (c *Config) parseDatabaseURL() error {
	raw := os.Getenv("DATABASE_URL")
	if raw == "" {
		return nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid DATABASE_URL: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "postgres", "postgresql":
	default:
		return fmt.Errorf("unsupported DATABASE_URL scheme: %s", u.Scheme)
	}

	c.PostgresHost = u.Hostname()
	if p := u.Port(); p != "" {
		if _, err := fmt.Sscanf(p, "%d", &c.PostgresPort); err != nil {
			return fmt.Errorf("invalid DATABASE_URL port %q: %w", p, err)
		}
	}
	if u.User != nil {
		c.PostgresUser = u.User.Username()
		if pw, ok := u.User.Password(); ok {
			c.PostgresPassword = pw
		}
	}
	if db := strings.TrimPrefix(u.Path, "/"); db != "" {
		c.PostgresDBName = db
	}
	if mode := u.Query().Get("sslmode"); mode != "" {
		c.PostgresSSLMode = mode
	}
	return nil
}

// PostgresURL returns the postgres:// URL form of the connection settings.
// Used by golang-migrate.
func (c *Config) PostgresURL() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.PostgresUser, c.PostgresPassword),
		Host:   fmt.Sprintf("%s:%d", c.PostgresHost, c.PostgresPort),
		Path:   c.PostgresDBName,
	}
	q := url.Values{}
	q.Set("sslmode", c.PostgresSSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

// PostgresConnectionString returns the keyword/value DSN form for pgxpool.
func (c *Config) PostgresConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.PostgresHost, c.PostgresPort, c.PostgresUser, c.PostgresPassword,
		c.PostgresDBName, c.PostgresSSLMode)
}

// maskedValue is the placeholder for masked sensitive data.
const maskedValue = "████████"

// maskSecret masks a secret string for safe logging.
// Fully masks short secrets to prevent substring matching; for longer
// secrets shows the first/last two characters for debug utility.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with explicit sensitive field masking.
// When adding new sensitive fields, update this method.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}

// FullModelName returns the provider-qualified model name for Genkit.
// Examples: "googleai/gemini-2.5-flash", "ollama/llama3.3", "openai/gpt-4o-mini".
// If ModelName already contains a "/", it is returned as-is.
func (c *Config) FullModelName() string {
	if strings.Contains(c.ModelName, "/") {
		return c.ModelName
	}
	switch c.Provider {
	case ProviderOllama:
		return ProviderOllama + "/" + c.ModelName
	case ProviderOpenAI:
		return ProviderOpenAI + "/" + c.ModelName
	default:
		return "googleai/" + c.ModelName
	}
}
