// Package config provides application configuration management with
// multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override, .env supported)
//  2. Config file (~/.decilog/config.yaml or ./config.yaml)
//  3. Default values
//
// Error Handling:
//   - Sentinel errors for Go-idiomatic checking with errors.Is()
//   - Wrap with context using fmt.Errorf("%w: details", ErrXxx)
//
// Security: the Notion token is never logged; String() and MarshalJSON mask it.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

var (
	// ErrMissingNotionToken indicates the Notion integration token is not set.
	ErrMissingNotionToken = errors.New("missing notion API token")

	// ErrMissingDatabaseID indicates the Notion database ID is not set.
	ErrMissingDatabaseID = errors.New("missing notion database ID")

	// ErrMissingVectorDir indicates the vector index directory is not set.
	ErrMissingVectorDir = errors.New("missing vector index directory")

	// ErrInvalidChunking indicates chunk size/overlap values are unusable.
	ErrInvalidChunking = errors.New("invalid chunking configuration")

	// ErrInvalidRetrievalK indicates the retrieval width is out of range.
	ErrInvalidRetrievalK = errors.New("invalid retrieval k")

	// ErrInvalidProvider indicates the AI provider is not supported.
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrMissingAPIKey indicates a required provider API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")
)

// AI provider identifiers used in Config.Provider.
const (
	ProviderGemini   = "gemini"
	ProviderOllama   = "ollama"
	ProviderOpenAI   = "openai"
	ProviderGoogleAI = "googleai"
)

const (
	// DefaultEmbedderModel is the default Gemini embedder model. The model
	// identifier is recorded in the index manifest so a later load can detect
	// that the index was built in a different embedding space.
	DefaultEmbedderModel = "gemini-embedding-001"

	// DefaultChunkSize is the character length of one chunk.
	DefaultChunkSize = 512

	// DefaultChunkOverlap is the character overlap between adjacent chunks.
	// Zero means chunks partition the document text exactly once each.
	DefaultChunkOverlap = 0

	// DefaultRetrievalK is the number of chunks retrieved per question.
	DefaultRetrievalK = 10
)

// Config stores application configuration.
// SECURITY: sensitive fields are masked in MarshalJSON; update it when adding
// new secrets.
type Config struct {
	// AI provider and model configuration
	Provider      string `mapstructure:"provider" json:"provider"`             // "gemini" (default), "ollama", "openai"
	ModelName     string `mapstructure:"model_name" json:"model_name"`         // e.g. "gemini-2.5-flash", "llama3.3", "gpt-4o"
	EmbedderModel string `mapstructure:"embedder_model" json:"embedder_model"` // must match between ingest and query
	OllamaHost    string `mapstructure:"ollama_host" json:"ollama_host"`

	// Notion source configuration
	NotionToken      string `mapstructure:"notion_api_token" json:"notion_api_token"` // SENSITIVE: masked in MarshalJSON
	NotionDatabaseID string `mapstructure:"notion_database_id" json:"notion_database_id"`

	// Storage locations
	CorpusDir string `mapstructure:"corpus_dir" json:"corpus_dir"` // extracted page texts (operator inspection)
	VectorDir string `mapstructure:"vector_dir" json:"vector_dir"` // persisted vector index

	// Chunking and retrieval
	ChunkSize    int `mapstructure:"chunk_size" json:"chunk_size"`
	ChunkOverlap int `mapstructure:"chunk_overlap" json:"chunk_overlap"`
	RetrievalK   int `mapstructure:"retrieval_k" json:"retrieval_k"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > default values.
func Load() (*Config, error) {
	// Operators keep secrets in a .env next to the binary; load it into the
	// environment before viper binds env vars.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Debug("no .env file loaded", "error", err)
	}

	v := viper.New()

	home, err := os.UserHomeDir()
	if err == nil {
		v.AddConfigPath(filepath.Join(home, ".decilog"))
	}
	v.AddConfigPath(".")
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	setDefaults(v)
	bindEnvVariables(v)

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is not an error; defaults + env suffice.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("provider", ProviderGemini)
	v.SetDefault("model_name", "gemini-2.5-flash")
	v.SetDefault("embedder_model", DefaultEmbedderModel)
	v.SetDefault("ollama_host", "http://localhost:11434")

	v.SetDefault("corpus_dir", "corpus")
	v.SetDefault("vector_dir", "vectorstore")

	v.SetDefault("chunk_size", DefaultChunkSize)
	v.SetDefault("chunk_overlap", DefaultChunkOverlap)
	v.SetDefault("retrieval_k", DefaultRetrievalK)
}

// bindEnvVariables binds environment variables explicitly. The Notion and
// storage variables use unprefixed names so an existing .env keeps working.
func bindEnvVariables(v *viper.Viper) {
	mustBind := func(key, envVar string) {
		if err := v.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("notion_api_token", "NOTION_API_TOKEN")
	mustBind("notion_database_id", "NOTION_DATABASE_ID")
	mustBind("corpus_dir", "NOTION_DIR")
	mustBind("vector_dir", "VECTOR_DIR")

	mustBind("provider", "DECILOG_PROVIDER")
	mustBind("model_name", "DECILOG_MODEL_NAME")
	mustBind("embedder_model", "DECILOG_EMBEDDER_MODEL")
	mustBind("ollama_host", "DECILOG_OLLAMA_HOST")

	mustBind("chunk_size", "DECILOG_CHUNK_SIZE")
	mustBind("chunk_overlap", "DECILOG_CHUNK_OVERLAP")
	mustBind("retrieval_k", "DECILOG_RETRIEVAL_K")

	// NOTE: GEMINI_API_KEY / OPENAI_API_KEY are read directly by the Genkit
	// provider plugins, not via viper. Validate() checks their presence based
	// on the selected provider.
}

// maskedValue is the placeholder for masked sensitive data.
const maskedValue = "********"

// maskSecret masks a secret for safe logging. Short secrets are fully masked;
// longer ones keep the first and last two characters for debug utility.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + maskedValue + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with explicit sensitive field masking.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.NotionToken = maskSecret(a.NotionToken)
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
// Examples: "googleai/gemini-2.5-flash", "ollama/llama3.3", "openai/gpt-4o".
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
		return ProviderGoogleAI + "/" + c.ModelName
	}
}
