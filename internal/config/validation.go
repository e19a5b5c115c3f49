package config

import (
	"fmt"
	"os"
)

// validProviders is the closed set of supported AI providers.
var validProviders = map[string]bool{
	ProviderGemini: true,
	ProviderOllama: true,
	ProviderOpenAI: true,
}

// Validate checks settings required by both pipelines.
// Fails fast at startup with sentinel errors; callers should not proceed on error.
func (c *Config) Validate() error {
	if !validProviders[c.Provider] {
		return fmt.Errorf("%w: %q (must be one of: gemini, ollama, openai)", ErrInvalidProvider, c.Provider)
	}

	if err := c.validateAPIKey(); err != nil {
		return err
	}

	if c.VectorDir == "" {
		return ErrMissingVectorDir
	}

	if c.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk_size must be positive, got %d", ErrInvalidChunking, c.ChunkSize)
	}
	if c.ChunkOverlap < 0 {
		return fmt.Errorf("%w: chunk_overlap must not be negative, got %d", ErrInvalidChunking, c.ChunkOverlap)
	}
	if c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("%w: chunk_overlap %d must be smaller than chunk_size %d",
			ErrInvalidChunking, c.ChunkOverlap, c.ChunkSize)
	}

	if c.RetrievalK < 1 {
		return fmt.Errorf("%w: retrieval_k must be at least 1, got %d", ErrInvalidRetrievalK, c.RetrievalK)
	}

	return nil
}

// ValidateSource checks the Document Source credentials. Only the ingestion
// pipeline needs these; the query pipeline never talks to Notion.
func (c *Config) ValidateSource() error {
	if c.NotionToken == "" {
		return fmt.Errorf("%w: set NOTION_API_TOKEN", ErrMissingNotionToken)
	}
	if c.NotionDatabaseID == "" {
		return fmt.Errorf("%w: set NOTION_DATABASE_ID", ErrMissingDatabaseID)
	}
	return nil
}

// validateAPIKey checks the provider's API key environment variable.
// Ollama runs locally and needs no key.
func (c *Config) validateAPIKey() error {
	switch c.Provider {
	case ProviderGemini:
		if os.Getenv("GEMINI_API_KEY") == "" && os.Getenv("GOOGLE_API_KEY") == "" {
			return fmt.Errorf("%w: set GEMINI_API_KEY for the gemini provider", ErrMissingAPIKey)
		}
	case ProviderOpenAI:
		if os.Getenv("OPENAI_API_KEY") == "" {
			return fmt.Errorf("%w: set OPENAI_API_KEY for the openai provider", ErrMissingAPIKey)
		}
	}
	return nil
}
