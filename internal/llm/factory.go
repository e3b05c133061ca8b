package llm

import (
	"fmt"
	"time"
)

// ProviderConfig selects and configures a model provider.
type ProviderConfig struct {
	// Provider is "ollama" (default) or "openai".
	Provider string

	// BaseURL overrides the provider's default endpoint.
	BaseURL string

	// APIKey authenticates hosted providers; ignored by ollama.
	APIKey string

	// Model is the completion model name.
	Model string

	// EmbedModel is the embedding model name.
	EmbedModel string

	// Timeout is the per-request timeout.
	Timeout time.Duration
}

// NewTextGenerator creates the completion client for the configured
// provider.
func NewTextGenerator(cfg ProviderConfig) (TextGenerator, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAIClient(OpenAIConfig{
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			BaseURL: cfg.BaseURL,
			Timeout: cfg.Timeout,
		}), nil
	case "ollama", "":
		return NewOllamaClient(OllamaConfig{
			BaseURL:    cfg.BaseURL,
			Model:      cfg.Model,
			EmbedModel: cfg.EmbedModel,
			Timeout:    cfg.Timeout,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %q", cfg.Provider)
	}
}

// NewEmbedder creates the embedding client for the configured provider.
func NewEmbedder(cfg ProviderConfig) (Embedder, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAIEmbeddingClient(OpenAIEmbeddingConfig{
			APIKey:  cfg.APIKey,
			Model:   cfg.EmbedModel,
			BaseURL: cfg.BaseURL,
			Timeout: cfg.Timeout,
		}), nil
	case "ollama", "":
		return NewOllamaClient(OllamaConfig{
			BaseURL:    cfg.BaseURL,
			Model:      cfg.Model,
			EmbedModel: cfg.EmbedModel,
			Timeout:    cfg.Timeout,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %q", cfg.Provider)
	}
}
