package embedder

import (
	"context"
	"fmt"
	"strings"
)

// Environment variable names for provider API keys
const (
	EnvJinaAPIKey   = "JINA_API_KEY"
	EnvOpenAIAPIKey = "OPENAI_API_KEY"
	EnvGeminiAPIKey = "GEMINI_API_KEY"
)

// Config holds embedder configuration
type Config struct {
	Provider string // jina, openai, gemini, local; empty auto-detects
	Model    string // empty uses the provider default

	JinaAPIKey   string
	OpenAIAPIKey string
	GeminiAPIKey string

	// BaseURL overrides the provider endpoint (jina and openai only)
	BaseURL string

	CacheSize int

	// RequestsPerSecond enables client-side rate limiting when positive
	RequestsPerSecond float64
	Burst             int
}

// DetectProvider returns the provider New would select for cfg.
// Priority:
// 1. cfg.Provider when set
// 2. The first available API key: Jina, OpenAI, Gemini
// 3. local
func DetectProvider(cfg Config) string {
	if cfg.Provider != "" {
		return strings.ToLower(cfg.Provider)
	}

	switch {
	case cfg.JinaAPIKey != "":
		return ProviderJina
	case cfg.OpenAIAPIKey != "":
		return ProviderOpenAI
	case cfg.GeminiAPIKey != "":
		return ProviderGemini
	default:
		return ProviderLocal
	}
}

// New creates an embedder with explicit configuration
func New(ctx context.Context, cfg Config) (Embedder, error) {
	var cache *Cache
	if cfg.CacheSize > 0 {
		cache = NewCache(cfg.CacheSize)
	}

	var (
		emb Embedder
		err error
	)

	switch provider := DetectProvider(cfg); provider {
	case ProviderJina:
		emb, err = NewJinaProvider(cfg.JinaAPIKey, cfg.Model, cfg.BaseURL, cache)
	case ProviderOpenAI:
		emb, err = NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.Model, cfg.BaseURL, cache)
	case ProviderGemini:
		emb, err = NewGeminiProvider(ctx, cfg.GeminiAPIKey, cfg.Model, cache)
	case ProviderLocal:
		emb, err = NewLocalProvider(cache)
	default:
		return nil, fmt.Errorf("%w: unknown provider %s", ErrUnsupportedModel, cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	return NewRateLimited(emb, cfg.RequestsPerSecond, cfg.Burst), nil
}
