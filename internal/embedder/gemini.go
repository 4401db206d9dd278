package embedder

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// GeminiProvider implements Embedder using the Gemini API
type GeminiProvider struct {
	client *genai.Client
	model  string
	cache  *Cache
}

// NewGeminiProvider creates a new Gemini embedder
func NewGeminiProvider(ctx context.Context, apiKey, model string, cache *Cache) (*GeminiProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: %s not set", ErrNoProviderEnabled, EnvGeminiAPIKey)
	}
	if model == "" {
		model = DefaultGeminiModel
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	return &GeminiProvider{
		client: client,
		model:  model,
		cache:  cache,
	}, nil
}

func (g *GeminiProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	return generateOne(ctx, g, req)
}

func (g *GeminiProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	return generateCached(ctx, g.cache, ProviderGemini, g.model, req, g.callAPI)
}

func (g *GeminiProvider) callAPI(ctx context.Context, texts []string, model string) ([]*Embedding, error) {
	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = &genai.Content{Parts: []*genai.Part{{Text: text}}}
	}

	resp, err := g.client.Models.EmbedContent(ctx, model, contents, nil)
	if err != nil {
		return nil, err
	}
	if resp == nil || len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings from gemini", len(texts))
	}

	embeddings := make([]*Embedding, len(texts))
	for i, e := range resp.Embeddings {
		if e == nil || len(e.Values) == 0 {
			return nil, fmt.Errorf("empty embedding values at index %d", i)
		}
		embeddings[i] = &Embedding{
			Vector:    e.Values,
			Dimension: len(e.Values),
			Provider:  ProviderGemini,
			Model:     model,
		}
	}

	return embeddings, nil
}

func (g *GeminiProvider) Dimension() int {
	return GeminiDimension
}

func (g *GeminiProvider) Provider() string {
	return ProviderGemini
}

func (g *GeminiProvider) Model() string {
	return g.model
}

func (g *GeminiProvider) Close() error {
	return nil
}
