// Package embedder generates vector embeddings for record chunks and queries.
//
// Four providers implement the Embedder interface:
//
//   - jina: Jina AI REST API (1024 dimensions)
//   - openai: OpenAI embeddings via go-openai (1536 dimensions)
//   - gemini: Gemini embeddings via google.golang.org/genai
//   - local: offline hashing-trick vectors (384 dimensions), deterministic
//     and dependency free, useful for tests and air-gapped runs
//
// # Basic Usage
//
//	emb, err := embedder.New(ctx, embedder.Config{
//	    Provider:     "openai",
//	    OpenAIAPIKey: key,
//	    CacheSize:    10000,
//	})
//	if err != nil {
//	    return err
//	}
//	defer emb.Close()
//
//	result, err := emb.GenerateEmbedding(ctx, embedder.EmbeddingRequest{Text: chunk})
//
// # Provider Selection
//
// DetectProvider picks the provider:
//
//  1. Config.Provider when set
//  2. Else the first configured key: Jina, OpenAI, Gemini
//  3. Else local
//
// # Caching
//
// Remote providers keep an in-memory LRU keyed by ComputeHash(model, text).
// GenerateBatch serves cached texts locally and sends only the misses to the
// API, preserving input order in the response.
//
// # Error Handling
//
// API calls are retried with exponential backoff (MaxRetries attempts,
// starting at InitialBackoffMs). Client errors such as 400 and 401 are
// wrapped with Permanent and fail on the first attempt. Every failure is
// reported wrapped in ErrProviderFailed:
//
//	if errors.Is(err, embedder.ErrProviderFailed) {
//	    // encoder unavailable
//	}
//
// # Rate Limiting
//
// New wraps the provider in RateLimited when Config.RequestsPerSecond is
// positive, so long encoding runs stay under provider quotas.
package embedder
