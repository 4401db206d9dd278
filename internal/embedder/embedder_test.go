package embedder

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeHash(t *testing.T) {
	tests := []struct {
		name  string
		model string
		a, b  string
		equal bool
	}{
		{"same text same model", "m", "hello", "hello", true},
		{"different text", "m", "hello", "world", false},
		{"whitespace matters", "m", "hello", "hello ", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h1 := ComputeHash(tt.model, tt.a)
			h2 := ComputeHash(tt.model, tt.b)
			assert.Len(t, h1, 64)
			assert.Equal(t, tt.equal, h1 == h2)
		})
	}

	assert.NotEqual(t, ComputeHash("model-a", "text"), ComputeHash("model-b", "text"),
		"model must be part of the cache key")
}

func TestValidateRequest(t *testing.T) {
	assert.NoError(t, ValidateRequest(EmbeddingRequest{Text: "x"}))
	assert.ErrorIs(t, ValidateRequest(EmbeddingRequest{}), ErrEmptyText)
}

func TestValidateBatchRequest(t *testing.T) {
	tests := []struct {
		name    string
		texts   []string
		wantErr error
	}{
		{"valid", []string{"a", "b"}, nil},
		{"empty batch", nil, ErrInvalidInput},
		{"empty text", []string{"a", ""}, ErrInvalidInput},
		{"too large", make([]string, MaxBatchSize+1), ErrBatchTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateBatchRequest(BatchEmbeddingRequest{Texts: tt.texts})
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestCache(t *testing.T) {
	t.Run("get returns copy", func(t *testing.T) {
		cache := NewCache(10)
		cache.Set("h", &Embedding{Vector: []float32{1, 2, 3}, Dimension: 3})

		emb, ok := cache.Get("h")
		require.True(t, ok)
		emb.Vector[0] = 99

		again, _ := cache.Get("h")
		assert.Equal(t, float32(1), again.Vector[0])
	})

	t.Run("set stores copy", func(t *testing.T) {
		cache := NewCache(10)
		original := &Embedding{Vector: []float32{1}}
		cache.Set("h", original)
		original.Vector[0] = 42

		got, _ := cache.Get("h")
		assert.Equal(t, float32(1), got.Vector[0])
	})

	t.Run("lru eviction", func(t *testing.T) {
		cache := NewCache(2)
		cache.Set("a", &Embedding{Vector: []float32{1}})
		cache.Set("b", &Embedding{Vector: []float32{2}})
		cache.Set("c", &Embedding{Vector: []float32{3}})

		assert.Equal(t, 2, cache.Size())
		_, ok := cache.Get("a")
		assert.False(t, ok)
	})

	t.Run("clear", func(t *testing.T) {
		cache := NewCache(0)
		cache.Set("a", &Embedding{Vector: []float32{1}})
		cache.Clear()
		assert.Equal(t, 0, cache.Size())
	})
}

func TestGenerateCached_PartialHits(t *testing.T) {
	ctx := context.Background()
	cache := NewCache(10)

	var calls atomic.Int32
	var requested [][]string
	call := func(ctx context.Context, texts []string, model string) ([]*Embedding, error) {
		calls.Add(1)
		requested = append(requested, append([]string(nil), texts...))
		out := make([]*Embedding, len(texts))
		for i, text := range texts {
			out[i] = &Embedding{Vector: []float32{float32(len(text))}}
		}
		return out, nil
	}

	_, err := generateCached(ctx, cache, "fake", "m", BatchEmbeddingRequest{Texts: []string{"aa"}}, call)
	require.NoError(t, err)

	resp, err := generateCached(ctx, cache, "fake", "m", BatchEmbeddingRequest{Texts: []string{"b", "aa", "cccc"}}, call)
	require.NoError(t, err)

	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, []string{"b", "cccc"}, requested[1], "cached text must not be re-sent")

	require.Len(t, resp.Embeddings, 3)
	assert.Equal(t, []float32{1}, resp.Embeddings[0].Vector)
	assert.Equal(t, []float32{2}, resp.Embeddings[1].Vector)
	assert.Equal(t, []float32{4}, resp.Embeddings[2].Vector)
	assert.Equal(t, "fake", resp.Embeddings[0].Provider)
	assert.Equal(t, "m", resp.Embeddings[0].Model)
	assert.Equal(t, 1, resp.Embeddings[0].Dimension)
}

func TestGenerateCached_CountMismatch(t *testing.T) {
	call := func(ctx context.Context, texts []string, model string) ([]*Embedding, error) {
		return []*Embedding{}, nil
	}

	_, err := generateCached(context.Background(), nil, "fake", "m", BatchEmbeddingRequest{Texts: []string{"a"}}, call)
	assert.ErrorIs(t, err, ErrProviderFailed)
}

func TestGenerateCached_PermanentFailureNotRetried(t *testing.T) {
	var calls atomic.Int32
	call := func(ctx context.Context, texts []string, model string) ([]*Embedding, error) {
		calls.Add(1)
		return nil, Permanent(errors.New("bad request"))
	}

	_, err := generateCached(context.Background(), nil, "fake", "m", BatchEmbeddingRequest{Texts: []string{"a"}}, call)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProviderFailed)
	assert.Contains(t, err.Error(), "bad request")
	assert.Equal(t, int32(1), calls.Load())
}

func TestLocalProvider(t *testing.T) {
	ctx := context.Background()
	provider, err := NewLocalProvider(NewCache(100))
	require.NoError(t, err)

	t.Run("deterministic and normalized", func(t *testing.T) {
		a, err := provider.GenerateEmbedding(ctx, EmbeddingRequest{Text: "semantic search over repositories"})
		require.NoError(t, err)
		b, err := provider.GenerateEmbedding(ctx, EmbeddingRequest{Text: "semantic search over repositories"})
		require.NoError(t, err)

		assert.Equal(t, a.Vector, b.Vector)
		assert.Len(t, a.Vector, LocalDimension)
		assert.InDelta(t, 1.0, norm(a.Vector), 1e-5)
	})

	t.Run("shared words score higher", func(t *testing.T) {
		query, _ := provider.GenerateEmbedding(ctx, EmbeddingRequest{Text: "vector database"})
		related, _ := provider.GenerateEmbedding(ctx, EmbeddingRequest{Text: "a fast vector database written in go"})
		unrelated, _ := provider.GenerateEmbedding(ctx, EmbeddingRequest{Text: "chocolate cake recipe"})

		assert.Greater(t, dot(query.Vector, related.Vector), dot(query.Vector, unrelated.Vector))
	})

	t.Run("punctuation only text", func(t *testing.T) {
		emb, err := provider.GenerateEmbedding(ctx, EmbeddingRequest{Text: "{}[]"})
		require.NoError(t, err)
		assert.InDelta(t, 1.0, norm(emb.Vector), 1e-5)
	})

	t.Run("empty text", func(t *testing.T) {
		_, err := provider.GenerateEmbedding(ctx, EmbeddingRequest{Text: ""})
		assert.ErrorIs(t, err, ErrEmptyText)
	})

	t.Run("batch preserves order", func(t *testing.T) {
		texts := []string{"one", "two", "three"}
		resp, err := provider.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: texts})
		require.NoError(t, err)
		require.Len(t, resp.Embeddings, 3)

		for i, text := range texts {
			single, _ := provider.GenerateEmbedding(ctx, EmbeddingRequest{Text: text})
			assert.Equal(t, single.Vector, resp.Embeddings[i].Vector)
		}
	})

	t.Run("metadata", func(t *testing.T) {
		assert.Equal(t, ProviderLocal, provider.Provider())
		assert.Equal(t, DefaultLocalModel, provider.Model())
		assert.Equal(t, LocalDimension, provider.Dimension())
		assert.NoError(t, provider.Close())
	})
}

func TestNormalizeVector(t *testing.T) {
	v := NormalizeVector([]float32{3, 4})
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)

	zero := []float32{0, 0}
	assert.Equal(t, zero, NormalizeVector(zero))
}

func norm(v []float32) float64 {
	return math.Sqrt(dot(v, v))
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func TestLocalProvider_Tokenization(t *testing.T) {
	provider, _ := NewLocalProvider(nil)
	a := provider.vectorize("Hello, World")
	b := provider.vectorize(strings.ToUpper("hello world"))
	assert.Equal(t, a, b, "case and punctuation should not matter")
}
