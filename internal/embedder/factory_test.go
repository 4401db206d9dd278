package embedder

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectProvider(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{"explicit wins", Config{Provider: "OpenAI", JinaAPIKey: "j"}, ProviderOpenAI},
		{"jina key first", Config{JinaAPIKey: "j", OpenAIAPIKey: "o", GeminiAPIKey: "g"}, ProviderJina},
		{"openai key", Config{OpenAIAPIKey: "o", GeminiAPIKey: "g"}, ProviderOpenAI},
		{"gemini key", Config{GeminiAPIKey: "g"}, ProviderGemini},
		{"fallback local", Config{}, ProviderLocal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectProvider(tt.cfg))
		})
	}
}

func TestNew(t *testing.T) {
	ctx := context.Background()

	t.Run("local", func(t *testing.T) {
		emb, err := New(ctx, Config{CacheSize: 10})
		require.NoError(t, err)
		assert.Equal(t, ProviderLocal, emb.Provider())
	})

	t.Run("openai with model", func(t *testing.T) {
		emb, err := New(ctx, Config{Provider: ProviderOpenAI, OpenAIAPIKey: "k", Model: "text-embedding-3-large"})
		require.NoError(t, err)
		assert.Equal(t, "text-embedding-3-large", emb.Model())
	})

	t.Run("jina without key", func(t *testing.T) {
		_, err := New(ctx, Config{Provider: ProviderJina})
		assert.ErrorIs(t, err, ErrNoProviderEnabled)
	})

	t.Run("gemini without key", func(t *testing.T) {
		_, err := New(ctx, Config{Provider: ProviderGemini})
		assert.ErrorIs(t, err, ErrNoProviderEnabled)
	})

	t.Run("unknown provider", func(t *testing.T) {
		_, err := New(ctx, Config{Provider: "word2vec"})
		assert.ErrorIs(t, err, ErrUnsupportedModel)
	})

	t.Run("rate limited wrapper", func(t *testing.T) {
		emb, err := New(ctx, Config{RequestsPerSecond: 5})
		require.NoError(t, err)
		_, ok := emb.(*RateLimited)
		assert.True(t, ok)
	})
}
