package searcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/reposearch/internal/embedder"
	"github.com/dshills/reposearch/internal/query"
	"github.com/dshills/reposearch/pkg/types"
)

// mockEmbedder maps known queries to fixed vectors
type mockEmbedder struct {
	mu      sync.Mutex
	vectors map[string][]float32
	texts   []string
	err     error
}

func (m *mockEmbedder) GenerateEmbedding(ctx context.Context, req embedder.EmbeddingRequest) (*embedder.Embedding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.texts = append(m.texts, req.Text)
	if m.err != nil {
		return nil, m.err
	}
	vec, ok := m.vectors[req.Text]
	if !ok {
		vec = []float32{1, 0}
	}
	return &embedder.Embedding{Vector: vec, Dimension: len(vec), Provider: "mock", Model: "mock-model"}, nil
}

func (m *mockEmbedder) GenerateBatch(ctx context.Context, req embedder.BatchEmbeddingRequest) (*embedder.BatchEmbeddingResponse, error) {
	resp := &embedder.BatchEmbeddingResponse{Provider: "mock", Model: "mock-model"}
	for _, text := range req.Texts {
		emb, err := m.GenerateEmbedding(ctx, embedder.EmbeddingRequest{Text: text})
		if err != nil {
			return nil, err
		}
		resp.Embeddings = append(resp.Embeddings, emb)
	}
	return resp, nil
}

func (m *mockEmbedder) Dimension() int   { return 2 }
func (m *mockEmbedder) Provider() string { return "mock" }
func (m *mockEmbedder) Model() string    { return "mock-model" }
func (m *mockEmbedder) Close() error     { return nil }

func (m *mockEmbedder) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.texts)
}

// memCollections serves records from memory and counts loads
type memCollections struct {
	mu    sync.Mutex
	data  map[string][]*types.Record
	loads map[string]int
}

func newMemCollections(data map[string][]*types.Record) *memCollections {
	return &memCollections{data: data, loads: make(map[string]int)}
}

func (m *memCollections) LoadRecords(ctx context.Context, name string) ([]*types.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loads[name]++
	records, ok := m.data[name]
	if !ok {
		return nil, errors.New("not found")
	}
	return records, nil
}

type fakePreprocessor struct {
	out string
	err error
}

func (f fakePreprocessor) Condense(ctx context.Context, q string) (string, error) {
	return f.out, f.err
}

const (
	repoDS = "repo_data_with_embeddings.json"
	fileDS = "file_data_with_embeddings.json"
)

func testData() map[string][]*types.Record {
	return map[string][]*types.Record{
		repoDS: {
			repo("alpha", []float32{1, 0}),
			repo("beta", []float32{0, 1}),
			repo("gamma", []float32{1, 1}),
			repo("delta", []float32{-1, 0}),
		},
		fileDS: {
			file("beta", "beta/main.go", []float32{1, 0}),
			file("alpha", "alpha/main.go", []float32{0, 1}),
		},
	}
}

func setupTestSearcher(t *testing.T, pre fakePreprocessor, data map[string][]*types.Record) (*Searcher, *mockEmbedder, *memCollections) {
	t.Helper()
	emb := &mockEmbedder{vectors: map[string][]float32{}}
	cols := newMemCollections(data)

	var p query.Preprocessor
	if pre != (fakePreprocessor{}) {
		p = pre
	}

	s, err := New(emb, p, cols, &Config{}, nil)
	require.NoError(t, err)
	return s, emb, cols
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, nil, newMemCollections(nil), nil, nil)
	assert.Error(t, err)

	_, err = New(&mockEmbedder{}, nil, nil, nil, nil)
	assert.Error(t, err)

	s, err := New(&mockEmbedder{}, nil, newMemCollections(nil), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, s.cfg.DefaultLimit)
	assert.NotNil(t, s.cache)
}

func TestSearch_Light(t *testing.T) {
	s, _, _ := setupTestSearcher(t, fakePreprocessor{}, testData())

	resp, err := s.Search(context.Background(), SearchRequest{Query: "anything"})
	require.NoError(t, err)

	assert.Equal(t, ModeLight, resp.Mode)
	assert.Equal(t, 4, resp.Scanned)
	require.Len(t, resp.Results, 3, "default limit")
	assert.Equal(t, []string{"alpha", "gamma", "beta"}, names(resp.Results, "repo_name"))
	assert.False(t, resp.CacheHit)
}

func TestSearch_Deep(t *testing.T) {
	s, _, _ := setupTestSearcher(t, fakePreprocessor{}, testData())

	resp, err := s.Search(context.Background(), SearchRequest{Query: "anything", Mode: ModeDeep, Limit: 5})
	require.NoError(t, err)

	require.Len(t, resp.Results, 2)
	assert.Equal(t, []string{"beta", "alpha"}, names(resp.Results, "repo_name"))
	assert.Equal(t, "https://github.com/acme/beta", resp.Results[0].Record.Text("repo_url"))
	assert.Equal(t, 2, resp.Scanned)
}

func TestSearch_DeepWithoutRepoMetadata(t *testing.T) {
	data := testData()
	delete(data, repoDS)
	s, _, _ := setupTestSearcher(t, fakePreprocessor{}, data)

	resp, err := s.Search(context.Background(), SearchRequest{Query: "q", Mode: ModeDeep})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, "N/A", resp.Results[0].Record.Text("repo_description"))
	assert.Equal(t, "#", resp.Results[0].Record.Text("repo_url"))
}

func TestSearch_CollectionUnavailable(t *testing.T) {
	data := testData()
	delete(data, fileDS)
	s, _, _ := setupTestSearcher(t, fakePreprocessor{}, data)

	_, err := s.Search(context.Background(), SearchRequest{Query: "q", Mode: ModeDeep})
	assert.ErrorIs(t, err, ErrCollectionUnavailable)

	// Light mode keeps working
	resp, err := s.Search(context.Background(), SearchRequest{Query: "q", Mode: ModeLight})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Results)
}

func TestSearch_Validation(t *testing.T) {
	s, emb, _ := setupTestSearcher(t, fakePreprocessor{}, testData())

	_, err := s.Search(context.Background(), SearchRequest{Query: "   "})
	assert.ErrorIs(t, err, ErrEmptyQuery)

	_, err = s.Search(context.Background(), SearchRequest{Query: "q", Mode: "fuzzy"})
	assert.ErrorIs(t, err, ErrUnsupportedMode)

	assert.Equal(t, 0, emb.calls(), "invalid requests never reach the encoder")
}

func TestSearch_LimitBounds(t *testing.T) {
	many := make([]*types.Record, 0, 150)
	for i := range 150 {
		many = append(many, repo("r"+string(rune('a'+i%26))+string(rune('a'+i/26)), []float32{1, float32(i)}))
	}
	s, _, _ := setupTestSearcher(t, fakePreprocessor{}, map[string][]*types.Record{repoDS: many})

	resp, err := s.Search(context.Background(), SearchRequest{Query: "q", Limit: 500})
	require.NoError(t, err)
	assert.Len(t, resp.Results, MaxLimit)
}

func TestSearch_PreprocessorFallback(t *testing.T) {
	s, emb, _ := setupTestSearcher(t, fakePreprocessor{err: errors.New("model down")}, testData())

	resp, err := s.Search(context.Background(), SearchRequest{Query: "raw question"})
	require.NoError(t, err)
	assert.Equal(t, "raw question", resp.Condensed)
	assert.Equal(t, []string{"raw question"}, emb.texts)
}

func TestSearch_UsesCondensedQuery(t *testing.T) {
	s, emb, _ := setupTestSearcher(t, fakePreprocessor{out: "go sqlite"}, testData())
	emb.vectors["go sqlite"] = []float32{0, 1}

	resp, err := s.Search(context.Background(), SearchRequest{Query: "which repos use sqlite from go?"})
	require.NoError(t, err)
	assert.Equal(t, "go sqlite", resp.Condensed)
	assert.Equal(t, "which repos use sqlite from go?", resp.Query)
	assert.Equal(t, "beta", resp.Results[0].Record.Text("repo_name"))
}

func TestSearch_EmbedderError(t *testing.T) {
	s, emb, _ := setupTestSearcher(t, fakePreprocessor{}, testData())
	emb.err = errors.New("encoder offline")

	_, err := s.Search(context.Background(), SearchRequest{Query: "q"})
	assert.ErrorContains(t, err, "encoder offline")
}

func TestSearch_QueryCache(t *testing.T) {
	s, emb, cols := setupTestSearcher(t, fakePreprocessor{}, testData())
	ctx := context.Background()

	first, err := s.Search(ctx, SearchRequest{Query: "q"})
	require.NoError(t, err)
	second, err := s.Search(ctx, SearchRequest{Query: "q"})
	require.NoError(t, err)

	assert.True(t, second.CacheHit)
	assert.Equal(t, names(first.Results, "repo_name"), names(second.Results, "repo_name"))
	assert.Equal(t, 1, emb.calls())
	assert.Equal(t, 1, cols.loads[repoDS], "collection loaded once")

	// Mutating a returned response does not affect the cache
	second.Results[0].Rank = 99
	third, err := s.Search(ctx, SearchRequest{Query: "q"})
	require.NoError(t, err)
	assert.Equal(t, 1, third.Results[0].Rank)

	// Different limit or mode is a different key
	_, err = s.Search(ctx, SearchRequest{Query: "q", Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, emb.calls())
}

func TestSearch_QueryCacheExpiry(t *testing.T) {
	emb := &mockEmbedder{}
	s, err := New(emb, nil, newMemCollections(testData()), &Config{CacheTTL: time.Millisecond}, nil)
	require.NoError(t, err)

	_, err = s.Search(context.Background(), SearchRequest{Query: "q"})
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	resp, err := s.Search(context.Background(), SearchRequest{Query: "q"})
	require.NoError(t, err)
	assert.False(t, resp.CacheHit)
	assert.Equal(t, 2, emb.calls())
}

func TestSearch_CacheDisabled(t *testing.T) {
	emb := &mockEmbedder{}
	s, err := New(emb, nil, newMemCollections(testData()), &Config{CacheSize: -1}, nil)
	require.NoError(t, err)

	for range 2 {
		resp, err := s.Search(context.Background(), SearchRequest{Query: "q"})
		require.NoError(t, err)
		assert.False(t, resp.CacheHit)
	}
	assert.Equal(t, 2, emb.calls())
}

func TestInvalidate(t *testing.T) {
	s, emb, cols := setupTestSearcher(t, fakePreprocessor{}, testData())
	ctx := context.Background()

	_, err := s.Search(ctx, SearchRequest{Query: "q"})
	require.NoError(t, err)

	s.Invalidate()

	resp, err := s.Search(ctx, SearchRequest{Query: "q"})
	require.NoError(t, err)
	assert.False(t, resp.CacheHit)
	assert.Equal(t, 2, emb.calls())
	assert.Equal(t, 2, cols.loads[repoDS])
}

func TestFailedLoadIsRetried(t *testing.T) {
	data := testData()
	files := data[fileDS]
	delete(data, fileDS)
	s, _, cols := setupTestSearcher(t, fakePreprocessor{}, data)

	_, err := s.Search(context.Background(), SearchRequest{Query: "q", Mode: ModeDeep})
	require.ErrorIs(t, err, ErrCollectionUnavailable)

	cols.mu.Lock()
	cols.data[fileDS] = files
	cols.mu.Unlock()

	_, err = s.Search(context.Background(), SearchRequest{Query: "q", Mode: ModeDeep})
	require.NoError(t, err)
	assert.Equal(t, 2, cols.loads[fileDS])
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"", ModeLight, false},
		{"light", ModeLight, false},
		{" DEEP ", ModeDeep, false},
		{"hybrid", "", true},
	}
	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrUnsupportedMode)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestComputeQueryHash(t *testing.T) {
	a := computeQueryHash(ModeLight, 3, "q")
	assert.Equal(t, a, computeQueryHash(ModeLight, 3, "q"))
	assert.NotEqual(t, a, computeQueryHash(ModeDeep, 3, "q"))
	assert.NotEqual(t, a, computeQueryHash(ModeLight, 4, "q"))
	assert.NotEqual(t, a, computeQueryHash(ModeLight, 3, "q2"))
}
