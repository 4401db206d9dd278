package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/reposearch/internal/chunker"
	"github.com/dshills/reposearch/internal/config"
	"github.com/dshills/reposearch/internal/dataset"
	"github.com/dshills/reposearch/internal/embedcache"
	"github.com/dshills/reposearch/internal/embedder"
	"github.com/dshills/reposearch/internal/storage"
	"github.com/dshills/reposearch/pkg/types"
)

// mockEmbedder implements embedder.Embedder for testing.
// Vectors are a pure function of the input text.
type mockEmbedder struct {
	mu        sync.Mutex
	callCount int
	texts     []string
	failOn    func(text string) bool
	delay     func(text string) time.Duration
}

func newMockEmbedder() *mockEmbedder {
	return &mockEmbedder{}
}

func mockVector(text string) []float32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(text))
	return []float32{float32(utf8.RuneCountInString(text)), float32(h.Sum32()%1000) / 1000}
}

func (m *mockEmbedder) GenerateEmbedding(ctx context.Context, req embedder.EmbeddingRequest) (*embedder.Embedding, error) {
	if m.delay != nil {
		time.Sleep(m.delay(req.Text))
	}

	m.mu.Lock()
	m.callCount++
	m.texts = append(m.texts, req.Text)
	m.mu.Unlock()

	if m.failOn != nil && m.failOn(req.Text) {
		return nil, errors.New("mock encoder unavailable")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return &embedder.Embedding{
		Vector:    mockVector(req.Text),
		Dimension: 2,
		Provider:  "mock",
		Model:     "test-v1",
	}, nil
}

func (m *mockEmbedder) GenerateBatch(ctx context.Context, req embedder.BatchEmbeddingRequest) (*embedder.BatchEmbeddingResponse, error) {
	resp := &embedder.BatchEmbeddingResponse{Provider: "mock", Model: "test-v1"}
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
func (m *mockEmbedder) Model() string    { return "test-v1" }
func (m *mockEmbedder) Close() error     { return nil }

func (m *mockEmbedder) getCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

// recordingSink captures datasets passed to the index
type recordingSink struct {
	saved map[string]int
	err   error
}

func (s *recordingSink) SaveDataset(ctx context.Context, ds *storage.Dataset, records []*types.Record) error {
	if s.err != nil {
		return s.err
	}
	if s.saved == nil {
		s.saved = make(map[string]int)
	}
	s.saved[ds.Name] = len(records)
	return nil
}

func repoRecord(name, desc string) *types.Record {
	return types.NewRecord(map[string]any{
		"repo_name":        name,
		"repo_description": desc,
		"stars":            json.Number("42"),
	})
}

func writeInput(t *testing.T, path string, records ...*types.Record) {
	t.Helper()
	require.NoError(t, dataset.WriteRecords(path, records))
}

type fixture struct {
	dir       string
	cachePath string
	ds        config.Dataset
}

func newFixture(t *testing.T) fixture {
	dir := t.TempDir()
	return fixture{
		dir:       dir,
		cachePath: filepath.Join(dir, "embedding_cache.json"),
		ds: config.Dataset{
			Name:    "repo_data.json",
			Input:   filepath.Join(dir, "repo_data.json"),
			Output:  filepath.Join(dir, "repo_data_with_embeddings.json"),
			IDField: "repo_name",
		},
	}
}

func (f fixture) indexer(emb embedder.Embedder, cfg *Config) *Indexer {
	return New(emb, embedcache.NewFileStore(f.cachePath), cfg, nil)
}

func (f fixture) readCache(t *testing.T) embedcache.Snapshot {
	t.Helper()
	data, err := os.ReadFile(f.cachePath)
	require.NoError(t, err)
	var snap embedcache.Snapshot
	require.NoError(t, json.Unmarshal(data, &snap))
	return snap
}

func TestNew_Defaults(t *testing.T) {
	idx := New(newMockEmbedder(), nil, nil, nil)
	require.NotNil(t, idx)

	assert.False(t, idx.CachingEnabled())
	assert.Positive(t, idx.workers)
	assert.Equal(t, 2048, idx.chunker.Limit())
	assert.Equal(t, config.DefaultIDField, idx.idField)
}

func TestNew_DisableCache(t *testing.T) {
	idx := New(newMockEmbedder(), embedcache.NewFileStore(filepath.Join(t.TempDir(), "c.json")), &Config{DisableCache: true}, nil)
	assert.False(t, idx.CachingEnabled())
}

func TestProcess_EmbedsAndCaches(t *testing.T) {
	f := newFixture(t)
	emb := newMockEmbedder()
	idx := f.indexer(emb, &Config{Workers: 2})

	records := []*types.Record{repoRecord("alpha", "first"), repoRecord("beta", "second")}
	stats, err := idx.Process(context.Background(), "repo_data.json", records)
	require.NoError(t, err)

	assert.Equal(t, 2, stats.RecordsTotal)
	assert.Equal(t, 2, stats.RecordsEmbedded)
	assert.Equal(t, 0, stats.RecordsSkipped)
	assert.Equal(t, 2, stats.EncoderCalls)
	assert.Equal(t, 2, emb.getCallCount())

	for _, rec := range records {
		require.True(t, rec.HasEmbedding())
		assert.Equal(t, [][]float32{mockVector(rec.CanonicalText())}, rec.Embedding)
	}

	snap := f.readCache(t)
	assert.Equal(t, records[0].ContentHash(), snap["repo_data.json"]["alpha"])
	assert.Equal(t, records[1].ContentHash(), snap["repo_data.json"]["beta"])
}

func TestProcess_HitSkipsEncoder(t *testing.T) {
	f := newFixture(t)
	emb := newMockEmbedder()
	idx := f.indexer(emb, nil)

	records := []*types.Record{repoRecord("alpha", "first")}
	_, err := idx.Process(context.Background(), "repo_data.json", records)
	require.NoError(t, err)
	require.Equal(t, 1, emb.getCallCount())

	// Same content, embedding already present
	stats, err := idx.Process(context.Background(), "repo_data.json", records)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.RecordsSkipped)
	assert.Equal(t, 0, stats.EncoderCalls)
	assert.Equal(t, 1, emb.getCallCount())
}

func TestProcess_StaleHitReembeds(t *testing.T) {
	f := newFixture(t)
	emb := newMockEmbedder()
	idx := f.indexer(emb, nil)

	_, err := idx.Process(context.Background(), "repo_data.json", []*types.Record{repoRecord("alpha", "first")})
	require.NoError(t, err)

	// Hash matches the cache but the embedding is gone
	fresh := repoRecord("alpha", "first")
	stats, err := idx.Process(context.Background(), "repo_data.json", []*types.Record{fresh})
	require.NoError(t, err)

	assert.Equal(t, 1, stats.StaleHits)
	assert.Equal(t, 1, stats.RecordsEmbedded)
	assert.True(t, fresh.HasEmbedding())
	assert.Equal(t, 2, emb.getCallCount())
}

func TestProcess_RecordWithoutIDIsNeverCached(t *testing.T) {
	f := newFixture(t)
	emb := newMockEmbedder()
	idx := f.indexer(emb, nil)

	anon := types.NewRecord(map[string]any{"repo_description": "no name"})
	named := repoRecord("alpha", "first")

	stats, err := idx.Process(context.Background(), "repo_data.json", []*types.Record{anon, named})
	require.NoError(t, err)

	assert.True(t, anon.HasEmbedding())
	assert.Equal(t, 1, stats.RecordsUncached)
	assert.Len(t, stats.ErrorMessages, 1)

	snap := f.readCache(t)
	assert.Len(t, snap["repo_data.json"], 1)
	assert.Contains(t, snap["repo_data.json"], "alpha")

	// Always re-embedded
	stats, err = idx.Process(context.Background(), "repo_data.json", []*types.Record{anon, named})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.RecordsEmbedded)
	assert.Equal(t, 1, stats.RecordsSkipped)
}

func TestProcess_EncoderFailureLeavesRecordsUnchanged(t *testing.T) {
	f := newFixture(t)

	emb := newMockEmbedder()
	emb.failOn = func(text string) bool { return strings.Contains(text, "broken") }
	idx := f.indexer(emb, nil)

	records := []*types.Record{repoRecord("beta", "fine"), repoRecord("gamma", "broken")}
	_, err := idx.Process(context.Background(), "repo_data.json", records)
	require.ErrorIs(t, err, ErrEncode)

	for _, r := range records {
		assert.False(t, r.HasEmbedding(), r.Text("repo_name"))
	}
}

func TestProcess_EncoderFailureWritesNoCache(t *testing.T) {
	f := newFixture(t)

	// Seed the cache with a prior entry
	good := f.indexer(newMockEmbedder(), nil)
	_, err := good.Process(context.Background(), "repo_data.json", []*types.Record{repoRecord("alpha", "first")})
	require.NoError(t, err)
	before, err := os.ReadFile(f.cachePath)
	require.NoError(t, err)

	emb := newMockEmbedder()
	emb.failOn = func(text string) bool { return strings.Contains(text, "broken") }
	idx := f.indexer(emb, nil)

	records := []*types.Record{repoRecord("beta", "fine"), repoRecord("gamma", "broken")}
	_, err = idx.Process(context.Background(), "repo_data.json", records)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEncode)

	var stageErr *StageError
	require.True(t, errors.As(err, &stageErr))
	assert.Equal(t, StageEmbed, stageErr.Stage)
	assert.Equal(t, "repo_data.json", stageErr.Dataset)

	after, err := os.ReadFile(f.cachePath)
	require.NoError(t, err)
	assert.Equal(t, before, after, "cache must be untouched after a failed batch")
}

func TestProcess_NoCacheMode(t *testing.T) {
	f := newFixture(t)
	emb := newMockEmbedder()
	idx := f.indexer(emb, &Config{DisableCache: true})

	records := []*types.Record{repoRecord("alpha", "first")}
	for range 2 {
		stats, err := idx.Process(context.Background(), "repo_data.json", records)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.RecordsEmbedded)
	}

	assert.Equal(t, 2, emb.getCallCount())
	_, err := os.Stat(f.cachePath)
	assert.True(t, os.IsNotExist(err), "no cache file in no-cache mode")
}

func TestEmbedText_ChunkOrderUnderWorkers(t *testing.T) {
	emb := newMockEmbedder()
	// Later chunks finish first
	emb.delay = func(text string) time.Duration {
		return time.Duration(10-int(text[0]-'a')%10) * time.Millisecond
	}
	idx := New(emb, nil, &Config{Workers: 8, ChunkSize: 3}, nil)

	text := "abcdefghijklmnopqrstuvwxyz"
	var calls atomic.Int64
	vectors, err := idx.embedText(context.Background(), text, &calls)
	require.NoError(t, err)

	var want [][]float32
	for chunk := range chunker.Split(text, 3) {
		want = append(want, mockVector(chunk))
	}
	assert.Equal(t, want, vectors)
	assert.Equal(t, int64(9), calls.Load())
}

func TestRun_IdempotentOutput(t *testing.T) {
	f := newFixture(t)
	writeInput(t, f.ds.Input, repoRecord("alpha", "first"), repoRecord("beta", "<b>second</b> & more"))

	emb := newMockEmbedder()
	idx := f.indexer(emb, &Config{ChunkSize: 16})

	report, err := idx.Run(context.Background(), []config.Dataset{f.ds})
	require.NoError(t, err)
	require.Len(t, report.Datasets, 1)
	firstCalls := emb.getCallCount()
	assert.Positive(t, firstCalls)

	out1, err := os.ReadFile(f.ds.Output)
	require.NoError(t, err)
	cache1, err := os.ReadFile(f.cachePath)
	require.NoError(t, err)

	report, err = idx.Run(context.Background(), []config.Dataset{f.ds})
	require.NoError(t, err)
	stats := report.Datasets[0].Statistics
	assert.Equal(t, 2, stats.RecordsSkipped)
	assert.Equal(t, 0, stats.EncoderCalls)
	assert.Equal(t, firstCalls, emb.getCallCount())

	out2, err := os.ReadFile(f.ds.Output)
	require.NoError(t, err)
	cache2, err := os.ReadFile(f.cachePath)
	require.NoError(t, err)

	assert.Equal(t, out1, out2, "output must be byte-identical")
	assert.Equal(t, cache1, cache2)
	assert.NotContains(t, string(out1), `<`, "no HTML escaping")
}

func TestRun_ChangedRecordIsReembedded(t *testing.T) {
	f := newFixture(t)
	writeInput(t, f.ds.Input, repoRecord("alpha", "first"), repoRecord("beta", "second"))

	emb := newMockEmbedder()
	idx := f.indexer(emb, nil)
	_, err := idx.Run(context.Background(), []config.Dataset{f.ds})
	require.NoError(t, err)

	changed := repoRecord("beta", "second, revised")
	writeInput(t, f.ds.Input, repoRecord("alpha", "first"), changed)

	report, err := idx.Run(context.Background(), []config.Dataset{f.ds})
	require.NoError(t, err)
	stats := report.Datasets[0].Statistics
	assert.Equal(t, 1, stats.RecordsEmbedded)
	assert.Equal(t, 1, stats.RecordsSkipped)

	snap := f.readCache(t)
	assert.Equal(t, changed.ContentHash(), snap["repo_data.json"]["beta"])

	out, err := dataset.ReadRecords(f.ds.Output)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, [][]float32{mockVector(changed.CanonicalText())}, out[1].Embedding)
}

func TestRun_CacheMergesAcrossRuns(t *testing.T) {
	f := newFixture(t)
	idx := f.indexer(newMockEmbedder(), nil)

	writeInput(t, f.ds.Input, repoRecord("alpha", "a"), repoRecord("beta", "b"))
	_, err := idx.Run(context.Background(), []config.Dataset{f.ds})
	require.NoError(t, err)

	writeInput(t, f.ds.Input, repoRecord("gamma", "c"))
	_, err = idx.Run(context.Background(), []config.Dataset{f.ds})
	require.NoError(t, err)

	entries := f.readCache(t)["repo_data.json"]
	assert.Len(t, entries, 3)
	for _, id := range []string{"alpha", "beta", "gamma"} {
		assert.Contains(t, entries, id)
	}
}

func TestRun_DatasetsAreIsolated(t *testing.T) {
	f := newFixture(t)
	files := config.Dataset{
		Name:    "file_data.json",
		Input:   filepath.Join(f.dir, "file_data.json"),
		Output:  filepath.Join(f.dir, "file_data_with_embeddings.json"),
		IDField: "file_path",
	}
	writeInput(t, f.ds.Input, repoRecord("alpha", "a"))
	writeInput(t, files.Input, types.NewRecord(map[string]any{"file_path": "alpha/main.go", "repo_name": "alpha", "content": "package main"}))

	idx := f.indexer(newMockEmbedder(), nil)
	_, err := idx.Run(context.Background(), []config.Dataset{f.ds, files})
	require.NoError(t, err)

	snap := f.readCache(t)
	assert.Contains(t, snap["repo_data.json"], "alpha")
	assert.Contains(t, snap["file_data.json"], "alpha/main.go")
}

func TestRun_LoadFailureSkipsOnlyThatDataset(t *testing.T) {
	f := newFixture(t)
	missing := config.Dataset{Name: "gone.json", Input: filepath.Join(f.dir, "gone.json"), Output: filepath.Join(f.dir, "gone_out.json"), IDField: "repo_name"}
	writeInput(t, f.ds.Input, repoRecord("alpha", "a"))

	idx := f.indexer(newMockEmbedder(), nil)
	report, err := idx.Run(context.Background(), []config.Dataset{missing, f.ds})
	require.Error(t, err)
	assert.ErrorIs(t, err, dataset.ErrRead)

	var stageErr *StageError
	require.True(t, errors.As(err, &stageErr))
	assert.Equal(t, StageLoad, stageErr.Stage)
	assert.Equal(t, "gone.json", stageErr.Dataset)

	require.Len(t, report.Datasets, 2)
	assert.Error(t, report.Datasets[0].Err)
	assert.NoError(t, report.Datasets[1].Err)
	assert.FileExists(t, f.ds.Output)
}

func TestRun_EncoderFailureLeavesOutputAndCacheUntouched(t *testing.T) {
	f := newFixture(t)
	writeInput(t, f.ds.Input, repoRecord("alpha", "a"), repoRecord("beta", "broken"))

	emb := newMockEmbedder()
	emb.failOn = func(text string) bool { return strings.Contains(text, "broken") }
	idx := f.indexer(emb, nil)

	_, err := idx.Run(context.Background(), []config.Dataset{f.ds})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEncode)

	assert.NoFileExists(t, f.ds.Output)
	assert.NoFileExists(t, f.cachePath)
}

func TestRun_WriteFailureSkipsCacheSave(t *testing.T) {
	f := newFixture(t)
	writeInput(t, f.ds.Input, repoRecord("alpha", "a"))

	// A directory where the output file should be
	require.NoError(t, os.MkdirAll(f.ds.Output, 0o755))

	idx := f.indexer(newMockEmbedder(), nil)
	_, err := idx.Run(context.Background(), []config.Dataset{f.ds})
	require.Error(t, err)

	var stageErr *StageError
	require.True(t, errors.As(err, &stageErr))
	assert.Equal(t, StageWrite, stageErr.Stage)
	assert.NoFileExists(t, f.cachePath)
}

func TestRun_SeedsEmbeddingsFromPreviousOutput(t *testing.T) {
	f := newFixture(t)
	writeInput(t, f.ds.Input, repoRecord("alpha", "a"))

	emb := newMockEmbedder()
	idx := f.indexer(emb, nil)
	_, err := idx.Run(context.Background(), []config.Dataset{f.ds})
	require.NoError(t, err)

	// Hand-edit the output: prior embedding with a different content hash is not reused
	prior, err := dataset.ReadRecords(f.ds.Output)
	require.NoError(t, err)
	prior[0].Fields["repo_description"] = "edited elsewhere"
	require.NoError(t, dataset.WriteRecords(f.ds.Output, prior))

	report, err := idx.Run(context.Background(), []config.Dataset{f.ds})
	require.NoError(t, err)
	stats := report.Datasets[0].Statistics
	assert.Equal(t, 1, stats.StaleHits, "cache hit without a usable embedding")
	assert.Equal(t, 1, stats.RecordsEmbedded)
}

func TestRun_IndexSink(t *testing.T) {
	f := newFixture(t)
	writeInput(t, f.ds.Input, repoRecord("alpha", "a"), repoRecord("beta", "b"))

	sink := &recordingSink{}
	idx := f.indexer(newMockEmbedder(), nil)
	idx.SetIndexSink(sink)

	_, err := idx.Run(context.Background(), []config.Dataset{f.ds})
	require.NoError(t, err)
	assert.Equal(t, 2, sink.saved["repo_data.json"])

	// Sink failure keeps the cache unsaved
	f2 := newFixture(t)
	writeInput(t, f2.ds.Input, repoRecord("alpha", "a"))
	idx2 := f2.indexer(newMockEmbedder(), nil)
	idx2.SetIndexSink(&recordingSink{err: errors.New("disk full")})

	_, err = idx2.Run(context.Background(), []config.Dataset{f2.ds})
	var stageErr *StageError
	require.True(t, errors.As(err, &stageErr))
	assert.Equal(t, StageIndex, stageErr.Stage)
	assert.FileExists(t, f2.ds.Output)
	assert.NoFileExists(t, f2.cachePath)
}

func TestRun_CorruptCacheIsFatal(t *testing.T) {
	f := newFixture(t)
	writeInput(t, f.ds.Input, repoRecord("alpha", "a"))
	require.NoError(t, os.WriteFile(f.cachePath, []byte("{not json"), 0o644))

	emb := newMockEmbedder()
	idx := f.indexer(emb, nil)
	_, err := idx.Run(context.Background(), []config.Dataset{f.ds})
	assert.ErrorIs(t, err, embedcache.ErrCacheCorrupt)
	assert.Equal(t, 0, emb.getCallCount())
}

func TestRun_RejectsConcurrentRun(t *testing.T) {
	f := newFixture(t)
	idx := f.indexer(newMockEmbedder(), nil)

	require.True(t, idx.lock.TryAcquire())
	assert.True(t, idx.Busy())

	_, err := idx.Run(context.Background(), []config.Dataset{f.ds})
	assert.ErrorIs(t, err, ErrRunInProgress)
	_, err = idx.Process(context.Background(), "x", nil)
	assert.ErrorIs(t, err, ErrRunInProgress)

	idx.lock.Release()
	assert.False(t, idx.Busy())
}

func TestRun_ContextCancellation(t *testing.T) {
	f := newFixture(t)
	writeInput(t, f.ds.Input, repoRecord("alpha", "a"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	idx := f.indexer(newMockEmbedder(), nil)
	report, err := idx.Run(ctx, []config.Dataset{f.ds})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NoFileExists(t, f.ds.Output)
	require.NotNil(t, report)
}

func TestStageError(t *testing.T) {
	cause := errors.New("boom")
	err := &StageError{Stage: StageWrite, Dataset: "repo_data.json", Err: cause}

	assert.Equal(t, "write repo_data.json: boom", err.Error())
	assert.ErrorIs(t, err, cause)
}
