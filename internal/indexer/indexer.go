package indexer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"runtime"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/reposearch/internal/chunker"
	"github.com/dshills/reposearch/internal/config"
	"github.com/dshills/reposearch/internal/dataset"
	"github.com/dshills/reposearch/internal/embedcache"
	"github.com/dshills/reposearch/internal/embedder"
	"github.com/dshills/reposearch/internal/logging"
	"github.com/dshills/reposearch/internal/storage"
	"github.com/dshills/reposearch/pkg/types"
)

var (
	// ErrEncode is wrapped by every encoder failure
	ErrEncode = errors.New("encoder failed")
	// ErrRunInProgress is returned when a run is already active on the indexer
	ErrRunInProgress = errors.New("indexing already in progress")
)

// Pipeline stages reported by StageError
const (
	StageLoad  = "load"
	StageEmbed = "embed"
	StageWrite = "write"
	StageIndex = "index"
	StageSave  = "save"
)

// StageError records which stage failed for which dataset
type StageError struct {
	Stage   string
	Dataset string
	Err     error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Stage, e.Dataset, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// IndexSink receives each dataset after its output file is written
type IndexSink interface {
	SaveDataset(ctx context.Context, dataset *storage.Dataset, records []*types.Record) error
}

// Indexer coordinates the encoding pipeline: canonicalize -> chunk -> embed -> persist
type Indexer struct {
	embedder embedder.Embedder
	cache    embedcache.Store
	sink     IndexSink
	chunker  *chunker.Chunker
	logger   *zap.Logger

	workers int
	model   string
	idField string

	lock IndexLock
}

// Config contains configuration for the indexer
type Config struct {
	Workers      int    // Concurrent chunk encodings per record (default: runtime.NumCPU())
	ChunkSize    int    // Chunk length in runes (default: chunker.CharBudget(512, 4))
	Model        string // Optional model override passed to the embedder
	IDField      string // Id field used by Process (default: repo_name)
	DisableCache bool   // Re-embed everything and never touch the cache
}

// Statistics contains statistics about one dataset pass
type Statistics struct {
	RecordsTotal    int
	RecordsEmbedded int
	RecordsSkipped  int // cache hits
	RecordsUncached int // embedded without an id, never cached
	StaleHits       int // hash matched but no embedding was available
	ChunksEmbedded  int
	EncoderCalls    int
	Duration        time.Duration
	ErrorMessages   []string
}

// DatasetReport is the outcome of one dataset in a Run
type DatasetReport struct {
	Name       string
	Statistics *Statistics
	Err        error
}

// Report summarizes a multi-dataset run
type Report struct {
	Datasets []DatasetReport
	Duration time.Duration
}

// Errors returns the failures of all datasets in run order
func (r *Report) Errors() []error {
	var errs []error
	for _, d := range r.Datasets {
		if d.Err != nil {
			errs = append(errs, d.Err)
		}
	}
	return errs
}

// New creates a new Indexer. A nil cache or cfg.DisableCache disables caching.
func New(emb embedder.Embedder, cache embedcache.Store, cfg *Config, logger *zap.Logger) *Indexer {
	if cfg == nil {
		cfg = &Config{}
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	size := cfg.ChunkSize
	if size <= 0 {
		size = chunker.CharBudget(chunker.DefaultTokenLimit, chunker.DefaultCharsPerToken)
	}
	idField := cfg.IDField
	if idField == "" {
		idField = config.DefaultIDField
	}
	if cfg.DisableCache {
		cache = nil
	}

	return &Indexer{
		embedder: emb,
		cache:    cache,
		chunker:  chunker.New(size),
		logger:   logging.OrNop(logger),
		workers:  workers,
		model:    cfg.Model,
		idField:  idField,
	}
}

// SetIndexSink stores every successfully written dataset in sink
func (idx *Indexer) SetIndexSink(sink IndexSink) {
	idx.sink = sink
}

// CachingEnabled reports whether the indexer consults a cache
func (idx *Indexer) CachingEnabled() bool {
	return idx.cache != nil
}

// Process embeds records in place and saves their hashes to the cache.
// Records are only modified once the whole batch has encoded; on any encoder
// failure no record and no cache entry is changed.
//
// A record counts as a cache hit only when it already carries an embedding.
// Callers that want unchanged records skipped must pass them with their
// previous embeddings; a matching hash alone is re-embedded as a stale hit.
func (idx *Indexer) Process(ctx context.Context, datasetName string, records []*types.Record) (*Statistics, error) {
	if !idx.lock.TryAcquire() {
		return nil, ErrRunInProgress
	}
	defer idx.lock.Release()

	if err := idx.loadCache(ctx); err != nil {
		return nil, err
	}

	stats, staged, err := idx.embedRecords(ctx, datasetName, idx.idField, records)
	if err != nil {
		return stats, err
	}

	if err := idx.saveCache(ctx, datasetName, staged); err != nil {
		return stats, err
	}
	return stats, nil
}

// Run processes each dataset in order: read input, seed from previous output,
// embed, write output, store in the index, save the cache. A failing dataset
// does not stop the others; the returned error joins all failures.
func (idx *Indexer) Run(ctx context.Context, datasets []config.Dataset) (*Report, error) {
	if !idx.lock.TryAcquire() {
		return nil, ErrRunInProgress
	}
	defer idx.lock.Release()

	start := time.Now()
	report := &Report{}

	if err := idx.loadCache(ctx); err != nil {
		return report, err
	}

	for _, ds := range datasets {
		if err := ctx.Err(); err != nil {
			report.Datasets = append(report.Datasets, DatasetReport{Name: ds.Name, Err: err})
			break
		}

		stats, err := idx.runDataset(ctx, ds)
		report.Datasets = append(report.Datasets, DatasetReport{Name: ds.Name, Statistics: stats, Err: err})

		if err != nil {
			idx.logger.Error("dataset failed", zap.String("dataset", ds.Name), zap.Error(err))
			continue
		}
		idx.logger.Info("dataset encoded",
			zap.String("dataset", ds.Name),
			zap.Int("records", stats.RecordsTotal),
			zap.Int("embedded", stats.RecordsEmbedded),
			zap.Int("skipped", stats.RecordsSkipped),
			zap.Int("chunks", stats.ChunksEmbedded),
			zap.Duration("duration", stats.Duration))
	}

	report.Duration = time.Since(start)
	return report, errors.Join(report.Errors()...)
}

// runDataset runs all stages for one dataset
func (idx *Indexer) runDataset(ctx context.Context, ds config.Dataset) (*Statistics, error) {
	records, err := dataset.ReadRecords(ds.Input)
	if err != nil {
		return nil, &StageError{Stage: StageLoad, Dataset: ds.Name, Err: err}
	}

	if idx.CachingEnabled() {
		idx.seedFromOutput(ds, records)
	}

	stats, staged, err := idx.embedRecords(ctx, ds.Name, ds.IDField, records)
	if err != nil {
		return stats, err
	}

	// Output first, cache last
	if err := dataset.WriteRecords(ds.Output, records); err != nil {
		return stats, &StageError{Stage: StageWrite, Dataset: ds.Name, Err: err}
	}

	if idx.sink != nil {
		meta := &storage.Dataset{Name: ds.Name, IDField: ds.IDField}
		if err := idx.sink.SaveDataset(ctx, meta, records); err != nil {
			return stats, &StageError{Stage: StageIndex, Dataset: ds.Name, Err: err}
		}
	}

	if err := idx.saveCache(ctx, ds.Name, staged); err != nil {
		return stats, err
	}
	return stats, nil
}

// seedFromOutput copies embeddings from the previous output file onto records
// whose id and content hash both match
func (idx *Indexer) seedFromOutput(ds config.Dataset, records []*types.Record) {
	prior, err := dataset.ReadRecords(ds.Output)
	if errors.Is(err, fs.ErrNotExist) {
		return
	}
	if err != nil {
		idx.logger.Warn("previous output unreadable, embeddings will be recomputed",
			zap.String("dataset", ds.Name), zap.Error(err))
		return
	}

	byID := make(map[string]*types.Record, len(prior))
	for _, rec := range prior {
		if id, ok := rec.ID(ds.IDField); ok && rec.HasEmbedding() {
			byID[id] = rec
		}
	}

	for _, rec := range records {
		if rec.HasEmbedding() {
			continue
		}
		id, ok := rec.ID(ds.IDField)
		if !ok {
			continue
		}
		if p, found := byID[id]; found && p.ContentHash() == rec.ContentHash() {
			rec.Embedding = p.Embedding
		}
	}
}

// embedRecords embeds every cache miss and returns the hashes to stage
func (idx *Indexer) embedRecords(ctx context.Context, datasetName, idField string, records []*types.Record) (*Statistics, map[string]string, error) {
	start := time.Now()
	stats := &Statistics{
		RecordsTotal:  len(records),
		ErrorMessages: make([]string, 0),
	}
	staged := make(map[string]string)

	type pending struct {
		rec     *types.Record
		vectors [][]float32
	}
	var embedded []pending

	var calls atomic.Int64
	defer func() {
		stats.EncoderCalls = int(calls.Load())
		stats.Duration = time.Since(start)
	}()

	for i, rec := range records {
		if err := ctx.Err(); err != nil {
			return stats, nil, &StageError{Stage: StageEmbed, Dataset: datasetName, Err: err}
		}

		text := rec.CanonicalText()
		hash := types.HashText(text)
		id, hasID := rec.ID(idField)

		if idx.CachingEnabled() && hasID {
			if cached, ok := idx.cache.Get(datasetName, id); ok && cached == hash {
				if rec.HasEmbedding() {
					stats.RecordsSkipped++
					continue
				}
				stats.StaleHits++
				idx.logger.Warn("cached hash has no stored embedding, re-embedding",
					zap.String("dataset", datasetName), zap.String("id", id))
			}
		}

		if !hasID {
			stats.RecordsUncached++
			msg := fmt.Sprintf("record %d has no %q field", i, idField)
			stats.ErrorMessages = append(stats.ErrorMessages, msg)
			idx.logger.Warn("record without id is embedded but not cached",
				zap.String("dataset", datasetName), zap.Int("index", i), zap.String("id_field", idField))
		}

		vectors, err := idx.embedText(ctx, text, &calls)
		if err != nil {
			return stats, nil, &StageError{
				Stage:   StageEmbed,
				Dataset: datasetName,
				Err:     fmt.Errorf("%w: record %d: %w", ErrEncode, i, err),
			}
		}

		embedded = append(embedded, pending{rec: rec, vectors: vectors})
		stats.RecordsEmbedded++
		stats.ChunksEmbedded += len(vectors)

		if idx.CachingEnabled() && hasID {
			staged[id] = hash
		}
	}

	for _, p := range embedded {
		p.rec.Embedding = p.vectors
	}
	return stats, staged, nil
}

// embedText encodes each chunk of text, keeping chunk order
func (idx *Indexer) embedText(ctx context.Context, text string, calls *atomic.Int64) ([][]float32, error) {
	vectors := make([][]float32, idx.chunker.Count(text))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(idx.workers)

	i := 0
	for chunk := range idx.chunker.Split(text) {
		if gctx.Err() != nil {
			break
		}
		pos := i
		g.Go(func() error {
			calls.Add(1)
			emb, err := idx.embedder.GenerateEmbedding(gctx, embedder.EmbeddingRequest{
				Text:  chunk,
				Model: idx.model,
			})
			if err != nil {
				return err
			}
			vectors[pos] = emb.Vector
			return nil
		})
		i++
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return vectors, nil
}

func (idx *Indexer) loadCache(ctx context.Context) error {
	if !idx.CachingEnabled() {
		return nil
	}
	if err := idx.cache.Load(ctx); err != nil {
		return fmt.Errorf("load cache: %w", err)
	}
	return nil
}

func (idx *Indexer) saveCache(ctx context.Context, datasetName string, staged map[string]string) error {
	if !idx.CachingEnabled() || len(staged) == 0 {
		return nil
	}
	if err := idx.cache.MergeAndSave(ctx, datasetName, staged); err != nil {
		return &StageError{Stage: StageSave, Dataset: datasetName, Err: err}
	}
	return nil
}
