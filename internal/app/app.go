package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/reposearch/internal/artifact"
	"github.com/dshills/reposearch/internal/chunker"
	"github.com/dshills/reposearch/internal/collector"
	"github.com/dshills/reposearch/internal/config"
	"github.com/dshills/reposearch/internal/dataset"
	"github.com/dshills/reposearch/internal/embedcache"
	"github.com/dshills/reposearch/internal/embedder"
	"github.com/dshills/reposearch/internal/indexer"
	"github.com/dshills/reposearch/internal/logging"
	"github.com/dshills/reposearch/internal/query"
	"github.com/dshills/reposearch/internal/searcher"
	"github.com/dshills/reposearch/internal/storage"
	"github.com/dshills/reposearch/pkg/types"
)

// App holds the components shared by the CLI and the MCP server
type App struct {
	cfg     *config.Config
	logger  *zap.Logger
	emb     embedder.Embedder
	cache   embedcache.Store
	store   *storage.SQLiteStorage
	fetcher *artifact.Fetcher

	searcher *searcher.Searcher

	// One encode at a time across cached and uncached runs
	encodeLock indexer.IndexLock
}

// New wires the application from cfg
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	logger = logging.OrNop(logger)

	emb, err := embedder.New(ctx, embedder.Config{
		Provider:          cfg.EmbeddingProvider,
		Model:             cfg.ModelName,
		JinaAPIKey:        cfg.JinaAPIKey,
		OpenAIAPIKey:      cfg.OpenAIAPIKey,
		GeminiAPIKey:      cfg.GeminiAPIKey,
		BaseURL:           cfg.EmbeddingBaseURL,
		CacheSize:         cfg.EmbedCacheSize,
		RequestsPerSecond: cfg.EmbedRateLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	return NewWithEmbedder(ctx, cfg, emb, logger)
}

// NewWithEmbedder wires the application around an existing embedder
func NewWithEmbedder(ctx context.Context, cfg *config.Config, emb embedder.Embedder, logger *zap.Logger) (*App, error) {
	logger = logging.OrNop(logger)
	a := &App{cfg: cfg, logger: logger, emb: emb}

	if cfg.IndexDBPath != "" {
		store, err := storage.NewSQLiteStorage(ctx, cfg.IndexDBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize storage: %w", err)
		}
		a.store = store
	}

	switch cfg.CacheBackend {
	case "sqlite":
		if a.store == nil {
			return nil, fmt.Errorf("%w: INDEX_DB_PATH (required by CACHE_BACKEND=sqlite)", config.ErrMissingRequired)
		}
		a.cache = a.store
	default:
		a.cache = embedcache.NewFileStore(cfg.CachePath)
	}

	fetcher, err := artifact.New(ctx, artifact.Config{
		Dir:     cfg.DataDir,
		Owner:   cfg.RepoOwner,
		Repo:    cfg.RepoName,
		Tag:     cfg.ReleaseTag,
		Token:   cfg.AccessToken,
		BaseURL: cfg.GitHubAPIURL,
		Timeout: cfg.FetchTimeout(),
	}, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.fetcher = fetcher

	pre, err := a.preprocessor(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	srch, err := searcher.New(emb, pre, a.collections(), &searcher.Config{
		RepoDataset:  cfg.RepoDataset,
		FileDataset:  cfg.FileDataset,
		RepoIDField:  config.DefaultIDField,
		JoinField:    cfg.JoinField,
		DefaultLimit: cfg.NumberOfMatches,
		CacheSize:    cfg.QueryCacheSize,
		CacheTTL:     cfg.QueryCacheTTL(),
	}, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.searcher = srch

	return a, nil
}

func (a *App) preprocessor(ctx context.Context) (query.Preprocessor, error) {
	if a.cfg.QueryModelName == "" {
		return query.Passthrough{}, nil
	}

	var examples []query.Example
	if a.cfg.QueryFewShotsPath != "" {
		ex, err := query.LoadExamples(a.cfg.QueryFewShotsPath)
		if err != nil {
			return nil, err
		}
		examples = ex
	}
	return query.NewGeminiCondenser(ctx, a.cfg.GeminiAPIKey, a.cfg.QueryModelName, examples, a.logger)
}

// collections reads from the SQLite index first, then local files or the release
func (a *App) collections() searcher.Collections {
	byOutput := make(map[string]string, len(a.cfg.Datasets))
	for _, ds := range a.cfg.Datasets {
		byOutput[filepath.Base(ds.Output)] = ds.Name
	}
	return &collectionSource{
		store:    a.store,
		fetcher:  a.fetcher,
		byOutput: byOutput,
	}
}

type collectionSource struct {
	store    *storage.SQLiteStorage
	fetcher  *artifact.Fetcher
	byOutput map[string]string
}

func (c *collectionSource) LoadRecords(ctx context.Context, name string) ([]*types.Record, error) {
	if c.store != nil {
		if dsName, ok := c.byOutput[name]; ok {
			records, err := c.store.LoadRecords(ctx, dsName)
			if err == nil {
				return records, nil
			}
			if !errors.Is(err, storage.ErrNotFound) {
				return nil, err
			}
		}
	}
	return c.fetcher.LoadRecords(ctx, name)
}

// Config returns the application configuration
func (a *App) Config() *config.Config {
	return a.cfg
}

// Searcher returns the shared searcher
func (a *App) Searcher() *searcher.Searcher {
	return a.searcher
}

// Search runs a query against the encoded datasets
func (a *App) Search(ctx context.Context, req searcher.SearchRequest) (*searcher.SearchResponse, error) {
	return a.searcher.Search(ctx, req)
}

// Encode runs the encoding pipeline over the configured datasets
func (a *App) Encode(ctx context.Context, disableCache bool) (*indexer.Report, error) {
	if !a.encodeLock.TryAcquire() {
		return nil, indexer.ErrRunInProgress
	}
	defer a.encodeLock.Release()

	idx := indexer.New(a.emb, a.cache, &indexer.Config{
		Workers:      a.cfg.Workers,
		ChunkSize:    chunker.CharBudget(a.cfg.TokenLimit, a.cfg.CharsPerToken),
		DisableCache: disableCache,
	}, a.logger)
	if a.store != nil {
		idx.SetIndexSink(a.store)
	}

	report, err := idx.Run(ctx, a.cfg.Datasets)

	// New outputs invalidate loaded collections
	a.searcher.Invalidate()
	return report, err
}

// Collect writes the raw repo and file datasets for the configured user
func (a *App) Collect(ctx context.Context) (*CollectResult, error) {
	c, err := collector.New(ctx, collector.Config{
		Token:        a.cfg.AccessToken,
		BaseURL:      a.cfg.GitHubAPIURL,
		MaxFileBytes: a.cfg.MaxFileBytes,
	}, a.logger)
	if err != nil {
		return nil, err
	}

	repos, err := c.Repos(ctx, a.cfg.Username)
	if err != nil {
		return nil, err
	}

	result := &CollectResult{Repos: len(repos)}
	repoDS, fileDS := a.inputFor(config.DefaultIDField), a.inputFor("file_path")

	if repoDS != "" {
		if err := dataset.WriteRecords(repoDS, repos); err != nil {
			return nil, err
		}
		result.RepoPath = repoDS
	}

	if a.cfg.LocalRepoPath != "" && fileDS != "" {
		files, err := c.Files(ctx, a.cfg.LocalRepoPath, collector.RepoNames(repos))
		if err != nil {
			return nil, err
		}
		if err := dataset.WriteRecords(fileDS, files); err != nil {
			return nil, err
		}
		result.Files = len(files)
		result.FilePath = fileDS
	}

	return result, nil
}

// CollectResult reports what Collect wrote
type CollectResult struct {
	Repos    int
	Files    int
	RepoPath string
	FilePath string
}

// inputFor returns the input file of the first dataset keyed by idField
func (a *App) inputFor(idField string) string {
	for _, ds := range a.cfg.Datasets {
		if ds.IDField == idField {
			return ds.Input
		}
	}
	return ""
}

// DatasetStatus describes one configured dataset
type DatasetStatus struct {
	Name          string `json:"name"`
	Input         string `json:"input"`
	Output        string `json:"output"`
	IDField       string `json:"id_field"`
	OutputPresent bool   `json:"output_present"`
	Records       int    `json:"records"`
	Embedded      int    `json:"embedded"`
	CacheEntries  int    `json:"cache_entries"`
	Indexed       bool   `json:"indexed"`
	IndexedAt     string `json:"indexed_at,omitempty"`
}

// Status summarizes datasets, cache and index
type Status struct {
	Provider         string          `json:"provider"`
	Model            string          `json:"model"`
	CacheBackend     string          `json:"cache_backend"`
	CachePath        string          `json:"cache_path,omitempty"`
	IndexDBPath      string          `json:"index_db_path,omitempty"`
	SchemaVersion    string          `json:"schema_version,omitempty"`
	BuildMode        string          `json:"build_mode,omitempty"`
	EncodeInProgress bool            `json:"encode_in_progress"`
	Datasets         []DatasetStatus `json:"datasets"`
}

// Status reports record and cache entry counts per dataset
func (a *App) Status(ctx context.Context) (*Status, error) {
	if err := a.cache.Load(ctx); err != nil {
		return nil, fmt.Errorf("load cache: %w", err)
	}

	st := &Status{
		Provider:         a.emb.Provider(),
		Model:            a.emb.Model(),
		CacheBackend:     a.cfg.CacheBackend,
		IndexDBPath:      a.cfg.IndexDBPath,
		EncodeInProgress: a.encodeLock.Busy(),
	}
	if fileStore, ok := a.cache.(*embedcache.FileStore); ok {
		st.CachePath = fileStore.Path()
	}

	indexed := make(map[string]storage.DatasetStatus)
	if a.store != nil {
		dbStatus, err := a.store.GetStatus(ctx)
		if err != nil {
			return nil, fmt.Errorf("index status: %w", err)
		}
		st.SchemaVersion = dbStatus.SchemaVersion
		st.BuildMode = dbStatus.BuildMode
		for _, d := range dbStatus.Datasets {
			indexed[d.Name] = d
		}
	}

	for _, ds := range a.cfg.Datasets {
		d := DatasetStatus{
			Name:         ds.Name,
			Input:        ds.Input,
			Output:       ds.Output,
			IDField:      ds.IDField,
			CacheEntries: len(a.cache.Entries(ds.Name)),
		}

		records, err := dataset.ReadRecords(ds.Output)
		switch {
		case err == nil:
			d.OutputPresent = true
			d.Records = len(records)
			for _, r := range records {
				if r.HasEmbedding() {
					d.Embedded++
				}
			}
		case errors.Is(err, fs.ErrNotExist):
		default:
			a.logger.Warn("output unreadable", zap.String("dataset", ds.Name), zap.Error(err))
		}

		if idx, ok := indexed[ds.Name]; ok {
			d.Indexed = true
			d.IndexedAt = idx.UpdatedAt.UTC().Format(time.RFC3339)
		}
		st.Datasets = append(st.Datasets, d)
	}

	return st, nil
}

// Close releases the embedder and the index database
func (a *App) Close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("close storage", zap.Error(err))
		}
	}
	if a.emb != nil {
		_ = a.emb.Close()
	}
}
