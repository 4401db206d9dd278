package searcher

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/dshills/reposearch/internal/config"
	"github.com/dshills/reposearch/internal/embedder"
	"github.com/dshills/reposearch/internal/logging"
	"github.com/dshills/reposearch/internal/query"
	"github.com/dshills/reposearch/pkg/types"
)

var (
	// ErrEmptyQuery is returned for blank queries
	ErrEmptyQuery = errors.New("query cannot be empty")
	// ErrCollectionUnavailable is returned when the records a mode needs could not be loaded
	ErrCollectionUnavailable = errors.New("collection unavailable")
	// ErrUnsupportedMode is returned for unknown search modes
	ErrUnsupportedMode = errors.New("unsupported search mode")
)

// MaxLimit caps the number of results per search
const MaxLimit = 100

// Mode selects the ranking granularity
type Mode string

const (
	ModeLight Mode = "light" // Rank repo-level records
	ModeDeep  Mode = "deep"  // Rank file-level records, aggregated to repos
)

// ParseMode converts a user-supplied mode, defaulting to light
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeLight:
		return ModeLight, nil
	case ModeDeep:
		return ModeDeep, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedMode, s)
	}
}

// Collections loads embedded records by dataset name
type Collections interface {
	LoadRecords(ctx context.Context, name string) ([]*types.Record, error)
}

// SearchRequest contains parameters for a search operation
type SearchRequest struct {
	Query string
	Mode  Mode
	Limit int // 0 uses the configured number of matches
}

// SearchResponse contains search results and metadata
type SearchResponse struct {
	Query     string // as received
	Condensed string // as embedded
	Mode      Mode
	Results   []types.SearchResult
	Scanned   int // records scored
	Duration  time.Duration
	CacheHit  bool
}

// Config contains configuration for the searcher
type Config struct {
	RepoDataset  string // embedded repo records (default repo_data_with_embeddings.json)
	FileDataset  string // embedded file records (default file_data_with_embeddings.json)
	RepoIDField  string // id of repo records (default repo_name)
	JoinField    string // field of file records naming their repo (default repo_name)
	DefaultLimit int    // results when a request sets none (default 3)
	CacheSize    int    // query cache entries (default 1000, negative disables)
	CacheTTL     time.Duration
}

// cacheEntry represents a cached search response with expiration time
type cacheEntry struct {
	response  *SearchResponse
	expiresAt time.Time
}

// Searcher embeds queries and ranks stored records against them
type Searcher struct {
	embedder     embedder.Embedder
	preprocessor query.Preprocessor
	collections  Collections
	cfg          Config
	logger       *zap.Logger

	cache   *lru.Cache[[32]byte, *cacheEntry]
	cacheMu sync.RWMutex

	loadMu sync.Mutex
	loaded map[string][]*types.Record
}

// New creates a new Searcher. A nil preprocessor passes queries through.
func New(emb embedder.Embedder, pre query.Preprocessor, collections Collections, cfg *Config, logger *zap.Logger) (*Searcher, error) {
	if emb == nil {
		return nil, errors.New("embedder is required")
	}
	if collections == nil {
		return nil, errors.New("collections are required")
	}
	if pre == nil {
		pre = query.Passthrough{}
	}

	c := Config{}
	if cfg != nil {
		c = *cfg
	}
	applyDefaults(&c)

	s := &Searcher{
		embedder:     emb,
		preprocessor: pre,
		collections:  collections,
		cfg:          c,
		logger:       logging.OrNop(logger),
		loaded:       make(map[string][]*types.Record),
	}

	if c.CacheSize > 0 {
		cache, err := lru.New[[32]byte, *cacheEntry](c.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("failed to create LRU cache: %w", err)
		}
		s.cache = cache
	}
	return s, nil
}

func applyDefaults(c *Config) {
	if c.RepoDataset == "" {
		c.RepoDataset = "repo_data_with_embeddings.json"
	}
	if c.FileDataset == "" {
		c.FileDataset = "file_data_with_embeddings.json"
	}
	if c.RepoIDField == "" {
		c.RepoIDField = config.DefaultIDField
	}
	if c.JoinField == "" {
		c.JoinField = config.DefaultIDField
	}
	if c.DefaultLimit <= 0 {
		c.DefaultLimit = 3
	}
	if c.CacheSize == 0 {
		c.CacheSize = 1000
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = 5 * time.Minute
	}
}

// Search condenses, embeds and ranks a query
func (s *Searcher) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	startTime := time.Now()

	// Validate request
	if err := s.validateRequest(&req); err != nil {
		return nil, fmt.Errorf("invalid search request: %w", err)
	}

	condensed := s.condense(ctx, req.Query)

	// Check cache
	key := computeQueryHash(req.Mode, req.Limit, condensed)
	if cached := s.checkCache(key); cached != nil {
		cached.Query = req.Query
		cached.CacheHit = true
		cached.Duration = time.Since(startTime)
		return cached, nil
	}

	embedding, err := s.embedder.GenerateEmbedding(ctx, embedder.EmbeddingRequest{Text: condensed})
	if err != nil {
		return nil, fmt.Errorf("failed to generate query embedding: %w", err)
	}

	var response *SearchResponse
	switch req.Mode {
	case ModeLight:
		response, err = s.lightSearch(ctx, embedding.Vector, req.Limit)
	case ModeDeep:
		response, err = s.deepSearch(ctx, embedding.Vector, req.Limit)
	}
	if err != nil {
		return nil, err
	}

	response.Query = req.Query
	response.Condensed = condensed
	response.Mode = req.Mode
	response.Duration = time.Since(startTime)

	s.storeInCache(key, response)
	return response, nil
}

// condense runs the preprocessor, falling back to the raw query on failure
func (s *Searcher) condense(ctx context.Context, raw string) string {
	condensed, err := s.preprocessor.Condense(ctx, raw)
	if err != nil {
		s.logger.Warn("query condensing failed, using raw query", zap.Error(err))
		return raw
	}
	condensed = strings.TrimSpace(condensed)
	if condensed == "" {
		return raw
	}
	return condensed
}

// lightSearch ranks repo records directly
func (s *Searcher) lightSearch(ctx context.Context, vector []float32, limit int) (*SearchResponse, error) {
	repos, err := s.collection(ctx, s.cfg.RepoDataset)
	if err != nil {
		return nil, err
	}

	return &SearchResponse{
		Results: Rank(vector, repos, s.cfg.RepoIDField, limit),
		Scanned: len(repos),
	}, nil
}

// deepSearch ranks file records and reports the repos they belong to
func (s *Searcher) deepSearch(ctx context.Context, vector []float32, limit int) (*SearchResponse, error) {
	files, err := s.collection(ctx, s.cfg.FileDataset)
	if err != nil {
		return nil, err
	}

	// Repo metadata is optional; missing repos become placeholders
	repos, err := s.collection(ctx, s.cfg.RepoDataset)
	if err != nil {
		repos = nil
	}

	return &SearchResponse{
		Results: RankJoined(vector, files, repos, s.cfg.JoinField, s.cfg.RepoIDField, limit),
		Scanned: len(files),
	}, nil
}

// collection returns the records of name, loading them on first use.
// Failed loads are retried on the next search.
func (s *Searcher) collection(ctx context.Context, name string) ([]*types.Record, error) {
	s.loadMu.Lock()
	defer s.loadMu.Unlock()

	if records, ok := s.loaded[name]; ok {
		return records, nil
	}

	records, err := s.collections.LoadRecords(ctx, name)
	if err != nil {
		s.logger.Warn("collection unavailable", zap.String("dataset", name), zap.Error(err))
		return nil, fmt.Errorf("%w: %s: %w", ErrCollectionUnavailable, name, err)
	}

	s.loaded[name] = records
	s.logger.Debug("collection loaded", zap.String("dataset", name), zap.Int("records", len(records)))
	return records, nil
}

// Invalidate drops loaded collections and cached results, e.g. after re-encoding
func (s *Searcher) Invalidate() {
	s.loadMu.Lock()
	s.loaded = make(map[string][]*types.Record)
	s.loadMu.Unlock()

	if s.cache == nil {
		return
	}
	s.cacheMu.Lock()
	s.cache.Purge()
	s.cacheMu.Unlock()
}

// validateRequest ensures search request is valid
func (s *Searcher) validateRequest(req *SearchRequest) error {
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		return ErrEmptyQuery
	}

	mode, err := ParseMode(string(req.Mode))
	if err != nil {
		return err
	}
	req.Mode = mode

	if req.Limit <= 0 {
		req.Limit = s.cfg.DefaultLimit
	}
	if req.Limit > MaxLimit {
		req.Limit = MaxLimit
	}
	return nil
}

// checkCache looks up cached search results
func (s *Searcher) checkCache(key [32]byte) *SearchResponse {
	if s.cache == nil {
		return nil
	}
	now := time.Now()

	s.cacheMu.RLock()
	entry, found := s.cache.Get(key)
	if !found {
		s.cacheMu.RUnlock()
		return nil
	}

	if now.After(entry.expiresAt) {
		s.cacheMu.RUnlock()

		// Remove expired entry - need write lock
		s.cacheMu.Lock()
		s.cache.Remove(key)
		s.cacheMu.Unlock()
		return nil
	}

	response := copySearchResponse(entry.response)
	s.cacheMu.RUnlock()
	return response
}

// storeInCache saves search results to cache
func (s *Searcher) storeInCache(key [32]byte, response *SearchResponse) {
	if s.cache == nil {
		return
	}

	entry := &cacheEntry{
		response:  copySearchResponse(response),
		expiresAt: time.Now().Add(s.cfg.CacheTTL),
	}

	s.cacheMu.Lock()
	s.cache.Add(key, entry)
	s.cacheMu.Unlock()
}

// copySearchResponse copies the response and its result slice.
// Records are shared; they are never mutated after loading.
func copySearchResponse(src *SearchResponse) *SearchResponse {
	if src == nil {
		return nil
	}
	dst := *src
	dst.Results = make([]types.SearchResult, len(src.Results))
	copy(dst.Results, src.Results)
	return &dst
}

// computeQueryHash keys the cache on mode, limit and the condensed query
func computeQueryHash(mode Mode, limit int, condensed string) [32]byte {
	return sha256.Sum256(fmt.Appendf(nil, "%s|%d|%s", mode, limit, condensed))
}
