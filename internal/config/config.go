package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"
)

// ErrMissingRequired is returned when a required configuration key is unset
var ErrMissingRequired = errors.New("missing required configuration")

// ErrInvalid is returned when a configuration value is out of range
var ErrInvalid = errors.New("invalid configuration")

const (
	// DefaultFile is read when present and no explicit file is given
	DefaultFile = "reposearch.toml"

	// DefaultIDField identifies records when a dataset does not name one
	DefaultIDField = "repo_name"
)

// Dataset is one input file to encode and the output it produces
type Dataset struct {
	Name    string `toml:"name"`     // cache key; defaults to the input filename
	Input   string `toml:"input"`    // raw records
	Output  string `toml:"output"`   // records with embeddings
	IDField string `toml:"id_field"` // unique record key within the dataset
}

// Config is constructed once at startup and passed to each component
type Config struct {
	// Encoder
	ModelName         string  `toml:"model_name" envconfig:"MODEL_NAME"`
	EmbeddingProvider string  `toml:"embedding_provider" envconfig:"EMBEDDING_PROVIDER"`
	EmbeddingBaseURL  string  `toml:"embedding_base_url" envconfig:"EMBEDDING_BASE_URL"`
	TokenLimit        int     `toml:"token_limit" envconfig:"TOKEN_LIMIT"`
	CharsPerToken     float64 `toml:"chars_per_token" envconfig:"CHARS_PER_TOKEN"`
	Workers           int     `toml:"workers" envconfig:"WORKERS"`
	EmbedRateLimit    float64 `toml:"embed_rate_limit" envconfig:"EMBED_RATE_LIMIT"`
	EmbedCacheSize    int     `toml:"embed_cache_size" envconfig:"EMBED_CACHE_SIZE"`

	// Datasets and cache
	Datasets     []Dataset `toml:"datasets" ignored:"true"`
	CachePath    string    `toml:"cache_path" envconfig:"CACHE_PATH"`
	CacheBackend string    `toml:"cache_backend" envconfig:"CACHE_BACKEND"`
	IndexDBPath  string    `toml:"index_db_path" envconfig:"INDEX_DB_PATH"`

	// Search
	NumberOfMatches   int    `toml:"number_of_matches" envconfig:"NUMBER_OF_MATCHES"`
	QueryModelName    string `toml:"query_model_name" envconfig:"QUERY_MODEL_NAME"`
	QueryFewShotsPath string `toml:"query_few_shots_path" envconfig:"QUERY_FEW_SHOTS_PATH"`
	RepoDataset       string `toml:"repo_dataset" envconfig:"REPO_DATASET"`
	FileDataset       string `toml:"file_dataset" envconfig:"FILE_DATASET"`
	JoinField         string `toml:"join_field" envconfig:"JOIN_FIELD"`
	QueryCacheSize    int    `toml:"query_cache_size" envconfig:"QUERY_CACHE_SIZE"`
	QueryCacheTTLSecs int    `toml:"query_cache_ttl_seconds" envconfig:"QUERY_CACHE_TTL_SECONDS"`

	// Release artifacts
	DataDir             string `toml:"data_dir" envconfig:"DATA_DIR"`
	ReleaseTag          string `toml:"release_tag" envconfig:"RELEASE_TAG"`
	RepoOwner           string `toml:"repo_owner" envconfig:"REPO_OWNER"`
	RepoName            string `toml:"repo_name" envconfig:"REPO_NAME"`
	FetchTimeoutSeconds int    `toml:"fetch_timeout_seconds" envconfig:"FETCH_TIMEOUT"`
	GitHubAPIURL        string `toml:"github_api_url" envconfig:"GITHUB_API_URL"`

	// Collection
	AccessToken   string `toml:"-" envconfig:"ACCESS_TOKEN"`
	Username      string `toml:"username" envconfig:"USERNAME"`
	LocalRepoPath string `toml:"local_repo_path" envconfig:"LOCAL_REPO_PATH"`
	MaxFileBytes  int64  `toml:"max_file_bytes" envconfig:"MAX_FILE_BYTES"`

	// Secrets come from the environment only
	GeminiAPIKey string `toml:"-" envconfig:"GEMINI_API_KEY"`
	OpenAIAPIKey string `toml:"-" envconfig:"OPENAI_API_KEY"`
	JinaAPIKey   string `toml:"-" envconfig:"JINA_API_KEY"`
	HFAPIKey     string `toml:"-" envconfig:"HF_API_KEY"`

	// Logging
	LogLevel  string `toml:"log_level" envconfig:"LOG_LEVEL"`
	LogFormat string `toml:"log_format" envconfig:"LOG_FORMAT"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		TokenLimit:          512,
		CharsPerToken:       4.0,
		Workers:             4,
		EmbedCacheSize:      10000,
		CachePath:           "embedding_cache.json",
		CacheBackend:        "file",
		NumberOfMatches:     3,
		RepoDataset:         "repo_data_with_embeddings.json",
		FileDataset:         "file_data_with_embeddings.json",
		JoinField:           DefaultIDField,
		QueryCacheSize:      1000,
		QueryCacheTTLSecs:   300,
		DataDir:             ".",
		FetchTimeoutSeconds: 10,
		MaxFileBytes:        1 << 20,
		LogLevel:            "info",
		LogFormat:           "console",
	}
}

// DefaultDatasets are encoded when the config file lists none
func DefaultDatasets() []Dataset {
	return []Dataset{
		{Name: "repo_data.json", Input: "repo_data.json", Output: "repo_data_with_embeddings.json", IDField: "repo_name"},
		{Name: "file_data.json", Input: "file_data.json", Output: "file_data_with_embeddings.json", IDField: "file_path"},
	}
}

// Load builds the configuration from defaults, then the TOML file at path
// (or DefaultFile when path is empty and it exists), then a .env file, then
// the environment. Later sources override earlier ones.
func Load(path string) (*Config, error) {
	cfg := Default()

	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}

	// Ignore errors, as env vars might be set in the shell
	_ = godotenv.Load(".env")

	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	cfg.normalize()
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) && !explicit {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}

	if err := toml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("%w: parse %s: %v", ErrInvalid, path, err)
	}
	return nil
}

// normalize fills derived defaults
func (c *Config) normalize() {
	if len(c.Datasets) == 0 {
		c.Datasets = DefaultDatasets()
	}
	for i := range c.Datasets {
		d := &c.Datasets[i]
		if d.Name == "" && d.Input != "" {
			d.Name = filepath.Base(d.Input)
		}
		if d.IDField == "" {
			d.IDField = DefaultIDField
		}
	}
	c.CacheBackend = strings.ToLower(c.CacheBackend)
	c.EmbeddingProvider = strings.ToLower(c.EmbeddingProvider)
}

// FetchTimeout returns the artifact download timeout
func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutSeconds) * time.Second
}

// QueryCacheTTL returns how long search results are cached
func (c *Config) QueryCacheTTL() time.Duration {
	return time.Duration(c.QueryCacheTTLSecs) * time.Second
}

// ValidateEncode checks the keys the encoding pipeline needs
func (c *Config) ValidateEncode() error {
	if len(c.Datasets) == 0 {
		return fmt.Errorf("%w: datasets", ErrMissingRequired)
	}
	for i, d := range c.Datasets {
		if d.Input == "" {
			return fmt.Errorf("%w: datasets[%d].input", ErrMissingRequired, i)
		}
		if d.Output == "" {
			return fmt.Errorf("%w: datasets[%d].output", ErrMissingRequired, i)
		}
	}
	if c.TokenLimit < 0 {
		return fmt.Errorf("%w: TOKEN_LIMIT must be >= 0", ErrInvalid)
	}
	if c.CharsPerToken < 0 {
		return fmt.Errorf("%w: CHARS_PER_TOKEN must be >= 0", ErrInvalid)
	}
	switch c.CacheBackend {
	case "file":
		if c.CachePath == "" {
			return fmt.Errorf("%w: CACHE_PATH", ErrMissingRequired)
		}
	case "sqlite":
		if c.IndexDBPath == "" {
			return fmt.Errorf("%w: INDEX_DB_PATH (required by CACHE_BACKEND=sqlite)", ErrMissingRequired)
		}
	default:
		return fmt.Errorf("%w: CACHE_BACKEND %q", ErrInvalid, c.CacheBackend)
	}
	return c.validateProvider()
}

// ValidateSearch checks the keys the search pipeline needs
func (c *Config) ValidateSearch() error {
	if c.RepoDataset == "" {
		return fmt.Errorf("%w: REPO_DATASET", ErrMissingRequired)
	}
	if c.NumberOfMatches <= 0 {
		return fmt.Errorf("%w: NUMBER_OF_MATCHES must be positive", ErrInvalid)
	}
	if c.QueryFewShotsPath != "" && c.QueryModelName == "" {
		return fmt.Errorf("%w: QUERY_MODEL_NAME (required by QUERY_FEW_SHOTS_PATH)", ErrMissingRequired)
	}
	if c.QueryModelName != "" && c.GeminiAPIKey == "" {
		return fmt.Errorf("%w: GEMINI_API_KEY (required by QUERY_MODEL_NAME)", ErrMissingRequired)
	}
	return c.validateProvider()
}

// ValidateFetch checks the keys needed to download release artifacts
func (c *Config) ValidateFetch() error {
	if c.RepoOwner == "" {
		return fmt.Errorf("%w: REPO_OWNER", ErrMissingRequired)
	}
	if c.RepoName == "" {
		return fmt.Errorf("%w: REPO_NAME", ErrMissingRequired)
	}
	if c.ReleaseTag == "" {
		return fmt.Errorf("%w: RELEASE_TAG", ErrMissingRequired)
	}
	return nil
}

// ValidateCollect checks the keys the collector needs
func (c *Config) ValidateCollect() error {
	if c.Username == "" {
		return fmt.Errorf("%w: USERNAME", ErrMissingRequired)
	}
	return nil
}

// FetchEnabled reports whether a release is configured for artifact downloads
func (c *Config) FetchEnabled() bool {
	return c.ValidateFetch() == nil
}

func (c *Config) validateProvider() error {
	switch c.EmbeddingProvider {
	case "":
		return nil
	case "local":
		return nil
	case "openai":
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("%w: OPENAI_API_KEY", ErrMissingRequired)
		}
	case "jina":
		if c.JinaAPIKey == "" {
			return fmt.Errorf("%w: JINA_API_KEY", ErrMissingRequired)
		}
	case "gemini":
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("%w: GEMINI_API_KEY", ErrMissingRequired)
		}
	default:
		return fmt.Errorf("%w: EMBEDDING_PROVIDER %q", ErrInvalid, c.EmbeddingProvider)
	}
	return nil
}
