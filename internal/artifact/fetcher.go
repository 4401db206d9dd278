package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	gh "github.com/google/go-github/v80/github"
	"go.uber.org/zap"

	"github.com/dshills/reposearch/internal/dataset"
	"github.com/dshills/reposearch/internal/ghclient"
	"github.com/dshills/reposearch/internal/logging"
	"github.com/dshills/reposearch/pkg/types"
)

var (
	// ErrFetchFailed is returned when an artifact is absent locally and could not be downloaded
	ErrFetchFailed = errors.New("artifact fetch failed")
	// ErrAssetNotFound is returned when the release has no asset with the requested name
	ErrAssetNotFound = errors.New("release asset not found")
	// ErrInvalidName is returned for names that are not plain file names
	ErrInvalidName = errors.New("invalid artifact name")
)

// DefaultTimeout bounds one download
const DefaultTimeout = 10 * time.Second

// maxAssetBytes caps a downloaded artifact
const maxAssetBytes = 1 << 30

// Config identifies the release artifacts are fetched from
type Config struct {
	Dir     string // local directory for artifacts (default ".")
	Owner   string
	Repo    string
	Tag     string
	Token   string // optional GitHub token
	BaseURL string // optional API endpoint override
	Timeout time.Duration
}

// Fetcher resolves dataset files locally, downloading them from a GitHub
// release when they are missing
type Fetcher struct {
	cfg    Config
	client *gh.Client
	http   *http.Client
	logger *zap.Logger

	mu sync.Mutex
}

// New creates a fetcher. Downloads are disabled when owner, repo or tag is empty.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Fetcher, error) {
	if cfg.Dir == "" {
		cfg.Dir = "."
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	client, hc, err := ghclient.New(ctx, cfg.Token, cfg.BaseURL, cfg.Timeout)
	if err != nil {
		return nil, err
	}

	return &Fetcher{
		cfg:    cfg,
		client: client,
		http:   hc,
		logger: logging.OrNop(logger),
	}, nil
}

// Enabled reports whether a release is configured
func (f *Fetcher) Enabled() bool {
	return f.cfg.Owner != "" && f.cfg.Repo != "" && f.cfg.Tag != ""
}

// Path returns the local path of an artifact
func (f *Fetcher) Path(name string) string {
	return filepath.Join(f.cfg.Dir, name)
}

// ReleaseURL returns the public download URL of an artifact
func (f *Fetcher) ReleaseURL(name string) string {
	return fmt.Sprintf("https://github.com/%s/%s/releases/download/%s/%s", f.cfg.Owner, f.cfg.Repo, f.cfg.Tag, name)
}

// Ensure returns the local path of name, downloading it first if absent
func (f *Fetcher) Ensure(ctx context.Context, name string) (string, error) {
	if name == "" || filepath.Base(name) != name {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	path := f.Path(name)
	if _, err := os.Stat(path); err == nil {
		return path, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("%w: stat %s: %w", ErrFetchFailed, path, err)
	}

	if !f.Enabled() {
		return "", fmt.Errorf("%w: %s is missing and no release is configured", ErrFetchFailed, name)
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	data, err := f.download(ctx, name)
	if err != nil {
		f.logger.Warn("artifact download failed",
			zap.String("name", name),
			zap.String("url", f.ReleaseURL(name)),
			zap.Error(err))
		return "", fmt.Errorf("%w: %s: %w", ErrFetchFailed, name, err)
	}

	if err := dataset.WriteFileAtomic(path, data, 0o644); err != nil {
		return "", fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}

	f.logger.Info("artifact downloaded",
		zap.String("name", name),
		zap.Int("bytes", len(data)),
		zap.Duration("duration", time.Since(start)))
	return path, nil
}

// LoadRecords ensures name is present and reads it as a dataset
func (f *Fetcher) LoadRecords(ctx context.Context, name string) ([]*types.Record, error) {
	path, err := f.Ensure(ctx, name)
	if err != nil {
		return nil, err
	}
	return dataset.ReadRecords(path)
}

// download fetches the named asset of the configured release
func (f *Fetcher) download(ctx context.Context, name string) ([]byte, error) {
	release, _, err := f.client.Repositories.GetReleaseByTag(ctx, f.cfg.Owner, f.cfg.Repo, f.cfg.Tag)
	if err != nil {
		return nil, ghclient.WrapError(err, "get release")
	}

	var assetID int64
	for _, asset := range release.Assets {
		if asset.GetName() == name {
			assetID = asset.GetID()
			break
		}
	}
	if assetID == 0 {
		return nil, fmt.Errorf("%w: %s in %s", ErrAssetNotFound, name, release.GetTagName())
	}

	rc, _, err := f.client.Repositories.DownloadReleaseAsset(ctx, f.cfg.Owner, f.cfg.Repo, assetID, f.http)
	if err != nil {
		return nil, ghclient.WrapError(err, "download asset")
	}
	defer func() {
		_ = rc.Close()
	}()

	data, err := io.ReadAll(io.LimitReader(rc, maxAssetBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read asset: %w", err)
	}
	if len(data) > maxAssetBytes {
		return nil, fmt.Errorf("asset %s exceeds %d bytes", name, maxAssetBytes)
	}
	return data, nil
}
