package collector

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	gh "github.com/google/go-github/v80/github"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/dshills/reposearch/internal/ghclient"
	"github.com/dshills/reposearch/internal/logging"
	"github.com/dshills/reposearch/pkg/types"
)

// ErrNoUser is returned when Repos is called without a user name
var ErrNoUser = errors.New("github user is required")

const (
	// DefaultRequestsPerSecond paces GitHub API calls (~4300/hour)
	DefaultRequestsPerSecond = 1.2

	// DefaultMaxFileBytes skips larger files
	DefaultMaxFileBytes = 1 << 20

	// sniffLen is how much of a file is checked for NUL bytes
	sniffLen = 8000
)

// Config contains configuration for the collector
type Config struct {
	Token             string
	BaseURL           string
	RequestsPerSecond float64
	MaxFileBytes      int64
	Timeout           time.Duration
}

// Collector builds raw dataset records from GitHub and local checkouts
type Collector struct {
	client       *gh.Client
	limiter      *rate.Limiter
	maxFileBytes int64
	logger       *zap.Logger
}

// New creates a new collector
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Collector, error) {
	client, _, err := ghclient.New(ctx, cfg.Token, cfg.BaseURL, cfg.Timeout)
	if err != nil {
		return nil, err
	}

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = DefaultRequestsPerSecond
	}
	maxBytes := cfg.MaxFileBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxFileBytes
	}

	return &Collector{
		client:       client,
		limiter:      rate.NewLimiter(rate.Limit(rps), 1),
		maxFileBytes: maxBytes,
		logger:       logging.OrNop(logger),
	}, nil
}

// Repos lists the public repositories of user as records with
// repo_name, repo_description, repo_url, language and topics
func (c *Collector) Repos(ctx context.Context, user string) ([]*types.Record, error) {
	if user == "" {
		return nil, ErrNoUser
	}

	opts := &gh.RepositoryListByUserOptions{
		Sort:        "full_name",
		ListOptions: gh.ListOptions{PerPage: 100},
	}

	var records []*types.Record
	for {
		// Wait for rate limit
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}

		repos, resp, err := c.client.Repositories.ListByUser(ctx, user, opts)
		if err != nil {
			return nil, ghclient.WrapError(err, "list repos")
		}

		for _, repo := range repos {
			records = append(records, repoRecord(repo))
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	c.logger.Info("repositories collected", zap.String("user", user), zap.Int("count", len(records)))
	return records, nil
}

func repoRecord(repo *gh.Repository) *types.Record {
	topics := make([]any, 0, len(repo.Topics))
	for _, topic := range repo.Topics {
		topics = append(topics, topic)
	}
	return types.NewRecord(map[string]any{
		"repo_name":        repo.GetName(),
		"repo_description": repo.GetDescription(),
		"repo_url":         repo.GetHTMLURL(),
		"language":         repo.GetLanguage(),
		"topics":           topics,
	})
}

// Files walks root/<name> for each repo name and returns one record per text
// file with repo_name, file_path and content. Hidden and vendored directories,
// binary files and files over the size limit are skipped.
func (c *Collector) Files(ctx context.Context, root string, repoNames []string) ([]*types.Record, error) {
	var records []*types.Record

	for _, name := range repoNames {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		repoRoot := filepath.Join(root, name)
		info, err := os.Stat(repoRoot)
		if err != nil || !info.IsDir() {
			c.logger.Warn("local checkout missing, skipping", zap.String("repo", name), zap.String("path", repoRoot))
			continue
		}

		found, err := c.walkRepo(ctx, name, repoRoot)
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", repoRoot, err)
		}
		records = append(records, found...)
	}

	return records, nil
}

func (c *Collector) walkRepo(ctx context.Context, name, repoRoot string) ([]*types.Record, error) {
	var records []*types.Record

	err := filepath.WalkDir(repoRoot, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		// Skip directories
		if d.IsDir() {
			if p != repoRoot && skipDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || strings.HasPrefix(d.Name(), ".") || isBinaryExtension(p) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.Size() > c.maxFileBytes {
			c.logger.Debug("file too large, skipping", zap.String("path", p), zap.Int64("bytes", info.Size()))
			return nil
		}

		content, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		if isBinary(content) {
			return nil
		}

		rel, err := filepath.Rel(repoRoot, p)
		if err != nil {
			return err
		}
		records = append(records, types.NewRecord(map[string]any{
			"repo_name": name,
			"file_path": path.Join(name, filepath.ToSlash(rel)),
			"content":   string(content),
		}))
		return nil
	})

	return records, err
}

// skipDir reports whether a directory is never collected
func skipDir(name string) bool {
	if strings.HasPrefix(name, ".") {
		return true
	}
	switch name {
	case "vendor", "node_modules", "__pycache__", "venv", "dist", "build", "target":
		return true
	}
	return false
}

// isBinary detects NUL bytes or invalid UTF-8 in the head of content
func isBinary(content []byte) bool {
	head := content
	if len(head) > sniffLen {
		head = head[:sniffLen]
	}
	if bytes.IndexByte(head, 0) >= 0 {
		return true
	}
	return !utf8.Valid(content)
}

// isBinaryExtension checks if a file extension indicates a binary file.
func isBinaryExtension(p string) bool {
	ext := strings.ToLower(filepath.Ext(p))
	binaryExts := map[string]bool{
		".exe": true, ".dll": true, ".so": true, ".dylib": true,
		".zip": true, ".tar": true, ".gz": true, ".bz2": true, ".7z": true,
		".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".ico": true, ".webp": true,
		".pdf": true, ".mp3": true, ".mp4": true, ".woff": true, ".woff2": true, ".ttf": true,
		".bin": true, ".db": true, ".sqlite": true, ".pyc": true, ".class": true, ".o": true, ".a": true,
	}
	return binaryExts[ext]
}

// RepoNames returns the repo_name of each record, skipping records without one
func RepoNames(records []*types.Record) []string {
	names := make([]string, 0, len(records))
	for _, r := range records {
		if name, ok := r.ID("repo_name"); ok && name != "" {
			names = append(names, name)
		}
	}
	return names
}
