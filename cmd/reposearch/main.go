package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dshills/reposearch/internal/app"
	"github.com/dshills/reposearch/internal/config"
	"github.com/dshills/reposearch/internal/logging"
	"github.com/dshills/reposearch/internal/mcp"
	"github.com/dshills/reposearch/internal/searcher"
	"github.com/dshills/reposearch/internal/storage"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

type options struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:           "reposearch",
		Short:         "Semantic search over a user's GitHub repositories",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to a TOML config file (default ./"+config.DefaultFile+" if present)")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override LOG_LEVEL (debug, info, warn, error)")

	rootCmd.AddCommand(
		newCollectCmd(opts),
		newEncodeCmd(opts),
		newSearchCmd(opts),
		newServeCmd(opts),
		newVersionCmd(),
	)
	return rootCmd
}

// setup loads configuration, runs validate and builds the logger
func (o *options) setup(validate func(*config.Config) error) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, nil, err
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	if validate != nil {
		if err := validate(cfg); err != nil {
			return nil, nil, err
		}
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func (o *options) open(ctx context.Context, validate func(*config.Config) error) (*app.App, *zap.Logger, error) {
	cfg, logger, err := o.setup(validate)
	if err != nil {
		return nil, nil, err
	}
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, nil, err
	}
	return a, logger, nil
}

func newCollectCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "collect",
		Short: "Write repo and file datasets from GitHub and local checkouts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, logger, err := opts.open(cmd.Context(), (*config.Config).ValidateCollect)
			if err != nil {
				return err
			}
			defer a.Close()
			defer func() { _ = logger.Sync() }()

			res, err := a.Collect(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "repos: %d -> %s\n", res.Repos, res.RepoPath)
			if res.FilePath != "" {
				fmt.Fprintf(out, "files: %d -> %s\n", res.Files, res.FilePath)
			}
			return nil
		},
	}
}

func newEncodeCmd(opts *options) *cobra.Command {
	var noCache bool

	cmd := &cobra.Command{
		Use:   "encode",
		Short: "Embed the configured datasets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, logger, err := opts.open(cmd.Context(), (*config.Config).ValidateEncode)
			if err != nil {
				return err
			}
			defer a.Close()
			defer func() { _ = logger.Sync() }()

			report, runErr := a.Encode(cmd.Context(), noCache)
			if report != nil {
				out := cmd.OutOrStdout()
				for _, ds := range report.Datasets {
					if ds.Err != nil {
						fmt.Fprintf(out, "%s: failed: %v\n", ds.Name, ds.Err)
						continue
					}
					st := ds.Statistics
					fmt.Fprintf(out, "%s: %d records, %d embedded, %d cached, %d chunks\n",
						ds.Name, st.RecordsTotal, st.RecordsEmbedded, st.RecordsSkipped, st.ChunksEmbedded)
				}
				fmt.Fprintf(out, "done in %s\n", report.Duration.Round(time.Millisecond))
			}
			return runErr
		},
	}
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "re-embed every record and leave the cache untouched")
	return cmd
}

func newSearchCmd(opts *options) *cobra.Command {
	var (
		mode   string
		limit  int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Rank repositories against a query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := searcher.ParseMode(mode)
			if err != nil {
				return err
			}

			a, logger, err := opts.open(cmd.Context(), (*config.Config).ValidateSearch)
			if err != nil {
				return err
			}
			defer a.Close()
			defer func() { _ = logger.Sync() }()

			resp, err := a.Search(cmd.Context(), searcher.SearchRequest{Query: args[0], Mode: m, Limit: limit})
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), resp)
			}
			writeResults(cmd.OutOrStdout(), resp)
			return nil
		},
	}
	cmd.Flags().StringVar(&mode, "mode", string(searcher.ModeLight), "light (repo descriptions) or deep (file contents)")
	cmd.Flags().IntVar(&limit, "limit", 0, "number of results (default NUMBER_OF_MATCHES)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print results as JSON")
	return cmd
}

func newServeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server on stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, logger, err := opts.open(cmd.Context(), (*config.Config).ValidateSearch)
			if err != nil {
				return err
			}
			defer a.Close()
			defer func() { _ = logger.Sync() }()

			logger.Info("starting",
				zap.String("version", version),
				zap.String("build_mode", storage.BuildMode),
				zap.String("driver", storage.DriverName))

			server := mcp.NewServer(a, a.Config().NumberOfMatches, logger)
			err = server.Serve(cmd.Context())
			if err != nil && cmd.Context().Err() == nil {
				return fmt.Errorf("server error: %w", err)
			}
			logger.Info("server stopped")
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "reposearch %s\n", version)
			fmt.Fprintf(out, "Build Time: %s\n", buildTime)
			fmt.Fprintf(out, "Build Mode: %s\n", storage.BuildMode)
			fmt.Fprintf(out, "SQLite Driver: %s\n", storage.DriverName)
		},
	}
}

type jsonResult struct {
	Rank        int     `json:"rank"`
	Score       float64 `json:"score"`
	Name        string  `json:"repo_name"`
	Description string  `json:"repo_description"`
	URL         string  `json:"repo_url"`
}

type jsonResponse struct {
	Query     string       `json:"query"`
	Condensed string       `json:"condensed"`
	Mode      string       `json:"mode"`
	CacheHit  bool         `json:"cache_hit"`
	Results   []jsonResult `json:"results"`
}

func writeJSON(w io.Writer, resp *searcher.SearchResponse) error {
	out := jsonResponse{
		Query:     resp.Query,
		Condensed: resp.Condensed,
		Mode:      string(resp.Mode),
		CacheHit:  resp.CacheHit,
		Results:   make([]jsonResult, 0, len(resp.Results)),
	}
	for _, r := range resp.Results {
		out.Results = append(out.Results, jsonResult{
			Rank:        r.Rank,
			Score:       r.Score,
			Name:        r.Record.Text("repo_name"),
			Description: r.Record.Text("repo_description"),
			URL:         r.Record.Text("repo_url"),
		})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func writeResults(w io.Writer, resp *searcher.SearchResponse) {
	if len(resp.Results) == 0 {
		fmt.Fprintln(w, "no results")
		return
	}
	for _, r := range resp.Results {
		fmt.Fprintf(w, "%d. %s (%.3f)\n", r.Rank, r.Record.Text("repo_name"), r.Score)
		if d := r.Record.Text("repo_description"); d != "" {
			fmt.Fprintf(w, "   %s\n", d)
		}
		if u := r.Record.Text("repo_url"); u != "" {
			fmt.Fprintf(w, "   %s\n", u)
		}
	}
}
