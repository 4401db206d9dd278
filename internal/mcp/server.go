package mcp

import (
	"context"
	"os"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/dshills/reposearch/internal/app"
	"github.com/dshills/reposearch/internal/indexer"
	"github.com/dshills/reposearch/internal/logging"
	"github.com/dshills/reposearch/internal/searcher"
)

const (
	// ServerName is the MCP server name
	ServerName = "reposearch"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// Backend is what the tools call into; *app.App satisfies it
type Backend interface {
	Search(ctx context.Context, req searcher.SearchRequest) (*searcher.SearchResponse, error)
	Encode(ctx context.Context, disableCache bool) (*indexer.Report, error)
	Status(ctx context.Context) (*app.Status, error)
}

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp     *server.MCPServer
	backend Backend
	logger  *zap.Logger

	defaultLimit int
}

// NewServer creates a new MCP server instance. defaultLimit is the result
// count used when a search call sets none.
func NewServer(backend Backend, defaultLimit int, logger *zap.Logger) *Server {
	mcpServer := server.NewMCPServer(
		ServerName,
		ServerVersion,
		server.WithToolCapabilities(false),
	)

	s := &Server{
		mcp:          mcpServer,
		backend:      backend,
		logger:       logging.OrNop(logger),
		defaultLimit: defaultLimit,
	}
	s.registerTools()
	return s
}

// Serve starts the MCP server on stdio and blocks until shutdown
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("mcp server started", zap.String("name", ServerName), zap.String("version", ServerVersion))
	stdio := server.NewStdioServer(s.mcp)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	s.mcp.AddTool(searchReposTool(), s.handleSearchRepos)
	s.mcp.AddTool(encodeDatasetsTool(), s.handleEncodeDatasets)
	s.mcp.AddTool(getStatusTool(), s.handleGetStatus)
}
