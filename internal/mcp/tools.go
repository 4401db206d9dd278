package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/dshills/reposearch/internal/indexer"
	"github.com/dshills/reposearch/internal/searcher"
)

// MCP error codes
const (
	ErrorCodeInvalidParams      = -32602 // Invalid method parameters
	ErrorCodeInternalError      = -32603 // Internal JSON-RPC error
	ErrorCodeEncodingInProgress = -32002 // Another encode run is already running
	ErrorCodeNotEncoded         = -32003 // Embedded datasets are unavailable
	ErrorCodeEmptyQuery         = -32004 // Query parameter is empty
)

const maxReportedErrors = 5

// handleSearchRepos handles the search_repos tool invocation
func (s *Server) handleSearchRepos(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil, nil)
	}

	query, _ := args["query"].(string)
	if strings.TrimSpace(query) == "" {
		return nil, newMCPError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", map[string]interface{}{
			"param":  "query",
			"reason": "missing or empty",
		}, searcher.ErrEmptyQuery)
	}

	limit := getIntDefault(args, "limit", s.defaultLimit)
	if limit < 1 || limit > searcher.MaxLimit {
		return nil, newMCPError(ErrorCodeInvalidParams, fmt.Sprintf("limit must be between 1 and %d", searcher.MaxLimit), map[string]interface{}{
			"param": "limit",
			"value": limit,
		}, nil)
	}

	mode, err := searcher.ParseMode(getStringDefault(args, "mode", string(searcher.ModeLight)))
	if err != nil {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid mode", map[string]interface{}{
			"param":   "mode",
			"value":   args["mode"],
			"allowed": []string{string(searcher.ModeLight), string(searcher.ModeDeep)},
		}, err)
	}

	resp, err := s.backend.Search(ctx, searcher.SearchRequest{Query: query, Mode: mode, Limit: limit})
	if err != nil {
		if errors.Is(err, searcher.ErrCollectionUnavailable) {
			return nil, newMCPError(ErrorCodeNotEncoded, "datasets are not encoded. Use encode_datasets first.", map[string]interface{}{
				"error": err.Error(),
			}, err)
		}
		return nil, newMCPError(ErrorCodeInternalError, "search failed", map[string]interface{}{
			"error": err.Error(),
		}, err)
	}

	results := make([]map[string]interface{}, 0, len(resp.Results))
	for _, r := range resp.Results {
		results = append(results, map[string]interface{}{
			"rank":             r.Rank,
			"score":            r.Score,
			"repo_name":        r.Record.Text("repo_name"),
			"repo_description": r.Record.Text("repo_description"),
			"repo_url":         r.Record.Text("repo_url"),
		})
	}

	response := map[string]interface{}{
		"query":       resp.Query,
		"condensed":   resp.Condensed,
		"mode":        string(resp.Mode),
		"results":     results,
		"scanned":     resp.Scanned,
		"cache_hit":   resp.CacheHit,
		"duration_ms": resp.Duration.Milliseconds(),
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleEncodeDatasets handles the encode_datasets tool invocation
func (s *Server) handleEncodeDatasets(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	// Arguments are optional
	args, _ := request.Params.Arguments.(map[string]interface{})
	disableCache := getBoolDefault(args, "disable_cache", false)

	report, err := s.backend.Encode(ctx, disableCache)
	if errors.Is(err, indexer.ErrRunInProgress) {
		return nil, newMCPError(ErrorCodeEncodingInProgress, "an encode run is already in progress", nil, err)
	}
	if report == nil {
		return nil, newMCPError(ErrorCodeInternalError, "encoding failed", map[string]interface{}{
			"error": errorText(err),
		}, err)
	}

	datasets := make([]map[string]interface{}, 0, len(report.Datasets))
	for _, ds := range report.Datasets {
		entry := map[string]interface{}{
			"name": ds.Name,
			"ok":   ds.Err == nil,
		}
		if st := ds.Statistics; st != nil {
			entry["records_total"] = st.RecordsTotal
			entry["records_embedded"] = st.RecordsEmbedded
			entry["records_skipped"] = st.RecordsSkipped
			entry["chunks_embedded"] = st.ChunksEmbedded
			entry["encoder_calls"] = st.EncoderCalls
		}
		if ds.Err != nil {
			entry["error"] = ds.Err.Error()
		}
		datasets = append(datasets, entry)
	}

	response := map[string]interface{}{
		"encoded":       err == nil,
		"disable_cache": disableCache,
		"datasets":      datasets,
		"duration_ms":   report.Duration.Milliseconds(),
	}

	if errs := report.Errors(); len(errs) > 0 {
		messages := make([]string, 0, len(errs))
		for _, e := range errs {
			messages = append(messages, e.Error())
		}
		if len(messages) > maxReportedErrors {
			response["error_count"] = len(messages)
			messages = messages[:maxReportedErrors]
		}
		response["errors"] = messages
	}

	if err != nil {
		s.logger.Warn("encode finished with errors", zap.Error(err))
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleGetStatus handles the get_status tool invocation
func (s *Server) handleGetStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status, err := s.backend.Status(ctx)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to get status", map[string]interface{}{
			"error": err.Error(),
		}, err)
	}

	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to encode status", nil, err)
	}
	return mcp.NewToolResultText(string(data)), nil
}

// Helper functions

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}, cause error) error {
	// MCP errors are returned as regular errors, the framework handles encoding
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
		Err:     cause,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
	Err     error
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

func (e *MCPError) Unwrap() error {
	return e.Err
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getBoolDefault extracts a boolean parameter with a default value
func getBoolDefault(args map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := args[key].(bool); ok {
		return val
	}
	return defaultValue
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok && val != "" {
		return val
	}
	return defaultValue
}
