package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/reposearch/internal/searcher"
)

// searchReposTool returns the tool definition for search_repos
func searchReposTool() mcp.Tool {
	return mcp.Tool{
		Name:        "search_repos",
		Description: "Find the repositories most relevant to a natural language question",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Natural language question or keywords",
				},
				"mode": map[string]interface{}{
					"type":        "string",
					"description": "light ranks repository descriptions, deep ranks file contents and reports their repositories",
					"enum":        []string{string(searcher.ModeLight), string(searcher.ModeDeep)},
					"default":     string(searcher.ModeLight),
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of repositories to return",
					"minimum":     1,
					"maximum":     searcher.MaxLimit,
				},
			},
			Required: []string{"query"},
		},
	}
}

// encodeDatasetsTool returns the tool definition for encode_datasets
func encodeDatasetsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "encode_datasets",
		Description: "Embed the configured datasets, reusing cached embeddings for unchanged records",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"disable_cache": map[string]interface{}{
					"type":        "boolean",
					"description": "If true, re-embed every record and leave the cache untouched",
					"default":     false,
				},
			},
		},
	}
}

// getStatusTool returns the tool definition for get_status
func getStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_status",
		Description: "Report configured datasets, record counts and cache entry counts",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}
