// Package mcp implements the Model Context Protocol (MCP) server for reposearch.
//
// The server exposes three tools over stdio:
//   - search_repos: rank repositories against a natural language query
//   - encode_datasets: run the embedding pipeline over the configured datasets
//   - get_status: report datasets, record counts and cache entries
//
// # Tool: search_repos
//
//	Request:
//	{
//	  "name": "search_repos",
//	  "arguments": {
//	    "query": "which project parses TOML?",
//	    "mode": "deep",
//	    "limit": 3
//	  }
//	}
//
//	Response:
//	{
//	  "query": "which project parses TOML?",
//	  "condensed": "toml parser",
//	  "mode": "deep",
//	  "results": [
//	    {
//	      "rank": 1,
//	      "score": 0.81,
//	      "repo_name": "confkit",
//	      "repo_description": "Configuration loader",
//	      "repo_url": "https://github.com/acme/confkit"
//	    }
//	  ]
//	}
//
// # Tool: encode_datasets
//
//	Request:
//	{"name": "encode_datasets", "arguments": {"disable_cache": false}}
//
// The response lists per-dataset statistics. A dataset that failed carries
// its error while the others still report success.
//
// # Error Handling
//
// Tool failures are returned as *MCPError values:
//   - -32602: Invalid params (bad mode or limit)
//   - -32603: Internal error
//   - -32002: Encoding in progress
//   - -32003: Datasets not encoded
//   - -32004: Empty query
//
// Logs go to stderr; stdout carries the protocol.
package mcp
