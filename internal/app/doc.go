// Package app wires configuration, embedder, cache, index storage, artifact
// fetching and search into one value shared by the CLI and the MCP server.
package app
