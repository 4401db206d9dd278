//go:build cgo_sqlite && !purego

package storage

// This file is compiled when building with CGO and the cgo_sqlite tag.
// It uses the C SQLite library through mattn/go-sqlite3.
//
// Build command:
//   CGO_ENABLED=1 go build -tags cgo_sqlite ./...
//
// Chunk vectors are stored as little-endian float32 blobs in both builds;
// similarity is computed in Go by package searcher.
//
// Driver used: github.com/mattn/go-sqlite3

import (
	_ "github.com/mattn/go-sqlite3"
)

const (
	// DriverName is the SQLite driver to use
	DriverName = "sqlite3"

	// BuildMode describes the current build configuration
	BuildMode = "cgo"
)
