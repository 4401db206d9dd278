// Package types provides shared type definitions for reposearch.
//
// # Records
//
// A Record is one entry of a dataset file: a flat JSON object describing a
// repository or a file inside one. The pipeline adds an "embedding" field
// holding one vector per chunk of the record's canonical text:
//
//	{"repo_name": "confkit", "repo_url": "https://...", "embedding": [[0.1, ...], [0.3, ...]]}
//
// Fields are decoded with json.Number so numeric literals survive a
// read/write cycle unchanged.
//
// # Canonical Text and Content Hash
//
// CanonicalText serializes every field except the embedding as compact JSON
// with sorted keys. The same string is fed to the encoder and hashed with
// SHA-256 by ContentHash, so two records with the same field content hash
// identically regardless of key order:
//
//	a := types.NewRecord(map[string]any{"a": "1", "b": "2"})
//	b := types.NewRecord(map[string]any{"b": "2", "a": "1"})
//	a.ContentHash() == b.ContentHash() // true
//
// # Search Results
//
// SearchResult pairs a record with its best-chunk cosine similarity and its
// 1-based rank in the result list.
package types
