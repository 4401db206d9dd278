// Package storage provides SQLite persistence for embedded datasets and the
// embedding cache.
//
// # Database Schema
//
// Tables:
//   - datasets: one row per dataset file (name, id field, counts, dimension)
//   - records: dataset entries in file order, fields as canonical JSON
//   - chunk_embeddings: one float32 blob per chunk vector, in chunk order
//   - cache_entries: last embedded content hash per (dataset, record id)
//   - schema_version: applied migrations
//
// Migrations are ordered by semantic version (Masterminds/semver) and
// applied on open.
//
// # Basic Usage
//
//	store, err := storage.NewSQLiteStorage(ctx, "reposearch.db")
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	// Replace a dataset's contents atomically
//	err = store.SaveDataset(ctx, &storage.Dataset{Name: "repo_data.json", IDField: "repo_name"}, records)
//
//	// Read it back in original order with embeddings attached
//	records, err := store.LoadRecords(ctx, "repo_data.json")
//
// # Embedding Cache
//
// SQLiteStorage implements embedcache.Store. Load copies cache_entries into
// memory, Get serves from that copy, and MergeAndSave upserts inside a single
// transaction so a failed save leaves earlier entries untouched.
//
// # Build Modes
//
// The default build uses modernc.org/sqlite (pure Go). Building with
// -tags cgo_sqlite switches to mattn/go-sqlite3. BuildMode and DriverName
// report which one is active.
package storage
