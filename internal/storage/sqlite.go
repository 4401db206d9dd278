package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dshills/reposearch/internal/embedcache"
	"github.com/dshills/reposearch/pkg/types"
)

var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = errors.New("not found")
)

// SQLiteStorage implements Storage using SQLite
type SQLiteStorage struct {
	db *sql.DB

	// mu guards the in-memory copy of cache_entries
	mu    sync.RWMutex
	cache embedcache.Snapshot
}

var _ embedcache.Store = (*SQLiteStorage)(nil)

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(1) // SQLite benefits from single writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(ctx context.Context, dbPath string) (*SQLiteStorage, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := ApplyMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteStorage{db: db, cache: embedcache.Snapshot{}}, nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// withTx runs fn inside a transaction, committing only if fn succeeds
func (s *SQLiteStorage) withTx(ctx context.Context, fn func(q querier) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Dataset operations

// SaveDataset replaces the stored records of a dataset in one transaction
func (s *SQLiteStorage) SaveDataset(ctx context.Context, dataset *Dataset, records []*types.Record) error {
	if dataset == nil || dataset.Name == "" {
		return fmt.Errorf("dataset name is required")
	}

	chunkCount, dimension := 0, 0
	for _, rec := range records {
		chunkCount += len(rec.Embedding)
		if dimension == 0 && len(rec.Embedding) > 0 {
			dimension = len(rec.Embedding[0])
		}
	}

	now := time.Now()
	err := s.withTx(ctx, func(q querier) error {
		var datasetID int64
		err := q.QueryRowContext(ctx, `
			INSERT INTO datasets (name, id_field, record_count, chunk_count, dimension, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(name) DO UPDATE SET
				id_field = excluded.id_field,
				record_count = excluded.record_count,
				chunk_count = excluded.chunk_count,
				dimension = excluded.dimension,
				updated_at = excluded.updated_at
			RETURNING id
		`, dataset.Name, dataset.IDField, len(records), chunkCount, dimension, now, now).Scan(&datasetID)
		if err != nil {
			return fmt.Errorf("failed to upsert dataset: %w", err)
		}

		// Clear previous contents
		if _, err := q.ExecContext(ctx, `
			DELETE FROM chunk_embeddings
			WHERE record_id IN (SELECT id FROM records WHERE dataset_id = ?)
		`, datasetID); err != nil {
			return fmt.Errorf("failed to delete embeddings: %w", err)
		}
		if _, err := q.ExecContext(ctx, "DELETE FROM records WHERE dataset_id = ?", datasetID); err != nil {
			return fmt.Errorf("failed to delete records: %w", err)
		}

		for pos, rec := range records {
			if err := insertRecord(ctx, q, datasetID, pos, dataset.IDField, rec); err != nil {
				return err
			}
		}

		dataset.ID = datasetID
		return nil
	})
	if err != nil {
		return err
	}

	dataset.RecordCount = len(records)
	dataset.ChunkCount = chunkCount
	dataset.Dimension = dimension
	dataset.UpdatedAt = now
	return nil
}

func insertRecord(ctx context.Context, q querier, datasetID int64, pos int, idField string, rec *types.Record) error {
	var key sql.NullString
	if id, ok := rec.ID(idField); ok {
		key = sql.NullString{String: id, Valid: true}
	}

	text := rec.CanonicalText()
	var recordID int64
	err := q.QueryRowContext(ctx, `
		INSERT INTO records (dataset_id, position, record_key, content_hash, fields_json, embedded)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id
	`, datasetID, pos, key, types.HashText(text), text, rec.HasEmbedding()).Scan(&recordID)
	if err != nil {
		return fmt.Errorf("failed to insert record %d: %w", pos, err)
	}

	for i, vec := range rec.Embedding {
		if _, err := q.ExecContext(ctx, `
			INSERT INTO chunk_embeddings (record_id, chunk_index, dimension, vector)
			VALUES (?, ?, ?, ?)
		`, recordID, i, len(vec), serializeVector(vec)); err != nil {
			return fmt.Errorf("failed to insert embedding %d of record %d: %w", i, pos, err)
		}
	}
	return nil
}

func (s *SQLiteStorage) GetDataset(ctx context.Context, name string) (*Dataset, error) {
	query := `
		SELECT id, name, id_field, record_count, chunk_count, dimension, created_at, updated_at
		FROM datasets
		WHERE name = ?
	`
	var d Dataset
	err := s.db.QueryRowContext(ctx, query, name).Scan(
		&d.ID, &d.Name, &d.IDField, &d.RecordCount, &d.ChunkCount, &d.Dimension,
		&d.CreatedAt, &d.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *SQLiteStorage) ListDatasets(ctx context.Context) ([]*Dataset, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, id_field, record_count, chunk_count, dimension, created_at, updated_at
		FROM datasets
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var datasets []*Dataset
	for rows.Next() {
		var d Dataset
		if err := rows.Scan(&d.ID, &d.Name, &d.IDField, &d.RecordCount, &d.ChunkCount,
			&d.Dimension, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, err
		}
		datasets = append(datasets, &d)
	}
	return datasets, rows.Err()
}

// LoadRecords returns a dataset's records in their original order
func (s *SQLiteStorage) LoadRecords(ctx context.Context, name string) ([]*types.Record, error) {
	d, err := s.GetDataset(ctx, name)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, fields_json, embedded
		FROM records
		WHERE dataset_id = ?
		ORDER BY position
	`, d.ID)
	if err != nil {
		return nil, err
	}

	var (
		records []*types.Record
		byRowID = make(map[int64]*types.Record)
	)
	for rows.Next() {
		var (
			rowID    int64
			fields   string
			embedded bool
		)
		if err := rows.Scan(&rowID, &fields, &embedded); err != nil {
			_ = rows.Close()
			return nil, err
		}

		rec := &types.Record{}
		if err := json.Unmarshal([]byte(fields), rec); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("decode record %d: %w", rowID, err)
		}
		if embedded {
			rec.Embedding = [][]float32{}
		}
		records = append(records, rec)
		byRowID[rowID] = rec
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Attach chunk vectors in chunk order
	vecRows, err := s.db.QueryContext(ctx, `
		SELECT ce.record_id, ce.vector
		FROM chunk_embeddings ce
		JOIN records r ON r.id = ce.record_id
		WHERE r.dataset_id = ?
		ORDER BY ce.record_id, ce.chunk_index
	`, d.ID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = vecRows.Close() }()

	for vecRows.Next() {
		var (
			rowID int64
			blob  []byte
		)
		if err := vecRows.Scan(&rowID, &blob); err != nil {
			return nil, err
		}
		vec, err := deserializeVector(blob)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", rowID, err)
		}
		if rec, ok := byRowID[rowID]; ok {
			rec.Embedding = append(rec.Embedding, vec)
		}
	}

	return records, vecRows.Err()
}

func (s *SQLiteStorage) DeleteDataset(ctx context.Context, name string) error {
	return s.withTx(ctx, func(q querier) error {
		if _, err := q.ExecContext(ctx, `
			DELETE FROM chunk_embeddings
			WHERE record_id IN (
				SELECT r.id FROM records r JOIN datasets d ON d.id = r.dataset_id WHERE d.name = ?
			)
		`, name); err != nil {
			return fmt.Errorf("failed to delete embeddings: %w", err)
		}
		if _, err := q.ExecContext(ctx, `
			DELETE FROM records WHERE dataset_id IN (SELECT id FROM datasets WHERE name = ?)
		`, name); err != nil {
			return fmt.Errorf("failed to delete records: %w", err)
		}
		result, err := q.ExecContext(ctx, "DELETE FROM datasets WHERE name = ?", name)
		if err != nil {
			return fmt.Errorf("failed to delete dataset: %w", err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// Cache operations

// Load reads every cache entry into memory
func (s *SQLiteStorage) Load(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, "SELECT dataset, record_key, content_hash FROM cache_entries")
	if err != nil {
		return fmt.Errorf("%w: %v", embedcache.ErrCacheCorrupt, err)
	}
	defer func() { _ = rows.Close() }()

	snap := embedcache.Snapshot{}
	for rows.Next() {
		var dataset, key, hash string
		if err := rows.Scan(&dataset, &key, &hash); err != nil {
			return fmt.Errorf("%w: %v", embedcache.ErrCacheCorrupt, err)
		}
		snap.Merge(dataset, map[string]string{key: hash})
	}
	if err := rows.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	s.cache = snap
	s.mu.Unlock()
	return nil
}

func (s *SQLiteStorage) Get(dataset, id string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cache.Lookup(dataset, id)
}

func (s *SQLiteStorage) Entries(dataset string) map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cache.Copy(dataset)
}

// MergeAndSave upserts entries in one transaction; either all land or none
func (s *SQLiteStorage) MergeAndSave(ctx context.Context, dataset string, entries map[string]string) error {
	// Sorted for deterministic write order
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	now := time.Now()
	err := s.withTx(ctx, func(q querier) error {
		for _, key := range keys {
			if _, err := q.ExecContext(ctx, `
				INSERT INTO cache_entries (dataset, record_key, content_hash, updated_at)
				VALUES (?, ?, ?, ?)
				ON CONFLICT(dataset, record_key) DO UPDATE SET
					content_hash = excluded.content_hash,
					updated_at = excluded.updated_at
			`, dataset, key, entries[key], now); err != nil {
				return fmt.Errorf("failed to upsert cache entry %s/%s: %w", dataset, key, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.cache.Merge(dataset, entries)
	s.mu.Unlock()
	return nil
}

// Status operations

func (s *SQLiteStorage) GetStatus(ctx context.Context) (*Status, error) {
	version, err := SchemaVersion(ctx, s.db)
	if err != nil {
		return nil, err
	}

	status := &Status{
		SchemaVersion: version,
		BuildMode:     BuildMode,
		CacheOnly:     make(map[string]int),
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT d.name, d.id_field, d.record_count, d.chunk_count, d.dimension, d.updated_at,
		       (SELECT COUNT(*) FROM cache_entries c WHERE c.dataset = d.name)
		FROM datasets d
		ORDER BY d.name
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	known := make(map[string]bool)
	for rows.Next() {
		var ds DatasetStatus
		if err := rows.Scan(&ds.Name, &ds.IDField, &ds.RecordCount, &ds.ChunkCount,
			&ds.Dimension, &ds.UpdatedAt, &ds.CacheEntries); err != nil {
			return nil, err
		}
		known[ds.Name] = true
		status.Datasets = append(status.Datasets, ds)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Release the single connection before the next query
	_ = rows.Close()

	cacheRows, err := s.db.QueryContext(ctx, "SELECT dataset, COUNT(*) FROM cache_entries GROUP BY dataset")
	if err != nil {
		return nil, err
	}
	defer func() { _ = cacheRows.Close() }()

	for cacheRows.Next() {
		var (
			name  string
			count int
		)
		if err := cacheRows.Scan(&name, &count); err != nil {
			return nil, err
		}
		if !known[name] {
			status.CacheOnly[name] = count
		}
	}

	return status, cacheRows.Err()
}
