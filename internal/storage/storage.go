package storage

import (
	"context"
	"time"

	"github.com/dshills/reposearch/pkg/types"
)

// Storage persists embedded datasets and the embedding cache in one database
type Storage interface {
	// Dataset operations
	SaveDataset(ctx context.Context, dataset *Dataset, records []*types.Record) error
	GetDataset(ctx context.Context, name string) (*Dataset, error)
	ListDatasets(ctx context.Context) ([]*Dataset, error)
	LoadRecords(ctx context.Context, name string) ([]*types.Record, error)
	DeleteDataset(ctx context.Context, name string) error

	// Cache operations (satisfies embedcache.Store)
	Load(ctx context.Context) error
	Get(dataset, id string) (string, bool)
	MergeAndSave(ctx context.Context, dataset string, entries map[string]string) error
	Entries(dataset string) map[string]string

	// Status operations
	GetStatus(ctx context.Context) (*Status, error)

	// Database operations
	Close() error
}

// Dataset is one indexed dataset file
type Dataset struct {
	ID          int64
	Name        string // dataset filename, e.g. repo_data.json
	IDField     string
	RecordCount int
	ChunkCount  int
	Dimension   int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// DatasetStatus summarizes one dataset for status reporting
type DatasetStatus struct {
	Name         string
	IDField      string
	RecordCount  int
	ChunkCount   int
	Dimension    int
	CacheEntries int
	UpdatedAt    time.Time
}

// Status summarizes the whole database
type Status struct {
	SchemaVersion string
	BuildMode     string
	Datasets      []DatasetStatus

	// CacheOnly lists datasets that have cache entries but no stored records
	CacheOnly map[string]int
}
