package dataset

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/dshills/reposearch/pkg/types"
)

var (
	// ErrRead is returned when a dataset file cannot be read or decoded
	ErrRead = errors.New("dataset read failed")
	// ErrWrite is returned when a dataset file cannot be written
	ErrWrite = errors.New("dataset write failed")
)

// ReadRecords loads a JSON array of records from path.
// A missing file is reported with an error that matches both ErrRead and fs.ErrNotExist.
func ReadRecords(path string) ([]*types.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRead, err)
	}
	defer func() {
		_ = f.Close()
	}()

	records, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrRead, path, err)
	}
	return records, nil
}

// Decode reads a JSON array of records from r
func Decode(r io.Reader) ([]*types.Record, error) {
	var records []*types.Record
	if err := json.NewDecoder(r).Decode(&records); err != nil {
		return nil, err
	}

	for i, rec := range records {
		if rec == nil {
			return nil, fmt.Errorf("record %d is null", i)
		}
	}
	return records, nil
}

// Encode renders records as an indented JSON array with sorted keys.
// Equal records always encode to identical bytes.
func Encode(records []*types.Record) ([]byte, error) {
	if records == nil {
		records = []*types.Record{}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(records); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteRecords atomically replaces path with the encoded records
func WriteRecords(path string, records []*types.Record) error {
	data, err := Encode(records)
	if err != nil {
		return fmt.Errorf("%w: encode %s: %v", ErrWrite, path, err)
	}

	if err := WriteFileAtomic(path, data, 0o644); err != nil {
		return fmt.Errorf("%w: %w", ErrWrite, err)
	}
	return nil
}
