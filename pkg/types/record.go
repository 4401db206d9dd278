package types

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// EmbeddingField is the reserved field holding a record's chunk vectors
const EmbeddingField = "embedding"

// Record is a flat field mapping plus an optional embedding.
// Fields never contains EmbeddingField; it is split out on decode.
type Record struct {
	Fields map[string]any

	// Embedding holds one vector per chunk in text order.
	// nil means the record has not been embedded. An empty, non-nil slice
	// means the record was embedded and produced zero chunks.
	Embedding [][]float32
}

// NewRecord creates a record from a field mapping
func NewRecord(fields map[string]any) *Record {
	r := &Record{Fields: make(map[string]any, len(fields))}
	for k, v := range fields {
		if k == EmbeddingField {
			continue
		}
		r.Fields[k] = v
	}
	return r
}

// Get returns a field value
func (r *Record) Get(field string) (any, bool) {
	v, ok := r.Fields[field]
	return v, ok
}

// Text returns a field as a string, or "" when absent or not scalar
func (r *Record) Text(field string) string {
	s, _ := r.ID(field)
	return s
}

// ID returns the value of the identity field as a string.
// Strings and numbers qualify; missing, null and structured values do not.
func (r *Record) ID(field string) (string, bool) {
	v, ok := r.Fields[field]
	if !ok || v == nil {
		return "", false
	}
	switch val := v.(type) {
	case string:
		return val, true
	case json.Number:
		return val.String(), true
	case float64, float32, int, int64, int32:
		return fmt.Sprint(val), true
	default:
		return "", false
	}
}

// HasEmbedding reports whether the record carries an embedding
func (r *Record) HasEmbedding() bool {
	return r.Embedding != nil
}

// CanonicalText returns the sorted-key compact JSON form of the fields,
// excluding the embedding. The same text is embedded and hashed.
func (r *Record) CanonicalText() string {
	b, err := encodeJSON(r.Fields, "")
	if err != nil {
		// Fields decoded from JSON always re-encode; fall back to a sorted key dump
		return fallbackText(r.Fields)
	}
	return string(b)
}

// ContentHash returns the SHA-256 hex digest of the canonical text
func (r *Record) ContentHash() string {
	return HashText(r.CanonicalText())
}

// Clone returns a deep copy of the embedding and a shallow copy of the fields
func (r *Record) Clone() *Record {
	c := NewRecord(r.Fields)
	if r.Embedding != nil {
		c.Embedding = make([][]float32, len(r.Embedding))
		for i, vec := range r.Embedding {
			c.Embedding[i] = append([]float32(nil), vec...)
		}
	}
	return c
}

// MarshalJSON emits the fields plus the embedding with sorted keys
func (r *Record) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Fields)+1)
	for k, v := range r.Fields {
		out[k] = v
	}
	if r.Embedding != nil {
		out[EmbeddingField] = r.Embedding
	}
	return encodeJSON(out, "")
}

// UnmarshalJSON decodes a flat JSON object, preserving number literals
func (r *Record) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	r.Fields = make(map[string]any, len(raw))
	r.Embedding = nil

	for key, msg := range raw {
		if key == EmbeddingField {
			var emb [][]float32
			if err := json.Unmarshal(msg, &emb); err != nil {
				return fmt.Errorf("field %q: %w", EmbeddingField, err)
			}
			r.Embedding = emb
			continue
		}

		dec := json.NewDecoder(bytes.NewReader(msg))
		dec.UseNumber()
		var v any
		if err := dec.Decode(&v); err != nil {
			return fmt.Errorf("field %q: %w", key, err)
		}
		r.Fields[key] = v
	}

	return nil
}

// HashText computes the SHA-256 hex digest of text
func HashText(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}

// encodeJSON marshals v without HTML escaping and without a trailing newline
func encodeJSON(v any, indent string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if indent != "" {
		enc.SetIndent("", indent)
	}
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func fallbackText(fields map[string]any) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	for _, k := range keys {
		fmt.Fprintf(&buf, "%s=%v\n", k, fields[k])
	}
	return buf.String()
}
