package types

// SearchResult is a ranked record with its similarity score
type SearchResult struct {
	Rank   int     // Position in result set (1-based)
	Score  float64 // Best-chunk cosine similarity in [-1, 1]
	Record *Record
}

// Validate checks if the search result is valid
func (sr *SearchResult) Validate() error {
	if sr.Rank < 1 {
		return ErrInvalidRank
	}

	if sr.Score < -1 || sr.Score > 1 {
		return ErrInvalidScore
	}

	if sr.Record == nil {
		return ErrMissingRecord
	}

	return nil
}
