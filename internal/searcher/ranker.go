package searcher

import (
	"math"
	"sort"

	"github.com/dshills/reposearch/pkg/types"
)

// Placeholder values for a joined record whose coarse record is missing
const (
	PlaceholderDescription = "N/A"
	PlaceholderURL         = "#"
)

// CosineSimilarity returns dot(a,b)/(|a||b|). Empty vectors, vectors of
// different length and zero-magnitude vectors score 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}

	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// BestChunkScore returns the highest similarity between query and any chunk of
// the same dimension. ok is false when no chunk is comparable.
func BestChunkScore(query []float32, chunks [][]float32) (best float64, ok bool) {
	if len(query) == 0 {
		return 0, false
	}
	for _, chunk := range chunks {
		if len(chunk) != len(query) {
			continue
		}
		score := CosineSimilarity(query, chunk)
		if !ok || score > best {
			best = score
			ok = true
		}
	}
	return best, ok
}

// PlaceholderRecord stands in for a coarse record that is missing from the join
func PlaceholderRecord(idField, id string) *types.Record {
	return types.NewRecord(map[string]any{
		idField:            id,
		"repo_description": PlaceholderDescription,
		"repo_url":         PlaceholderURL,
	})
}

// scored is one deduplicated candidate
type scored struct {
	id     string
	score  float64
	record *types.Record
}

// bestByKey keeps the best score per key; the first occurrence fixes the position
type bestByKey struct {
	order []*scored
	index map[string]*scored
}

func newBestByKey(capacity int) *bestByKey {
	return &bestByKey{
		order: make([]*scored, 0, capacity),
		index: make(map[string]*scored, capacity),
	}
}

func (b *bestByKey) offer(id string, score float64, rec *types.Record) {
	if s, seen := b.index[id]; seen {
		if score > s.score {
			s.score = score
			s.record = rec
		}
		return
	}
	s := &scored{id: id, score: score, record: rec}
	b.order = append(b.order, s)
	b.index[id] = s
}

// results sorts candidates by descending score, keeping first-seen order on ties
func (b *bestByKey) results(topK int) []types.SearchResult {
	sort.SliceStable(b.order, func(i, j int) bool {
		return b.order[i].score > b.order[j].score
	})

	n := len(b.order)
	if topK > 0 && topK < n {
		n = topK
	}

	results := make([]types.SearchResult, n)
	for i := 0; i < n; i++ {
		results[i] = types.SearchResult{
			Rank:   i + 1,
			Score:  b.order[i].score,
			Record: b.order[i].record,
		}
	}
	return results
}

// Rank scores records directly against query, one result per id.
// topK <= 0 returns every comparable record. Records without a chunk of the
// query's dimension, including those with an empty embedding, are left out
// rather than ranked with a floor score of -1.
func Rank(query []float32, records []*types.Record, idField string, topK int) []types.SearchResult {
	best := newBestByKey(len(records))

	for _, rec := range records {
		if rec == nil {
			continue
		}
		id, ok := rec.ID(idField)
		if !ok {
			continue
		}
		score, ok := BestChunkScore(query, rec.Embedding)
		if !ok {
			continue
		}
		best.offer(id, score, rec)
	}

	return best.results(topK)
}

// RankJoined scores fine records and reports the coarse record each one joins
// to via fine[joinField] == coarse[coarseIDField], one result per coarse id.
func RankJoined(query []float32, fine, coarse []*types.Record, joinField, coarseIDField string, topK int) []types.SearchResult {
	lookup := make(map[string]*types.Record, len(coarse))
	for _, rec := range coarse {
		if rec == nil {
			continue
		}
		// Later duplicates replace earlier ones
		if id, ok := rec.ID(coarseIDField); ok {
			lookup[id] = rec
		}
	}

	best := newBestByKey(len(coarse))
	for _, rec := range fine {
		if rec == nil {
			continue
		}
		key, ok := rec.ID(joinField)
		if !ok {
			continue
		}
		score, ok := BestChunkScore(query, rec.Embedding)
		if !ok {
			continue
		}

		target, found := lookup[key]
		if !found {
			target = PlaceholderRecord(coarseIDField, key)
			lookup[key] = target
		}
		best.offer(key, score, target)
	}

	return best.results(topK)
}
