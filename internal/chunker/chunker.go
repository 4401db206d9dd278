package chunker

import (
	"iter"
	"unicode/utf8"
)

const (
	// DefaultTokenLimit is used when the model does not report a maximum sequence length
	DefaultTokenLimit = 512

	// DefaultCharsPerToken is the heuristic characters-per-token ratio
	DefaultCharsPerToken = 4.0
)

// Chunker splits canonical record text into fixed-size pieces
type Chunker struct {
	limit int
}

// New creates a Chunker producing chunks of at most limit runes
func New(limit int) *Chunker {
	return &Chunker{limit: limit}
}

// Limit returns the per-chunk rune budget
func (c *Chunker) Limit() int {
	return c.limit
}

// Split returns the chunks of text
func (c *Chunker) Split(text string) iter.Seq[string] {
	return Split(text, c.limit)
}

// Count returns the number of chunks Split yields for text
func (c *Chunker) Count(text string) int {
	return Count(text, c.limit)
}

// Split returns a lazy sequence of consecutive slices of text, each holding
// limit runes except possibly the last. Empty text yields nothing. A
// non-positive limit yields the whole text as a single chunk.
//
// The sequence can be ranged over any number of times and always yields the
// same chunks; concatenating them reproduces text exactly.
func Split(text string, limit int) iter.Seq[string] {
	return func(yield func(string) bool) {
		if text == "" {
			return
		}
		if limit <= 0 {
			yield(text)
			return
		}

		start, runes := 0, 0
		for i := range text {
			if runes == limit {
				if !yield(text[start:i]) {
					return
				}
				start, runes = i, 0
			}
			runes++
		}
		yield(text[start:])
	}
}

// Count returns ceil(runes(text)/limit), or 0 for empty text
func Count(text string, limit int) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	if limit <= 0 {
		return 1
	}
	return (n + limit - 1) / limit
}

// CharBudget derives the per-chunk character budget from the model's token
// limit and an empirical characters-per-token ratio.
func CharBudget(tokenLimit int, charsPerToken float64) int {
	if tokenLimit <= 0 {
		tokenLimit = DefaultTokenLimit
	}
	if charsPerToken <= 0 {
		charsPerToken = DefaultCharsPerToken
	}

	budget := int(float64(tokenLimit) * charsPerToken)
	if budget < 1 {
		budget = 1
	}
	return budget
}
