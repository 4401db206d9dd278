// Package chunker divides canonical record text into bounded chunks for embedding.
//
// Chunking is pure fixed-size slicing: no overlap, no gaps, and no attempt to
// respect word or sentence boundaries. Lengths are counted in runes so a
// multi-byte character is never cut in half.
//
// # Basic Usage
//
//	limit := chunker.CharBudget(cfg.TokenLimit, cfg.CharsPerToken)
//	for chunk := range chunker.Split(record.CanonicalText(), limit) {
//	    emb, err := e.GenerateEmbedding(ctx, embedder.EmbeddingRequest{Text: chunk})
//	    ...
//	}
//
// Split returns an iter.Seq so chunks are produced on demand; nothing is
// materialized unless the caller collects it.
//
// # Character Budget
//
// The budget is int(tokenLimit * charsPerToken). Models that do not report a
// sequence length fall back to DefaultTokenLimit (512) tokens, and the ratio
// falls back to DefaultCharsPerToken (4.0).
//
//	chunker.CharBudget(512, 4.0) // 2048
//	chunker.CharBudget(0, 0)     // 2048
package chunker
