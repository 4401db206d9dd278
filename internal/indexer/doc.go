// Package indexer runs the encoding pipeline that turns dataset records into
// records with embeddings.
//
// # Basic Usage
//
//	cache := embedcache.NewFileStore(cfg.CachePath)
//	idx := indexer.New(emb, cache, &indexer.Config{
//	    Workers:   4,
//	    ChunkSize: chunker.CharBudget(cfg.TokenLimit, cfg.CharsPerToken),
//	}, logger)
//
//	report, err := idx.Run(ctx, cfg.Datasets)
//	for _, d := range report.Datasets {
//	    fmt.Printf("%s: %d embedded, %d skipped\n", d.Name,
//	        d.Statistics.RecordsEmbedded, d.Statistics.RecordsSkipped)
//	}
//
// # Pipeline
//
// For every dataset Run executes, in order:
//
//  1. Load: read the input JSON array
//  2. Seed: copy embeddings from the previous output when id and content hash match
//  3. Embed: split each cache miss into chunks and encode them
//  4. Write: replace the output file atomically
//  5. Index: store the dataset in SQLite when a sink is set
//  6. Save: merge the new hashes into the cache
//
// The cache is written last, so it never claims work that did not reach the
// output file.
//
// # Cache Hits
//
// A record is skipped when its id is in the cache, the cached hash equals the
// hash of its canonical text, and it already carries an embedding. A matching
// hash without an embedding is a stale hit and is embedded again. Records
// without an id are always embedded and never cached.
//
// # Failures
//
// The first encoder error aborts the dataset before anything is persisted and
// is reported as a *StageError wrapping ErrEncode:
//
//	var se *indexer.StageError
//	if errors.As(err, &se) {
//	    log.Printf("stage %s failed for %s", se.Stage, se.Dataset)
//	}
//
// # Concurrency
//
// Records are processed sequentially. Chunks of one record are encoded by up
// to Config.Workers goroutines and reassembled in order. Only one Run or
// Process may be active per Indexer; others get ErrRunInProgress.
package indexer
