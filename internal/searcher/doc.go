// Package searcher ranks embedded records against a query.
//
// Two modes are supported:
//   - Light: score repo records directly, one result per repo
//   - Deep: score file records, then report the repo each file belongs to
//
// # Basic Usage
//
//	s, err := searcher.New(emb, condenser, fetcher, &searcher.Config{
//	    DefaultLimit: 3,
//	}, logger)
//
//	resp, err := s.Search(ctx, searcher.SearchRequest{
//	    Query: "sqlite wrappers in go",
//	    Mode:  searcher.ModeDeep,
//	})
//
//	for _, r := range resp.Results {
//	    fmt.Printf("[%d] %s (score: %.2f)\n", r.Rank, r.Record.Text("repo_name"), r.Score)
//	}
//
// # Scoring
//
// A record scores the highest cosine similarity between the query vector and
// any of its chunk vectors with the same dimension. Records with no
// comparable chunk are left out. When one id appears more than once, the best
// score wins and the position of the first occurrence breaks ties.
//
// In deep mode a repo missing from the repo collection is reported with a
// placeholder record:
//
//	{"repo_name": "<name>", "repo_description": "N/A", "repo_url": "#"}
//
// # Caching
//
// Collections are loaded on first use and kept in memory until Invalidate.
// Responses are cached in an LRU keyed by mode, limit and condensed query,
// and expire after Config.CacheTTL.
package searcher
