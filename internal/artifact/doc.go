// Package artifact makes embedded dataset files available locally.
//
// When a file is missing from the data directory it is downloaded from the
// configured GitHub release and written atomically:
//
//	f, _ := artifact.New(ctx, artifact.Config{
//	    Dir:   "data",
//	    Owner: "acme",
//	    Repo:  "repo-index",
//	    Tag:   "v1.0.0",
//	}, logger)
//	records, err := f.LoadRecords(ctx, "repo_data_with_embeddings.json")
//	if errors.Is(err, artifact.ErrFetchFailed) {
//	    // treat the collection as absent
//	}
//
// Each download is bounded by Config.Timeout (10s by default).
package artifact
