// Package collector produces the raw input datasets.
//
// Repos lists a GitHub user's repositories, paced by a token bucket:
//
//	c, _ := collector.New(ctx, collector.Config{Token: token}, logger)
//	repos, err := c.Repos(ctx, "octocat")
//
// Files reads local checkouts laid out as <root>/<repo_name>/...:
//
//	files, err := c.Files(ctx, "/src", collector.RepoNames(repos))
//
// Both results are written with dataset.WriteRecords and encoded later.
package collector
