// Package query rewrites search queries before they are embedded.
//
// Passthrough leaves queries untouched. GeminiCondenser sends a few-shot
// prompt to a Gemini model and keeps the first line of its answer:
//
//	examples, _ := query.LoadExamples("few_shots.json")
//	pre, err := query.NewGeminiCondenser(ctx, apiKey, "gemini-2.0-flash", examples, logger)
//	q, err := pre.Condense(ctx, "what repos do something with sqlite in go?")
//
// The few-shot file is a JSON array:
//
//	[{"query": "any projects scraping websites with python?", "condensed": "python web scraper"}]
package query
