// Package config loads reposearch settings.
//
// Values are layered: built-in defaults, then an optional TOML file, then a
// .env file, then process environment variables. Each layer overrides only
// the keys it sets.
//
// Usage:
//
//	cfg, err := config.Load("")
//	if err != nil {
//	    return err
//	}
//	if err := cfg.ValidateEncode(); err != nil {
//	    return err
//	}
//
// Datasets are configured only in the TOML file:
//
//	[[datasets]]
//	name = "repo_data.json"
//	input = "repo_data.json"
//	output = "repo_data_with_embeddings.json"
//	id_field = "repo_name"
//
// API keys and the GitHub access token are read only from the environment.
package config
