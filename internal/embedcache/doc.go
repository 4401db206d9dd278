// Package embedcache records which content hash was last embedded for each
// record of each dataset, so unchanged records can skip the encoder.
//
// The cache is keyed by dataset filename and then by record id:
//
//	{
//	  "repo_data.json": {
//	    "confkit": "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08"
//	  }
//	}
//
// # Load
//
// A missing cache file is an empty cache. A file that exists but is not a
// valid mapping fails with ErrCacheCorrupt and the run must stop.
//
// # Save
//
// MergeAndSave never replaces a dataset wholesale: new entries are merged
// over the ones already stored, and other datasets are carried through
// unchanged. FileStore writes via a temporary file and rename so a crash can
// only ever leave the previous complete file.
//
// The SQLite backend in package storage implements the same Store interface.
package embedcache
