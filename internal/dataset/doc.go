// Package dataset reads and writes dataset files: JSON arrays of records.
//
// Output files are written with WriteFileAtomic, which stages the content in
// a temporary file in the target directory and renames it into place, so a
// crash never leaves a truncated file behind. Encoding is deterministic:
// records are emitted with sorted keys and two-space indentation, which keeps
// re-runs over unchanged data byte-identical.
package dataset
