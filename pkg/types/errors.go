package types

import "errors"

// Domain errors for type validation
var (
	ErrInvalidRank   = errors.New("rank must be >= 1")
	ErrInvalidScore  = errors.New("score must be between -1 and 1")
	ErrMissingRecord = errors.New("record is required")
)
