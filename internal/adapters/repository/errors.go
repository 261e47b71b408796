package repository

import "errors"

// Sentinel kinds for tally store errors.
var (
	ErrNotFound     = errors.New("custodian not found")
	ErrInvalidLimit = errors.New("invalid ranking limit")
	ErrInvalidDelta = errors.New("tally delta must be positive and finite")
)
