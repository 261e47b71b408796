package audit

import "errors"

// Sentinel kinds for report errors.
var (
	ErrInvalidValue    = errors.New("invalid entity value")
	ErrTooManyEntities = errors.New("too many entities")
)
