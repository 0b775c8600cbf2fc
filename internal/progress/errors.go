package progress

import "errors"

var (
	ErrInvalidItemReference = errors.New("progress: invalid item reference")
	ErrConcurrencyConflict  = errors.New("progress: concurrent modification")
	ErrDeckNotFound         = errors.New("progress: deck not found")
)
