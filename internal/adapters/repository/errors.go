package repository

import "errors"

// Sentinel kinds for store errors.
var (
	ErrNotFound       = errors.New("not found")
	ErrDuplicateEvent = errors.New("duplicate event id")
	ErrDuplicateEmail = errors.New("duplicate lead email")
	ErrScoreConflict  = errors.New("lead score changed concurrently")
)
