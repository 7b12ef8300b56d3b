package queue

import "errors"

// Enqueue failures.
var (
	ErrFull   = errors.New("recalculation queue full")
	ErrClosed = errors.New("recalculation queue closed")
)
