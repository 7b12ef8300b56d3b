package scoring

import "errors"

// Sentinel error kinds for the scoring engine. Callers match with errors.Is.
var (
	// ErrValidation marks input rejected before any write.
	ErrValidation = errors.New("validation failed")
	// ErrLeadNotFound marks an event or recalculation for an unknown lead.
	ErrLeadNotFound = errors.New("lead not found")
)
