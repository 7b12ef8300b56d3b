package api

import (
	"errors"
	"net/http"

	"github.com/okian/leadflow/internal/adapters/lock"
	"github.com/okian/leadflow/internal/adapters/mq/queue"
	"github.com/okian/leadflow/internal/adapters/repository"
	"github.com/okian/leadflow/internal/domain/scoring"
)

// Sentinel kinds for API errors.
var (
	ErrBadRequest  = errors.New("bad request")
	ErrRateLimited = errors.New("rate limit exceeded")
)

// statusFor maps an error to its HTTP status and response code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, ErrBadRequest), errors.Is(err, scoring.ErrValidation):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, scoring.ErrLeadNotFound), errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, repository.ErrDuplicateEmail):
		return http.StatusConflict, "duplicate_email"
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, "rate_limited"
	case errors.Is(err, queue.ErrFull), errors.Is(err, queue.ErrClosed), errors.Is(err, lock.ErrNotAcquired):
		return http.StatusServiceUnavailable, "unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
