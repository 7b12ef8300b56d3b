// Package simulator drives a running lead scoring service over HTTP with
// concurrent, partially duplicated event traffic and checks that every
// lead's score converges to the sum of its accepted events.
package simulator

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidConfig wraps configuration validation failures.
var ErrInvalidConfig = errors.New("invalid simulator config")

// ErrMismatch is returned when a stored score differs from the expected sum.
var ErrMismatch = errors.New("score mismatch")

// Config holds configuration for a simulation run.
type Config struct {
	BaseURL string // service base URL
	Leads   int    // leads to register
	Events  int    // events to submit, duplicates included
	Workers int    // concurrent submitters
	// Rate caps submissions per second; 0 submits as fast as workers allow.
	Rate float64
	// DuplicateRatio is the share of submissions that resend an earlier event id.
	DuplicateRatio float64
	Timeout        time.Duration // per request
	// Settle bounds how long verification waits for scores to converge.
	Settle time.Duration
	Seed   int64
}

// DefaultConfig returns a small run against a local service.
func DefaultConfig() Config {
	return Config{
		BaseURL:        "http://localhost:9080",
		Leads:          20,
		Events:         1000,
		Workers:        8,
		DuplicateRatio: 0.1,
		Timeout:        10 * time.Second,
		Settle:         10 * time.Second,
		Seed:           time.Now().UnixNano(),
	}
}

// Validate checks the run parameters.
func (c Config) Validate() error {
	switch {
	case c.BaseURL == "":
		return fmt.Errorf("%w: base url is required", ErrInvalidConfig)
	case c.Leads < 1:
		return fmt.Errorf("%w: leads must be positive", ErrInvalidConfig)
	case c.Events < 0:
		return fmt.Errorf("%w: events must not be negative", ErrInvalidConfig)
	case c.Workers < 1:
		return fmt.Errorf("%w: workers must be positive", ErrInvalidConfig)
	case c.Rate < 0:
		return fmt.Errorf("%w: rate must not be negative", ErrInvalidConfig)
	case c.DuplicateRatio < 0 || c.DuplicateRatio >= 1:
		return fmt.Errorf("%w: duplicate ratio must be in [0,1)", ErrInvalidConfig)
	}
	return nil
}

// Stats summarizes a run.
type Stats struct {
	LeadsCreated    int           `json:"leadsCreated"`
	Submitted       int           `json:"submitted"`
	Processed       int           `json:"processed"`
	Skipped         int           `json:"skipped"`
	Failed          int           `json:"failed"`
	LeadsVerified   int           `json:"leadsVerified"`
	Duration        time.Duration `json:"duration"`
	EventsPerSecond float64       `json:"eventsPerSecond"`
}
