// Package model contains domain models passed between layers.
package model

import "time"

// RecalcEventID is the history correlation id used when a recalculation
// was not triggered by a single ingested event.
const RecalcEventID = "recalc"

// Event is an accepted lead interaction in the event log.
type Event struct {
	EventID    string         `json:"eventId"`   // unique id for idempotency
	LeadID     string         `json:"leadId"`    // lead the event belongs to
	Type       string         `json:"type"`      // matched against rule event types
	Metadata   map[string]any `json:"metadata"`  // opaque caller data
	Timestamp  time.Time      `json:"timestamp"` // logical event time
	ReceivedAt time.Time      `json:"receivedAt"`
	Seq        int64          `json:"-"` // arrival order, breaks timestamp ties
	Processed  bool           `json:"processed"`
}

// EventInput is a candidate event as submitted by a caller. EventID and
// Timestamp are optional and defaulted by the engine.
type EventInput struct {
	EventID   string
	LeadID    string
	Type      string
	Metadata  map[string]any
	Timestamp time.Time
}

// EventFilter narrows event listings.
type EventFilter struct {
	LeadID string
	Limit  int
}

// ProcessStatus is the outcome of submitting one event.
type ProcessStatus string

// Process outcomes.
const (
	StatusProcessed ProcessStatus = "processed"
	StatusSkipped   ProcessStatus = "skipped"
)

// ProcessResult is returned by event ingestion.
type ProcessResult struct {
	Status  ProcessStatus `json:"status"`
	EventID string        `json:"eventId"`
	Message string        `json:"message,omitempty"`
}

// Row is a row-like record produced by an upload adapter.
type Row map[string]string

// RowError describes why a single batch row was rejected.
type RowError struct {
	Index int    `json:"index"`
	Row   Row    `json:"row"`
	Error string `json:"error"`
}

// BatchResult summarizes a batch ingestion.
type BatchResult struct {
	Total     int        `json:"total"`
	Processed int        `json:"processed"`
	Skipped   int        `json:"skipped"`
	Errors    []RowError `json:"errors"`
}

// RecalcJob asks a worker to replay a lead's score. EventIDs lists events
// that should be marked processed once the replay succeeds.
type RecalcJob struct {
	LeadID   string
	Reason   string
	EventIDs []string
}
