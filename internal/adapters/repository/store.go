// Package repository defines the persistence contracts for leads, events,
// scoring rules and score history, plus an in-memory implementation.
package repository

import (
	"context"
	"time"

	"github.com/okian/leadflow/internal/domain/model"
)

// LeadStore holds lead records.
type LeadStore interface {
	// CreateLead stores a new lead. An empty ID is generated, a zero
	// CreatedAt is set to now. Returns ErrDuplicateEmail if the email is taken.
	CreateLead(ctx context.Context, lead model.Lead) (model.Lead, error)
	// GetLead returns ErrNotFound for unknown ids.
	GetLead(ctx context.Context, id string) (model.Lead, error)
	// ListLeads returns leads ordered by score desc. limit <= 0 returns all.
	ListLeads(ctx context.Context, limit int) ([]model.Lead, error)
	// LeadIDs returns every lead id.
	LeadIDs(ctx context.Context) ([]string, error)
	CountLeads(ctx context.Context) (int, error)
}

// EventLog is the append-only log of accepted events.
type EventLog interface {
	// AppendEvent stores ev and assigns its arrival sequence.
	// Returns ErrDuplicateEvent if the event id already exists.
	AppendEvent(ctx context.Context, ev model.Event) (model.Event, error)
	// FindEvent returns ErrNotFound for unknown ids.
	FindEvent(ctx context.Context, eventID string) (model.Event, error)
	// LeadEvents returns a lead's events ordered by timestamp, then arrival.
	LeadEvents(ctx context.Context, leadID string) ([]model.Event, error)
	// ListEvents returns events newest first.
	ListEvents(ctx context.Context, filter model.EventFilter) ([]model.Event, error)
	// MarkProcessed flips the processed flag. Unknown ids are ignored.
	MarkProcessed(ctx context.Context, eventIDs ...string) error
	// UnprocessedEvents returns up to limit unprocessed events received before cutoff, oldest first.
	UnprocessedEvents(ctx context.Context, cutoff time.Time, limit int) ([]model.Event, error)
}

// RuleStore holds scoring rules keyed by event type.
type RuleStore interface {
	ListRules(ctx context.Context) ([]model.ScoringRule, error)
	// ActiveRules returns points for every active rule.
	ActiveRules(ctx context.Context) (map[string]int64, error)
	UpsertRule(ctx context.Context, rule model.ScoringRule) (model.ScoringRule, error)
	// InsertRuleIfAbsent stores rule only when its event type is unknown.
	InsertRuleIfAbsent(ctx context.Context, rule model.ScoringRule) (bool, error)
}

// HistoryLedger records score transitions.
type HistoryLedger interface {
	// ApplyScoreChange sets the lead's score to entry.NewScore, bumps its
	// version and appends entry in one step, provided the stored version
	// still equals version. Returns ErrScoreConflict otherwise and
	// ErrNotFound for unknown leads.
	ApplyScoreChange(ctx context.Context, version int64, entry model.ScoreHistoryEntry) (model.ScoreHistoryEntry, error)
	// History returns a lead's entries newest first. limit <= 0 returns all.
	History(ctx context.Context, leadID string, limit int) ([]model.ScoreHistoryEntry, error)
}

// Store is the full persistence surface used by the service.
type Store interface {
	LeadStore
	EventLog
	RuleStore
	HistoryLedger
	Close() error
}
