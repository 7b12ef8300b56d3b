// Package scoring derives lead engagement scores from the event log.
//
// A lead's score is always the sum of active rule points over its full,
// ordered event history. The stored score is a cache of that sum and is
// only written here, under a per-lead lock and an optimistic check on the
// previous value.
package scoring

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/okian/leadflow/internal/adapters/lock"
	"github.com/okian/leadflow/internal/adapters/repository"
	"github.com/okian/leadflow/internal/domain/dedupe"
	"github.com/okian/leadflow/internal/domain/model"
	"github.com/okian/leadflow/internal/domain/notify"
	"github.com/okian/leadflow/internal/domain/rules"
	"github.com/okian/leadflow/pkg/idgen"
	"github.com/okian/leadflow/pkg/logger"
	"github.com/okian/leadflow/pkg/metrics"
)

// History reasons.
const (
	ReasonEvent     = "Recalculation triggered by event processing"
	ReasonManual    = "Manual recalculation"
	ReasonBulk      = "Bulk recalculation"
	ReasonReconcile = "Reconciliation of unprocessed events"
)

const defaultConflictRetries = 5

// Store is the persistence surface the engine needs.
type Store interface {
	repository.LeadStore
	repository.EventLog
	repository.RuleStore
	repository.HistoryLedger
}

// Engine ingests events and keeps lead scores consistent with the log.
type Engine struct {
	store     Store
	locker    lock.Locker
	dedupe    dedupe.Deduper
	publisher notify.Publisher
	log       logger.Logger

	conflictRetries int
	defaultRules    map[string]int64
	now             func() time.Time
	newEventID      func() string
}

// New creates an engine over store.
func New(store Store, opts ...Option) *Engine {
	e := &Engine{
		store:           store,
		locker:          lock.NewLocal(),
		dedupe:          dedupe.NewInMemoryDeduper(),
		publisher:       notify.Noop{},
		log:             logger.NewNop(),
		conflictRetries: defaultConflictRetries,
		defaultRules:    rules.Defaults(),
		now:             time.Now,
		newEventID:      idgen.EventID,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SeedDefaultRules creates every default rule that does not exist yet.
func (e *Engine) SeedDefaultRules(ctx context.Context) error {
	created, err := rules.Seed(ctx, e.store, e.defaultRules)
	if err != nil {
		return err
	}
	if created > 0 {
		e.log.Info(ctx, "seeded default scoring rules", logger.Int("created", created))
	}
	return nil
}

// UpsertRule creates or replaces the rule for rule.EventType.
func (e *Engine) UpsertRule(ctx context.Context, rule model.ScoringRule) (model.ScoringRule, error) {
	rule.EventType = strings.TrimSpace(rule.EventType)
	if rule.EventType == "" {
		return model.ScoringRule{}, fmt.Errorf("%w: event type is required", ErrValidation)
	}
	saved, err := e.store.UpsertRule(ctx, rule)
	if err != nil {
		return model.ScoringRule{}, fmt.Errorf("upsert rule %s: %w", rule.EventType, err)
	}
	e.log.Info(ctx, "scoring rule updated",
		logger.String("eventType", saved.EventType), logger.Int64("points", saved.Points), logger.Bool("active", saved.IsActive))
	return saved, nil
}

// RegisterLead validates and stores a new lead with score 0.
func (e *Engine) RegisterLead(ctx context.Context, name, email, status string) (model.Lead, error) {
	name, email = strings.TrimSpace(name), strings.TrimSpace(email)
	if name == "" || email == "" {
		return model.Lead{}, fmt.Errorf("%w: name and email are required", ErrValidation)
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return model.Lead{}, fmt.Errorf("%w: invalid email %q", ErrValidation, email)
	}
	st, err := model.ParseLeadStatus(status)
	if err != nil {
		return model.Lead{}, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	lead, err := e.store.CreateLead(ctx, model.Lead{Name: name, Email: email, Status: st, CreatedAt: e.now().UTC()})
	if err != nil {
		return model.Lead{}, fmt.Errorf("register lead: %w", err)
	}
	return lead, nil
}

// isDuplicate reports whether eventID is already committed. The cache
// answers positives; misses are confirmed against the log.
func (e *Engine) isDuplicate(ctx context.Context, eventID string) (bool, error) {
	if e.dedupe.Seen(ctx, eventID) {
		return true, nil
	}
	_, err := e.store.FindEvent(ctx, eventID)
	switch {
	case err == nil:
		e.dedupe.SeenAndRecord(ctx, eventID)
		return true, nil
	case errors.Is(err, repository.ErrNotFound):
		return false, nil
	default:
		return false, fmt.Errorf("lookup event %s: %w", eventID, err)
	}
}

func (e *Engine) publish(ctx context.Context, update notify.ScoreUpdate) {
	if err := e.publisher.Publish(ctx, notify.TopicScoreUpdate, update); err != nil {
		metrics.RecordNotification("failed")
		e.log.Warn(ctx, "score update not delivered", logger.String("leadId", update.LeadID), logger.Error(err))
		return
	}
	metrics.RecordNotification("published")
}
