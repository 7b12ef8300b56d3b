package scoring

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/okian/leadflow/internal/adapters/repository"
	"github.com/okian/leadflow/internal/domain/model"
	"github.com/okian/leadflow/internal/domain/notify"
	"github.com/okian/leadflow/internal/domain/rules"
	"github.com/okian/leadflow/pkg/logger"
	"github.com/okian/leadflow/pkg/metrics"
)

// RecalculateScore replays the lead's full event log through the current
// active rules and returns the resulting score. A ledger entry and a
// notification are produced only when the score changed.
func (e *Engine) RecalculateScore(ctx context.Context, leadID string) (int64, error) {
	return e.recalculate(ctx, leadID, ReasonManual, model.RecalcEventID)
}

// Reconcile replays job.LeadID and then marks job.EventIDs processed.
func (e *Engine) Reconcile(ctx context.Context, job model.RecalcJob) error {
	reason := job.Reason
	if reason == "" {
		reason = ReasonReconcile
	}
	if _, err := e.recalculate(ctx, job.LeadID, reason, model.RecalcEventID); err != nil {
		return err
	}
	if len(job.EventIDs) == 0 {
		return nil
	}
	if err := e.store.MarkProcessed(ctx, job.EventIDs...); err != nil {
		return fmt.Errorf("mark %d events processed: %w", len(job.EventIDs), err)
	}
	return nil
}

// recalculate serializes on the lead, then writes the replayed score with
// a compare-and-swap on the lead version read before the event log. A lost
// race (another instance or a store without our lock) is replayed up to
// conflictRetries times.
func (e *Engine) recalculate(ctx context.Context, leadID, reason, eventID string) (int64, error) {
	waitStart := time.Now()
	unlock, err := e.locker.Lock(ctx, leadID)
	if err != nil {
		return 0, fmt.Errorf("lock lead %s: %w", leadID, err)
	}
	defer unlock()
	metrics.RecordLockWait(float64(time.Since(waitStart).Microseconds()) / 1000)

	start := time.Now()
	for attempt := 0; ; attempt++ {
		lead, err := e.store.GetLead(ctx, leadID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return 0, fmt.Errorf("%w: %s", ErrLeadNotFound, leadID)
			}
			return 0, fmt.Errorf("load lead %s: %w", leadID, err)
		}
		events, err := e.store.LeadEvents(ctx, leadID)
		if err != nil {
			return 0, fmt.Errorf("load events for %s: %w", leadID, err)
		}
		active, err := e.store.ActiveRules(ctx)
		if err != nil {
			return 0, fmt.Errorf("load active rules: %w", err)
		}

		newScore := rules.Score(events, active)
		if newScore == lead.Score {
			metrics.RecordRecalculation(sinceMs(start), false)
			return newScore, nil
		}

		entry := model.ScoreHistoryEntry{
			LeadID:      leadID,
			ScoreChange: newScore - lead.Score,
			NewScore:    newScore,
			Reason:      reason,
			Timestamp:   e.now().UTC(),
			EventID:     eventID,
			Rules:       active,
		}
		_, err = e.store.ApplyScoreChange(ctx, lead.Version, entry)
		if errors.Is(err, repository.ErrScoreConflict) && attempt < e.conflictRetries {
			metrics.RecordScoreConflict()
			e.log.Debug(ctx, "score write conflict, replaying", logger.String("leadId", leadID), logger.Int("attempt", attempt+1))
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("apply score change for %s: %w", leadID, err)
		}

		metrics.RecordRecalculation(sinceMs(start), true)
		e.log.Debug(ctx, "lead score changed",
			logger.String("leadId", leadID), logger.Int64("newScore", newScore), logger.Int64("scoreChange", entry.ScoreChange))
		e.publish(ctx, notify.ScoreUpdate{LeadID: leadID, NewScore: newScore, ScoreChange: entry.ScoreChange})
		return newScore, nil
	}
}

func sinceMs(t time.Time) float64 {
	return float64(time.Since(t).Microseconds()) / 1000
}
