package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/okian/leadflow/internal/adapters/http/api"
	"github.com/okian/leadflow/internal/adapters/repository"
	"github.com/okian/leadflow/internal/domain/model"
	"github.com/okian/leadflow/internal/domain/scoring"
	"github.com/okian/leadflow/internal/domain/types"
	"github.com/okian/leadflow/pkg/logger"
	"github.com/okian/leadflow/pkg/metrics"
)

var _ api.Dependencies = (*Service)(nil)

// RegisterLead stores a new lead with score 0.
func (s *Service) RegisterLead(ctx context.Context, name, email, status string) (model.Lead, error) {
	lead, err := s.engine.RegisterLead(ctx, name, email, status)
	if err != nil {
		return model.Lead{}, err
	}
	if n, err := s.store.CountLeads(ctx); err == nil {
		metrics.UpdateTotalLeads(n)
	}
	return lead, nil
}

// GetLead returns scoring.ErrLeadNotFound for unknown ids.
func (s *Service) GetLead(ctx context.Context, id string) (model.Lead, error) {
	lead, err := s.store.GetLead(ctx, id)
	if err != nil {
		return model.Lead{}, notFound(id, err)
	}
	return lead, nil
}

// ListLeads returns leads by score desc.
func (s *Service) ListLeads(ctx context.Context, limit int) ([]model.Lead, error) {
	return s.store.ListLeads(ctx, limit)
}

// History returns the lead's score ledger newest first.
func (s *Service) History(ctx context.Context, leadID string, limit int) ([]model.ScoreHistoryEntry, error) {
	return s.store.History(ctx, leadID, limit)
}

// RecalculateScore replays the lead synchronously.
func (s *Service) RecalculateScore(ctx context.Context, leadID string) (int64, error) {
	return s.engine.RecalculateScore(ctx, leadID)
}

// ProcessEvent ingests a single event.
func (s *Service) ProcessEvent(ctx context.Context, in model.EventInput) (model.ProcessResult, error) {
	return s.engine.ProcessEvent(ctx, in)
}

// ProcessBatch ingests uploaded rows.
func (s *Service) ProcessBatch(ctx context.Context, rows []model.Row) model.BatchResult {
	return s.engine.ProcessBatch(ctx, rows)
}

// ListEvents returns events newest first.
func (s *Service) ListEvents(ctx context.Context, filter model.EventFilter) ([]model.Event, error) {
	return s.store.ListEvents(ctx, filter)
}

// ListRules returns every scoring rule.
func (s *Service) ListRules(ctx context.Context) ([]model.ScoringRule, error) {
	return s.store.ListRules(ctx)
}

// UpsertRule saves rule. Existing scores are left as they are unless the
// service was built with WithRecalcOnRuleChange.
func (s *Service) UpsertRule(ctx context.Context, rule model.ScoringRule) (model.ScoringRule, error) {
	saved, err := s.engine.UpsertRule(ctx, rule)
	if err != nil {
		return model.ScoringRule{}, err
	}
	if s.recalcOnRuleChange {
		if n, err := s.RecalculateAll(ctx); err != nil {
			s.logger.Warn(ctx, "bulk recalculation after rule change incomplete",
				logger.String("eventType", saved.EventType), logger.Int("enqueued", n), logger.Error(err))
		}
	}
	return saved, nil
}

// RecalculateAll queues a replay of every lead and returns how many were
// queued. It stops at the first enqueue failure.
func (s *Service) RecalculateAll(ctx context.Context) (int, error) {
	ids, err := s.store.LeadIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list lead ids: %w", err)
	}
	for i, id := range ids {
		if err := s.queue.Enqueue(ctx, model.RecalcJob{LeadID: id, Reason: scoring.ReasonBulk}); err != nil {
			return i, err
		}
	}
	metrics.UpdateQueueSize(s.queue.Len())
	s.logger.Info(ctx, "bulk recalculation queued", logger.Int("leads", len(ids)))
	return len(ids), nil
}

// TopN returns the n highest scored leads with dense ranks.
func (s *Service) TopN(ctx context.Context, n int) ([]types.Entry, error) {
	leads, err := s.store.ListLeads(ctx, n)
	if err != nil {
		return nil, err
	}
	entries := toEntries(leads)
	types.AssignRanks(entries)
	return entries, nil
}

// Rank returns the leaderboard entry for leadID.
func (s *Service) Rank(ctx context.Context, leadID string) (types.Entry, error) {
	if _, err := s.GetLead(ctx, leadID); err != nil {
		return types.Entry{}, err
	}
	leads, err := s.store.ListLeads(ctx, 0)
	if err != nil {
		return types.Entry{}, err
	}
	entries := toEntries(leads)
	types.AssignRanks(entries)
	for _, e := range entries {
		if e.LeadID == leadID {
			return e, nil
		}
	}
	// Created between the two reads.
	return types.Entry{}, fmt.Errorf("%w: %s", scoring.ErrLeadNotFound, leadID)
}

func toEntries(leads []model.Lead) []types.Entry {
	entries := make([]types.Entry, len(leads))
	for i, l := range leads {
		entries[i] = types.Entry{LeadID: l.ID, Name: l.Name, Score: l.Score, Status: string(l.Status)}
	}
	return entries
}

func notFound(id string, err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%w: %s", scoring.ErrLeadNotFound, id)
	}
	return err
}
