package service

import (
	"context"
	"fmt"
	"time"

	"github.com/okian/leadflow/internal/domain/model"
	"github.com/okian/leadflow/internal/domain/scoring"
	"github.com/okian/leadflow/pkg/logger"
	"github.com/okian/leadflow/pkg/metrics"
)

// reconcileLoop sweeps unprocessed events until Stop.
func (s *Service) reconcileLoop(ctx context.Context) {
	defer close(s.reconcileDone)

	ticker := time.NewTicker(s.reconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			if _, err := s.ReconcileOnce(ctx); err != nil {
				s.logger.Warn(ctx, "reconciliation sweep failed", logger.Error(err))
			}
		}
	}
}

// ReconcileOnce queues one recalculation per lead that has events still
// unprocessed after the grace period, and returns the number of jobs queued.
// Events belonging to a job are marked processed by the worker that runs it.
func (s *Service) ReconcileOnce(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.reconcileGrace)
	events, err := s.store.UnprocessedEvents(ctx, cutoff, reconcileBatch)
	if err != nil {
		return 0, fmt.Errorf("list unprocessed events: %w", err)
	}
	metrics.UpdateUnprocessedEvents(len(events))
	if len(events) == 0 {
		return 0, nil
	}

	var order []string
	byLead := make(map[string][]string)
	for _, ev := range events {
		if _, ok := byLead[ev.LeadID]; !ok {
			order = append(order, ev.LeadID)
		}
		byLead[ev.LeadID] = append(byLead[ev.LeadID], ev.EventID)
	}

	queued := 0
	for _, leadID := range order {
		job := model.RecalcJob{LeadID: leadID, Reason: scoring.ReasonReconcile, EventIDs: byLead[leadID]}
		if err := s.queue.Enqueue(ctx, job); err != nil {
			return queued, err
		}
		queued++
	}

	s.logger.Info(ctx, "reconciliation queued",
		logger.Int("events", len(events)), logger.Int("leads", queued))
	return queued, nil
}
