package simulator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	nanoid "github.com/matoous/go-nanoid/v2"
	"golang.org/x/time/rate"

	"github.com/okian/leadflow/pkg/logger"
)

const (
	runIDAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	runIDLength   = 8
	pollInterval  = 200 * time.Millisecond

	// leaderboardPage stays within the service's default limit cap.
	leaderboardPage = 100
)

// Run registers leads, submits a generated plan and verifies convergence.
func Run(ctx context.Context, cfg Config, log logger.Logger) (Stats, error) {
	if err := cfg.Validate(); err != nil {
		return Stats{}, err
	}
	start := time.Now()
	client := NewClient(cfg.BaseURL, cfg.Timeout)

	log.Info(ctx, "starting lead simulation",
		logger.String("baseURL", cfg.BaseURL),
		logger.Int("leads", cfg.Leads),
		logger.Int("events", cfg.Events),
		logger.Int("workers", cfg.Workers),
		logger.Float64("rate", cfg.Rate),
	)

	if err := client.Health(ctx); err != nil {
		return Stats{}, fmt.Errorf("service health check failed: %w", err)
	}

	points, err := activePoints(ctx, client)
	if err != nil {
		return Stats{}, err
	}

	leadIDs, err := createLeads(ctx, client, cfg.Leads)
	if err != nil {
		return Stats{}, err
	}
	stats := Stats{LeadsCreated: len(leadIDs)}

	plan := NewPlan(cfg.Seed, cfg.Events, leadIDs, points, cfg.DuplicateRatio)
	submit(ctx, client, cfg, plan.Events, &stats, log)

	verified, err := verify(ctx, client, plan.Expected, cfg.Settle)
	stats.LeadsVerified = verified
	stats.Duration = time.Since(start)
	if secs := stats.Duration.Seconds(); secs > 0 {
		stats.EventsPerSecond = float64(stats.Submitted) / secs
	}

	log.Info(ctx, "simulation finished",
		logger.Int("submitted", stats.Submitted),
		logger.Int("processed", stats.Processed),
		logger.Int("skipped", stats.Skipped),
		logger.Int("failed", stats.Failed),
		logger.Int("distinct", plan.Distinct),
		logger.Int("leadsVerified", stats.LeadsVerified),
		logger.Duration("duration", stats.Duration),
	)
	if err != nil {
		return stats, err
	}
	if stats.Failed > 0 {
		return stats, fmt.Errorf("%d submissions failed", stats.Failed)
	}
	return stats, nil
}

func activePoints(ctx context.Context, client *Client) (map[string]int64, error) {
	rules, err := client.Rules(ctx)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	points := make(map[string]int64, len(rules))
	for _, r := range rules {
		if r.IsActive {
			points[r.EventType] = r.Points
		}
	}
	if len(points) == 0 {
		return nil, errors.New("service has no active scoring rules")
	}
	return points, nil
}

func createLeads(ctx context.Context, client *Client, n int) ([]string, error) {
	runID, err := nanoid.Generate(runIDAlphabet, runIDLength)
	if err != nil {
		return nil, fmt.Errorf("generate run id: %w", err)
	}
	ids := make([]string, 0, n)
	for i := range n {
		lead, err := client.CreateLead(ctx,
			fmt.Sprintf("Sim Lead %d", i),
			fmt.Sprintf("sim-%s-%d@example.com", runID, i))
		if err != nil {
			return nil, fmt.Errorf("create lead %d: %w", i, err)
		}
		ids = append(ids, lead.ID)
	}
	return ids, nil
}

// submit fans events out to cfg.Workers submitters sharing one limiter.
func submit(ctx context.Context, client *Client, cfg Config, events []Event, stats *Stats, log logger.Logger) {
	limit := rate.Inf
	if cfg.Rate > 0 {
		limit = rate.Limit(cfg.Rate)
	}
	limiter := rate.NewLimiter(limit, cfg.Workers)

	var processed, skipped, failed atomic.Int64
	ch := make(chan Event, cfg.Workers*2)
	var wg sync.WaitGroup

	for range cfg.Workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ev := range ch {
				if err := limiter.Wait(ctx); err != nil {
					failed.Add(1)
					continue
				}
				outcome, err := client.SubmitEvent(ctx, ev)
				switch outcome {
				case OutcomeProcessed:
					processed.Add(1)
				case OutcomeSkipped:
					skipped.Add(1)
				default:
					failed.Add(1)
					log.Debug(ctx, "event submission failed", logger.String("eventId", ev.EventID), logger.Error(err))
				}
			}
		}()
	}

	for _, ev := range events {
		ch <- ev
	}
	close(ch)
	wg.Wait()

	stats.Submitted = len(events)
	stats.Processed = int(processed.Load())
	stats.Skipped = int(skipped.Load())
	stats.Failed = int(failed.Load())
}

// verify polls until every lead's score matches expected or settle elapses,
// then checks the leaderboard is ordered. It returns how many leads matched.
func verify(ctx context.Context, client *Client, expected map[string]int64, settle time.Duration) (int, error) {
	deadline := time.Now().Add(settle)
	for {
		matched, mismatches, err := compareScores(ctx, client, expected)
		if err != nil {
			return matched, err
		}
		if len(mismatches) == 0 {
			return matched, checkLeaderboard(ctx, client, len(expected))
		}
		if time.Now().After(deadline) {
			return matched, fmt.Errorf("%w: %d leads, first: %s", ErrMismatch, len(mismatches), mismatches[0])
		}
		select {
		case <-ctx.Done():
			return matched, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

func compareScores(ctx context.Context, client *Client, expected map[string]int64) (int, []string, error) {
	matched := 0
	var mismatches []string
	for id, want := range expected {
		lead, err := client.GetLead(ctx, id)
		if err != nil {
			return matched, nil, fmt.Errorf("get lead %s: %w", id, err)
		}
		if lead.Score != want {
			mismatches = append(mismatches, fmt.Sprintf("%s has %d, want %d", id, lead.Score, want))
			continue
		}
		matched++
	}
	return matched, mismatches, nil
}

func checkLeaderboard(ctx context.Context, client *Client, limit int) error {
	entries, err := client.Leaderboard(ctx, min(limit, leaderboardPage))
	if err != nil {
		return fmt.Errorf("get leaderboard: %w", err)
	}
	for i := 1; i < len(entries); i++ {
		if entries[i].Score > entries[i-1].Score || entries[i].Rank < entries[i-1].Rank {
			return fmt.Errorf("leaderboard out of order at position %d", i)
		}
	}
	return nil
}
