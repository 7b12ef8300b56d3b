package scoring_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/leadflow/internal/adapters/repository"
	"github.com/okian/leadflow/internal/domain/model"
	"github.com/okian/leadflow/internal/domain/notify"
)

var errStoreDown = errors.New("store down")

// faultyStore wraps the memory store with switchable failures.
type faultyStore struct {
	*repository.MemoryStore

	conflicts     atomic.Int32 // ApplyScoreChange calls left to fail with ErrScoreConflict
	failRules     atomic.Bool
	applyCalls    atomic.Int32
	failFindEvent atomic.Bool
	failAppend    atomic.Bool
}

func newFaultyStore() *faultyStore {
	return &faultyStore{MemoryStore: repository.NewMemoryStore()}
}

func (s *faultyStore) ApplyScoreChange(ctx context.Context, version int64, entry model.ScoreHistoryEntry) (model.ScoreHistoryEntry, error) {
	s.applyCalls.Add(1)
	if s.conflicts.Load() > 0 {
		s.conflicts.Add(-1)
		return model.ScoreHistoryEntry{}, fmt.Errorf("injected: %w", repository.ErrScoreConflict)
	}
	return s.MemoryStore.ApplyScoreChange(ctx, version, entry)
}

func (s *faultyStore) ActiveRules(ctx context.Context) (map[string]int64, error) {
	if s.failRules.Load() {
		return nil, errStoreDown
	}
	return s.MemoryStore.ActiveRules(ctx)
}

func (s *faultyStore) AppendEvent(ctx context.Context, ev model.Event) (model.Event, error) {
	if s.failAppend.Load() {
		return model.Event{}, errStoreDown
	}
	return s.MemoryStore.AppendEvent(ctx, ev)
}

func (s *faultyStore) FindEvent(ctx context.Context, id string) (model.Event, error) {
	if s.failFindEvent.Load() {
		return model.Event{}, errStoreDown
	}
	return s.MemoryStore.FindEvent(ctx, id)
}

// recordingPublisher keeps every score update it receives.
type recordingPublisher struct {
	mu      sync.Mutex
	updates []notify.ScoreUpdate
	err     error
}

func (p *recordingPublisher) Publish(_ context.Context, topic string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if topic == notify.TopicScoreUpdate {
		if u, ok := payload.(notify.ScoreUpdate); ok {
			p.updates = append(p.updates, u)
		}
	}
	return p.err
}

func (p *recordingPublisher) all() []notify.ScoreUpdate {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]notify.ScoreUpdate(nil), p.updates...)
}

func mustLead(ctx context.Context, s repository.LeadStore, id string) model.Lead {
	lead, err := s.CreateLead(ctx, model.Lead{ID: id, Name: id, Email: id + "@example.com"})
	if err != nil {
		panic(err)
	}
	return lead
}

func mustRule(ctx context.Context, s repository.RuleStore, eventType string, points int64, active bool) {
	if _, err := s.UpsertRule(ctx, model.ScoringRule{EventType: eventType, Points: points, IsActive: active}); err != nil {
		panic(err)
	}
}

func fixedClock() func() time.Time {
	var tick atomic.Int64
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	return func() time.Time {
		return base.Add(time.Duration(tick.Add(1)) * time.Millisecond)
	}
}

// pausingStore blocks the first LeadEvents call after it has read the log
// until release is closed.
type pausingStore struct {
	*repository.MemoryStore

	once    sync.Once
	reached chan struct{}
	release chan struct{}
}

func newPausingStore(s *repository.MemoryStore) *pausingStore {
	return &pausingStore{MemoryStore: s, reached: make(chan struct{}), release: make(chan struct{})}
}

func (s *pausingStore) LeadEvents(ctx context.Context, leadID string) ([]model.Event, error) {
	events, err := s.MemoryStore.LeadEvents(ctx, leadID)
	s.once.Do(func() {
		close(s.reached)
		<-s.release
	})
	return events, err
}
