package repository

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/okian/leadflow/internal/domain/model"
	"github.com/okian/leadflow/pkg/idgen"
)

// MemoryStore is a Store kept entirely in process memory. Lead scores are
// indexed in a treap so ListLeads is O(k log n).
type MemoryStore struct {
	mu sync.RWMutex

	now       func() time.Time
	newLeadID func() (string, error)

	leads   map[string]model.Lead
	byEmail map[string]string
	index   *scoreIndex

	events  map[string]*model.Event
	byLead  map[string][]*model.Event // ordered by (timestamp, seq)
	arrival []*model.Event
	seq     int64

	rules map[string]model.ScoringRule

	history   map[string][]model.ScoreHistoryEntry // oldest first
	historyID int64
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	s := &MemoryStore{
		now:       time.Now,
		newLeadID: idgen.LeadID,
		leads:     make(map[string]model.Lead),
		byEmail:   make(map[string]string),
		index:     newScoreIndex(),
		events:    make(map[string]*model.Event),
		byLead:    make(map[string][]*model.Event),
		rules:     make(map[string]model.ScoringRule),
		history:   make(map[string][]model.ScoreHistoryEntry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close implements Store. The memory store holds no resources.
func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) CreateLead(_ context.Context, lead model.Lead) (model.Lead, error) {
	email := strings.ToLower(strings.TrimSpace(lead.Email))

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.byEmail[email]; taken {
		return model.Lead{}, fmt.Errorf("create lead %s: %w", lead.Email, ErrDuplicateEmail)
	}
	if lead.ID == "" {
		id, err := s.newLeadID()
		if err != nil {
			return model.Lead{}, fmt.Errorf("create lead: %w", err)
		}
		lead.ID = id
	}
	if _, exists := s.leads[lead.ID]; exists {
		return model.Lead{}, fmt.Errorf("create lead: id %s already exists", lead.ID)
	}
	if lead.Status == "" {
		lead.Status = model.LeadNew
	}
	if lead.CreatedAt.IsZero() {
		lead.CreatedAt = s.now().UTC()
	}

	s.leads[lead.ID] = lead
	s.byEmail[email] = lead.ID
	s.index.set(lead.ID, lead.Score)
	return lead, nil
}

func (s *MemoryStore) GetLead(_ context.Context, id string) (model.Lead, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lead, ok := s.leads[id]
	if !ok {
		return model.Lead{}, fmt.Errorf("lead %s: %w", id, ErrNotFound)
	}
	return lead, nil
}

func (s *MemoryStore) ListLeads(_ context.Context, limit int) ([]model.Lead, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.index.top(limit)
	out := make([]model.Lead, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.leads[id])
	}
	return out, nil
}

func (s *MemoryStore) LeadIDs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.leads))
	for id := range s.leads {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *MemoryStore) CountLeads(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.leads), nil
}

func (s *MemoryStore) AppendEvent(_ context.Context, ev model.Event) (model.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.events[ev.EventID]; exists {
		return model.Event{}, fmt.Errorf("append event %s: %w", ev.EventID, ErrDuplicateEvent)
	}
	s.seq++
	ev.Seq = s.seq
	ev.Metadata = maps.Clone(ev.Metadata)

	stored := &ev
	s.events[ev.EventID] = stored
	s.arrival = append(s.arrival, stored)

	list := s.byLead[ev.LeadID]
	i := sort.Search(len(list), func(i int) bool { return eventBefore(stored, list[i]) })
	list = append(list, nil)
	copy(list[i+1:], list[i:])
	list[i] = stored
	s.byLead[ev.LeadID] = list

	return ev, nil
}

// eventBefore orders by logical time, ties broken by arrival.
func eventBefore(a, b *model.Event) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.Before(b.Timestamp)
	}
	return a.Seq < b.Seq
}

func (s *MemoryStore) FindEvent(_ context.Context, eventID string) (model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ev, ok := s.events[eventID]
	if !ok {
		return model.Event{}, fmt.Errorf("event %s: %w", eventID, ErrNotFound)
	}
	return *ev, nil
}

func (s *MemoryStore) LeadEvents(_ context.Context, leadID string) ([]model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.byLead[leadID]
	out := make([]model.Event, len(list))
	for i, ev := range list {
		out[i] = *ev
	}
	return out, nil
}

func (s *MemoryStore) ListEvents(_ context.Context, filter model.EventFilter) ([]model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Event
	for i := len(s.arrival) - 1; i >= 0; i-- {
		ev := s.arrival[i]
		if filter.LeadID != "" && ev.LeadID != filter.LeadID {
			continue
		}
		out = append(out, *ev)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) MarkProcessed(_ context.Context, eventIDs ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range eventIDs {
		if ev, ok := s.events[id]; ok {
			ev.Processed = true
		}
	}
	return nil
}

func (s *MemoryStore) UnprocessedEvents(_ context.Context, cutoff time.Time, limit int) ([]model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Event
	for _, ev := range s.arrival {
		if ev.Processed || !ev.ReceivedAt.Before(cutoff) {
			continue
		}
		out = append(out, *ev)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) ListRules(_ context.Context) ([]model.ScoringRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.ScoringRule, 0, len(s.rules))
	for _, r := range s.rules {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EventType < out[j].EventType })
	return out, nil
}

func (s *MemoryStore) ActiveRules(_ context.Context) (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]int64, len(s.rules))
	for _, r := range s.rules {
		if r.IsActive {
			out[r.EventType] = r.Points
		}
	}
	return out, nil
}

func (s *MemoryStore) UpsertRule(_ context.Context, rule model.ScoringRule) (model.ScoringRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rules[rule.EventType] = rule
	return rule, nil
}

func (s *MemoryStore) InsertRuleIfAbsent(_ context.Context, rule model.ScoringRule) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rules[rule.EventType]; exists {
		return false, nil
	}
	s.rules[rule.EventType] = rule
	return true, nil
}

func (s *MemoryStore) ApplyScoreChange(_ context.Context, version int64, entry model.ScoreHistoryEntry) (model.ScoreHistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lead, ok := s.leads[entry.LeadID]
	if !ok {
		return model.ScoreHistoryEntry{}, fmt.Errorf("lead %s: %w", entry.LeadID, ErrNotFound)
	}
	if lead.Version != version {
		return model.ScoreHistoryEntry{}, fmt.Errorf("lead %s: version %d, found %d: %w",
			entry.LeadID, version, lead.Version, ErrScoreConflict)
	}

	s.historyID++
	entry.ID = s.historyID
	entry.Rules = maps.Clone(entry.Rules)

	lead.Score = entry.NewScore
	lead.Version++
	s.leads[lead.ID] = lead
	s.index.set(lead.ID, lead.Score)
	s.history[lead.ID] = append(s.history[lead.ID], entry)
	return entry, nil
}

func (s *MemoryStore) History(_ context.Context, leadID string, limit int) ([]model.ScoreHistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.history[leadID]
	n := len(list)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]model.ScoreHistoryEntry, 0, n)
	for i := len(list) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, list[i])
	}
	return out, nil
}
