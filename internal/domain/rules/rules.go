// Package rules seeds and summarizes scoring rules.
package rules

import (
	"context"
	"fmt"
	"sort"

	"github.com/okian/leadflow/internal/domain/model"
)

// Store is the subset of the rule store needed for seeding.
type Store interface {
	InsertRuleIfAbsent(ctx context.Context, rule model.ScoringRule) (bool, error)
}

// Defaults returns the built-in rule weights.
func Defaults() map[string]int64 {
	return map[string]int64{
		"email_open":      10,
		"page_view":       5,
		"form_submission": 20,
		"demo_request":    50,
		"purchase":        100,
	}
}

// Seed inserts an active rule for every default event type that is not
// stored yet. Existing rules are never overwritten. Returns how many rules
// were created.
func Seed(ctx context.Context, store Store, defaults map[string]int64) (int, error) {
	types := make([]string, 0, len(defaults))
	for t := range defaults {
		types = append(types, t)
	}
	sort.Strings(types)

	created := 0
	for _, t := range types {
		ok, err := store.InsertRuleIfAbsent(ctx, model.ScoringRule{EventType: t, Points: defaults[t], IsActive: true})
		if err != nil {
			return created, fmt.Errorf("seed rule %s: %w", t, err)
		}
		if ok {
			created++
		}
	}
	return created, nil
}

// Score sums the points of events under the given active weights. Event
// types without an active rule contribute zero.
func Score(events []model.Event, active map[string]int64) int64 {
	var total int64
	for _, ev := range events {
		total += active[ev.Type]
	}
	return total
}
