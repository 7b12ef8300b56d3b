package simulator

import (
	"math/rand/v2"
	"slices"

	"github.com/google/uuid"
)

// unscoredType has no rule; its events must not move scores.
const unscoredType = "webinar_signup"

// Plan is a generated submission sequence plus the score each lead should
// end with once every distinct event has been applied.
type Plan struct {
	Events   []Event
	Expected map[string]int64
	Distinct int
}

// NewPlan spreads n submissions over leadIDs. Roughly dupRatio of them
// repeat an earlier event id with the same body. points maps active event
// types to their weights.
func NewPlan(seed int64, n int, leadIDs []string, points map[string]int64, dupRatio float64) Plan {
	rng := rand.New(rand.NewPCG(uint64(seed), uint64(seed>>32)))

	types := make([]string, 0, len(points)+1)
	for t := range points {
		types = append(types, t)
	}
	slices.Sort(types)
	types = append(types, unscoredType)

	p := Plan{Events: make([]Event, 0, n), Expected: make(map[string]int64, len(leadIDs))}
	for _, id := range leadIDs {
		p.Expected[id] = 0
	}

	for range n {
		if len(p.Events) > 0 && rng.Float64() < dupRatio {
			p.Events = append(p.Events, p.Events[rng.IntN(len(p.Events))])
			continue
		}
		ev := Event{
			EventID:  uuid.NewString(),
			LeadID:   leadIDs[rng.IntN(len(leadIDs))],
			Type:     types[rng.IntN(len(types))],
			Metadata: map[string]any{"source": "leadsim"},
		}
		p.Events = append(p.Events, ev)
		p.Expected[ev.LeadID] += points[ev.Type]
		p.Distinct++
	}

	rng.Shuffle(len(p.Events), func(i, j int) { p.Events[i], p.Events[j] = p.Events[j], p.Events[i] })
	return p
}
