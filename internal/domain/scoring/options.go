package scoring

import (
	"time"

	"github.com/okian/leadflow/internal/adapters/lock"
	"github.com/okian/leadflow/internal/domain/dedupe"
	"github.com/okian/leadflow/internal/domain/notify"
	"github.com/okian/leadflow/pkg/logger"
)

// Option applies a configuration option to the Engine.
type Option func(*Engine)

// WithLocker sets the per-lead lock used around recalculation.
func WithLocker(l lock.Locker) Option {
	return func(e *Engine) {
		if l != nil {
			e.locker = l
		}
	}
}

// WithDeduper sets the committed event id cache.
func WithDeduper(d dedupe.Deduper) Option {
	return func(e *Engine) {
		if d != nil {
			e.dedupe = d
		}
	}
}

// WithPublisher sets where score changes are announced.
func WithPublisher(p notify.Publisher) Option {
	return func(e *Engine) {
		if p != nil {
			e.publisher = p
		}
	}
}

// WithLogger sets the engine logger.
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithConflictRetries bounds how often a recalculation is replayed after
// losing an optimistic score write.
func WithConflictRetries(n int) Option {
	return func(e *Engine) {
		if n >= 0 {
			e.conflictRetries = n
		}
	}
}

// WithDefaultRules overrides the rules created by SeedDefaultRules.
func WithDefaultRules(defaults map[string]int64) Option {
	return func(e *Engine) {
		if len(defaults) > 0 {
			e.defaultRules = defaults
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithEventIDGenerator overrides how missing event ids are generated.
func WithEventIDGenerator(gen func() string) Option {
	return func(e *Engine) {
		if gen != nil {
			e.newEventID = gen
		}
	}
}
