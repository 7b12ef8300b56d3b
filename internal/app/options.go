package service

import (
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/okian/leadflow/internal/adapters/http/api"
	"github.com/okian/leadflow/internal/adapters/lock"
	"github.com/okian/leadflow/internal/adapters/repository"
	"github.com/okian/leadflow/internal/domain/notify"
	"github.com/okian/leadflow/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithStore sets the persistence backend. The service closes it on Stop.
func WithStore(store repository.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.store = store
		}
	}
}

// WithLocker sets the per-lead lock implementation.
func WithLocker(l lock.Locker) Option {
	return func(s *Service) {
		if l != nil {
			s.locker = l
		}
	}
}

// WithRedisLock serializes recalculations across instances through Redis.
// The client is closed on Stop.
func WithRedisLock(client redis.UniversalClient, ttl time.Duration) Option {
	return func(s *Service) {
		if client == nil {
			return
		}
		s.redis = client
		s.lockTTL = ttl
		s.closers = append(s.closers, client.Close)
	}
}

// WithPublisher adds a notification sink next to the websocket hub. A sink
// with a Close() error method is closed on Stop.
func WithPublisher(p notify.Publisher) Option {
	return func(s *Service) {
		if p == nil {
			return
		}
		s.publishers = append(s.publishers, p)
		if c, ok := p.(interface{ Close() error }); ok {
			s.closers = append(s.closers, c.Close)
		}
	}
}

// WithWorkerCount sets the number of recalculation workers.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the maximum size of the recalculation queue.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithDedupeSize sets the size of the committed event id cache.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.dedupeSize = size
		}
	}
}

// WithConflictRetries bounds optimistic write retries per recalculation.
func WithConflictRetries(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.conflictRetries = n
		}
	}
}

// WithDefaultRules sets the rules seeded on start.
func WithDefaultRules(rules map[string]int64) Option {
	return func(s *Service) {
		if len(rules) > 0 {
			s.defaultRules = rules
		}
	}
}

// WithReconcile sets how often unprocessed events are swept and how old
// they must be. A non-positive interval disables the sweep.
func WithReconcile(interval, grace time.Duration) Option {
	return func(s *Service) {
		s.reconcileInterval = interval
		if grace >= 0 {
			s.reconcileGrace = grace
		}
	}
}

// WithRecalcOnRuleChange queues a recalculation of every lead after each
// rule upsert.
func WithRecalcOnRuleChange(enabled bool) Option {
	return func(s *Service) {
		s.recalcOnRuleChange = enabled
	}
}

// WithAPIOptions passes options to the HTTP server built by Handler.
func WithAPIOptions(opts ...api.Option) Option {
	return func(s *Service) {
		s.apiOptions = append(s.apiOptions, opts...)
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}
