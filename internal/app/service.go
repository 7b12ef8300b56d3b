// Package service wires storage, the scoring engine, the recalculation
// workers and the notifiers into the dependencies required by the HTTP API.
package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/okian/leadflow/internal/adapters/http/api"
	"github.com/okian/leadflow/internal/adapters/http/swagger"
	"github.com/okian/leadflow/internal/adapters/lock"
	eventqueue "github.com/okian/leadflow/internal/adapters/mq/queue"
	workerpool "github.com/okian/leadflow/internal/adapters/mq/worker"
	"github.com/okian/leadflow/internal/adapters/notifier/ws"
	"github.com/okian/leadflow/internal/adapters/repository"
	"github.com/okian/leadflow/internal/domain/dedupe"
	"github.com/okian/leadflow/internal/domain/notify"
	"github.com/okian/leadflow/internal/domain/rules"
	"github.com/okian/leadflow/internal/domain/scoring"
	"github.com/okian/leadflow/pkg/logger"
	"github.com/okian/leadflow/pkg/metrics"
)

const (
	defaultQueueSize         = 10000
	defaultDedupeSize        = 500000
	defaultReconcileInterval = 30 * time.Second
	defaultReconcileGrace    = 5 * time.Second
	reconcileBatch           = 1000
	stopTimeout              = 10 * time.Second
	workerJobTimeout         = 30 * time.Second
)

// ErrStopped is returned when starting a service that was already stopped.
var ErrStopped = errors.New("service stopped")

// Service implements the API dependencies for the lead scoring system.
type Service struct {
	mu sync.RWMutex

	// Core components
	store   repository.Store
	locker  lock.Locker
	deduper dedupe.Deduper
	engine  *scoring.Engine
	hub     *ws.Hub
	queue   *eventqueue.InMemoryQueue
	pool    *workerpool.Pool

	// Configuration
	redis              redis.UniversalClient
	lockTTL            time.Duration
	publishers         []notify.Publisher
	closers            []func() error
	workerCount        int
	queueSize          int
	dedupeSize         int
	conflictRetries    int
	defaultRules       map[string]int64
	reconcileInterval  time.Duration
	reconcileGrace     time.Duration
	recalcOnRuleChange bool
	apiOptions         []api.Option
	now                func() time.Time

	// State
	started       bool
	stopped       bool
	stopCh        chan struct{}
	reconcileDone chan struct{}

	logger logger.Logger
}

// New constructs a Service. Without WithStore it keeps everything in memory.
func New(opts ...Option) *Service {
	s := &Service{
		workerCount:       runtime.NumCPU() * 2,
		queueSize:         defaultQueueSize,
		dedupeSize:        defaultDedupeSize,
		defaultRules:      rules.Defaults(),
		reconcileInterval: defaultReconcileInterval,
		reconcileGrace:    defaultReconcileGrace,
		now:               time.Now,
		stopCh:            make(chan struct{}),
		reconcileDone:     make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		s.logger = logger.Get()
	}
	if s.store == nil {
		s.store = repository.NewMemoryStore(repository.WithClock(s.now))
	}
	if s.locker == nil {
		if s.redis != nil {
			s.locker = lock.NewRedis(s.redis, s.lockTTL, lock.WithLogger(s.logger.Named("lock")))
		} else {
			s.locker = lock.NewLocal()
		}
	}

	s.hub = ws.NewHub(ws.WithLogger(s.logger.Named("ws")))
	s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))
	s.queue = eventqueue.NewInMemoryQueue(eventqueue.WithCapacity(s.queueSize))

	engineOpts := []scoring.Option{
		scoring.WithLocker(s.locker),
		scoring.WithDeduper(s.deduper),
		scoring.WithPublisher(append(notify.Fanout{s.hub}, s.publishers...)),
		scoring.WithLogger(s.logger.Named("scoring")),
		scoring.WithDefaultRules(s.defaultRules),
		scoring.WithClock(s.now),
	}
	if s.conflictRetries > 0 {
		engineOpts = append(engineOpts, scoring.WithConflictRetries(s.conflictRetries))
	}
	s.engine = scoring.New(s.store, engineOpts...)

	s.pool = workerpool.NewPool(s.workerCount, s.queue, s.engine,
		workerpool.WithLogger(s.logger.Named("worker")),
		workerpool.WithJobTimeout(workerJobTimeout),
	)
	return s
}

// Start seeds the default rules and starts the workers and the reconciler.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrStopped
	}
	if s.started {
		return nil
	}

	s.logger.Info(ctx, "starting lead scoring service...")

	if err := s.engine.SeedDefaultRules(ctx); err != nil {
		return fmt.Errorf("seed default rules: %w", err)
	}
	if n, err := s.store.CountLeads(ctx); err == nil {
		metrics.UpdateTotalLeads(n)
	}

	// Workers outlive the start request; Stop cancels them.
	s.pool.Start(context.WithoutCancel(ctx))

	if s.reconcileInterval > 0 {
		go s.reconcileLoop(context.WithoutCancel(ctx))
	} else {
		close(s.reconcileDone)
	}

	s.started = true
	s.logger.Info(ctx, "lead scoring service started",
		logger.Int("workers", s.pool.Size()),
		logger.Int("queueSize", s.queueSize),
		logger.Int("dedupeSize", s.dedupeSize),
		logger.Duration("reconcileInterval", s.reconcileInterval),
	)
	return nil
}

// Stop drains queued recalculations and releases every resource.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started || s.stopped {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()

	s.logger.Info(ctx, "stopping lead scoring service...")

	close(s.stopCh)
	<-s.reconcileDone

	if err := s.pool.Shutdown(ctx); err != nil {
		s.logger.Warn(ctx, "worker pool did not drain", logger.Error(err))
	}
	if err := s.hub.Close(); err != nil {
		s.logger.Warn(ctx, "closing websocket hub", logger.Error(err))
	}
	for _, closeFn := range s.closers {
		if err := closeFn(); err != nil {
			s.logger.Warn(ctx, "closing dependency", logger.Error(err))
		}
	}
	if err := s.store.Close(); err != nil {
		s.logger.Warn(ctx, "closing store", logger.Error(err))
	}

	s.started = false
	s.stopped = true
	s.logger.Info(ctx, "lead scoring service stopped")
}

// Handler returns the HTTP API with websocket notifications and docs mounted.
func (s *Service) Handler() http.Handler {
	opts := []api.Option{
		api.WithLogger(s.logger.Named("api")),
		api.WithNotifications(s.hub),
		api.WithDocs(swagger.Handler()),
	}
	return api.NewServer(s, s, append(opts, s.apiOptions...)...).Routes()
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats(ctx context.Context) map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]any{
		"started":       s.started,
		"workerCount":   s.pool.Size(),
		"queueCapacity": s.queueSize,
		"queueLength":   s.queue.Len(),
		"dedupeEntries": s.deduper.Size(),
		"wsClients":     s.hub.Count(),
	}
	if n, err := s.store.CountLeads(ctx); err == nil {
		stats["totalLeads"] = n
		metrics.UpdateTotalLeads(n)
	}
	metrics.UpdateQueueSize(s.queue.Len())
	return stats
}
