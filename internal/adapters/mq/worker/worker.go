// Package worker runs recalculation jobs pulled from the queue.
package worker

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/okian/leadflow/internal/adapters/mq/queue"
	"github.com/okian/leadflow/pkg/logger"
	"github.com/okian/leadflow/pkg/metrics"
)

const (
	defaultWorkerMultiplier = 2
	defaultJobTimeout       = 30 * time.Second
)

// Handler runs one recalculation job.
type Handler interface {
	Reconcile(ctx context.Context, job queue.Job) error
}

// Source is where workers receive jobs.
type Source interface {
	Dequeue() <-chan queue.Job
}

// InMemoryWorker consumes jobs from a Source until it is drained or
// stopped.
type InMemoryWorker struct {
	source     Source
	handler    Handler
	name       string
	jobTimeout time.Duration

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	logger logger.Logger
}

// NewInMemoryWorker creates a worker with configuration options.
func NewInMemoryWorker(source Source, handler Handler, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		source:     source,
		handler:    handler,
		name:       "worker",
		jobTimeout: defaultJobTimeout,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
		logger:     logger.Get(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.Named(w.name)
	return w
}

// Run processes jobs until ctx is cancelled, Stop is called or the source
// channel is closed.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	jobs := w.source.Dequeue()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case job, ok := <-jobs:
			if !ok {
				return
			}
			if err := w.handle(ctx, job); err != nil {
				w.logger.Error(ctx, "recalculation job failed",
					logger.String("leadId", job.LeadID),
					logger.String("reason", job.Reason),
					logger.Error(err),
				)
			}
		}
	}
}

// Stop asks the worker to exit after its current job.
func (w *InMemoryWorker) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
}

// Done is closed when Run returns.
func (w *InMemoryWorker) Done() <-chan struct{} {
	return w.done
}

// Shutdown stops the worker and waits for it to exit.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	w.Stop()
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

func (w *InMemoryWorker) handle(ctx context.Context, job queue.Job) error {
	start := time.Now()
	jobCtx, cancel := context.WithTimeout(ctx, w.jobTimeout)
	defer cancel()

	err := w.handler.Reconcile(jobCtx, job)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.RecordWorkerJob(outcome, float64(time.Since(start).Microseconds())/1000)
	metrics.UpdateQueueSize(len(w.source.Dequeue()))
	if err != nil {
		return fmt.Errorf("reconcile lead %s: %w", job.LeadID, err)
	}
	return nil
}

// Pool manages multiple workers sharing one source.
type Pool struct {
	workers []*InMemoryWorker
	source  Source
	logger  logger.Logger
}

// NewPool creates a pool of workerCount workers. A count below one uses
// twice the number of CPUs.
func NewPool(workerCount int, source Source, handler Handler, opts ...Option) *Pool {
	if workerCount < 1 {
		workerCount = runtime.NumCPU() * defaultWorkerMultiplier
	}

	p := &Pool{
		workers: make([]*InMemoryWorker, workerCount),
		source:  source,
		logger:  logger.Get().Named("worker-pool"),
	}
	for i := range workerCount {
		workerOpts := append([]Option{WithName("worker-" + strconv.Itoa(i))}, opts...)
		p.workers[i] = NewInMemoryWorker(source, handler, workerOpts...)
	}
	return p
}

// Size returns the number of workers.
func (p *Pool) Size() int {
	return len(p.workers)
}

// Start launches every worker.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		go w.Run(ctx)
	}
	metrics.UpdateWorkerCount(len(p.workers))
	p.logger.Info(ctx, "worker pool started", logger.Int("workers", len(p.workers)))
}

// Shutdown closes the source so workers drain pending jobs, then waits for
// them. When ctx expires first the remaining workers are stopped without
// draining.
func (p *Pool) Shutdown(ctx context.Context) error {
	if closer, ok := p.source.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}

	defer metrics.UpdateWorkerCount(0)
	for i, w := range p.workers {
		select {
		case <-w.Done():
		case <-ctx.Done():
			p.logger.Warn(ctx, "worker drain timed out", logger.Int("workerId", i))
			for _, rest := range p.workers {
				rest.Stop()
			}
			return fmt.Errorf("worker pool shutdown: %w", ctx.Err())
		}
	}
	return nil
}
