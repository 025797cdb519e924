package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/retriever/internal/metrics"
	"github.com/rickgao/retriever/internal/model"
)

// Errors
var (
	ErrQueueFull   = errors.New("job queue full")
	ErrQueueClosed = errors.New("job queue closed")
)

// Job is a unit of background work.
type Job interface {
	Kind() model.JobKind
	Run(ctx context.Context) error
}

// Journal records job lifecycle events. Implementations must be safe for
// concurrent use.
type Journal interface {
	RecordEnqueued(ctx context.Context, rec model.JobRecord) error
	RecordFinished(ctx context.Context, rec model.JobRecord) error
}

// Config holds queue configuration.
type Config struct {
	Workers    int           // Concurrent job runners (default: 2)
	BufferSize int           // Pending job capacity (default: 64)
	JobTimeout time.Duration // Per-job timeout (default: 2m)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Workers:    2,
		BufferSize: 64,
		JobTimeout: 2 * time.Minute,
	}
}

type queued struct {
	job Job
	rec model.JobRecord
}

// Queue runs jobs on a fixed worker pool.
type Queue struct {
	cfg     Config
	journal Journal
	logger  *slog.Logger

	work chan queued

	mu     sync.RWMutex
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewQueue creates a Queue. The journal may be nil.
func NewQueue(cfg Config, journal Journal, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.Workers < 1 {
		cfg.Workers = def.Workers
	}
	if cfg.BufferSize < 1 {
		cfg.BufferSize = def.BufferSize
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = def.JobTimeout
	}
	return &Queue{
		cfg:     cfg,
		journal: journal,
		logger:  logger,
		work:    make(chan queued, cfg.BufferSize),
	}
}

// Start launches the workers.
func (q *Queue) Start(ctx context.Context) error {
	q.ctx, q.cancel = context.WithCancel(ctx)

	for i := 0; i < q.cfg.Workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}

	q.logger.Info("job queue started", "workers", q.cfg.Workers)
	return nil
}

// Stop stops accepting jobs, cancels running ones and waits for the workers.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.work)
	}
	q.mu.Unlock()

	if q.cancel != nil {
		q.cancel()
	}

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.logger.Info("job queue stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Enqueue schedules a job. It never blocks; a full queue is an error.
func (q *Queue) Enqueue(job Job) error {
	rec := model.JobRecord{
		ID:         uuid.New(),
		Kind:       job.Kind(),
		EnqueuedAt: time.Now(),
	}

	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.work <- queued{job: job, rec: rec}:
	default:
		return ErrQueueFull
	}

	if q.journal != nil {
		if err := q.journal.RecordEnqueued(context.Background(), rec); err != nil {
			q.logger.Warn("failed to journal job", "job_id", rec.ID, "kind", rec.Kind, "error", err)
		}
	}

	q.logger.Debug("job enqueued", "job_id", rec.ID, "kind", rec.Kind)
	return nil
}

func (q *Queue) worker() {
	defer q.wg.Done()

	for item := range q.work {
		q.run(item)
	}
}

func (q *Queue) run(item queued) {
	ctx, cancel := context.WithTimeout(q.ctx, q.cfg.JobTimeout)
	defer cancel()

	err := runJob(ctx, item.job)
	item.rec.FinishedAt = time.Now()

	result := "ok"
	if err != nil {
		result = "error"
		item.rec.Err = err.Error()
		q.logger.Warn("job failed", "job_id", item.rec.ID, "kind", item.rec.Kind, "error", err)
	} else {
		q.logger.Debug("job finished", "job_id", item.rec.ID, "kind", item.rec.Kind,
			"duration", item.rec.FinishedAt.Sub(item.rec.EnqueuedAt))
	}
	metrics.JobsTotal.WithLabelValues(string(item.rec.Kind), result).Inc()

	if q.journal != nil {
		if err := q.journal.RecordFinished(context.Background(), item.rec); err != nil {
			q.logger.Warn("failed to journal job result", "job_id", item.rec.ID, "error", err)
		}
	}
}

// runJob runs a job, turning a panic into an error so a bad job cannot kill
// a worker.
func runJob(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panic: %v", r)
		}
	}()
	return job.Run(ctx)
}
