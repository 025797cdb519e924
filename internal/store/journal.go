package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rickgao/retriever/internal/metrics"
	"github.com/rickgao/retriever/internal/model"
)

const insertJournal = `
	INSERT INTO job_journal (id, kind, event, enqueued_at, finished_at, error)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (id, event) DO NOTHING
`

// JournalConfig holds journal batching settings.
type JournalConfig struct {
	BatchSize     int           // Rows per flush (default: 100)
	FlushInterval time.Duration // Max time between flushes (default: 1s)
}

// DefaultJournalConfig returns sensible defaults.
func DefaultJournalConfig() JournalConfig {
	return JournalConfig{
		BatchSize:     100,
		FlushInterval: time.Second,
	}
}

// JournalStats counts journal outcomes.
type JournalStats struct {
	Inserts   int64
	Conflicts int64
	Flushes   int64
	Errors    int64
}

type journalRow struct {
	ID         string
	Kind       string
	Event      string
	EnqueuedAt int64
	FinishedAt *int64
	Err        string
}

// JobJournal batches job lifecycle events into job_journal. It implements
// jobs.Journal.
type JobJournal struct {
	cfg    JournalConfig
	db     DB
	logger *slog.Logger

	batch   []journalRow
	batchMu sync.Mutex
	stats   JournalStats

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewJobJournal creates a JobJournal.
func NewJobJournal(cfg JournalConfig, db DB, logger *slog.Logger) *JobJournal {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultJournalConfig()
	if cfg.BatchSize < 1 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	return &JobJournal{
		cfg:    cfg,
		db:     db,
		logger: logger,
		batch:  make([]journalRow, 0, cfg.BatchSize),
		ctx:    context.Background(),
	}
}

// Start begins the periodic flush loop.
func (j *JobJournal) Start(ctx context.Context) error {
	j.ctx, j.cancel = context.WithCancel(ctx)

	j.wg.Add(1)
	go j.flushLoop()

	j.logger.Info("job journal started",
		"batch_size", j.cfg.BatchSize,
		"flush_interval", j.cfg.FlushInterval,
	)
	return nil
}

// Stop halts the flush loop and writes what is left.
func (j *JobJournal) Stop(ctx context.Context) error {
	if j.cancel != nil {
		j.cancel()
	}

	done := make(chan struct{})
	go func() {
		j.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		j.logger.Warn("job journal stop timed out")
	}

	// Final flush
	j.flush(ctx)
	j.logger.Info("job journal stopped")
	return nil
}

// RecordEnqueued queues an enqueue event.
func (j *JobJournal) RecordEnqueued(_ context.Context, rec model.JobRecord) error {
	j.add(journalRow{
		ID:         rec.ID.String(),
		Kind:       string(rec.Kind),
		Event:      "enqueued",
		EnqueuedAt: rec.EnqueuedAt.UnixMicro(),
	})
	return nil
}

// RecordFinished queues a finish event.
func (j *JobJournal) RecordFinished(_ context.Context, rec model.JobRecord) error {
	finished := rec.FinishedAt.UnixMicro()
	j.add(journalRow{
		ID:         rec.ID.String(),
		Kind:       string(rec.Kind),
		Event:      "finished",
		EnqueuedAt: rec.EnqueuedAt.UnixMicro(),
		FinishedAt: &finished,
		Err:        rec.Err,
	})
	return nil
}

// Stats returns current counters.
func (j *JobJournal) Stats() JournalStats {
	j.batchMu.Lock()
	defer j.batchMu.Unlock()
	return j.stats
}

func (j *JobJournal) add(row journalRow) {
	j.batchMu.Lock()
	j.batch = append(j.batch, row)
	shouldFlush := len(j.batch) >= j.cfg.BatchSize
	j.batchMu.Unlock()

	if shouldFlush {
		j.flush(context.Background())
	}
}

// flushLoop periodically flushes the batch.
func (j *JobJournal) flushLoop() {
	defer j.wg.Done()

	ticker := time.NewTicker(j.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-j.ctx.Done():
			return
		case <-ticker.C:
			j.flush(j.ctx)
		}
	}
}

// flush writes the current batch to the database.
func (j *JobJournal) flush(ctx context.Context) {
	j.batchMu.Lock()
	if len(j.batch) == 0 {
		j.batchMu.Unlock()
		return
	}

	// Take ownership of current batch
	batch := j.batch
	j.batch = make([]journalRow, 0, j.cfg.BatchSize)
	j.batchMu.Unlock()

	start := time.Now()

	conflicts, err := j.batchInsert(ctx, batch)
	if err != nil {
		j.logger.Error("journal insert failed", "error", err, "count", len(batch))
		metrics.StoreWritesTotal.WithLabelValues("job_journal", "error").Add(float64(len(batch)))
		j.batchMu.Lock()
		j.stats.Errors++
		j.batchMu.Unlock()
		return
	}

	metrics.StoreWritesTotal.WithLabelValues("job_journal", "inserted").Add(float64(len(batch) - conflicts))
	j.batchMu.Lock()
	j.stats.Inserts += int64(len(batch) - conflicts)
	j.stats.Conflicts += int64(conflicts)
	j.stats.Flushes++
	j.batchMu.Unlock()

	j.logger.Debug("flushed job journal",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

// batchInsert inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (j *JobJournal) batchInsert(ctx context.Context, rows []journalRow) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(insertJournal, r.ID, r.Kind, r.Event, r.EnqueuedAt, r.FinishedAt, r.Err)
	}

	results := j.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}
