package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/rickgao/retriever/internal/metrics"
	"github.com/rickgao/retriever/internal/model"
)

const insertEnvelope = `
	INSERT INTO envelopes (guid, source, source_device, sent_ts, server_ts, received_at, content)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (guid) DO NOTHING
`

// EnvelopeStore writes envelopes as they are read. It implements the
// supervisor's Processor and the drain-watch Settler.
type EnvelopeStore struct {
	db     DB
	logger *slog.Logger

	mu       sync.Mutex
	inFlight int
	idle     chan struct{} // closed while inFlight == 0

	stats EnvelopeStats
}

// EnvelopeStats counts store outcomes.
type EnvelopeStats struct {
	Inserts    int64
	Duplicates int64
	Errors     int64
}

// NewEnvelopeStore creates an EnvelopeStore.
func NewEnvelopeStore(db DB, logger *slog.Logger) *EnvelopeStore {
	if logger == nil {
		logger = slog.Default()
	}
	idle := make(chan struct{})
	close(idle)
	return &EnvelopeStore{
		db:     db,
		logger: logger,
		idle:   idle,
	}
}

// Process stores env. A duplicate GUID is not an error.
func (s *EnvelopeStore) Process(ctx context.Context, env model.Envelope) error {
	s.begin()
	defer s.end()

	ct, err := s.db.Exec(ctx, insertEnvelope,
		env.GUID,
		env.Source,
		env.SourceDevice,
		env.Timestamp,
		env.ServerTimestamp,
		env.ReceivedAt.UnixMicro(),
		env.Content,
	)
	if err != nil {
		s.count(func(st *EnvelopeStats) { st.Errors++ })
		metrics.StoreWritesTotal.WithLabelValues("envelopes", "error").Inc()
		return fmt.Errorf("insert envelope %s: %w", env.GUID, err)
	}

	if ct.RowsAffected() == 0 {
		s.count(func(st *EnvelopeStats) { st.Duplicates++ })
		metrics.StoreWritesTotal.WithLabelValues("envelopes", "duplicate").Inc()
		s.logger.Debug("duplicate envelope", "guid", env.GUID)
		return nil
	}

	s.count(func(st *EnvelopeStats) { st.Inserts++ })
	metrics.StoreWritesTotal.WithLabelValues("envelopes", "inserted").Inc()
	s.logger.Debug("stored envelope",
		"guid", env.GUID,
		"bytes", len(env.Content),
		"age", env.Age(),
	)
	return nil
}

// WaitIdle blocks until no Process call is in flight.
func (s *EnvelopeStore) WaitIdle(ctx context.Context) error {
	for {
		s.mu.Lock()
		idle := s.idle
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-idle:
		}

		s.mu.Lock()
		n := s.inFlight
		s.mu.Unlock()
		if n == 0 {
			return nil
		}
	}
}

// Stats returns current counters.
func (s *EnvelopeStore) Stats() EnvelopeStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func (s *EnvelopeStore) begin() {
	s.mu.Lock()
	if s.inFlight == 0 {
		s.idle = make(chan struct{})
	}
	s.inFlight++
	s.mu.Unlock()
}

func (s *EnvelopeStore) end() {
	s.mu.Lock()
	s.inFlight--
	if s.inFlight == 0 {
		close(s.idle)
	}
	s.mu.Unlock()
}

func (s *EnvelopeStore) count(fn func(*EnvelopeStats)) {
	s.mu.Lock()
	fn(&s.stats)
	s.mu.Unlock()
}
