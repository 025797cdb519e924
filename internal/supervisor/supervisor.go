package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/rickgao/retriever/internal/drain"
	"github.com/rickgao/retriever/internal/jobs"
	"github.com/rickgao/retriever/internal/lease"
	"github.com/rickgao/retriever/internal/metrics"
	"github.com/rickgao/retriever/internal/model"
	"github.com/rickgao/retriever/internal/necessity"
)

// processError marks a failure inside the processor handoff.
type processError struct {
	err error
}

func (e *processError) Error() string { return "process envelope: " + e.err.Error() }
func (e *processError) Unwrap() error { return e.err }

// Supervisor owns the retrieval connection and decides when it is open.
type Supervisor struct {
	cfg       Config
	conn      Conn
	processor Processor
	jobs      JobEnqueuer
	signals   Signals
	clock     clock.Clock
	evaluator *necessity.Evaluator
	logger    *slog.Logger

	// sleep is the backoff sleep; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error

	bus   *Bus
	drain *drain.Tracker

	// Guarded by bus.
	appVisible bool
	terminated bool
	connected  bool
	failures   int
	state      State
	leases     *lease.Table

	started atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a Supervisor. The worker does not run until Start or Run.
func New(cfg Config, deps Deps, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}
	if cfg.LeaseWindow <= 0 {
		cfg.LeaseWindow = def.LeaseWindow
	}
	if cfg.Backoff.Max <= 0 {
		cfg.Backoff = def.Backoff
	}
	clk := deps.Clock
	if clk == nil {
		clk = clock.New()
	}

	bus := NewBus()
	s := &Supervisor{
		cfg:       cfg,
		conn:      deps.Conn,
		processor: deps.Processor,
		jobs:      deps.Jobs,
		signals:   deps.Signals,
		clock:     clk,
		evaluator: necessity.NewEvaluator(deps.Host, logger),
		logger:    logger,
		bus:       bus,
		drain:     drain.NewTracker(bus),
		leases:    lease.NewTable(clk, cfg.LeaseWindow),
	}
	s.sleep = s.clockSleep
	return s
}

// Start runs the worker on its own goroutine.
func (s *Supervisor) Start(ctx context.Context) error {
	if s.started.Load() {
		return ErrAlreadyStarted
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("retrieval worker exited", "error", err)
		}
	}()

	return nil
}

// Stop terminates the supervisor, cancels in-flight reads and sleeps, and
// waits for the worker to exit.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.logger.Info("stopping supervisor")

	s.Terminate()
	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("supervisor stopped")
		return nil
	case <-ctx.Done():
		s.logger.Warn("shutdown timeout, worker still running")
		return ctx.Err()
	}
}

// Run is the retrieval worker loop. It returns once the supervisor is
// terminated or ctx is done, and can only be run once per Supervisor.
func (s *Supervisor) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	s.logger.Info("retrieval worker started")
	defer func() {
		s.disconnect()
		s.setState(StateTerminated)
		s.logger.Warn("retrieval worker terminated")
	}()

	for {
		s.setState(StateIdle)
		s.logger.Info("waiting for connection to become necessary")

		err := s.bus.Wait(ctx, func() bool {
			return s.terminated || s.necessaryLocked()
		})
		if err != nil {
			return err
		}
		if s.isTerminated() {
			return nil
		}

		s.session(ctx)

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if s.isTerminated() {
			return nil
		}

		if failures := s.failureCount(); failures > 1 {
			s.setState(StateBackingOff)
			wait := s.cfg.Backoff.Duration(failures)
			s.logger.Warn("too many failed connection attempts, backing off",
				"attempts", failures,
				"backoff", wait,
			)
			metrics.BackoffSeconds.Observe(wait.Seconds())
			if err := s.sleep(ctx, wait); err != nil {
				return err
			}
		}

		s.logger.Debug("looping")
	}
}

// session connects, reads until the connection is no longer necessary or a
// fault occurs, and always disconnects on the way out.
func (s *Supervisor) session(ctx context.Context) {
	logger := s.logger.With("session", uuid.New())

	defer func() {
		logger.Info("shutting down connection")
		s.disconnect()
	}()
	defer func() {
		if r := recover(); r != nil {
			s.fault(logger, "panic", fmt.Errorf("retrieval panic: %v", r))
		}
	}()

	s.setState(StateConnecting)
	logger.Info("making connection")
	epoch, err := s.connect(ctx)
	if err != nil {
		s.fault(logger, "connect", err)
		return
	}

	s.setState(StateReading)
	reconnect := false

	for s.shouldRead() {
		if reconnect {
			logger.Info("connection unexpectedly unavailable, reconnecting")
			if epoch, err = s.connect(ctx); err != nil {
				s.fault(logger, "connect", err)
				return
			}
			reconnect = false
		}

		logger.Debug("reading envelope")
		err = s.conn.ReadOne(ctx, s.cfg.ReadTimeout, func(env model.Envelope) error {
			return s.process(ctx, logger, env)
		})

		switch {
		case err == nil:
			s.resetFailures()

		case errors.Is(err, ErrEmpty), errors.Is(err, ErrTimeout):
			if errors.Is(err, ErrTimeout) {
				logger.Debug("read timeout")
			}
			s.resetFailures()
			if s.drain.Epoch() != epoch {
				// The network dropped during the read; this drain belongs to
				// the old connection.
				logger.Info("drain epoch changed, reconnecting")
				reconnect = true
				break
			}
			s.networkDrainCandidate(ctx, logger, epoch)

		case errors.Is(err, ErrUnavailable):
			s.setConnected(false)
			reconnect = true

		case ctx.Err() != nil:
			return

		default:
			stage := "read"
			var perr *processError
			if errors.As(err, &perr) {
				stage = "process"
			}
			s.fault(logger, stage, err)
			return
		}
	}
}

// process hands one envelope to the processor.
func (s *Supervisor) process(ctx context.Context, logger *slog.Logger, env model.Envelope) error {
	logger.Info("retrieved envelope", "guid", env.GUID, "timestamp", env.Timestamp)

	if err := s.processor.Process(ctx, env); err != nil {
		metrics.EnvelopesTotal.WithLabelValues("error").Inc()
		return &processError{err: err}
	}
	metrics.EnvelopesTotal.WithLabelValues("ok").Inc()
	return nil
}

// networkDrainCandidate marks the network drained once per epoch and
// enqueues the matching drain-watch job. A read from an earlier epoch marks
// nothing.
func (s *Supervisor) networkDrainCandidate(ctx context.Context, logger *slog.Logger, epoch uint64) {
	if !s.drain.MarkNetworkDrainedIn(epoch) {
		return
	}
	metrics.DrainTransitionsTotal.WithLabelValues(drain.NetworkDrained.String()).Inc()
	logger.Info("network newly drained, enqueuing drain watch")

	var settler jobs.Settler
	if st, ok := s.processor.(jobs.Settler); ok {
		settler = st
	}
	job := jobs.NewDrainWatchJob(s, settler)

	if err := s.jobs.Enqueue(job); err != nil {
		logger.Warn("failed to enqueue drain watch, running inline", "error", err)
		go func() {
			if err := job.Run(ctx); err != nil {
				s.logger.Warn("drain watch failed", "error", err)
			}
		}()
	}
}

// connect opens the connection and returns the drain epoch it belongs to.
// The epoch is taken before dialing, so a loss during the dial already
// makes the new connection stale.
func (s *Supervisor) connect(ctx context.Context) (uint64, error) {
	epoch := s.drain.Epoch()
	if err := s.conn.Connect(ctx); err != nil {
		metrics.ConnectsTotal.WithLabelValues("error").Inc()
		return epoch, fmt.Errorf("connect: %w", err)
	}
	metrics.ConnectsTotal.WithLabelValues("ok").Inc()
	s.setConnected(true)
	return epoch, nil
}

func (s *Supervisor) disconnect() {
	if err := s.conn.Disconnect(); err != nil {
		s.logger.Debug("disconnect error", "error", err)
	}
	s.setConnected(false)
}

func (s *Supervisor) fault(logger *slog.Logger, stage string, err error) {
	s.bus.Lock()
	s.failures++
	failures := s.failures
	s.bus.Unlock()

	metrics.FaultsTotal.WithLabelValues(stage).Inc()
	logger.Warn("retrieval fault", "stage", stage, "attempts", failures, "error", err)
}

// necessaryLocked prunes expired leases and evaluates the signals. The bus
// lock must be held.
func (s *Supervisor) necessaryLocked() bool {
	if s.leases.PruneExpired(s.clock.Now()) {
		s.logger.Debug("removed expired keep-alive leases")
	}
	metrics.LeasesHeld.Set(float64(s.leases.Len()))

	sig := necessity.Signals{
		Registered:       s.signals.Registered(),
		AppVisible:       s.appVisible,
		PushEnabled:      s.signals.PushEnabled(),
		ForceWebsocket:   s.signals.ForceWebsocket(),
		HasLease:         s.leases.HasAny(),
		NetworkReachable: s.signals.NetworkReachable(),
		Censored:         s.signals.Censored(),
		Locked:           s.signals.Locked(),
	}
	if sig.Locked {
		s.logger.Info("not connecting, session is locked")
	}

	necessary := s.evaluator.Check(sig)
	s.logger.Debug("connection necessity",
		"necessary", necessary,
		"signals", sig.String(),
		"leases", s.leases.Keys(),
	)
	return necessary
}

func (s *Supervisor) shouldRead() bool {
	s.bus.Lock()
	defer s.bus.Unlock()
	return !s.terminated && s.necessaryLocked()
}

func (s *Supervisor) isTerminated() bool {
	s.bus.Lock()
	defer s.bus.Unlock()
	return s.terminated
}

func (s *Supervisor) failureCount() int {
	s.bus.Lock()
	defer s.bus.Unlock()
	return s.failures
}

func (s *Supervisor) resetFailures() {
	s.bus.Lock()
	s.failures = 0
	s.bus.Unlock()
}

func (s *Supervisor) setConnected(v bool) {
	s.bus.Lock()
	s.connected = v
	s.bus.Unlock()

	if v {
		metrics.ConnectionOpen.Set(1)
	} else {
		metrics.ConnectionOpen.Set(0)
	}
}

func (s *Supervisor) setState(st State) {
	s.bus.Lock()
	s.state = st
	s.bus.Unlock()
	metrics.SetState(stateNames, st.String())
}

func (s *Supervisor) clockSleep(ctx context.Context, d time.Duration) error {
	t := s.clock.Timer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// -----------------------------------------------------------------------------
// External signals
// -----------------------------------------------------------------------------

// RegisterLease asks for the connection to stay open regardless of
// visibility. Registering an existing key renews it.
func (s *Supervisor) RegisterLease(key string) {
	s.bus.Update(func() {
		s.leases.Register(key)
	})
}

// RemoveLease drops a keep-alive lease.
func (s *Supervisor) RemoveLease(key string) {
	s.bus.Update(func() {
		s.leases.Remove(key)
	})
}

// OnForeground records that the app became visible.
func (s *Supervisor) OnForeground() {
	s.bus.Update(func() {
		s.appVisible = true
	})
}

// OnBackground records that the app is no longer visible.
func (s *Supervisor) OnBackground() {
	s.bus.Update(func() {
		s.appVisible = false
	})
}

// OnConnectivityChanged re-evaluates after a network change. When the network
// is gone a new drain epoch starts and the connection is dropped at once.
func (s *Supervisor) OnConnectivityChanged() {
	var lost, connected bool
	var epoch uint64
	s.bus.Update(func() {
		if s.signals.NetworkReachable() {
			return
		}
		lost = true
		epoch = s.drain.ResetLocked()
		connected = s.connected
	})
	if !lost {
		return
	}

	s.logger.Warn("lost network connection, disconnecting and resetting drain state", "epoch", epoch)
	metrics.DrainTransitionsTotal.WithLabelValues(drain.Fresh.String()).Inc()
	if connected {
		s.disconnect()
	}
}

// OnRegistrationChanged re-evaluates after the registration state changed.
func (s *Supervisor) OnRegistrationChanged() {
	s.bus.Broadcast()
}

// AddDrainListener registers fn for the full-drain transition. If the
// backlog is already fully drained fn runs before AddDrainListener returns.
func (s *Supervisor) AddDrainListener(fn func()) {
	s.drain.AddListener(fn)
}

// IsFullyDrained reports whether the backlog has been received and
// processed. A censored network can never drain and always reports true.
func (s *Supervisor) IsFullyDrained() bool {
	if s.drain.IsFullyDrained() {
		return true
	}
	s.bus.Lock()
	defer s.bus.Unlock()
	return s.signals.Censored()
}

// NotifyDecryptionDrained reports that every received envelope has been
// processed. It has no effect unless the network drained first.
func (s *Supervisor) NotifyDecryptionDrained() {
	if s.drain.MarkDecryptionDrained() {
		metrics.DrainTransitionsTotal.WithLabelValues(drain.FullyDrained.String()).Inc()
		s.logger.Info("decryptions newly drained")
	}
}

// Terminate stops the supervisor for good. It returns immediately; the
// disconnect happens in the background and the worker exits once its
// current read or backoff sleep finishes.
func (s *Supervisor) Terminate() {
	first := false
	s.bus.Update(func() {
		if !s.terminated {
			s.terminated = true
			first = true
		}
	})
	if !first {
		return
	}

	go func() {
		s.logger.Warn("beginning termination")
		s.disconnect()
	}()
}

// StopBackgroundHost stops the background host. It is started again the
// next time the connection has to be kept alive in the background.
func (s *Supervisor) StopBackgroundHost() error {
	return s.evaluator.StopHost()
}

// Stats returns a snapshot of the supervisor state.
func (s *Supervisor) Stats() Stats {
	s.bus.Lock()
	st := Stats{
		State:      s.state,
		Connected:  s.connected,
		Failures:   s.failures,
		AppVisible: s.appVisible,
		Terminated: s.terminated,
		Leases:     s.leases.Keys(),
	}
	s.bus.Unlock()

	st.Drain = s.drain.State()
	st.HostStarted = s.evaluator.HostStarted()
	return st
}
