// Package necessity decides whether the retrieval connection should be open.
package necessity

import (
	"fmt"
	"log/slog"
	"sync"
)

// Signals is a snapshot of every input to the connection decision.
type Signals struct {
	Registered       bool // account is registered with the server
	AppVisible       bool // app is in the foreground
	PushEnabled      bool // an out-of-band push wakeup is configured
	ForceWebsocket   bool // override: always keep the connection
	HasLease         bool // at least one keep-alive lease is held
	NetworkReachable bool
	Censored         bool // direct endpoint is blocked; another transport must be used
	Locked           bool // secure session not unlocked
}

// String formats the snapshot for diagnostic logging.
func (s Signals) String() string {
	return fmt.Sprintf("network=%t visible=%t push=%t leases=%t censored=%t registered=%t force_websocket=%t locked=%t",
		s.NetworkReachable, s.AppVisible, s.PushEnabled, s.HasLease, s.Censored, s.Registered, s.ForceWebsocket, s.Locked)
}

// Evaluate reports whether the connection is necessary for the given signals.
// A locked session overrides every other signal.
func Evaluate(s Signals) bool {
	if s.Locked {
		return false
	}
	return s.Registered &&
		(s.AppVisible || !s.PushEnabled || s.ForceWebsocket || s.HasLease) &&
		s.NetworkReachable &&
		!s.Censored
}

// NeedsBackgroundHost reports whether the connection has to be kept alive by
// background means, i.e. no push wakeup can be relied on.
func NeedsBackgroundHost(s Signals) bool {
	if s.Locked {
		return false
	}
	return s.Registered && (!s.PushEnabled || s.ForceWebsocket)
}

// Host keeps the process alive while the connection must stay open in the
// background.
type Host interface {
	EnsureStarted() error
	Stop() error
}

// Evaluator wraps Evaluate with the one-shot background host start.
type Evaluator struct {
	host   Host
	logger *slog.Logger

	mu      sync.Mutex
	started bool
}

// NewEvaluator creates an Evaluator. A nil host disables the side effect.
func NewEvaluator(host Host, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{host: host, logger: logger}
}

// Check evaluates the signals, starting the background host first if it is
// needed and has not been started in this run.
func (e *Evaluator) Check(s Signals) bool {
	if NeedsBackgroundHost(s) {
		e.ensureHost()
	}
	return Evaluate(s)
}

func (e *Evaluator) ensureHost() {
	if e.host == nil {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return
	}

	if err := e.host.EnsureStarted(); err != nil {
		e.logger.Warn("failed to start background host", "error", err)
		return
	}
	e.started = true
	e.logger.Info("background host started")
}

// StopHost stops the background host and re-arms the one-shot start.
func (e *Evaluator) StopHost() error {
	if e.host == nil {
		return nil
	}

	// Stop runs unlocked: a host may call back into HostStarted while
	// shutting down.
	e.mu.Lock()
	e.started = false
	e.mu.Unlock()
	return e.host.Stop()
}

// HostStarted reports whether the background host was started in this run.
func (e *Evaluator) HostStarted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.started
}
