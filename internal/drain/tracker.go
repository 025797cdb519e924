// Package drain tracks whether the inbound backlog has been fully received
// and fully processed since the last connectivity loss.
package drain

import "sync"

// State is the drain state of the current epoch.
type State int

const (
	Fresh          State = iota // nothing drained since the last reset
	NetworkDrained              // no more envelopes arrived before a read came back empty
	FullyDrained                // every received envelope has also been processed
)

func (s State) String() string {
	switch s {
	case Fresh:
		return "fresh"
	case NetworkDrained:
		return "network_drained"
	case FullyDrained:
		return "fully_drained"
	default:
		return "unknown"
	}
}

// Tracker holds the drain state and the listeners waiting for full drain.
//
// The tracker guards itself with the locker it was created with, so it can
// share one lock with the rest of the supervisor state. Methods acquire the
// lock themselves and must not be called while it is held, except those
// suffixed Locked. Listeners always run outside the lock.
//
// Every reset starts a new epoch. A drain observed by a reader that started
// in an older epoch must not count toward the current one.
type Tracker struct {
	mu        sync.Locker
	state     State
	epoch     uint64
	listeners []func()
}

// NewTracker creates a tracker in the Fresh state. A nil locker gets a
// private mutex.
func NewTracker(mu sync.Locker) *Tracker {
	if mu == nil {
		mu = &sync.Mutex{}
	}
	return &Tracker{mu: mu}
}

// MarkNetworkDrained moves Fresh to NetworkDrained. It returns true only on
// that transition, so callers can act exactly once per epoch.
func (t *Tracker) MarkNetworkDrained() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != Fresh {
		return false
	}
	t.state = NetworkDrained
	return true
}

// MarkNetworkDrainedIn is MarkNetworkDrained for a reader bound to epoch. It
// does nothing once the tracker has moved on to a later epoch.
func (t *Tracker) MarkNetworkDrainedIn(epoch uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.epoch != epoch || t.state != Fresh {
		return false
	}
	t.state = NetworkDrained
	return true
}

// Epoch returns the current epoch.
func (t *Tracker) Epoch() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.epoch
}

// MarkDecryptionDrained moves NetworkDrained to FullyDrained and runs every
// listener once, in registration order. It is a no-op in any other state and
// reports whether the transition happened.
func (t *Tracker) MarkDecryptionDrained() bool {
	t.mu.Lock()
	if t.state != NetworkDrained {
		t.mu.Unlock()
		return false
	}
	t.state = FullyDrained
	toRun := make([]func(), len(t.listeners))
	copy(toRun, t.listeners)
	t.mu.Unlock()

	for _, fn := range toRun {
		fn()
	}
	return true
}

// Reset starts a new epoch. A reconnect must observe a fresh drain.
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.ResetLocked()
	t.mu.Unlock()
}

// ResetLocked is Reset for callers already holding the tracker's locker. It
// returns the new epoch.
func (t *Tracker) ResetLocked() uint64 {
	t.state = Fresh
	t.epoch++
	return t.epoch
}

// AddListener registers fn for the full-drain transition. If the tracker is
// already fully drained fn runs immediately, before AddListener returns.
// Listeners stay registered across epochs.
func (t *Tracker) AddListener(fn func()) {
	t.mu.Lock()
	t.listeners = append(t.listeners, fn)
	drained := t.state == FullyDrained
	t.mu.Unlock()

	if drained {
		fn()
	}
}

// State returns the current state.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// IsNetworkDrained reports whether the network side has drained this epoch.
func (t *Tracker) IsNetworkDrained() bool {
	return t.State() != Fresh
}

// IsFullyDrained reports whether both sides have drained this epoch.
func (t *Tracker) IsFullyDrained() bool {
	return t.State() == FullyDrained
}
