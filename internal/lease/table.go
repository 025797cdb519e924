package lease

import (
	"sort"
	"time"

	"github.com/benbjohnson/clock"
)

// DefaultWindow is how long a lease survives without renewal.
const DefaultWindow = 5 * time.Minute

// Table maps lease keys to their last renewal time.
//
// Table is not safe for concurrent use. The supervisor owns it and only
// touches it while holding the signal bus lock.
type Table struct {
	clock  clock.Clock
	window time.Duration
	leases map[string]time.Time
}

// NewTable creates an empty lease table. A nil clock uses the wall clock and
// a non-positive window uses DefaultWindow.
func NewTable(clk clock.Clock, window time.Duration) *Table {
	if clk == nil {
		clk = clock.New()
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Table{
		clock:  clk,
		window: window,
		leases: make(map[string]time.Time),
	}
}

// Register upserts a lease, stamping it with the current time.
func (t *Table) Register(key string) {
	t.leases[key] = t.clock.Now()
}

// Remove deletes a lease if present.
func (t *Table) Remove(key string) {
	delete(t.leases, key)
}

// PruneExpired removes every lease renewed before now-window and reports
// whether anything was removed.
func (t *Table) PruneExpired(now time.Time) bool {
	cutoff := now.Add(-t.window)
	removed := false
	for key, renewedAt := range t.leases {
		if renewedAt.Before(cutoff) {
			delete(t.leases, key)
			removed = true
		}
	}
	return removed
}

// HasAny reports whether the table holds at least one lease.
func (t *Table) HasAny() bool {
	return len(t.leases) > 0
}

// Len returns the number of leases.
func (t *Table) Len() int {
	return len(t.leases)
}

// Keys returns the lease keys in sorted order.
func (t *Table) Keys() []string {
	keys := make([]string, 0, len(t.leases))
	for key := range t.leases {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
