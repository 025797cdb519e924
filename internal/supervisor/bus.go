package supervisor

import (
	"context"
	"sync"
)

// Bus is the single lock guarding supervisor state, plus a broadcast wake
// for goroutines waiting on a condition over that state.
//
// Every Broadcast closes the current wake channel and installs a new one, so
// any number of broadcasts between two checks coalesce into a single wake.
// Waiters always re-check their condition and never trust why they woke.
type Bus struct {
	mu   sync.Mutex
	wake chan struct{}
}

// NewBus creates a Bus.
func NewBus() *Bus {
	return &Bus{wake: make(chan struct{})}
}

// Lock acquires the state lock.
func (b *Bus) Lock() { b.mu.Lock() }

// Unlock releases the state lock.
func (b *Bus) Unlock() { b.mu.Unlock() }

// broadcastLocked wakes every waiter. The caller must hold the lock.
func (b *Bus) broadcastLocked() {
	close(b.wake)
	b.wake = make(chan struct{})
}

// Broadcast wakes every waiter.
func (b *Bus) Broadcast() {
	b.mu.Lock()
	b.broadcastLocked()
	b.mu.Unlock()
}

// Update runs fn under the lock and wakes every waiter before releasing it.
func (b *Bus) Update(fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fn()
	b.broadcastLocked()
}

// Wait blocks until cond returns true or ctx is done. cond runs with the lock
// held; the lock is released while blocked.
func (b *Bus) Wait(ctx context.Context, cond func() bool) error {
	b.mu.Lock()
	for !cond() {
		wake := b.wake
		b.mu.Unlock()

		select {
		case <-wake:
		case <-ctx.Done():
			return ctx.Err()
		}

		b.mu.Lock()
	}
	b.mu.Unlock()
	return nil
}
