package drain

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTracker_Transitions(t *testing.T) {
	tr := NewTracker(nil)
	assert.Equal(t, Fresh, tr.State())

	assert.True(t, tr.MarkNetworkDrained())
	assert.Equal(t, NetworkDrained, tr.State())
	assert.False(t, tr.MarkNetworkDrained(), "second mark in the same epoch is a no-op")

	assert.True(t, tr.MarkDecryptionDrained())
	assert.Equal(t, FullyDrained, tr.State())
	assert.False(t, tr.MarkDecryptionDrained())
	assert.False(t, tr.MarkNetworkDrained())
}

func TestTracker_DecryptionBeforeNetworkIsNoop(t *testing.T) {
	tr := NewTracker(nil)
	var fired int
	tr.AddListener(func() { fired++ })

	assert.False(t, tr.MarkDecryptionDrained())
	assert.Equal(t, Fresh, tr.State())
	assert.Equal(t, 0, fired)
}

func TestTracker_ListenersFireOnceInOrder(t *testing.T) {
	tr := NewTracker(nil)

	var order []int
	for i := 1; i <= 3; i++ {
		i := i
		tr.AddListener(func() { order = append(order, i) })
	}

	tr.MarkNetworkDrained()
	tr.MarkDecryptionDrained()
	tr.MarkDecryptionDrained()

	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestTracker_ListenerReplay(t *testing.T) {
	tr := NewTracker(nil)
	tr.MarkNetworkDrained()
	tr.MarkDecryptionDrained()

	var fired int
	tr.AddListener(func() { fired++ })
	assert.Equal(t, 1, fired, "late listener runs at registration")

	tr.MarkDecryptionDrained()
	assert.Equal(t, 1, fired)
}

func TestTracker_ListenerNotReplayedBeforeFullDrain(t *testing.T) {
	tr := NewTracker(nil)
	tr.MarkNetworkDrained()

	var fired int
	tr.AddListener(func() { fired++ })
	assert.Equal(t, 0, fired)

	tr.MarkDecryptionDrained()
	assert.Equal(t, 1, fired)
}

func TestTracker_ResetStartsNewEpoch(t *testing.T) {
	tr := NewTracker(nil)
	var fired int
	tr.AddListener(func() { fired++ })

	tr.MarkNetworkDrained()
	tr.MarkDecryptionDrained()
	assert.Equal(t, 1, fired)

	tr.Reset()
	assert.Equal(t, Fresh, tr.State())
	assert.False(t, tr.IsNetworkDrained())
	assert.False(t, tr.MarkDecryptionDrained())

	assert.True(t, tr.MarkNetworkDrained())
	assert.True(t, tr.MarkDecryptionDrained())
	assert.Equal(t, 2, fired, "listeners fire once per epoch")
}

func TestTracker_ListenerMayCallTracker(t *testing.T) {
	tr := NewTracker(nil)
	var state State
	tr.AddListener(func() { state = tr.State() })

	tr.MarkNetworkDrained()
	tr.MarkDecryptionDrained()

	assert.Equal(t, FullyDrained, state)
}

func TestTracker_SharedLocker(t *testing.T) {
	var mu sync.Mutex
	tr := NewTracker(&mu)

	tr.MarkNetworkDrained()

	// The tracker must release the shared lock after every call.
	assert.True(t, mu.TryLock())
	mu.Unlock()
}

func TestTracker_ConcurrentListeners(t *testing.T) {
	tr := NewTracker(nil)
	tr.MarkNetworkDrained()

	var mu sync.Mutex
	var fired int
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.AddListener(func() {
				mu.Lock()
				fired++
				mu.Unlock()
			})
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		tr.MarkDecryptionDrained()
	}()
	wg.Wait()

	assert.Equal(t, 50, fired, "every listener fires exactly once")
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "fresh", Fresh.String())
	assert.Equal(t, "network_drained", NetworkDrained.String())
	assert.Equal(t, "fully_drained", FullyDrained.String())
	assert.Equal(t, "unknown", State(9).String())
}

func TestTracker_StaleEpochCannotMarkDrained(t *testing.T) {
	tr := NewTracker(nil)
	epoch := tr.Epoch()

	tr.Reset()
	assert.Equal(t, epoch+1, tr.Epoch())

	assert.False(t, tr.MarkNetworkDrainedIn(epoch), "reader from the previous epoch")
	assert.Equal(t, Fresh, tr.State())

	assert.True(t, tr.MarkNetworkDrainedIn(tr.Epoch()))
	assert.Equal(t, NetworkDrained, tr.State())
	assert.False(t, tr.MarkNetworkDrainedIn(tr.Epoch()))
}

func TestTracker_ResetLockedUnderSharedLock(t *testing.T) {
	var mu sync.Mutex
	tr := NewTracker(&mu)
	tr.MarkNetworkDrained()

	mu.Lock()
	epoch := tr.ResetLocked()
	mu.Unlock()

	assert.Equal(t, uint64(1), epoch)
	assert.Equal(t, Fresh, tr.State())
}
