package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/rickgao/retriever/internal/model"
)

// DrainNotifier receives the decryption-drained signal.
type DrainNotifier interface {
	NotifyDecryptionDrained()
}

// Settler is implemented by processors that hand work off asynchronously.
// WaitIdle returns once everything handed to the processor so far is done.
type Settler interface {
	WaitIdle(ctx context.Context) error
}

// DrainWatchJob reports decryption drained once processing has settled.
type DrainWatchJob struct {
	notifier DrainNotifier
	settler  Settler
}

// NewDrainWatchJob creates a drain-watch job. A nil settler means processing
// is synchronous and has already settled.
func NewDrainWatchJob(notifier DrainNotifier, settler Settler) *DrainWatchJob {
	return &DrainWatchJob{notifier: notifier, settler: settler}
}

// Kind implements Job.
func (j *DrainWatchJob) Kind() model.JobKind {
	return model.JobDrainWatch
}

// Run implements Job.
func (j *DrainWatchJob) Run(ctx context.Context) error {
	if j.settler != nil {
		if err := j.settler.WaitIdle(ctx); err != nil {
			return fmt.Errorf("wait for processing: %w", err)
		}
	}
	j.notifier.NotifyDecryptionDrained()
	return nil
}

// LeaseHolder is the part of the supervisor a push fetch needs.
type LeaseHolder interface {
	RegisterLease(key string)
	RemoveLease(key string)
	IsFullyDrained() bool
}

// PushFetchJob holds a keep-alive lease for at least MinHold and until the
// backlog is fully drained, giving up after MaxHold.
type PushFetchJob struct {
	holder   LeaseHolder
	key      string
	minHold  time.Duration
	maxHold  time.Duration
	interval time.Duration
}

// NewPushFetchJob creates a push fetch job for the given lease key.
func NewPushFetchJob(holder LeaseHolder, key string, minHold, maxHold time.Duration) *PushFetchJob {
	if maxHold < minHold {
		maxHold = minHold
	}
	return &PushFetchJob{
		holder:   holder,
		key:      key,
		minHold:  minHold,
		maxHold:  maxHold,
		interval: 250 * time.Millisecond,
	}
}

// Kind implements Job.
func (j *PushFetchJob) Kind() model.JobKind {
	return model.JobPushFetch
}

// Run implements Job.
func (j *PushFetchJob) Run(ctx context.Context) error {
	j.holder.RegisterLease(j.key)
	defer j.holder.RemoveLease(j.key)

	minTimer := time.NewTimer(j.minHold)
	defer minTimer.Stop()
	maxTimer := time.NewTimer(j.maxHold)
	defer maxTimer.Stop()

	select {
	case <-minTimer.C:
	case <-ctx.Done():
		return ctx.Err()
	}

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for !j.holder.IsFullyDrained() {
		select {
		case <-ticker.C:
		case <-maxTimer.C:
			return fmt.Errorf("backlog not drained within %s", j.maxHold)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
