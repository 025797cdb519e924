package supervisor

import (
	"context"
	"errors"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/rickgao/retriever/internal/drain"
	"github.com/rickgao/retriever/internal/jobs"
	"github.com/rickgao/retriever/internal/lease"
	"github.com/rickgao/retriever/internal/model"
	"github.com/rickgao/retriever/internal/necessity"
)

// Errors returned by Conn.ReadOne. Any other error is a fault.
var (
	ErrTimeout        = errors.New("read timeout")
	ErrEmpty          = errors.New("queue empty")
	ErrUnavailable    = errors.New("connection unavailable")
	ErrAlreadyStarted = errors.New("supervisor already started")
)

// Conn is the retrieval connection.
type Conn interface {
	// Connect opens the connection.
	Connect(ctx context.Context) error

	// Disconnect closes the connection. It is idempotent and may be called
	// from any goroutine, unblocking a ReadOne in progress.
	Disconnect() error

	// ReadOne waits up to timeout for the next envelope and passes it to
	// handle. It returns nil once handle succeeded, ErrEmpty when the server
	// reports no more queued envelopes, ErrTimeout when nothing arrived,
	// ErrUnavailable when the connection is not open, or handle's error.
	ReadOne(ctx context.Context, timeout time.Duration, handle func(model.Envelope) error) error
}

// Processor handles one envelope. Errors are treated like transport faults.
type Processor interface {
	Process(ctx context.Context, env model.Envelope) error
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(context.Context, model.Envelope) error

func (f ProcessorFunc) Process(ctx context.Context, env model.Envelope) error {
	return f(ctx, env)
}

// JobEnqueuer schedules background jobs.
type JobEnqueuer interface {
	Enqueue(job jobs.Job) error
}

// Signals are the synchronous read-only probes feeding the decision.
type Signals interface {
	Registered() bool
	PushEnabled() bool
	NetworkReachable() bool
	Censored() bool
	Locked() bool
	ForceWebsocket() bool
}

// Config configures the Supervisor.
type Config struct {
	ReadTimeout time.Duration // Bounded read per cycle (default: 1m)
	LeaseWindow time.Duration // Keep-alive lease lifetime (default: 5m)
	Backoff     Backoff       // Fault backoff (default: 1s base, 30s cap)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		ReadTimeout: time.Minute,
		LeaseWindow: lease.DefaultWindow,
		Backoff:     DefaultBackoff(),
	}
}

// Deps are the Supervisor's collaborators. Conn, Processor, Jobs and Signals
// are required; Host and Clock are optional.
type Deps struct {
	Conn      Conn
	Processor Processor
	Jobs      JobEnqueuer
	Signals   Signals
	Host      necessity.Host
	Clock     clock.Clock
}

// State is the worker's position in its loop.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateReading
	StateBackingOff
	StateTerminated
)

var stateNames = []string{"idle", "connecting", "reading", "backing_off", "terminated"}

func (s State) String() string {
	if int(s) < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Stats is a point-in-time view of the supervisor.
type Stats struct {
	State       State
	Connected   bool
	Failures    int
	AppVisible  bool
	Terminated  bool
	Leases      []string
	Drain       drain.State
	HostStarted bool
}
