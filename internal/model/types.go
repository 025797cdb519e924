package model

import (
	"time"

	"github.com/google/uuid"
)

// -----------------------------------------------------------------------------
// Inbound Types
// -----------------------------------------------------------------------------

// Envelope is a single inbound unit read from the retrieval connection.
// The content is opaque to the retriever; decoding belongs to the processor.
type Envelope struct {
	GUID            uuid.UUID // Server-assigned ID, used for acknowledgement
	Source          string    // Sender address (empty for sealed sender)
	SourceDevice    int       // Sender device ID
	Timestamp       int64     // Sender timestamp (ms since epoch)
	ServerTimestamp int64     // Server receipt timestamp (ms since epoch)
	Content         []byte    // Opaque payload
	ReceivedAt      time.Time // Local timestamp when the frame was read
}

// Age returns how long the envelope sat on the server before it was read.
func (e Envelope) Age() time.Duration {
	if e.ServerTimestamp == 0 || e.ReceivedAt.IsZero() {
		return 0
	}
	return e.ReceivedAt.Sub(time.UnixMilli(e.ServerTimestamp))
}

// -----------------------------------------------------------------------------
// Job Types
// -----------------------------------------------------------------------------

// JobKind identifies a background job type.
type JobKind string

const (
	JobDrainWatch JobKind = "drain_watch" // waits for processing to settle after a network drain
	JobPushFetch  JobKind = "push_fetch"  // holds the connection open until a push-triggered fetch drains
)

// JobRecord is the journal entry for an enqueued job.
type JobRecord struct {
	ID         uuid.UUID
	Kind       JobKind
	EnqueuedAt time.Time
	FinishedAt time.Time // Zero until the job finishes
	Err        string    // Empty on success
}
