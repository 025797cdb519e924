package transport

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/retriever/internal/model"
)

// Errors
var (
	ErrStaleConnection = errors.New("connection stale (no pong)")
	ErrMissingEnvelope = errors.New("envelope frame without body")
)

// Frame types.
const (
	FrameEnvelope   = "envelope"    // server → client, carries one envelope
	FrameQueueEmpty = "queue_empty" // server → client, backlog delivered
	FrameAck        = "ack"         // client → server, envelope accepted
)

// Frame is the JSON wire frame.
type Frame struct {
	Type     string         `json:"type"`
	Envelope *EnvelopeFrame `json:"envelope,omitempty"`
	GUID     string         `json:"guid,omitempty"` // ack only
}

// EnvelopeFrame is the wire form of an envelope.
type EnvelopeFrame struct {
	GUID            string `json:"guid"`
	Source          string `json:"source,omitempty"`
	SourceDevice    int    `json:"source_device,omitempty"`
	Timestamp       int64  `json:"timestamp"`
	ServerTimestamp int64  `json:"server_timestamp"`
	Content         []byte `json:"content"` // base64 in JSON
}

// ToModel converts the frame to an envelope stamped with receivedAt.
func (f *EnvelopeFrame) ToModel(receivedAt time.Time) (model.Envelope, error) {
	guid, err := uuid.Parse(f.GUID)
	if err != nil {
		return model.Envelope{}, err
	}
	return model.Envelope{
		GUID:            guid,
		Source:          f.Source,
		SourceDevice:    f.SourceDevice,
		Timestamp:       f.Timestamp,
		ServerTimestamp: f.ServerTimestamp,
		Content:         f.Content,
		ReceivedAt:      receivedAt,
	}, nil
}

// timestampedFrame wraps a decoded frame with its receive time.
type timestampedFrame struct {
	Frame      Frame
	ReceivedAt time.Time
}

// Config configures a Conn.
type Config struct {
	URL              string        // WebSocket URL (e.g., wss://chat.example.org/v1/websocket/)
	Username         string        // Basic auth user (empty = no auth)
	Password         string        // Basic auth password
	HandshakeTimeout time.Duration // Dial + upgrade timeout
	WriteTimeout     time.Duration // Write deadline for acks and pings
	PingInterval     time.Duration // How often to ping the server
	PongTimeout      time.Duration // Max time without pong before the session is stale
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		PingInterval:     30 * time.Second,
		PongTimeout:      90 * time.Second,
	}
}
