package transport

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/retriever/internal/model"
	"github.com/rickgao/retriever/internal/supervisor"
	"github.com/rickgao/retriever/internal/version"
)

// Conn is a WebSocket retrieval connection. It implements supervisor.Conn.
type Conn struct {
	cfg    Config
	logger *slog.Logger

	mu   sync.Mutex
	sess *session
}

// session is one dialed socket. A Connect after Disconnect gets a new one.
type session struct {
	ws     *websocket.Conn
	logger *slog.Logger

	frames chan timestampedFrame // unbuffered: the reader waits for the consumer
	errs   chan error
	done   chan struct{}

	closeOnce sync.Once
	closeErr  error

	writeMu sync.Mutex

	mu       sync.Mutex
	lastPong time.Time
}

var _ supervisor.Conn = (*Conn)(nil)

// NewConn creates a disconnected Conn.
func NewConn(cfg Config, logger *slog.Logger) *Conn {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = def.HandshakeTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = def.PongTimeout
	}
	return &Conn{cfg: cfg, logger: logger}
}

// Connect dials the server. An open session is closed first.
func (c *Conn) Connect(ctx context.Context) error {
	if err := c.Disconnect(); err != nil {
		c.logger.Debug("close previous session", "error", err)
	}

	header := http.Header{}
	header.Set("Accept", "application/json")
	header.Set("User-Agent", version.UserAgent())
	if c.cfg.Username != "" {
		creds := base64.StdEncoding.EncodeToString([]byte(c.cfg.Username + ":" + c.cfg.Password))
		header.Set("Authorization", "Basic "+creds)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: c.cfg.HandshakeTimeout,
	}

	ws, resp, err := dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial %s: %w (status %d)", c.cfg.URL, err, resp.StatusCode)
		}
		return fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}

	s := &session{
		ws:       ws,
		logger:   c.logger,
		frames:   make(chan timestampedFrame),
		errs:     make(chan error, 1),
		done:     make(chan struct{}),
		lastPong: time.Now(),
	}

	ws.SetPingHandler(func(data string) error {
		s.touch()
		return ws.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(c.cfg.WriteTimeout))
	})
	ws.SetPongHandler(func(string) error {
		s.touch()
		return nil
	})

	c.mu.Lock()
	c.sess = s
	c.mu.Unlock()

	go s.readLoop()
	go s.heartbeatLoop(c.cfg.PingInterval, c.cfg.PongTimeout, c.cfg.WriteTimeout)

	c.logger.Debug("websocket connected", "url", c.cfg.URL)
	return nil
}

// Disconnect closes the current session, if any.
func (c *Conn) Disconnect() error {
	c.mu.Lock()
	s := c.sess
	c.sess = nil
	c.mu.Unlock()

	if s == nil {
		return nil
	}
	return s.close()
}

// IsConnected reports whether a session is open.
func (c *Conn) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess != nil
}

// ReadOne waits up to timeout for the next frame. Envelopes are acked only
// after handle returns nil.
func (c *Conn) ReadOne(ctx context.Context, timeout time.Duration, handle func(model.Envelope) error) error {
	c.mu.Lock()
	s := c.sess
	c.mu.Unlock()
	if s == nil {
		return supervisor.ErrUnavailable
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return supervisor.ErrUnavailable
	case <-timer.C:
		return supervisor.ErrTimeout
	case err := <-s.errs:
		c.dropSession(s)
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			c.logger.Debug("server closed connection", "error", err)
			return supervisor.ErrUnavailable
		}
		return fmt.Errorf("read: %w", err)
	case tf := <-s.frames:
		return c.handleFrame(s, tf, handle)
	}
}

func (c *Conn) handleFrame(s *session, tf timestampedFrame, handle func(model.Envelope) error) error {
	switch tf.Frame.Type {
	case FrameQueueEmpty:
		return supervisor.ErrEmpty

	case FrameEnvelope:
		if tf.Frame.Envelope == nil {
			return ErrMissingEnvelope
		}
		env, err := tf.Frame.Envelope.ToModel(tf.ReceivedAt)
		if err != nil {
			return fmt.Errorf("decode envelope: %w", err)
		}
		if err := handle(env); err != nil {
			return err
		}
		if err := s.writeJSON(Frame{Type: FrameAck, GUID: env.GUID.String()}, c.cfg.WriteTimeout); err != nil {
			return fmt.Errorf("ack %s: %w", env.GUID, err)
		}
		return nil

	default:
		c.logger.Debug("ignoring frame", "type", tf.Frame.Type)
		return nil
	}
}

// dropSession forgets s if it is still current and closes it.
func (c *Conn) dropSession(s *session) {
	c.mu.Lock()
	if c.sess == s {
		c.sess = nil
	}
	c.mu.Unlock()
	s.close()
}

func (s *session) touch() {
	s.mu.Lock()
	s.lastPong = time.Now()
	s.mu.Unlock()
}

func (s *session) lastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastPong
}

func (s *session) close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.writeMu.Lock()
		s.ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		s.writeMu.Unlock()
		s.closeErr = s.ws.Close()
	})
	return s.closeErr
}

func (s *session) writeJSON(v any, timeout time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.ws.SetWriteDeadline(time.Now().Add(timeout))
	return s.ws.WriteMessage(websocket.TextMessage, data)
}

func (s *session) fail(err error) {
	select {
	case <-s.done:
	case s.errs <- err:
	default:
	}
}

// readLoop decodes frames and hands them over one at a time.
func (s *session) readLoop() {
	for {
		_, data, err := s.ws.ReadMessage()
		receivedAt := time.Now()
		if err != nil {
			s.fail(err)
			return
		}

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			s.fail(fmt.Errorf("decode frame: %w", err))
			return
		}

		select {
		case s.frames <- timestampedFrame{Frame: f, ReceivedAt: receivedAt}:
		case <-s.done:
			return
		}
	}
}

// heartbeatLoop pings the server and fails the session when pongs stop.
func (s *session) heartbeatLoop(interval, pongTimeout, writeTimeout time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if err := s.ws.WriteControl(websocket.PingMessage, []byte("keepalive"), time.Now().Add(writeTimeout)); err != nil {
				s.logger.Debug("failed to send ping", "error", err)
			}

			last := s.lastSeen()
			if time.Since(last) > pongTimeout {
				s.logger.Warn("no pong received, connection stale",
					"last_pong", last,
					"timeout", pongTimeout,
				)
				s.fail(ErrStaleConnection)
				s.ws.Close()
				return
			}
		}
	}
}

// IsStale reports whether err came from a failed heartbeat.
func IsStale(err error) bool {
	return errors.Is(err, ErrStaleConnection)
}
