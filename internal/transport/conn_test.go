package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rickgao/retriever/internal/model"
	"github.com/rickgao/retriever/internal/supervisor"
)

// mockWSServer creates a test WebSocket server.
func mockWSServer(t *testing.T, handler func(*http.Request, *websocket.Conn)) *httptest.Server {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()
		handler(r, conn)
	}))

	return server
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

// drainReads reads until the client goes away.
func drainReads(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func envelopeFrame(guid uuid.UUID, content string) Frame {
	return Frame{
		Type: FrameEnvelope,
		Envelope: &EnvelopeFrame{
			GUID:            guid.String(),
			Source:          "+15550001111",
			SourceDevice:    1,
			Timestamp:       1700000000000,
			ServerTimestamp: 1700000000500,
			Content:         []byte(content),
		},
	}
}

func testConfig(server *httptest.Server) Config {
	cfg := DefaultConfig()
	cfg.URL = wsURL(server)
	return cfg
}

func connect(t *testing.T, cfg Config) *Conn {
	t.Helper()
	c := NewConn(cfg, nil)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	t.Cleanup(func() { c.Disconnect() })
	return c
}

func TestConn_ConnectBasicAuth(t *testing.T) {
	authCh := make(chan string, 1)
	server := mockWSServer(t, func(r *http.Request, conn *websocket.Conn) {
		user, pass, ok := r.BasicAuth()
		if ok {
			authCh <- user + ":" + pass
		} else {
			authCh <- ""
		}
		drainReads(conn)
	})
	defer server.Close()

	cfg := testConfig(server)
	cfg.Username = "alice.1"
	cfg.Password = "secret"
	c := connect(t, cfg)

	if !c.IsConnected() {
		t.Error("expected IsConnected to return true")
	}

	select {
	case got := <-authCh:
		if got != "alice.1:secret" {
			t.Errorf("auth = %q, want %q", got, "alice.1:secret")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server never saw the handshake")
	}
}

func TestConn_ConnectFailure(t *testing.T) {
	c := NewConn(Config{URL: "ws://127.0.0.1:1/v1/websocket/"}, nil)
	if err := c.Connect(context.Background()); err == nil {
		t.Fatal("expected dial error")
	}
	if c.IsConnected() {
		t.Error("expected IsConnected to return false after failed dial")
	}
}

func TestConn_ReadOneWhenDisconnected(t *testing.T) {
	c := NewConn(DefaultConfig(), nil)
	err := c.ReadOne(context.Background(), time.Second, func(model.Envelope) error { return nil })
	if !errors.Is(err, supervisor.ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
}

func TestConn_ReadOneEnvelopeAcked(t *testing.T) {
	guid := uuid.New()
	acks := make(chan Frame, 1)

	server := mockWSServer(t, func(_ *http.Request, conn *websocket.Conn) {
		if err := conn.WriteJSON(envelopeFrame(guid, "hello")); err != nil {
			return
		}
		var ack Frame
		if err := conn.ReadJSON(&ack); err != nil {
			return
		}
		acks <- ack
		drainReads(conn)
	})
	defer server.Close()

	c := connect(t, testConfig(server))

	var got model.Envelope
	err := c.ReadOne(context.Background(), 2*time.Second, func(env model.Envelope) error {
		got = env
		return nil
	})
	if err != nil {
		t.Fatalf("ReadOne failed: %v", err)
	}

	if got.GUID != guid {
		t.Errorf("GUID = %s, want %s", got.GUID, guid)
	}
	if string(got.Content) != "hello" {
		t.Errorf("Content = %q, want %q", got.Content, "hello")
	}
	if got.SourceDevice != 1 || got.ServerTimestamp != 1700000000500 {
		t.Errorf("unexpected envelope fields: %+v", got)
	}
	if got.ReceivedAt.IsZero() {
		t.Error("expected ReceivedAt to be set")
	}

	select {
	case ack := <-acks:
		if ack.Type != FrameAck || ack.GUID != guid.String() {
			t.Errorf("ack = %+v, want ack for %s", ack, guid)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no ack received")
	}
}

func TestConn_HandlerErrorSkipsAck(t *testing.T) {
	var mu sync.Mutex
	var received []string

	server := mockWSServer(t, func(_ *http.Request, conn *websocket.Conn) {
		conn.WriteJSON(envelopeFrame(uuid.New(), "x"))
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			mu.Lock()
			received = append(received, string(msg))
			mu.Unlock()
		}
	})
	defer server.Close()

	c := connect(t, testConfig(server))

	boom := errors.New("store down")
	err := c.ReadOne(context.Background(), 2*time.Second, func(model.Envelope) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}

	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 0 {
		t.Errorf("expected no ack, server received %v", received)
	}
}

func TestConn_ReadOneInOrder(t *testing.T) {
	guids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}

	server := mockWSServer(t, func(_ *http.Request, conn *websocket.Conn) {
		go drainReads(conn)
		for _, g := range guids {
			if err := conn.WriteJSON(envelopeFrame(g, "m")); err != nil {
				return
			}
		}
		conn.WriteJSON(Frame{Type: FrameQueueEmpty})
		time.Sleep(time.Second)
	})
	defer server.Close()

	c := connect(t, testConfig(server))

	var got []uuid.UUID
	handle := func(env model.Envelope) error {
		got = append(got, env.GUID)
		return nil
	}
	for i := range guids {
		if err := c.ReadOne(context.Background(), 2*time.Second, handle); err != nil {
			t.Fatalf("ReadOne %d failed: %v", i, err)
		}
	}
	if err := c.ReadOne(context.Background(), 2*time.Second, handle); !errors.Is(err, supervisor.ErrEmpty) {
		t.Fatalf("err = %v, want ErrEmpty", err)
	}

	for i := range guids {
		if got[i] != guids[i] {
			t.Errorf("got[%d] = %s, want %s", i, got[i], guids[i])
		}
	}
}

func TestConn_ReadOneTimeout(t *testing.T) {
	server := mockWSServer(t, func(_ *http.Request, conn *websocket.Conn) {
		drainReads(conn)
	})
	defer server.Close()

	c := connect(t, testConfig(server))

	err := c.ReadOne(context.Background(), 50*time.Millisecond, func(model.Envelope) error { return nil })
	if !errors.Is(err, supervisor.ErrTimeout) {
		t.Errorf("err = %v, want ErrTimeout", err)
	}
	if !c.IsConnected() {
		t.Error("timeout should keep the session open")
	}
}

func TestConn_UnknownFrameIgnored(t *testing.T) {
	server := mockWSServer(t, func(_ *http.Request, conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"receipt"}`))
		drainReads(conn)
	})
	defer server.Close()

	c := connect(t, testConfig(server))

	called := false
	err := c.ReadOne(context.Background(), 2*time.Second, func(model.Envelope) error {
		called = true
		return nil
	})
	if err != nil {
		t.Errorf("ReadOne failed: %v", err)
	}
	if called {
		t.Error("handler should not run for unknown frames")
	}
}

func TestConn_MalformedFrameIsFault(t *testing.T) {
	server := mockWSServer(t, func(_ *http.Request, conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte(`not json`))
		drainReads(conn)
	})
	defer server.Close()

	c := connect(t, testConfig(server))

	err := c.ReadOne(context.Background(), 2*time.Second, func(model.Envelope) error { return nil })
	if err == nil {
		t.Fatal("expected error")
	}
	for _, sentinel := range []error{supervisor.ErrTimeout, supervisor.ErrEmpty, supervisor.ErrUnavailable} {
		if errors.Is(err, sentinel) {
			t.Errorf("malformed frame reported as %v", sentinel)
		}
	}
	if c.IsConnected() {
		t.Error("faulted session should be dropped")
	}
}

func TestConn_ServerCloseIsUnavailable(t *testing.T) {
	server := mockWSServer(t, func(_ *http.Request, conn *websocket.Conn) {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
		time.Sleep(100 * time.Millisecond)
	})
	defer server.Close()

	c := connect(t, testConfig(server))

	err := c.ReadOne(context.Background(), 2*time.Second, func(model.Envelope) error { return nil })
	if !errors.Is(err, supervisor.ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
	if c.IsConnected() {
		t.Error("expected session to be dropped after server close")
	}
}

func TestConn_DisconnectUnblocksRead(t *testing.T) {
	server := mockWSServer(t, func(_ *http.Request, conn *websocket.Conn) {
		drainReads(conn)
	})
	defer server.Close()

	c := connect(t, testConfig(server))

	errCh := make(chan error, 1)
	go func() {
		errCh <- c.ReadOne(context.Background(), 10*time.Second, func(model.Envelope) error { return nil })
	}()

	time.Sleep(50 * time.Millisecond)
	if err := c.Disconnect(); err != nil {
		t.Errorf("Disconnect failed: %v", err)
	}

	select {
	case err := <-errCh:
		if !errors.Is(err, supervisor.ErrUnavailable) {
			t.Errorf("err = %v, want ErrUnavailable", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ReadOne did not return after Disconnect")
	}
}

func TestConn_DoubleDisconnect(t *testing.T) {
	server := mockWSServer(t, func(_ *http.Request, conn *websocket.Conn) {
		drainReads(conn)
	})
	defer server.Close()

	c := connect(t, testConfig(server))

	if err := c.Disconnect(); err != nil {
		t.Errorf("first Disconnect failed: %v", err)
	}
	if err := c.Disconnect(); err != nil {
		t.Errorf("second Disconnect failed: %v", err)
	}
	if c.IsConnected() {
		t.Error("expected IsConnected to return false")
	}
}

func TestConn_ReconnectAfterDisconnect(t *testing.T) {
	var mu sync.Mutex
	dials := 0
	server := mockWSServer(t, func(_ *http.Request, conn *websocket.Conn) {
		mu.Lock()
		dials++
		mu.Unlock()
		conn.WriteJSON(Frame{Type: FrameQueueEmpty})
		drainReads(conn)
	})
	defer server.Close()

	c := connect(t, testConfig(server))
	c.Disconnect()

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("reconnect failed: %v", err)
	}
	err := c.ReadOne(context.Background(), 2*time.Second, func(model.Envelope) error { return nil })
	if !errors.Is(err, supervisor.ErrEmpty) {
		t.Errorf("err = %v, want ErrEmpty", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if dials != 2 {
		t.Errorf("dials = %d, want 2", dials)
	}
}

func TestConn_StaleWithoutPong(t *testing.T) {
	server := mockWSServer(t, func(_ *http.Request, conn *websocket.Conn) {
		// Swallow pings so no pong goes back.
		conn.SetPingHandler(func(string) error { return nil })
		drainReads(conn)
	})
	defer server.Close()

	cfg := testConfig(server)
	cfg.PingInterval = 20 * time.Millisecond
	cfg.PongTimeout = 60 * time.Millisecond
	c := connect(t, cfg)

	err := c.ReadOne(context.Background(), 2*time.Second, func(model.Envelope) error { return nil })
	if !IsStale(err) {
		t.Errorf("err = %v, want stale connection", err)
	}
}

func TestConn_ContextCancelled(t *testing.T) {
	server := mockWSServer(t, func(_ *http.Request, conn *websocket.Conn) {
		drainReads(conn)
	})
	defer server.Close()

	c := connect(t, testConfig(server))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.ReadOne(ctx, 2*time.Second, func(model.Envelope) error { return nil })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestFrame_JSON(t *testing.T) {
	data, err := json.Marshal(Frame{Type: FrameAck, GUID: "abc"})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if string(data) != `{"type":"ack","guid":"abc"}` {
		t.Errorf("ack = %s", data)
	}
}

func TestEnvelopeFrame_ToModelBadGUID(t *testing.T) {
	f := &EnvelopeFrame{GUID: "nope"}
	if _, err := f.ToModel(time.Now()); err == nil {
		t.Error("expected error for invalid guid")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.PingInterval != 30*time.Second {
		t.Errorf("PingInterval = %v, want 30s", cfg.PingInterval)
	}
	if cfg.PongTimeout <= cfg.PingInterval {
		t.Error("PongTimeout should exceed PingInterval")
	}
}
