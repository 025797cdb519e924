package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rickgao/retriever/internal/metrics"
	"github.com/rickgao/retriever/internal/necessity"
	"github.com/rickgao/retriever/internal/supervisor"
	"github.com/rickgao/retriever/internal/version"
)

// StatsSource reports supervisor state.
type StatsSource interface {
	Stats() supervisor.Stats
}

// Pinger checks a dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config holds server configuration.
type Config struct {
	Addr        string // Listen address (e.g., ":9090")
	MetricsPath string // default: /metrics
}

// Server is the status HTTP server.
type Server struct {
	cfg    Config
	stats  StatsSource
	db     Pinger
	logger *slog.Logger

	mu      sync.Mutex
	server  *http.Server
	ln      net.Listener
	done    chan struct{}
	started time.Time
}

var _ necessity.Host = (*Server)(nil)

// NewServer creates a Server. stats and db may be set later with Bind.
func NewServer(cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	return &Server{cfg: cfg, logger: logger}
}

// Bind sets the health sources. The supervisor needs the host before it
// exists, so the two are wired in that order.
func (s *Server) Bind(stats StatsSource, db Pinger) {
	s.mu.Lock()
	s.stats = stats
	s.db = db
	s.mu.Unlock()
}

// EnsureStarted starts serving if not already running.
func (s *Server) EnsureStarted() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return nil
	}

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	done := make(chan struct{})

	go func() {
		defer close(done)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("status server error", "error", err)
		}
	}()

	s.server = srv
	s.ln = ln
	s.done = done
	s.started = time.Now()

	s.logger.Info("status server started", "addr", ln.Addr().String())
	return nil
}

// Stop shuts the server down. It may be started again afterwards.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.Shutdown(ctx)
}

// Shutdown stops the server within ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv, done := s.server, s.done
	s.server, s.ln, s.done = nil, nil, nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}

	err := srv.Shutdown(ctx)
	select {
	case <-done:
	case <-ctx.Done():
	}
	s.logger.Info("status server stopped")
	return err
}

// Addr returns the bound address, or "" when not running.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Running reports whether the server is serving.
func (s *Server) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.server != nil
}

// Handler returns the status routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle(s.cfg.MetricsPath, metrics.Handler())
	return mux
}

type health struct {
	Status     string         `json:"status"`
	Build      version.Info   `json:"build"`
	Uptime     string         `json:"uptime,omitempty"`
	Components map[string]any `json:"components"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	s.mu.Lock()
	stats, db, started := s.stats, s.db, s.started
	s.mu.Unlock()

	h := health{
		Status:     "healthy",
		Build:      version.Get(),
		Components: make(map[string]any),
	}
	if !started.IsZero() {
		h.Uptime = time.Since(started).Round(time.Second).String()
	}

	// Check database
	if db != nil {
		if err := db.Ping(ctx); err != nil {
			h.Status = "unhealthy"
			h.Components["database"] = map[string]string{
				"status": "disconnected",
				"error":  err.Error(),
			}
		} else {
			h.Components["database"] = "connected"
		}
	}

	// Check supervisor
	if stats != nil {
		st := stats.Stats()
		h.Components["supervisor"] = map[string]any{
			"state":        st.State.String(),
			"connected":    st.Connected,
			"failures":     st.Failures,
			"app_visible":  st.AppVisible,
			"leases":       st.Leases,
			"drain":        st.Drain.String(),
			"host_started": st.HostStarted,
		}
		switch {
		case st.Terminated && h.Status == "healthy":
			h.Status = "terminated"
		case st.State == supervisor.StateBackingOff && h.Status == "healthy":
			h.Status = "degraded"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if h.Status == "unhealthy" || h.Status == "terminated" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(h)
}
