package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/rickgao/retriever/internal/jobs"
	"github.com/rickgao/retriever/internal/settings"
)

// LeaseKey is the lease held on behalf of websocket-strategy pushes.
const LeaseKey = "push-receiver"

const maxBody = 4 << 10

// Settings is the settings access the receiver needs.
type Settings interface {
	Current() settings.Settings
	Update(fn func(*settings.Settings)) error
}

// Enqueuer schedules background jobs.
type Enqueuer interface {
	Enqueue(job jobs.Job) error
}

// Config holds receiver configuration.
type Config struct {
	Listen       string        // Listen address (e.g., ":8088")
	Path         string        // Base path (default: /push)
	LeaseHold    time.Duration // Websocket strategy lease duration (default: 20s)
	FetchMinHold time.Duration // Rest strategy minimum hold (default: 5s)
	FetchMaxHold time.Duration // Rest strategy maximum hold (default: 1m)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Path:         "/push",
		LeaseHold:    20 * time.Second,
		FetchMinHold: 5 * time.Second,
		FetchMaxHold: time.Minute,
	}
}

// Receiver handles push callbacks.
type Receiver struct {
	cfg      Config
	leases   jobs.LeaseHolder
	jobs     Enqueuer
	settings Settings
	clock    clock.Clock
	logger   *slog.Logger

	mu       sync.Mutex
	gen      uint64
	timer    *clock.Timer
	received int64

	server *http.Server
	ln     net.Listener
	wg     sync.WaitGroup
}

// NewReceiver creates a Receiver. A nil clock uses the wall clock.
func NewReceiver(cfg Config, leases jobs.LeaseHolder, q Enqueuer, st Settings, clk clock.Clock, logger *slog.Logger) *Receiver {
	if logger == nil {
		logger = slog.Default()
	}
	if clk == nil {
		clk = clock.New()
	}
	def := DefaultConfig()
	if cfg.Path == "" {
		cfg.Path = def.Path
	}
	cfg.Path = "/" + strings.Trim(cfg.Path, "/")
	if cfg.LeaseHold <= 0 {
		cfg.LeaseHold = def.LeaseHold
	}
	if cfg.FetchMinHold <= 0 {
		cfg.FetchMinHold = def.FetchMinHold
	}
	if cfg.FetchMaxHold <= 0 {
		cfg.FetchMaxHold = def.FetchMaxHold
	}
	return &Receiver{
		cfg:      cfg,
		leases:   leases,
		jobs:     q,
		settings: st,
		clock:    clk,
		logger:   logger,
	}
}

// Handler returns the HTTP routes.
func (r *Receiver) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+r.cfg.Path+"/message", r.handleMessage)
	mux.HandleFunc("PUT "+r.cfg.Path+"/endpoint", r.handleNewEndpoint)
	mux.HandleFunc("DELETE "+r.cfg.Path+"/endpoint", r.handleUnregistered)
	return mux
}

// OnMessage turns a push wake-up into a fetch. Pushes are ignored while no
// endpoint is registered.
func (r *Receiver) OnMessage() error {
	cur := r.settings.Current()
	if !cur.PushEnabled() {
		r.logger.Debug("push ignored, no endpoint registered")
		return nil
	}

	r.mu.Lock()
	r.received++
	r.mu.Unlock()

	switch cur.Push.FetchStrategy {
	case settings.FetchREST:
		return r.fetchREST()
	default:
		r.fetchWebsocket()
		return nil
	}
}

// OnNewEndpoint records a distributor endpoint.
func (r *Receiver) OnNewEndpoint(endpoint string) error {
	if r.settings.Current().Push.Endpoint == endpoint {
		return nil
	}
	r.logger.Info("new push endpoint", "endpoint", endpoint)
	return r.settings.Update(func(s *settings.Settings) {
		s.Push.Endpoint = endpoint
	})
}

// OnUnregistered clears the endpoint; without push the connection is kept
// open permanently.
func (r *Receiver) OnUnregistered() error {
	r.logger.Info("push unregistered")
	return r.settings.Update(func(s *settings.Settings) {
		s.Push.Endpoint = ""
	})
}

// Received returns the number of pushes acted on.
func (r *Receiver) Received() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.received
}

// fetchWebsocket holds LeaseKey for LeaseHold. A later push restarts the hold.
func (r *Receiver) fetchWebsocket() {
	r.leases.RegisterLease(LeaseKey)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.gen++
	gen := r.gen
	if r.timer != nil {
		r.timer.Stop()
	}
	r.timer = r.clock.AfterFunc(r.cfg.LeaseHold, func() {
		r.mu.Lock()
		current := r.gen == gen
		r.mu.Unlock()
		if current {
			r.leases.RemoveLease(LeaseKey)
		}
	})
}

func (r *Receiver) fetchREST() error {
	key := "push-fetch-" + uuid.NewString()
	job := jobs.NewPushFetchJob(r.leases, key, r.cfg.FetchMinHold, r.cfg.FetchMaxHold)
	if err := r.jobs.Enqueue(job); err != nil {
		r.logger.Warn("enqueue push fetch failed, running inline", "error", err)
		go func() {
			if err := job.Run(context.Background()); err != nil {
				r.logger.Warn("push fetch failed", "error", err)
			}
		}()
	}
	return nil
}

func (r *Receiver) handleMessage(w http.ResponseWriter, req *http.Request) {
	// The payload is only a wake-up; its content is not used.
	io.Copy(io.Discard, io.LimitReader(req.Body, maxBody))

	if err := r.OnMessage(); err != nil {
		r.logger.Error("handle push failed", "error", err)
		http.Error(w, "push failed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

type endpointRequest struct {
	Endpoint string `json:"endpoint"`
}

func (r *Receiver) handleNewEndpoint(w http.ResponseWriter, req *http.Request) {
	var body endpointRequest
	if err := json.NewDecoder(io.LimitReader(req.Body, maxBody)).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if body.Endpoint == "" {
		http.Error(w, "endpoint is required", http.StatusBadRequest)
		return
	}
	if err := r.OnNewEndpoint(body.Endpoint); err != nil {
		r.logger.Error("save endpoint failed", "error", err)
		http.Error(w, "save failed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (r *Receiver) handleUnregistered(w http.ResponseWriter, _ *http.Request) {
	if err := r.OnUnregistered(); err != nil {
		r.logger.Error("clear endpoint failed", "error", err)
		http.Error(w, "save failed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Start listens on cfg.Listen and serves Handler.
func (r *Receiver) Start(_ context.Context) error {
	if r.cfg.Listen == "" {
		return errors.New("push: listen address is required")
	}
	ln, err := net.Listen("tcp", r.cfg.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", r.cfg.Listen, err)
	}
	r.ln = ln
	r.server = &http.Server{
		Handler:           r.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("push server error", "error", err)
		}
	}()

	r.logger.Info("push receiver started", "addr", ln.Addr().String(), "path", r.cfg.Path)
	return nil
}

// Addr returns the bound address once started.
func (r *Receiver) Addr() string {
	if r.ln == nil {
		return ""
	}
	return r.ln.Addr().String()
}

// Stop shuts the server down and cancels a pending lease timer.
func (r *Receiver) Stop(ctx context.Context) error {
	r.mu.Lock()
	if r.timer != nil {
		r.timer.Stop()
	}
	r.mu.Unlock()

	if r.server == nil {
		return nil
	}
	err := r.server.Shutdown(ctx)
	r.wg.Wait()
	return err
}
