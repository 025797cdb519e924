package netprobe

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// Dialer opens network connections.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Config holds prober configuration.
type Config struct {
	Addresses []string      // host:port endpoints to dial
	Interval  time.Duration // Probe interval (default: 10s)
	Timeout   time.Duration // Per-dial timeout (default: 3s)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval: 10 * time.Second,
		Timeout:  3 * time.Second,
	}
}

// Prober tracks network reachability.
type Prober struct {
	cfg    Config
	dialer Dialer
	logger *slog.Logger

	reachable atomic.Bool
	probed    atomic.Bool

	mu        sync.Mutex
	listeners []func(reachable bool)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Prober. A nil dialer uses net.Dialer.
func New(cfg Config, dialer Dialer, logger *slog.Logger) *Prober {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if dialer == nil {
		dialer = &net.Dialer{}
	}
	return &Prober{
		cfg:    cfg,
		dialer: dialer,
		logger: logger,
	}
}

// OnChange registers fn for reachability edges. fn runs on the probe
// goroutine after NetworkReachable reflects the new value.
func (p *Prober) OnChange(fn func(reachable bool)) {
	p.mu.Lock()
	p.listeners = append(p.listeners, fn)
	p.mu.Unlock()
}

// NetworkReachable reports the last probe result.
func (p *Prober) NetworkReachable() bool {
	return p.reachable.Load()
}

// Start begins the probe loop.
func (p *Prober) Start(ctx context.Context) error {
	if len(p.cfg.Addresses) == 0 {
		return errors.New("netprobe: no addresses configured")
	}

	p.ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.run()

	p.logger.Info("network prober started",
		"addresses", p.cfg.Addresses,
		"interval", p.cfg.Interval,
	)

	return nil
}

// Stop gracefully shuts down the prober.
func (p *Prober) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("network prober stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is the main probe loop.
func (p *Prober) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	// Probe immediately on start.
	p.ProbeOnce(p.ctx)

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.ProbeOnce(p.ctx)
		}
	}
}

// ProbeOnce dials every address concurrently and records the result.
func (p *Prober) ProbeOnce(ctx context.Context) bool {
	var wg sync.WaitGroup
	var ok atomic.Bool

	for _, addr := range p.cfg.Addresses {
		wg.Add(1)
		go func(addr string) {
			defer wg.Done()
			if err := p.dial(ctx, addr); err != nil {
				p.logger.Debug("probe failed", "address", addr, "error", err)
				return
			}
			ok.Store(true)
		}(addr)
	}
	wg.Wait()

	// A cancelled probe says nothing about the network.
	if ctx.Err() != nil {
		return p.reachable.Load()
	}

	p.record(ok.Load())
	return ok.Load()
}

func (p *Prober) dial(ctx context.Context, addr string) error {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	conn, err := p.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	return conn.Close()
}

func (p *Prober) record(reachable bool) {
	prev := p.reachable.Swap(reachable)
	first := !p.probed.Swap(true)
	if prev == reachable && !first {
		return
	}

	if reachable {
		p.logger.Info("network reachable")
	} else {
		p.logger.Warn("network unreachable")
	}

	p.mu.Lock()
	listeners := make([]func(bool), len(p.listeners))
	copy(listeners, p.listeners)
	p.mu.Unlock()

	for _, fn := range listeners {
		fn(reachable)
	}
}
