package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/retriever/internal/config"
	"github.com/rickgao/retriever/internal/database"
	"github.com/rickgao/retriever/internal/jobs"
	"github.com/rickgao/retriever/internal/netprobe"
	"github.com/rickgao/retriever/internal/push"
	"github.com/rickgao/retriever/internal/settings"
	"github.com/rickgao/retriever/internal/status"
	"github.com/rickgao/retriever/internal/store"
	"github.com/rickgao/retriever/internal/supervisor"
	"github.com/rickgao/retriever/internal/transport"
	"github.com/rickgao/retriever/internal/version"
)

// signals joins the settings file and the network prober into the
// supervisor's probe set.
type signals struct {
	*settings.Store
	*netprobe.Prober
}

func main() {
	configPath := flag.String("config", "configs/retriever.local.yaml", "path to config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("retriever failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	// Load configuration
	cfg, err := config.LoadAndValidate(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Set up structured logging
	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	logger.Info("starting retriever",
		"version", version.Version,
		"commit", version.Commit,
		"config", configPath,
		"instance_id", cfg.Instance.ID,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Connect to database
	logger.Info("connecting to database", "url", database.Redacted(cfg.Database))
	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	if err := store.Migrate(ctx, pool); err != nil {
		return err
	}
	logger.Info("database connected")

	// Account settings
	st := settings.NewStore(cfg.Settings.Path, logger.With("component", "settings"))
	if err := st.Load(); err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	logger.Info("settings loaded", "path", cfg.Settings.Path, "settings", st.Current().String())

	// Network reachability
	prober := netprobe.New(netprobe.Config{
		Addresses: splitList(cfg.Network.ProbeAddress),
		Interval:  cfg.Network.Interval,
		Timeout:   cfg.Network.DialTimeout,
	}, nil, logger.With("component", "netprobe"))

	// Background jobs
	journal := store.NewJobJournal(store.DefaultJournalConfig(), pool, logger.With("component", "journal"))
	queue := jobs.NewQueue(jobs.Config{
		Workers:    cfg.Jobs.Workers,
		BufferSize: cfg.Jobs.BufferSize,
		JobTimeout: cfg.Jobs.JobTimeout,
	}, journal, logger.With("component", "jobs"))

	// Status server doubles as the background host
	statusServer := status.NewServer(status.Config{
		Addr:        fmt.Sprintf(":%d", cfg.Status.Port),
		MetricsPath: cfg.Metrics.Path,
	}, logger.With("component", "status"))

	conn := transport.NewConn(transport.Config{
		URL:              cfg.Server.URL,
		Username:         cfg.Server.Username,
		Password:         cfg.Server.Password,
		HandshakeTimeout: cfg.Server.HandshakeTimeout,
		WriteTimeout:     cfg.Server.WriteTimeout,
		PingInterval:     cfg.Server.PingInterval,
		PongTimeout:      cfg.Server.PongTimeout,
	}, logger.With("component", "transport"))

	envelopes := store.NewEnvelopeStore(pool, logger.With("component", "store"))

	sup := supervisor.New(supervisor.Config{
		ReadTimeout: cfg.Supervisor.ReadTimeout,
		LeaseWindow: cfg.Supervisor.LeaseWindow,
		Backoff: supervisor.Backoff{
			Base:   cfg.Supervisor.BackoffBase,
			Max:    cfg.Supervisor.BackoffMax,
			Jitter: cfg.Supervisor.BackoffJitter,
		},
	}, supervisor.Deps{
		Conn:      conn,
		Processor: envelopes,
		Jobs:      queue,
		Signals:   signals{Store: st, Prober: prober},
		Host:      statusServer,
	}, logger.With("component", "supervisor"))

	statusServer.Bind(sup, pool)

	// Every settings change can flip the decision.
	st.OnChange(func(old, cur settings.Settings) {
		sup.OnRegistrationChanged()
	})
	prober.OnChange(func(bool) {
		sup.OnConnectivityChanged()
	})
	sup.AddDrainListener(func() {
		logger.Info("backlog fully drained")
	})

	receiver := push.NewReceiver(push.Config{
		Listen:       cfg.Push.Listen,
		Path:         cfg.Push.Path,
		LeaseHold:    cfg.Push.LeaseHold,
		FetchMaxHold: cfg.Push.FetchMaxHold,
	}, sup, queue, st, nil, logger.With("component", "push"))

	// Start components
	if cfg.Status.AlwaysOn {
		if err := statusServer.EnsureStarted(); err != nil {
			return fmt.Errorf("start status server: %w", err)
		}
	}
	if err := journal.Start(ctx); err != nil {
		return fmt.Errorf("start journal: %w", err)
	}
	if err := queue.Start(ctx); err != nil {
		return fmt.Errorf("start job queue: %w", err)
	}
	if err := prober.Start(ctx); err != nil {
		return fmt.Errorf("start prober: %w", err)
	}
	if cfg.Push.Listen != "" {
		if err := receiver.Start(ctx); err != nil {
			return fmt.Errorf("start push receiver: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := sup.Run(gctx)
		cancel()
		return err
	})
	if cfg.Settings.WatchSettings() {
		g.Go(func() error {
			return st.Watch(gctx)
		})
	}
	g.Go(func() error {
		return handleControlSignals(gctx, sup, st, logger)
	})

	logger.Info("retriever running",
		"server", cfg.Server.URL,
		"status_port", cfg.Status.Port,
	)

	g.Go(func() error {
		<-gctx.Done()
		sup.Terminate()
		return nil
	})
	runErr := g.Wait()
	if runErr != nil && ctx.Err() != nil {
		runErr = nil
	}

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Reverse start order
	err = multierr.Combine(
		runErr,
		receiver.Stop(shutdownCtx),
		prober.Stop(shutdownCtx),
		queue.Stop(shutdownCtx),
		journal.Stop(shutdownCtx),
		stopStatus(shutdownCtx, sup, statusServer),
	)

	logger.Info("retriever stopped")
	return err
}

// stopStatus stops the status server as the background host, so the
// supervisor records it as stopped. The direct shutdown covers an always_on
// server the supervisor never started.
func stopStatus(ctx context.Context, sup *supervisor.Supervisor, srv *status.Server) error {
	return multierr.Combine(
		sup.StopBackgroundHost(),
		srv.Shutdown(ctx),
	)
}

// handleControlSignals maps process signals onto supervisor events:
// SIGUSR1 foreground, SIGUSR2 background, SIGHUP settings reload.
func handleControlSignals(ctx context.Context, sup *supervisor.Supervisor, st *settings.Store, logger *slog.Logger) error {
	ch := make(chan os.Signal, 4)
	signal.Notify(ch, syscall.SIGUSR1, syscall.SIGUSR2, syscall.SIGHUP)
	defer signal.Stop(ch)

	for {
		select {
		case <-ctx.Done():
			return nil
		case sig := <-ch:
			logger.Info("received control signal", "signal", sig)
			switch sig {
			case syscall.SIGUSR1:
				sup.OnForeground()
			case syscall.SIGUSR2:
				sup.OnBackground()
			case syscall.SIGHUP:
				if err := st.Load(); err != nil {
					logger.Warn("reload settings failed", "error", err)
				}
			}
		}
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
