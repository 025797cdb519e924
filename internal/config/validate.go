package config

import (
	"errors"
	"fmt"
	"net/url"
)

// Validate checks that all required fields are set and values are valid.
func (c *RetrieverConfig) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if c.Server.URL == "" {
		return errors.New("server.url is required")
	}
	u, err := url.Parse(c.Server.URL)
	if err != nil {
		return fmt.Errorf("server.url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("server.url must use ws or wss, got %q", u.Scheme)
	}
	if c.Server.PongTimeout <= c.Server.PingInterval {
		return fmt.Errorf("server.pong_timeout (%s) must exceed server.ping_interval (%s)",
			c.Server.PongTimeout, c.Server.PingInterval)
	}

	if c.Supervisor.ReadTimeout <= 0 {
		return errors.New("supervisor.read_timeout must be > 0")
	}
	if c.Supervisor.LeaseWindow <= 0 {
		return errors.New("supervisor.lease_window must be > 0")
	}
	if c.Supervisor.BackoffMax < c.Supervisor.BackoffBase {
		return fmt.Errorf("supervisor.backoff_max (%s) cannot be below backoff_base (%s)",
			c.Supervisor.BackoffMax, c.Supervisor.BackoffBase)
	}
	if c.Supervisor.BackoffJitter < 0 || c.Supervisor.BackoffJitter > 1 {
		return fmt.Errorf("supervisor.backoff_jitter must be between 0 and 1, got %g", c.Supervisor.BackoffJitter)
	}

	if err := c.Database.validate("database"); err != nil {
		return err
	}

	if c.Jobs.Workers < 1 {
		return errors.New("jobs.workers must be >= 1")
	}
	if c.Jobs.BufferSize < 1 {
		return errors.New("jobs.buffer_size must be >= 1")
	}

	if c.Network.ProbeAddress == "" {
		return errors.New("network.probe_address is required")
	}

	if c.Push.LeaseHold >= c.Supervisor.LeaseWindow {
		return fmt.Errorf("push.lease_hold (%s) must be shorter than supervisor.lease_window (%s)",
			c.Push.LeaseHold, c.Supervisor.LeaseWindow)
	}

	if c.Status.Port < 1 || c.Status.Port > 65535 {
		return fmt.Errorf("status.port must be between 1 and 65535, got %d", c.Status.Port)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error, got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
