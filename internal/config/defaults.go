package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultWriteTimeout     = 5 * time.Second
	DefaultPingInterval     = 30 * time.Second
	DefaultPongTimeout      = 90 * time.Second
	DefaultReadTimeout      = 1 * time.Minute
	DefaultLeaseWindow      = 5 * time.Minute
	DefaultBackoffBase      = 1 * time.Second
	DefaultBackoffMax       = 30 * time.Second
	DefaultBackoffJitter    = 0.25
	DefaultDBPort           = 5432
	DefaultDBSSLMode        = "prefer"
	DefaultMaxConns         = 4
	DefaultMinConns         = 1
	DefaultJobWorkers       = 2
	DefaultJobBufferSize    = 64
	DefaultJobTimeout       = 2 * time.Minute
	DefaultSettingsPath     = "settings.yaml"
	DefaultProbeInterval    = 10 * time.Second
	DefaultDialTimeout      = 3 * time.Second
	DefaultPushPath         = "/push"
	DefaultPushLeaseHold    = 20 * time.Second
	DefaultFetchMaxHold     = 1 * time.Minute
	DefaultStatusPort       = 9090
	DefaultMetricsPath      = "/metrics"
	DefaultLogLevel         = "info"
	DefaultLogFormat        = "text"
)

func (c *RetrieverConfig) applyDefaults() {
	// Server defaults
	if c.Server.HandshakeTimeout == 0 {
		c.Server.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = DefaultWriteTimeout
	}
	if c.Server.PingInterval == 0 {
		c.Server.PingInterval = DefaultPingInterval
	}
	if c.Server.PongTimeout == 0 {
		c.Server.PongTimeout = DefaultPongTimeout
	}

	// Supervisor defaults
	if c.Supervisor.ReadTimeout == 0 {
		c.Supervisor.ReadTimeout = DefaultReadTimeout
	}
	if c.Supervisor.LeaseWindow == 0 {
		c.Supervisor.LeaseWindow = DefaultLeaseWindow
	}
	if c.Supervisor.BackoffBase == 0 {
		c.Supervisor.BackoffBase = DefaultBackoffBase
	}
	if c.Supervisor.BackoffMax == 0 {
		c.Supervisor.BackoffMax = DefaultBackoffMax
	}
	if c.Supervisor.BackoffJitter == 0 {
		c.Supervisor.BackoffJitter = DefaultBackoffJitter
	}

	// Database defaults
	applyDBDefaults(&c.Database)

	// Jobs defaults
	if c.Jobs.Workers == 0 {
		c.Jobs.Workers = DefaultJobWorkers
	}
	if c.Jobs.BufferSize == 0 {
		c.Jobs.BufferSize = DefaultJobBufferSize
	}
	if c.Jobs.JobTimeout == 0 {
		c.Jobs.JobTimeout = DefaultJobTimeout
	}

	if c.Settings.Path == "" {
		c.Settings.Path = DefaultSettingsPath
	}

	// Network defaults
	if c.Network.Interval == 0 {
		c.Network.Interval = DefaultProbeInterval
	}
	if c.Network.DialTimeout == 0 {
		c.Network.DialTimeout = DefaultDialTimeout
	}

	// Push defaults
	if c.Push.Path == "" {
		c.Push.Path = DefaultPushPath
	}
	if c.Push.LeaseHold == 0 {
		c.Push.LeaseHold = DefaultPushLeaseHold
	}
	if c.Push.FetchMaxHold == 0 {
		c.Push.FetchMaxHold = DefaultFetchMaxHold
	}

	if c.Status.Port == 0 {
		c.Status.Port = DefaultStatusPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}

	// Logging defaults
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
