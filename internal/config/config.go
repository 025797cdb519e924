package config

import "time"

// RetrieverConfig is the root configuration for a retriever instance.
type RetrieverConfig struct {
	Instance   InstanceConfig   `yaml:"instance"`
	Server     ServerConfig     `yaml:"server"`
	Supervisor SupervisorConfig `yaml:"supervisor"`
	Database   DBConfig         `yaml:"database"`
	Jobs       JobsConfig       `yaml:"jobs"`
	Settings   SettingsConfig   `yaml:"settings"`
	Network    NetworkConfig    `yaml:"network"`
	Push       PushConfig       `yaml:"push"`
	Status     StatusConfig     `yaml:"status"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// InstanceConfig identifies this retriever.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// ServerConfig holds the message server WebSocket settings.
type ServerConfig struct {
	URL              string        `yaml:"url"`
	Username         string        `yaml:"username"` // account identifier (basic auth)
	Password         string        `yaml:"password"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	PingInterval     time.Duration `yaml:"ping_interval"`
	PongTimeout      time.Duration `yaml:"pong_timeout"`
}

// SupervisorConfig holds the connection supervisor settings.
type SupervisorConfig struct {
	ReadTimeout   time.Duration `yaml:"read_timeout"`
	LeaseWindow   time.Duration `yaml:"lease_window"`
	BackoffBase   time.Duration `yaml:"backoff_base"`
	BackoffMax    time.Duration `yaml:"backoff_max"`
	BackoffJitter float64       `yaml:"backoff_jitter"`
}

// DBConfig holds the envelope store connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// JobsConfig holds background job queue settings.
type JobsConfig struct {
	Workers    int           `yaml:"workers"`
	BufferSize int           `yaml:"buffer_size"`
	JobTimeout time.Duration `yaml:"job_timeout"`
}

// SettingsConfig points at the account settings file.
type SettingsConfig struct {
	Path  string `yaml:"path"`
	Watch *bool  `yaml:"watch"` // nil = true
}

// NetworkConfig holds reachability probe settings.
type NetworkConfig struct {
	ProbeAddress string        `yaml:"probe_address"` // comma-separated host:port endpoints
	Interval     time.Duration `yaml:"interval"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
}

// PushConfig holds the push receiver settings.
type PushConfig struct {
	Listen       string        `yaml:"listen"` // empty disables the receiver
	Path         string        `yaml:"path"`
	LeaseHold    time.Duration `yaml:"lease_hold"`     // websocket strategy lease duration
	FetchMaxHold time.Duration `yaml:"fetch_max_hold"` // rest strategy upper bound
}

// StatusConfig holds the status server settings.
type StatusConfig struct {
	Port     int  `yaml:"port"`
	AlwaysOn bool `yaml:"always_on"` // serve even when no background host is needed
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// WatchSettings reports whether the settings file should be watched.
func (c SettingsConfig) WatchSettings() bool {
	return c.Watch == nil || *c.Watch
}
