// Package config handles the TOML tool configuration for nexconv:
// servers and credentials, telemetry, journal, policy and daemon settings.
package config

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/yairfalse/nexconv/types"
)

// Config is the root configuration structure.
type Config struct {
	Servers map[string]ServerConfig `toml:"servers"`
	Client  ClientConfig            `toml:"client"`
	OTEL    OTELConfig              `toml:"otel"`
	Journal JournalConfig           `toml:"journal"`
	Policy  PolicyConfig            `toml:"policy"`
	Daemon  DaemonConfig            `toml:"daemon"`
	Log     LogConfig               `toml:"log"`
}

// ServerConfig names one repository manager. The password is read from
// PasswordEnv when set.
type ServerConfig struct {
	Endpoint    string `toml:"endpoint"`
	Username    string `toml:"username"`
	Password    string `toml:"password"`
	PasswordEnv string `toml:"password_env"`
}

// ClientConfig holds script client settings.
type ClientConfig struct {
	TimeoutStr string        `toml:"timeout"`
	Timeout    time.Duration `toml:"-"`
}

// OTELConfig holds OpenTelemetry settings.
type OTELConfig struct {
	Endpoint    string        `toml:"endpoint"`
	Insecure    bool          `toml:"insecure"`
	ServiceName string        `toml:"service_name"`
	Traces      TracesConfig  `toml:"traces"`
	Metrics     MetricsConfig `toml:"metrics"`
}

// TracesConfig holds tracing settings.
type TracesConfig struct {
	Enabled    bool    `toml:"enabled"`
	SampleRate float64 `toml:"sample_rate"`
}

// MetricsConfig holds metrics settings.
type MetricsConfig struct {
	Enabled bool `toml:"enabled"`
}

// JournalConfig holds audit journal settings. An empty dir disables it.
type JournalConfig struct {
	Dir           string `toml:"dir"`
	RetentionDays int    `toml:"retention_days"`
}

// PolicyConfig points at a .rego file or directory. Empty disables it.
type PolicyConfig struct {
	Path string `toml:"path"`
}

// DaemonConfig holds settings for continuous convergence.
type DaemonConfig struct {
	IntervalStr string        `toml:"interval"`
	Interval    time.Duration `toml:"-"`
	MetricsAddr string        `toml:"metrics_addr"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `toml:"level"`
}

// Load reads and parses a TOML config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is intentional user input
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes TOML config and applies defaults.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(cfg)

	if err := parseDurations(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.OTEL.ServiceName == "" {
		cfg.OTEL.ServiceName = "nexconv"
	}
	if cfg.Client.TimeoutStr == "" {
		cfg.Client.TimeoutStr = "60s"
	}
	if cfg.Daemon.IntervalStr == "" {
		cfg.Daemon.IntervalStr = "5m"
	}
	if cfg.Daemon.MetricsAddr == "" {
		cfg.Daemon.MetricsAddr = ":9464"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

func parseDurations(cfg *Config) error {
	d, err := time.ParseDuration(cfg.Client.TimeoutStr)
	if err != nil {
		return fmt.Errorf("parse client timeout %q: %w", cfg.Client.TimeoutStr, err)
	}
	cfg.Client.Timeout = d

	d, err = time.ParseDuration(cfg.Daemon.IntervalStr)
	if err != nil {
		return fmt.Errorf("parse daemon interval %q: %w", cfg.Daemon.IntervalStr, err)
	}
	cfg.Daemon.Interval = d
	return nil
}

// Validate checks the configuration is valid.
func (c *Config) Validate() error {
	if len(c.Servers) == 0 {
		return fmt.Errorf("servers: at least one server required")
	}
	for _, name := range c.ServerNames() {
		s := c.Servers[name]
		if s.Password != "" && s.PasswordEnv != "" {
			return fmt.Errorf("servers.%s: set password or password_env, not both", name)
		}
		if err := (types.Server{Endpoint: s.Endpoint, Username: s.Username}).Validate(); err != nil {
			return fmt.Errorf("servers.%s: %w", name, err)
		}
	}
	if c.OTEL.Traces.SampleRate < 0.0 || c.OTEL.Traces.SampleRate > 1.0 {
		return fmt.Errorf("otel: traces.sample_rate must be between 0.0 and 1.0 (got %v)", c.OTEL.Traces.SampleRate)
	}
	if c.Daemon.Interval <= 0 {
		return fmt.Errorf("daemon: interval must be positive (got %s)", c.Daemon.Interval)
	}
	if c.Journal.RetentionDays < 0 {
		return fmt.Errorf("journal: retention_days cannot be negative")
	}
	return nil
}

// ServerNames returns the configured server names, sorted.
func (c *Config) ServerNames() []string {
	names := make([]string, 0, len(c.Servers))
	for name := range c.Servers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ResolveServers returns every server with its password resolved.
func (c *Config) ResolveServers() (map[string]types.Server, error) {
	out := make(map[string]types.Server, len(c.Servers))
	for _, name := range c.ServerNames() {
		server, err := c.Servers[name].Resolve()
		if err != nil {
			return nil, fmt.Errorf("servers.%s: %w", name, err)
		}
		out[name] = server
	}
	return out, nil
}

// Resolve builds the runtime server, reading the password from the
// environment when PasswordEnv is set.
func (s ServerConfig) Resolve() (types.Server, error) {
	password := s.Password
	if s.PasswordEnv != "" {
		v, ok := os.LookupEnv(s.PasswordEnv)
		if !ok {
			return types.Server{}, fmt.Errorf("password_env %s is not set", s.PasswordEnv)
		}
		password = v
	}
	return types.Server{Endpoint: s.Endpoint, Username: s.Username, Password: password}, nil
}
