// Package config handles configuration loading, validation, and management for activewatcher.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// Version is the current configuration schema version.
const Version = 1

// Config holds the complete configuration shared by the server, the CLI
// and the watchers.
type Config struct {
	// Version is the configuration schema version.
	Version int `toml:"version" json:"version" yaml:"version"`

	// Server configuration for the HTTP API.
	Server ServerConfig `toml:"server" json:"server" yaml:"server"`

	// Storage configuration for the interval database.
	Storage StorageConfig `toml:"storage" json:"storage" yaml:"storage"`

	// Logging configuration.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`

	// Watch configuration for watcher processes and CLI queries.
	Watch WatchConfig `toml:"watch" json:"watch" yaml:"watch"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	// Host is the listen address.
	Host string `toml:"host" json:"host" yaml:"host" validate:"required"`

	// Port is the listen port.
	Port int `toml:"port" json:"port" yaml:"port" validate:"min=1,max=65535"`

	// StaleAfterSeconds closes open intervals at their last heartbeat when
	// the heartbeat is older than this at query time. 0 disables.
	StaleAfterSeconds int `toml:"stale_after_seconds" json:"stale_after_seconds" yaml:"stale_after_seconds" validate:"gte=0"`

	ReadTimeoutSec  int `toml:"read_timeout_sec" json:"read_timeout_sec" yaml:"read_timeout_sec" validate:"gte=0"`
	WriteTimeoutSec int `toml:"write_timeout_sec" json:"write_timeout_sec" yaml:"write_timeout_sec" validate:"gte=0"`

	// CORSOrigins lists allowed origins; "*" allows any.
	CORSOrigins []string `toml:"cors_origins" json:"cors_origins" yaml:"cors_origins" validate:"dive,origin"`

	// RateLimitPerMinute caps requests per client IP. 0 disables.
	RateLimitPerMinute int `toml:"rate_limit_per_minute" json:"rate_limit_per_minute" yaml:"rate_limit_per_minute" validate:"gte=0"`
}

// StorageConfig holds database configuration.
type StorageConfig struct {
	// Path is the SQLite database file.
	Path string `toml:"path" json:"path" yaml:"path" validate:"required"`

	// BusyTimeoutMs is how long SQLite waits for a lock.
	BusyTimeoutMs int `toml:"busy_timeout_ms" json:"busy_timeout_ms" yaml:"busy_timeout_ms" validate:"gte=0"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `toml:"level" json:"level" yaml:"level" validate:"oneof=debug info warn warning error"`

	// Format is the log format: "text" or "json".
	Format string `toml:"format" json:"format" yaml:"format" validate:"oneof=text json"`

	// Output is the log output: "stdout", "stderr", "file", or "both".
	Output string `toml:"output" json:"output" yaml:"output" validate:"oneof=stdout stderr file both"`

	// FilePath is the path to the log file (when Output is "file" or "both").
	FilePath string `toml:"file_path" json:"file_path" yaml:"file_path"`

	// MaxSizeMB is the maximum log file size before rotation.
	MaxSizeMB int `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb" validate:"min=1"`

	// MaxBackups is the number of old log files to keep.
	MaxBackups int `toml:"max_backups" json:"max_backups" yaml:"max_backups" validate:"gte=0"`

	// MaxAgeDays is the maximum age of log files in days.
	MaxAgeDays int `toml:"max_age_days" json:"max_age_days" yaml:"max_age_days" validate:"gte=0"`

	// Compress determines whether to compress rotated logs.
	Compress bool `toml:"compress" json:"compress" yaml:"compress"`
}

// WatchConfig holds settings shared by watcher processes.
type WatchConfig struct {
	// ServerURL is the base URL of the activewatcher server.
	ServerURL string `toml:"server_url" json:"server_url" yaml:"server_url" validate:"httpurl"`

	// TimeoutSec bounds each HTTP request.
	TimeoutSec int `toml:"timeout_sec" json:"timeout_sec" yaml:"timeout_sec" validate:"min=1"`

	// Idle configures the logind idle watcher.
	Idle IdleConfig `toml:"idle" json:"idle" yaml:"idle"`
}

// IdleConfig holds idle watcher settings.
type IdleConfig struct {
	Source           string  `toml:"source" json:"source" yaml:"source" validate:"required"`
	ThresholdSeconds int     `toml:"threshold_seconds" json:"threshold_seconds" yaml:"threshold_seconds" validate:"gte=0"`
	PollSeconds      float64 `toml:"poll_seconds" json:"poll_seconds" yaml:"poll_seconds" validate:"gt=0"`
	HeartbeatSeconds int     `toml:"heartbeat_seconds" json:"heartbeat_seconds" yaml:"heartbeat_seconds" validate:"gte=0"`

	// LockProcess is a process name whose presence forces AFK.
	LockProcess string `toml:"lock_process" json:"lock_process" yaml:"lock_process"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Version: Version,
		Server: ServerConfig{
			Host:               "127.0.0.1",
			Port:               8712,
			StaleAfterSeconds:  120,
			ReadTimeoutSec:     30,
			WriteTimeoutSec:    60,
			CORSOrigins:        []string{"*"},
			RateLimitPerMinute: 0,
		},
		Storage: StorageConfig{
			Path:          DefaultDBPath(),
			BusyTimeoutMs: 5000,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			FilePath:   filepath.Join(StateDir(), "activewatcher.log"),
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 30,
			Compress:   true,
		},
		Watch: WatchConfig{
			ServerURL:  "http://127.0.0.1:8712",
			TimeoutSec: 5,
			Idle: IdleConfig{
				Source:           "logind",
				ThresholdSeconds: 120,
				PollSeconds:      5,
				HeartbeatSeconds: 30,
				LockProcess:      "hyprlock",
			},
		},
	}
}

// Load reads configuration from path without validating it. A missing
// file yields the defaults. The format follows the extension (.toml, .json,
// .yaml or .yml) and is sniffed otherwise. Environment overrides are
// applied last.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}

	cfg, _, err := decodeFile(path)
	if err != nil {
		return nil, err
	}

	cfg.ApplyEnvOverrides()
	cfg.Normalize()
	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	return ValidateConfig(c)
}

// Normalize clamps values that have a safe interpretation instead of
// failing validation.
func (c *Config) Normalize() {
	if c.Server.StaleAfterSeconds < 0 {
		c.Server.StaleAfterSeconds = 0
	}
	if c.Watch.Idle.ThresholdSeconds < 0 {
		c.Watch.Idle.ThresholdSeconds = 0
	}
	c.Watch.ServerURL = strings.TrimRight(c.Watch.ServerURL, "/")
}

// ListenAddr returns host:port for the HTTP server.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// ApplyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables are prefixed with ACTIVEWATCHER_. Unparseable numeric
// values are ignored.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("ACTIVEWATCHER_DB_PATH"); v != "" {
		c.Storage.Path = v
	}
	if v := strings.TrimSpace(os.Getenv("ACTIVEWATCHER_SERVER_URL")); v != "" {
		c.Watch.ServerURL = v
	}
	envInt("ACTIVEWATCHER_STALE_AFTER_SECONDS", &c.Server.StaleAfterSeconds)
	if v := os.Getenv("ACTIVEWATCHER_LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(strings.TrimSpace(v))
	}

	if v := strings.TrimSpace(os.Getenv("ACTIVEWATCHER_IDLE_SOURCE")); v != "" {
		c.Watch.Idle.Source = v
	}
	envInt("ACTIVEWATCHER_IDLE_THRESHOLD_SECONDS", &c.Watch.Idle.ThresholdSeconds)
	if v := strings.TrimSpace(os.Getenv("ACTIVEWATCHER_IDLE_POLL_SECONDS")); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Watch.Idle.PollSeconds = f
		}
	}
	envInt("ACTIVEWATCHER_IDLE_HEARTBEAT_SECONDS", &c.Watch.Idle.HeartbeatSeconds)
	// An empty value is meaningful here: it disables the lock check.
	if v, ok := os.LookupEnv("ACTIVEWATCHER_IDLE_LOCK_PROCESS"); ok {
		c.Watch.Idle.LockProcess = strings.TrimSpace(v)
	}
}

func envInt(name string, dst *int) {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return
	}
	if n, err := strconv.Atoi(v); err == nil {
		*dst = n
	}
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	clone.Server.CORSOrigins = append([]string{}, c.Server.CORSOrigins...)
	return &clone
}

// Save writes the configuration as TOML, creating parent directories.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("encode TOML: %w", err)
	}

	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
