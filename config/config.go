// Package config loads and validates the DroneController configuration:
// defaults, then an optional JSON file, then environment variable
// overrides, in that order.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/uwdrones/DroneController/errors"
)

// Link mode constants
const (
	LinkModeSim     = "sim"     // Self-contained simulator (default)
	LinkModeMAVLink = "mavlink" // Real flight controller link
)

// Config is the complete application configuration.
type Config struct {
	Server    ServerConfig    `json:"server"`
	RPC       RPCConfig       `json:"rpc"`
	Telemetry TelemetryConfig `json:"telemetry"`
	Link      LinkConfig      `json:"link"`
	Metrics   MetricsConfig   `json:"metrics"`
	Log       LogConfig       `json:"log"`
}

// ServerConfig configures the WebSocket streaming endpoint.
type ServerConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
	Path string `json:"path"`
}

// RPCConfig configures the NATS request/reply transport.
type RPCConfig struct {
	Enabled bool   `json:"enabled"`
	URL     string `json:"url"`
	Subject string `json:"subject"`
}

// TelemetryConfig configures the broadcast loop.
type TelemetryConfig struct {
	// Interval is a duration string, e.g. "1s"
	Interval string `json:"interval"`
}

// LinkConfig selects the device-link implementation.
type LinkConfig struct {
	Mode string `json:"mode"`
	Seed int64  `json:"seed"`
}

// MetricsConfig configures the Prometheus scrape endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Port    int    `json:"port"`
	Path    string `json:"path"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // text, json
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Server:    ServerConfig{Host: "0.0.0.0", Port: 8765, Path: "/ws"},
		RPC:       RPCConfig{Enabled: false, URL: "nats://127.0.0.1:4222", Subject: "drone.rpc.command"},
		Telemetry: TelemetryConfig{Interval: "1s"},
		Link:      LinkConfig{Mode: LinkModeSim, Seed: 0},
		Metrics:   MetricsConfig{Enabled: true, Port: 9090, Path: "/metrics"},
		Log:       LogConfig{Level: "info", Format: "text"},
	}
}

// Load builds the configuration from defaults, the optional JSON file at
// path, and environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, errors.WrapFatal(err, "config", "Load", "read config file")
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, errors.WrapInvalid(err, "config", "Load", "parse config file")
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnv overrides config fields from DRONE_* environment variables.
func applyEnv(cfg *Config) {
	if v := os.Getenv("DRONE_WS_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("DRONE_WS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("DRONE_NATS_URL"); v != "" {
		cfg.RPC.URL = v
		cfg.RPC.Enabled = true
	}
	if v := os.Getenv("DRONE_TELEMETRY_INTERVAL"); v != "" {
		cfg.Telemetry.Interval = v
	}
	if v := os.Getenv("DRONE_LINK_MODE"); v != "" {
		cfg.Link.Mode = v
	}
	if v := os.Getenv("DRONE_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "Validate",
			fmt.Sprintf("server port %d out of range", c.Server.Port))
	}
	if c.Server.Path == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "Validate", "server path cannot be empty")
	}
	if c.Link.Mode != LinkModeSim && c.Link.Mode != LinkModeMAVLink {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "Validate",
			fmt.Sprintf("unknown link mode %q", c.Link.Mode))
	}
	if _, err := c.TelemetryInterval(); err != nil {
		return err
	}
	if c.Metrics.Enabled && (c.Metrics.Port < 1 || c.Metrics.Port > 65535) {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "Validate",
			fmt.Sprintf("metrics port %d out of range", c.Metrics.Port))
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "Validate",
			fmt.Sprintf("unknown log level %q", c.Log.Level))
	}
	return nil
}

// TelemetryInterval parses the broadcast interval.
func (c *Config) TelemetryInterval() (time.Duration, error) {
	interval, err := time.ParseDuration(c.Telemetry.Interval)
	if err != nil {
		return 0, errors.WrapInvalid(err, "config", "TelemetryInterval", "parse telemetry interval")
	}
	if interval <= 0 {
		return 0, errors.WrapInvalid(errors.ErrInvalidConfig, "config", "TelemetryInterval",
			"telemetry interval must be positive")
	}
	return interval, nil
}
