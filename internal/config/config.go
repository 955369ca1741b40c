// Package config loads relay settings from an optional YAML file with
// environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sensor-relay/backend/internal/logger"
)

// Config is the root configuration structure.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Liveness  LivenessConfig  `yaml:"liveness"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Journal   JournalConfig   `yaml:"journal"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Logging   logger.Config   `yaml:"logging"`
}

// ServerConfig contains HTTP listener settings.
type ServerConfig struct {
	Host        string   `yaml:"host"`
	Port        int      `yaml:"port"`
	StaticDir   string   `yaml:"static_dir"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// Addr returns host:port for the listener.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LivenessConfig controls stale device eviction. Values are in seconds.
type LivenessConfig struct {
	DeviceTimeout int `yaml:"device_timeout"`
	SweepInterval int `yaml:"sweep_interval"`
}

// Timeout returns the device liveness window.
func (l LivenessConfig) Timeout() time.Duration {
	return time.Duration(l.DeviceTimeout) * time.Second
}

// Interval returns the sweep period.
func (l LivenessConfig) Interval() time.Duration {
	return time.Duration(l.SweepInterval) * time.Second
}

// WebSocketConfig contains per-connection transport settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
	MaxMessageSize int    `yaml:"max_message_size"`
	SendBuffer     int    `yaml:"send_buffer"`
}

// JournalConfig contains device event journal settings. An empty Path
// disables the SQLite journal.
type JournalConfig struct {
	Path         string `yaml:"path"`
	Retention    int    `yaml:"retention_hours"`
	QueueSize    int    `yaml:"queue_size"`
	RecentEvents int    `yaml:"recent_events"`
}

// RetentionPeriod returns how long journal rows are kept.
func (j JournalConfig) RetentionPeriod() time.Duration {
	return time.Duration(j.Retention) * time.Hour
}

// MQTTConfig contains broker bridge settings.
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         int    `yaml:"qos"`
}

// Load reads the YAML file at path (if path is non-empty), applies
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("applying environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        3000,
			StaticDir:   "public",
			CORSOrigins: []string{"*"},
		},
		Liveness: LivenessConfig{
			DeviceTimeout: 60,
			SweepInterval: 30,
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			PingInterval:   10,
			PongTimeout:    60,
			MaxMessageSize: 8192,
			SendBuffer:     256,
		},
		Journal: JournalConfig{
			Retention:    24 * 7,
			QueueSize:    1024,
			RecentEvents: 500,
		},
		MQTT: MQTTConfig{
			Broker:      "tcp://localhost:1883",
			ClientID:    "sensor-relay",
			TopicPrefix: "relay",
			QoS:         0,
		},
		Logging: logger.Config{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides. PORT is honoured
// without prefix for compatibility with common hosting platforms.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PORT: %w", err)
		}
		cfg.Server.Port = port
	}
	if v := os.Getenv("RELAY_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("RELAY_STATIC_DIR"); v != "" {
		cfg.Server.StaticDir = v
	}
	if v := os.Getenv("RELAY_DB_PATH"); v != "" {
		cfg.Journal.Path = v
	}
	if v := os.Getenv("RELAY_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("RELAY_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("RELAY_MQTT_BROKER"); v != "" {
		cfg.MQTT.Broker = v
		cfg.MQTT.Enabled = true
	}
	if v := os.Getenv("RELAY_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Username = v
	}
	if v := os.Getenv("RELAY_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Password = v
	}
	return nil
}

// Validate checks the configuration and reports every problem found.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	if c.Liveness.DeviceTimeout <= 0 {
		errs = append(errs, "liveness.device_timeout must be positive")
	}
	if c.Liveness.SweepInterval <= 0 {
		errs = append(errs, "liveness.sweep_interval must be positive")
	} else if c.Liveness.SweepInterval >= c.Liveness.DeviceTimeout {
		errs = append(errs, "liveness.sweep_interval must be shorter than liveness.device_timeout")
	}
	if c.WebSocket.PingInterval <= 0 || c.WebSocket.PongTimeout <= 0 {
		errs = append(errs, "websocket.ping_interval and websocket.pong_timeout must be positive")
	} else if c.WebSocket.PingInterval >= c.WebSocket.PongTimeout {
		errs = append(errs, "websocket.ping_interval must be shorter than websocket.pong_timeout")
	}
	if c.WebSocket.MaxMessageSize <= 0 {
		errs = append(errs, "websocket.max_message_size must be positive")
	}
	if c.WebSocket.SendBuffer <= 0 {
		errs = append(errs, "websocket.send_buffer must be positive")
	}
	if !strings.HasPrefix(c.WebSocket.Path, "/") {
		errs = append(errs, "websocket.path must start with /")
	}
	if c.Journal.QueueSize <= 0 {
		errs = append(errs, "journal.queue_size must be positive")
	}
	if c.Journal.RecentEvents < 0 {
		errs = append(errs, "journal.recent_events must not be negative")
	}
	if c.MQTT.Enabled {
		if c.MQTT.Broker == "" {
			errs = append(errs, "mqtt.broker is required when mqtt is enabled")
		}
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			errs = append(errs, "mqtt.qos must be 0, 1 or 2")
		}
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}
