package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, 60*time.Second, cfg.Liveness.Timeout())
	assert.Equal(t, 30*time.Second, cfg.Liveness.Interval())
	assert.Equal(t, "/ws", cfg.WebSocket.Path)
	assert.Empty(t, cfg.Journal.Path)
	assert.False(t, cfg.MQTT.Enabled)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 8081
liveness:
  device_timeout: 120
  sweep_interval: 20
journal:
  path: /tmp/relay.db
  retention_hours: 2
mqtt:
  enabled: true
  broker: tcp://broker:1883
  qos: 1
logging:
  level: debug
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8081, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host, "unset keys keep defaults")
	assert.Equal(t, 120*time.Second, cfg.Liveness.Timeout())
	assert.Equal(t, 2*time.Hour, cfg.Journal.RetentionPeriod())
	assert.True(t, cfg.MQTT.Enabled)
	assert.Equal(t, 1, cfg.MQTT.QoS)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "4000")
	t.Setenv("RELAY_DB_PATH", "/var/lib/relay.db")
	t.Setenv("RELAY_MQTT_BROKER", "tcp://mqtt:1883")
	t.Setenv("RELAY_LOG_LEVEL", "warn")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 4000, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0:4000", cfg.Server.Addr())
	assert.Equal(t, "/var/lib/relay.db", cfg.Journal.Path)
	assert.True(t, cfg.MQTT.Enabled)
	assert.Equal(t, "tcp://mqtt:1883", cfg.MQTT.Broker)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestEnvOverrideBadPort(t *testing.T) {
	t.Setenv("PORT", "http")

	_, err := Load("")
	assert.Error(t, err)
}

func TestLoadErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.ErrorContains(t, err, "reading config file")
	})

	t.Run("bad yaml", func(t *testing.T) {
		_, err := Load(writeConfig(t, "server: [unterminated"))
		assert.ErrorContains(t, err, "parsing config file")
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"sweep not shorter than timeout", func(c *Config) { c.Liveness.SweepInterval = 60 }, "sweep_interval must be shorter"},
		{"zero timeout", func(c *Config) { c.Liveness.DeviceTimeout = 0 }, "device_timeout must be positive"},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"ping after pong", func(c *Config) { c.WebSocket.PingInterval = 90 }, "ping_interval must be shorter"},
		{"relative ws path", func(c *Config) { c.WebSocket.Path = "ws" }, "websocket.path"},
		{"mqtt without broker", func(c *Config) { c.MQTT.Enabled = true; c.MQTT.Broker = "" }, "mqtt.broker"},
		{"mqtt bad qos", func(c *Config) { c.MQTT.Enabled = true; c.MQTT.QoS = 3 }, "mqtt.qos"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	t.Run("multiple problems are joined", func(t *testing.T) {
		cfg := Default()
		cfg.Server.Port = -1
		cfg.Journal.QueueSize = 0
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "server.port")
		assert.Contains(t, err.Error(), "journal.queue_size")
	})
}
