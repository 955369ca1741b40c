package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewParsesLevel(t *testing.T) {
	tests := []struct {
		name  string
		level string
		want  zerolog.Level
	}{
		{"default", "", zerolog.InfoLevel},
		{"debug", "debug", zerolog.DebugLevel},
		{"upper case", "WARN", zerolog.WarnLevel},
		{"error", "error", zerolog.ErrorLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := newWithWriter(Config{Level: tt.level}, &bytes.Buffer{})
			require.NoError(t, err)
			assert.Equal(t, tt.want, l.GetLevel())
		})
	}
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := newWithWriter(Config{Level: "loud"}, &bytes.Buffer{})
	assert.Error(t, err)
}

func TestWithComponentAddsField(t *testing.T) {
	var buf bytes.Buffer
	l, err := newWithWriter(Config{Level: "info"}, &buf)
	require.NoError(t, err)

	relayLog := WithComponent(l, "relay")
	relayLog.Info().Str("chip_id", "esp01").Msg("device registered")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "relay", entry["component"])
	assert.Equal(t, "esp01", entry["chip_id"])
	assert.Equal(t, "sensor-relay", entry["service"])
	assert.Equal(t, "device registered", entry["message"])
}

func TestTestLoggerIsSilent(t *testing.T) {
	l := NewTestLogger()
	assert.Equal(t, zerolog.Disabled, l.GetLevel())
}
