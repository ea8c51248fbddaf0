package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OCAP2/physync/internal/dispatcher"
)

var _ dispatcher.Logger = (*DispatcherLogger)(nil)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestDispatcherLogger_Levels(t *testing.T) {
	tests := []struct {
		level string
		log   func(*DispatcherLogger)
	}{
		{"debug", func(l *DispatcherLogger) { l.Debug("queued", "kind", "sync") }},
		{"info", func(l *DispatcherLogger) { l.Info("queued", "kind", "sync") }},
		{"error", func(l *DispatcherLogger) { l.Error("queued", "kind", "sync") }},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			tt.log(NewDispatcherLogger(zerolog.New(&buf).Level(zerolog.DebugLevel)))

			entry := decodeLine(t, &buf)
			assert.Equal(t, tt.level, entry["level"])
			assert.Equal(t, "queued", entry["message"])
			assert.Equal(t, "sync", entry["kind"])
		})
	}
}

func TestDispatcherLogger_ErrorsAndOddKeys(t *testing.T) {
	var buf bytes.Buffer
	l := NewDispatcherLogger(zerolog.New(&buf))

	l.Error("handler failed", "error", errors.New("boom"), 17, "ignored", "tick")

	entry := decodeLine(t, &buf)
	assert.Equal(t, "boom", entry["error"])
	assert.Equal(t, "tick", entry["!BADKEY"])
	assert.NotContains(t, entry, "17")
}

func TestNewZerolog(t *testing.T) {
	var buf bytes.Buffer
	logger := NewZerolog(&buf, "WARN", "influx")

	logger.Info().Msg("hidden")
	assert.Zero(t, buf.Len())

	logger.Warn().Msg("shown")
	entry := decodeLine(t, &buf)
	assert.Equal(t, "influx", entry["component"])
	assert.Contains(t, entry, "time")
}

func TestNewZerolog_UnknownLevelIsInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := NewZerolog(&buf, "chatty", "monitor")

	logger.Debug().Msg("hidden")
	logger.Info().Msg("shown")

	assert.Equal(t, "shown", decodeLine(t, &buf)["message"])
}
