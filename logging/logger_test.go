package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBufferedLogger(level LogLevel) (*ConvoFlowLogger, *bytes.Buffer) {
	var buf bytes.Buffer
	cfg := DefaultLoggerConfig()
	cfg.Level = level
	cfg.Output = &buf
	cfg.AddSource = false
	return NewLogger(cfg), &buf
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var entries []map[string]any
	dec := json.NewDecoder(buf)
	for dec.More() {
		var entry map[string]any
		require.NoError(t, dec.Decode(&entry))
		entries = append(entries, entry)
	}
	return entries
}

func TestLogLevel_String(t *testing.T) {
	assert.Equal(t, "DEBUG", LogLevelDebug.String())
	assert.Equal(t, "INFO", LogLevelInfo.String())
	assert.Equal(t, "WARN", LogLevelWarn.String())
	assert.Equal(t, "ERROR", LogLevelError.String())
}

func TestConvoFlowLogger_LevelFiltering(t *testing.T) {
	logger, buf := newBufferedLogger(LogLevelWarn)

	logger.Debug("dropped")
	logger.Info("dropped")
	logger.Warn("kept")
	logger.Error("kept")

	entries := decodeLines(t, buf)
	require.Len(t, entries, 2)
	assert.Equal(t, "kept", entries[0]["msg"])
}

func TestConvoFlowLogger_WithTurn(t *testing.T) {
	logger, buf := newBufferedLogger(LogLevelInfo)

	logger.WithComponent("orchestrator").WithTurn("s1", 7).Info("turn routed")

	entries := decodeLines(t, buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "orchestrator", entries[0]["component"])
	assert.Equal(t, "s1", entries[0]["session_id"])
	assert.Equal(t, float64(7), entries[0]["turn_id"])
}

func TestConvoFlowLogger_WithContextClones(t *testing.T) {
	logger, buf := newBufferedLogger(LogLevelInfo)

	derived := logger.WithContext("agent", "GoalSetting")
	logger.Info("plain")
	derived.Info("enriched")

	entries := decodeLines(t, buf)
	require.Len(t, entries, 2)
	_, hasAgent := entries[0]["agent"]
	assert.False(t, hasAgent)
	assert.Equal(t, "GoalSetting", entries[1]["agent"])
}

func TestConvoFlowLogger_LogRouting(t *testing.T) {
	logger, buf := newBufferedLogger(LogLevelInfo)

	logger.WithTurn("s1", 1).LogRouting("Reflection", "evening-reflection", "rule-2")

	entries := decodeLines(t, buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "Turn routed", entries[0]["msg"])
	assert.Equal(t, "Reflection", entries[0]["agent"])
	assert.Equal(t, "evening-reflection", entries[0]["phase"])
}

func TestConvoFlowLogger_LogAgentRoundTrip(t *testing.T) {
	logger, buf := newBufferedLogger(LogLevelInfo)

	logger.LogAgentRoundTrip("Challenge", 2, 150*time.Millisecond, false, errors.New("deadline exceeded"))

	entries := decodeLines(t, buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "Agent round trip failed", entries[0]["msg"])
	assert.Equal(t, float64(2), entries[0]["attempt"])
	assert.Equal(t, "deadline exceeded", entries[0]["error"])
}

func TestConvoFlowLogger_ErrorWithStack(t *testing.T) {
	logger, buf := newBufferedLogger(LogLevelError)

	logger.ErrorWithStack(errors.New("boom"), "commit failed")

	entries := decodeLines(t, buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "boom", entries[0]["error"])
	assert.NotEmpty(t, entries[0]["stack_trace"])
}

func TestNoOpLogger(t *testing.T) {
	// Must be callable without side effects.
	var l Logger = NoOpLogger{}
	l.Debug("x")
	l.Info("x")
	l.Warn("x")
	l.Error("x")
}
