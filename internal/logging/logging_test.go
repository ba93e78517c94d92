package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel(" error "))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
}

func TestNewJSONFiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New("warn", "json", &buf)
	logger.Info("dropped")
	logger.Warn("kept", "session", "abc")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "kept", entry["msg"])
	assert.Equal(t, "abc", entry["session"])
}

func TestNewTextByDefault(t *testing.T) {
	var buf bytes.Buffer
	New("info", "", &buf).Info("hello")
	assert.Contains(t, buf.String(), "msg=hello")
}
