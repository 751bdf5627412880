package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(LogConfig{Level: "debug", Format: FormatJSON, Output: &buf})
	require.NoError(t, err)

	logger.Warn("retrying store call", Operation("get"), Collection("orders"), Attempt(2))
	require.NoError(t, logger.Sync())

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "retrying store call", entry["msg"])
	assert.Equal(t, "get", entry[FieldOperation])
	assert.Equal(t, "orders", entry[FieldCollection])
	assert.EqualValues(t, 2, entry[FieldAttempt])
	assert.Contains(t, entry, "timestamp")
}

func TestNew_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(LogConfig{Level: "warn", Output: &buf})
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("hidden")
	logger.Error("visible", zap.String("k", "v"))
	require.NoError(t, logger.Sync())

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 1)
	assert.Contains(t, lines[0], "visible")
}

func TestNew_Console(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(LogConfig{Level: "info", Format: FormatConsole, Output: &buf})
	require.NoError(t, err)

	logger.Info("hello")
	require.NoError(t, logger.Sync())
	assert.Contains(t, buf.String(), "INFO")
	assert.Contains(t, buf.String(), "hello")
}

func TestLogConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultLogConfig().Validate())
	assert.Error(t, LogConfig{Level: "loud"}.Validate())
	assert.Error(t, LogConfig{Level: "info", Format: "xml"}.Validate())

	_, err := New(LogConfig{Level: "loud"})
	assert.Error(t, err)
}

func TestNop(t *testing.T) {
	assert.NotPanics(t, func() {
		Nop().Error("nothing")
	})
}
