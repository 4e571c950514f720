package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/dukex/nurture/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"verbose": slog.LevelInfo,
		"":        slog.LevelInfo,
	}

	for input, expected := range tests {
		assert.Equal(t, expected, ParseLevel(input), input)
	}
}

func TestWithExecution_JSON(t *testing.T) {
	var buf bytes.Buffer

	logger := WithExecution(New(&buf, "debug", "json"), &models.Execution{
		ID:         "ex-1",
		WorkflowID: "wf-1",
		ContactID:  "c-1",
	})
	logger.Debug("node executed", "node_id", "welcome")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))

	assert.Equal(t, "node executed", line["msg"])
	assert.Equal(t, "ex-1", line["execution_id"])
	assert.Equal(t, "wf-1", line["workflow_id"])
	assert.Equal(t, "c-1", line["contact_id"])
	assert.Equal(t, "welcome", line["node_id"])
}

func TestNew_TextRespectsLevel(t *testing.T) {
	var buf bytes.Buffer

	logger := New(&buf, "warn", "text")
	logger.Info("hidden")
	assert.Empty(t, buf.String())

	logger.Warn("shown")
	assert.Contains(t, buf.String(), "msg=shown")
}
