// Package logger_test contains tests for the logger package
package logger_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/phrazzld/asyncbg/internal/platform/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  slog.Level
		ok    bool
	}{
		{"debug", slog.LevelDebug, true},
		{"INFO", slog.LevelInfo, true},
		{" warn ", slog.LevelWarn, true},
		{"warning", slog.LevelWarn, true},
		{"error", slog.LevelError, true},
		{"chatty", slog.LevelInfo, false},
		{"", slog.LevelInfo, false},
	}

	for _, tc := range tests {
		level, ok := logger.ParseLevel(tc.input)
		assert.Equal(t, tc.want, level, "level for %q", tc.input)
		assert.Equal(t, tc.ok, ok, "ok for %q", tc.input)
	}
}

// TestSetupWithWriter is not parallel because it replaces the default logger.
func TestSetupWithWriter(t *testing.T) {
	original := slog.Default()
	defer slog.SetDefault(original)

	var buf bytes.Buffer
	l, err := logger.SetupWithWriter(&buf, "warn")
	require.NoError(t, err)
	require.NotNil(t, l)

	l.Info("dropped")
	slog.Warn("kept via default", "task_id", "t1")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1, "only the warning should pass the level filter")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "kept via default", entry["msg"])
	assert.Equal(t, "t1", entry["task_id"])
}

func TestForConsumer(t *testing.T) {
	t.Parallel()

	l, buf := logger.GetTestLogger(t)
	logger.ForConsumer(l, 7).Info("Starting consumer process")

	logger.AssertLogContains(t, buf, "Starting consumer process")
	logger.AssertLogField(t, buf, "consumer_id", float64(7))
}

func TestContextLogger(t *testing.T) {
	t.Parallel()

	l, buf := logger.GetTestLogger(t)
	ctx := logger.WithLogger(context.Background(), l)

	logger.FromContext(ctx).Info("from context")
	logger.AssertLogContains(t, buf, "from context")

	fallback, _ := logger.GetTestLogger(t)
	assert.Same(t, fallback, logger.FromContextOrDefault(context.Background(), fallback))
	assert.Same(t, l, logger.FromContextOrDefault(ctx, fallback))
}
