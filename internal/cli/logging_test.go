package cli

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fieldsync/internal/config"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"", slog.LevelInfo},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestNewLogger_Stderr(t *testing.T) {
	buf := &bytes.Buffer{}
	logger, closer, err := NewLogger(config.LogConfig{Level: "warn"}, false, buf)
	require.NoError(t, err)
	assert.Nil(t, closer)

	logger.Info("hidden")
	logger.Warn("queue not persisted", "code", "PERSISTENCE")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "queue not persisted")
	assert.Contains(t, buf.String(), "code=PERSISTENCE")
}

func TestNewLogger_VerboseForcesDebug(t *testing.T) {
	buf := &bytes.Buffer{}
	logger, _, err := NewLogger(config.LogConfig{Level: "error"}, true, buf)
	require.NoError(t, err)

	logger.Debug("item replayed")
	assert.Contains(t, buf.String(), "item replayed")
}

func TestNewLogger_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fieldsync.log")
	stderr := &bytes.Buffer{}
	logger, closer, err := NewLogger(config.LogConfig{Level: "info", File: path, MaxSizeMB: 1, MaxBackups: 1}, false, stderr)
	require.NoError(t, err)
	require.NotNil(t, closer)

	logger.Info("sync cycle finished", "attempted", 2)
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "sync cycle finished")
	assert.Empty(t, stderr.String())
}
