package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "warn", cfg.Level)
	assert.Equal(t, "console", cfg.Format)
	assert.Equal(t, "stderr", cfg.Output)
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "default config", cfg: DefaultConfig()},
		{name: "json to stdout", cfg: Config{Level: "debug", Format: "json", Output: "stdout"}},
		{name: "empty fields", cfg: Config{}},
		{name: "unknown level", cfg: Config{Level: "loud"}, wantErr: true},
		{name: "unknown format", cfg: Config{Format: "xml"}, wantErr: true},
		{name: "unwritable file", cfg: Config{Output: filepath.Join(t.TempDir(), "missing", "x.log")}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, logger)
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"INFO":    zapcore.InfoLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
	}
	for in, want := range tests {
		got, err := parseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}

func TestFileOutputIsJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	logger, err := New(Config{Level: "info", Format: "json", Output: path})
	require.NoError(t, err)

	logger.Debug("dropped")
	logger.Info("item borrowed", zap.String("item", "111-2223334401"))
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "item borrowed", entry["msg"])
	assert.Equal(t, "111-2223334401", entry["item"])
}
