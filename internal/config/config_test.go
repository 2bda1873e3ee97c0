package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeINI(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "savetpl.ini")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	return path
}

// Tests in this file set environment variables and cannot run in parallel.

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	cfg, err = Load(filepath.Join(t.TempDir(), "missing.ini"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadLayers(t *testing.T) {
	path := writeINI(t, `
template_dir = /srv/templates
log_level = debug
journal = edits.db
backup = false
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/srv/templates", cfg.TemplateDir)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, "edits.db", cfg.Journal)
	assert.False(t, cfg.Backup)

	t.Setenv("SAVETPL_LOG_LEVEL", "error")
	t.Setenv("SAVETPL_HOOKS", "game.lua")
	t.Setenv("SAVETPL_BACKUP", "true")

	cfg, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, "error", cfg.LogLevel)
	assert.Equal(t, "game.lua", cfg.Hooks)
	assert.True(t, cfg.Backup)
	assert.Equal(t, "/srv/templates", cfg.TemplateDir)
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("SAVETPL_LOG_FORMAT", "xml")
	_, err := Load("")
	require.Error(t, err)

	t.Setenv("SAVETPL_LOG_FORMAT", "json")
	t.Setenv("SAVETPL_LOG_LEVEL", "loud")
	_, err = Load("")
	require.Error(t, err)

	t.Setenv("SAVETPL_LOG_LEVEL", "info")
	t.Setenv("SAVETPL_BACKUP", "maybe")
	_, err = Load("")
	require.Error(t, err)
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"":        slog.LevelInfo,
		"warning": slog.LevelWarn,
		" error ": slog.LevelError,
	}
	for in, want := range tests {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer

	cfg := Default()
	cfg.LogFormat = "json"
	cfg.NewLogger(&buf).Warn("checksum mismatch", "checksum", "main")
	assert.Contains(t, buf.String(), `"msg":"checksum mismatch"`)

	buf.Reset()
	cfg.LogFormat = "text"
	cfg.NewLogger(&buf).Info("hidden")
	assert.Empty(t, buf.String())
}
