package logger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWritesStructuredJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tern.log")

	lg, err := New(Config{Level: "debug", File: path})
	require.NoError(t, err)

	lg.Info().Str("provider", "openai").Msg("request sent")
	require.NoError(t, lg.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &entry))
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "openai", entry["provider"])
	assert.Equal(t, "request sent", entry["message"])
	assert.Contains(t, entry, "time")
}

func TestNewLevelFiltering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tern.log")

	lg, err := New(Config{Level: "error", File: path})
	require.NoError(t, err)

	lg.Info().Msg("suppressed")
	lg.Error().Msg("kept")
	require.NoError(t, lg.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "suppressed")
	assert.Contains(t, string(raw), "kept")
}

func TestNewUnknownLevelFallsBackToInfo(t *testing.T) {
	lg, err := New(Config{Level: "chatty", Console: false})
	require.NoError(t, err)
	defer lg.Close()

	assert.Equal(t, zerolog.InfoLevel, lg.GetZerolog().GetLevel())
}

func TestNewRedactsSecretsInFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tern.log")

	lg, err := New(Config{Level: "info", File: path, Redaction: true})
	require.NoError(t, err)
	assert.NotNil(t, lg.redactor)

	lg.Info().Str("header", "Bearer sk-abc123def456ghi789jkl012").Msg("outbound request")
	require.NoError(t, lg.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "sk-abc123def456ghi789jkl012")
	assert.Contains(t, string(raw), "[REDACTED]")
}

func TestNewUsesRotatingWriterWhenCapped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tern.log")

	lg, err := New(Config{Level: "info", File: path, MaxSize: 1})
	require.NoError(t, err)
	defer lg.Close()

	_, ok := lg.file.(*RotatingWriter)
	assert.True(t, ok)
}

func TestWithAddsFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tern.log")

	lg, err := New(Config{Level: "info", File: path})
	require.NoError(t, err)

	child := lg.With().Str("component", "session").Logger()
	child.Info().Msg("saved")
	require.NoError(t, lg.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"component":"session"`)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "info", cfg.Level)
	assert.True(t, cfg.Console)
	assert.True(t, cfg.Pretty)
	assert.True(t, cfg.Redaction)
	assert.Equal(t, 64, cfg.MaxSize)
	assert.Equal(t, 14, cfg.MaxAge)
	assert.True(t, cfg.Compress)
}
