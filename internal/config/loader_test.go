package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoaderLoadMissingFile(t *testing.T) {
	tmpDir := t.TempDir()
	loader := NewLoader(filepath.Join(tmpDir, "absent.json"))

	cfg, err := loader.Load()
	require.NoError(t, err)

	// Defaults apply when no file exists
	assert.Equal(t, "openai", cfg.DefaultProvider)
	assert.NotEmpty(t, cfg.DataDir)
	assert.NotEmpty(t, cfg.Logging.File)
	assert.NotEmpty(t, cfg.Session.Dir)
}

func TestLoaderLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "tern.json")

	body := `{
		"default_provider": "claude",
		"providers": [
			{
				"name": "claude",
				"family": "block_stream",
				"base_url": "https://api.anthropic.com",
				"model": "claude-sonnet-4",
				"profile": "anthropic"
			}
		],
		"agent": {"max_turns": 5},
		"data_dir": "` + tmpDir + `"
	}`
	require.NoError(t, os.WriteFile(configPath, []byte(body), 0600))

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, "claude", cfg.DefaultProvider)
	require.Len(t, cfg.Providers, 1)
	assert.Equal(t, "block_stream", cfg.Providers[0].Family)
	assert.Equal(t, "claude-sonnet-4", cfg.Providers[0].Model)
	assert.Equal(t, 5, cfg.Agent.MaxTurns)

	// Path defaults derive from the configured data dir
	assert.Equal(t, filepath.Join(tmpDir, "tern.log"), cfg.Logging.File)
	assert.Equal(t, filepath.Join(tmpDir, "sessions"), cfg.Session.Dir)
	assert.Equal(t, filepath.Join(tmpDir, "sessions.db"), cfg.Session.DBPath)
}

func TestLoaderSaveRoundTrip(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "tern.json")
	loader := NewLoader(configPath)

	cfg := DefaultConfig()
	cfg.DefaultProvider = "openai"
	cfg.Agent.SystemPrompt = "Be terse."
	cfg.DataDir = tmpDir

	require.NoError(t, loader.Save(cfg))

	loaded, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, "Be terse.", loaded.Agent.SystemPrompt)
	assert.Equal(t, cfg.DefaultProvider, loaded.DefaultProvider)
}

func TestLoaderGetConfigPath(t *testing.T) {
	loader := NewLoader("/tmp/custom.json")
	assert.Equal(t, "/tmp/custom.json", loader.GetConfigPath())

	defaultLoader := NewLoader("")
	assert.Contains(t, defaultLoader.GetConfigPath(), ".tern")
}

func TestLoaderLoadInvalidJSON(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "tern.json")
	require.NoError(t, os.WriteFile(configPath, []byte("{not json"), 0600))

	_, err := Load(configPath)
	assert.Error(t, err)
}
