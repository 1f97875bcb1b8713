package credentials

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	store, err := NewFileStore(path)
	require.NoError(t, err)

	require.NoError(t, store.Put("openai", "sk-test123"))

	value, err := store.Retrieve("openai")
	require.NoError(t, err)
	assert.Equal(t, "sk-test123", value)

	// File permissions stay restricted
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	require.NoError(t, store.Delete("openai"))
	_, err = store.Retrieve("openai")
	assert.Error(t, err)
}

func TestFileStoreMissingCredential(t *testing.T) {
	store, err := NewFileStore(filepath.Join(t.TempDir(), "credentials.json"))
	require.NoError(t, err)

	_, err = store.Retrieve("absent")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestFileStoreEmptyName(t *testing.T) {
	store, err := NewFileStore(filepath.Join(t.TempDir(), "credentials.json"))
	require.NoError(t, err)

	assert.Error(t, store.Put("", "value"))
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()

	require.NoError(t, store.Put("anthropic", "sk-ant-test"))

	value, err := store.Retrieve("anthropic")
	require.NoError(t, err)
	assert.Equal(t, "sk-ant-test", value)

	require.NoError(t, store.Delete("anthropic"))
	_, err = store.Retrieve("anthropic")
	assert.Error(t, err)
}

func TestResolve(t *testing.T) {
	t.Run("explicit key wins", func(t *testing.T) {
		value, err := Resolve(nil, "openai", "sk-explicit", "")
		require.NoError(t, err)
		assert.Equal(t, "sk-explicit", value)
	})

	t.Run("environment fallback", func(t *testing.T) {
		t.Setenv("TERN_MY_PROVIDER_API_KEY", "sk-env")

		value, err := Resolve(nil, "my-provider", "", "")
		require.NoError(t, err)
		assert.Equal(t, "sk-env", value)
	})

	t.Run("store fallback by ref", func(t *testing.T) {
		store := NewMemoryStore()
		require.NoError(t, store.Put("shared-key", "sk-store"))

		value, err := Resolve(store, "openai", "", "shared-key")
		require.NoError(t, err)
		assert.Equal(t, "sk-store", value)
	})

	t.Run("store fallback defaults ref to provider name", func(t *testing.T) {
		store := NewMemoryStore()
		require.NoError(t, store.Put("deepseek", "sk-ds"))

		value, err := Resolve(store, "deepseek", "", "")
		require.NoError(t, err)
		assert.Equal(t, "sk-ds", value)
	})

	t.Run("nothing resolves", func(t *testing.T) {
		_, err := Resolve(NewMemoryStore(), "openai", "", "")
		assert.Error(t, err)
	})
}
