// Package credentials resolves provider API keys. Keys live outside the
// main config: in the environment, or in a mode-0600 JSON file under the
// data directory.
package credentials

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Store retrieves and manages named secrets.
type Store interface {
	Retrieve(name string) (string, error)
	Put(name string, value string) error
	Delete(name string) error
}

// FileStore keeps secrets in one JSON file with restricted permissions.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore uses the given file, defaulting to ~/.tern/credentials.json.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(home, ".tern", "credentials.json")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create credentials directory: %w", err)
	}
	return &FileStore{path: path}, nil
}

func (f *FileStore) read() (map[string]string, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("failed to read credentials file: %w", err)
	}
	out := make(map[string]string)
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("credentials file is corrupt: %w", err)
	}
	return out, nil
}

func (f *FileStore) write(creds map[string]string) error {
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode credentials: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write credentials: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace credentials file: %w", err)
	}
	return nil
}

func (f *FileStore) Retrieve(name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	creds, err := f.read()
	if err != nil {
		return "", err
	}
	value, ok := creds[name]
	if !ok || value == "" {
		return "", fmt.Errorf("credential %q not found", name)
	}
	return value, nil
}

func (f *FileStore) Put(name string, value string) error {
	if name == "" {
		return fmt.Errorf("credential name cannot be empty")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	creds, err := f.read()
	if err != nil {
		return err
	}
	creds[name] = value
	return f.write(creds)
}

func (f *FileStore) Delete(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	creds, err := f.read()
	if err != nil {
		return err
	}
	delete(creds, name)
	return f.write(creds)
}

// MemoryStore holds secrets in memory for tests.
type MemoryStore struct {
	mu    sync.RWMutex
	creds map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{creds: make(map[string]string)}
}

func (m *MemoryStore) Retrieve(name string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.creds[name]
	if !ok || value == "" {
		return "", fmt.Errorf("credential %q not found", name)
	}
	return value, nil
}

func (m *MemoryStore) Put(name string, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds[name] = value
	return nil
}

func (m *MemoryStore) Delete(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.creds, name)
	return nil
}

// Resolve finds the API key for a provider: an explicit key wins, then
// the TERN_<NAME>_API_KEY environment variable, then the store lookup
// under ref (or the provider name when ref is empty).
func Resolve(store Store, providerName, explicit, ref string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}

	envKey := "TERN_" + strings.ToUpper(strings.ReplaceAll(providerName, "-", "_")) + "_API_KEY"
	if v := os.Getenv(envKey); v != "" {
		return v, nil
	}

	if ref == "" {
		ref = providerName
	}
	if store == nil {
		return "", fmt.Errorf("no API key for provider %q (set %s or add credential %q)", providerName, envKey, ref)
	}
	value, err := store.Retrieve(ref)
	if err != nil {
		return "", fmt.Errorf("no API key for provider %q: %w", providerName, err)
	}
	return value, nil
}
