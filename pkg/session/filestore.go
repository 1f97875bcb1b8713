package session

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/evanrhodes/tern/internal/observability"
	"github.com/evanrhodes/tern/internal/tracing"
	"github.com/evanrhodes/tern/pkg/llm"
)

const (
	sessionExt   = ".json"
	snapshotExt  = ".snapshot.json"
	stateDirName = ".state"
)

// FileStore persists one UTF-8 JSON file per session under a root
// directory. Writes go to a temp file and rename into place; every save
// also drops a snapshot under .state/ that Repair can fall back to. A
// watcher invalidates the read cache when files change underneath us.
type FileStore struct {
	dir      string
	stateDir string
	logger   zerolog.Logger

	locksMu    sync.Mutex
	writeLocks map[string]*sync.Mutex

	cacheMu sync.RWMutex
	cache   map[string]*Session

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewFileStore creates the root and .state directories and starts the
// change watcher.
func NewFileStore(dir string, logger zerolog.Logger) (*FileStore, error) {
	observability.EnsureRegistered()

	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		dir = filepath.Join(home, ".tern", "sessions")
	}

	stateDir := filepath.Join(dir, stateDirName)
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create sessions directory: %w", err)
	}

	fs := &FileStore{
		dir:        dir,
		stateDir:   stateDir,
		logger:     logger,
		writeLocks: make(map[string]*sync.Mutex),
		cache:      make(map[string]*Session),
		done:       make(chan struct{}),
	}

	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		if werr := watcher.Add(dir); werr == nil {
			fs.watcher = watcher
			go fs.watch()
		} else {
			watcher.Close()
			logger.Warn().Err(werr).Msg("Session directory watch unavailable")
		}
	} else {
		logger.Warn().Err(err).Msg("Session change watcher unavailable")
	}

	logger.Info().Str("dir", dir).Msg("File session store initialized")
	fs.updateActiveSessionsMetric()

	return fs, nil
}

// watch drops cache entries for externally modified session files.
func (fs *FileStore) watch() {
	for {
		select {
		case <-fs.done:
			return
		case ev, ok := <-fs.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			name := filepath.Base(ev.Name)
			if !strings.HasSuffix(name, sessionExt) {
				continue
			}
			id := strings.TrimSuffix(name, sessionExt)
			fs.cacheMu.Lock()
			delete(fs.cache, id)
			fs.cacheMu.Unlock()
		case err, ok := <-fs.watcher.Errors:
			if !ok {
				return
			}
			fs.logger.Warn().Err(err).Msg("Session watcher error")
		}
	}
}

func (fs *FileStore) sessionPath(id string) string {
	return filepath.Join(fs.dir, id+sessionExt)
}

func (fs *FileStore) snapshotPath(id string) string {
	return filepath.Join(fs.stateDir, id+snapshotExt)
}

func (fs *FileStore) writeLock(id string) *sync.Mutex {
	fs.locksMu.Lock()
	defer fs.locksMu.Unlock()
	if lock, ok := fs.writeLocks[id]; ok {
		return lock
	}
	lock := &sync.Mutex{}
	fs.writeLocks[id] = lock
	return lock
}

func (fs *FileStore) updateActiveSessionsMetric() {
	ids, err := fs.List(context.Background())
	if err != nil {
		return
	}
	observability.SetActiveSessions(len(ids))
}

func (fs *FileStore) Create(ctx context.Context, systemPrompt string) (*Session, error) {
	s := newSessionWithPrompt(systemPrompt)
	if err := fs.Save(ctx, s); err != nil {
		return nil, err
	}
	fs.updateActiveSessionsMetric()
	observability.RecordSessionAudit(ctx, "create", s.Meta.ID, nil)
	return s, nil
}

func (fs *FileStore) Load(ctx context.Context, id string) (*Session, error) {
	ctx = tracing.WithSessionID(ctx, id)
	ctx, span := tracing.StartSpan(
		ctx,
		"session.load",
		attribute.String("session_id", id),
	)
	defer span.End()
	start := time.Now()
	defer func() {
		observability.RecordSessionLoad(time.Since(start))
	}()

	if err := validateID(id); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	fs.cacheMu.RLock()
	cached, ok := fs.cache[id]
	fs.cacheMu.RUnlock()
	if ok {
		return cached.Clone(), nil
	}

	s, err := fs.readSession(fs.sessionPath(id))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	fs.cacheMu.Lock()
	fs.cache[id] = s.Clone()
	fs.cacheMu.Unlock()

	return s, nil
}

func (fs *FileStore) readSession(path string) (*Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound(strings.TrimSuffix(filepath.Base(path), sessionExt))
		}
		return nil, llm.WrapError(llm.CodeSessionFailed, "failed to read session file", false, err)
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, llm.WrapError(llm.CodeSessionFailed, "session file is corrupt", false, err)
	}
	return &s, nil
}

func (fs *FileStore) Save(ctx context.Context, s *Session) error {
	ctx = tracing.WithSessionID(ctx, s.Meta.ID)
	ctx, span := tracing.StartSpan(
		ctx,
		"session.save",
		attribute.String("session_id", s.Meta.ID),
		attribute.Int("messages", len(s.Messages)),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, fs.logger)
	start := time.Now()
	defer func() {
		observability.RecordSessionSave(time.Since(start))
	}()

	if err := validateID(s.Meta.ID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	data, err := json.Marshal(s)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return llm.WrapError(llm.CodeSessionFailed, "failed to encode session", false, err)
	}

	lock := fs.writeLock(s.Meta.ID)
	lock.Lock()
	defer lock.Unlock()

	if err := atomicWrite(fs.sessionPath(s.Meta.ID), data); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	// Snapshot for Repair; failure here never fails the save.
	if err := atomicWrite(fs.snapshotPath(s.Meta.ID), data); err != nil {
		logger.Warn().Err(err).Str("session_id", s.Meta.ID).Msg("Snapshot write failed")
	}

	fs.cacheMu.Lock()
	fs.cache[s.Meta.ID] = s.Clone()
	fs.cacheMu.Unlock()

	logger.Debug().
		Str("session_id", s.Meta.ID).
		Int("messages", len(s.Messages)).
		Msg("Session saved")

	return nil
}

// atomicWrite writes to a temp file in the target's directory, syncs
// and renames into place.
func atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"
	file, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return llm.WrapError(llm.CodeSessionFailed, "failed to create temp file", false, err)
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(tmp)
		return llm.WrapError(llm.CodeSessionFailed, "failed to write session", false, err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tmp)
		return llm.WrapError(llm.CodeSessionFailed, "failed to sync session", false, err)
	}
	file.Close()
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return llm.WrapError(llm.CodeSessionFailed, "failed to replace session file", false, err)
	}
	return nil
}

func (fs *FileStore) Exists(ctx context.Context, id string) (bool, error) {
	if err := validateID(id); err != nil {
		return false, err
	}
	_, err := os.Stat(fs.sessionPath(id))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, llm.WrapError(llm.CodeSessionFailed, "failed to stat session file", false, err)
}

func (fs *FileStore) Delete(ctx context.Context, id string) error {
	if err := validateID(id); err != nil {
		return err
	}

	lock := fs.writeLock(id)
	lock.Lock()
	defer lock.Unlock()

	if err := os.Remove(fs.sessionPath(id)); err != nil && !os.IsNotExist(err) {
		return llm.WrapError(llm.CodeSessionFailed, "failed to delete session file", false, err)
	}
	os.Remove(fs.snapshotPath(id))

	fs.cacheMu.Lock()
	delete(fs.cache, id)
	fs.cacheMu.Unlock()

	fs.locksMu.Lock()
	delete(fs.writeLocks, id)
	fs.locksMu.Unlock()

	fs.updateActiveSessionsMetric()
	observability.RecordSessionAudit(ctx, "delete", id, nil)
	fs.logger.Info().Str("session_id", id).Msg("Session deleted")

	return nil
}

func (fs *FileStore) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(fs.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, llm.WrapError(llm.CodeSessionFailed, "failed to read sessions directory", false, err)
	}

	var ids []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, sessionExt) || strings.HasSuffix(name, ".tmp") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, sessionExt))
	}
	return ids, nil
}

// Repair restores a readable session file for id. If the main file
// decodes it is simply rewritten; when it is corrupt the last snapshot
// is promoted instead.
func (fs *FileStore) Repair(id string) error {
	if err := validateID(id); err != nil {
		return err
	}

	lock := fs.writeLock(id)
	lock.Lock()
	defer lock.Unlock()

	s, err := fs.readSession(fs.sessionPath(id))
	if err != nil {
		snap, snapErr := fs.readSession(fs.snapshotPath(id))
		if snapErr != nil {
			return llm.WrapError(llm.CodeSessionFailed,
				fmt.Sprintf("session %s is unrecoverable", id), false, err)
		}
		s = snap
	}

	data, err := json.Marshal(s)
	if err != nil {
		return llm.WrapError(llm.CodeSessionFailed, "failed to encode session", false, err)
	}
	if err := atomicWrite(fs.sessionPath(id), data); err != nil {
		return err
	}

	fs.cacheMu.Lock()
	fs.cache[id] = s.Clone()
	fs.cacheMu.Unlock()

	fs.logger.Info().
		Str("session_id", id).
		Int("messages", len(s.Messages)).
		Msg("Session repaired")

	return nil
}

// Close stops the watcher. Pending writes finish under their locks.
func (fs *FileStore) Close() error {
	close(fs.done)
	if fs.watcher != nil {
		return fs.watcher.Close()
	}
	return nil
}
