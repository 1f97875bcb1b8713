package logger

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// rotatedTimeFormat stamps rotated files so they sort chronologically.
const rotatedTimeFormat = "20060102T150405"

// RotatingWriter appends to one log file and renames it aside once it
// grows past the size cap. Rotated files carry a UTC timestamp suffix,
// are optionally gzip-compressed, and are pruned once older than the
// age cap.
type RotatingWriter struct {
	mu       sync.Mutex
	path     string
	maxBytes int64
	maxAge   int
	compress bool

	f    *os.File
	size int64
}

// NewRotatingWriter opens (or creates) the log file at path. maxSizeMB
// caps the active file's size and maxAgeDays bounds how long rotated
// files are kept; a zero maxAgeDays disables pruning.
func NewRotatingWriter(path string, maxSizeMB, maxAgeDays int, compress bool) (*RotatingWriter, error) {
	w := &RotatingWriter{
		path:     path,
		maxBytes: int64(maxSizeMB) * 1024 * 1024,
		maxAge:   maxAgeDays,
		compress: compress,
	}
	if err := w.open(); err != nil {
		return nil, err
	}
	w.prune()
	return w, nil
}

func (w *RotatingWriter) open() error {
	if err := os.MkdirAll(filepath.Dir(w.path), 0755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat log file: %w", err)
	}
	w.f = f
	w.size = info.Size()
	return nil
}

// Write appends p, rotating first when the write would push the active
// file past the cap.
func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.size+int64(len(p)) > w.maxBytes {
		if err := w.rotate(); err != nil {
			return 0, err
		}
	}

	n, err := w.f.Write(p)
	w.size += int64(n)
	return n, err
}

// Close closes the active file. Closing twice is a no-op.
func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return nil
	}
	err := w.f.Close()
	w.f = nil
	return err
}

func (w *RotatingWriter) rotate() error {
	if err := w.f.Close(); err != nil {
		return err
	}
	rotated := w.rotatedName()
	if err := os.Rename(w.path, rotated); err != nil {
		return err
	}
	if w.compress {
		go compressAndRemove(rotated)
	}
	if err := w.open(); err != nil {
		return err
	}
	w.prune()
	return nil
}

// rotatedName picks a timestamped name, appending a counter when two
// rotations land in the same second.
func (w *RotatingWriter) rotatedName() string {
	base := w.path + "." + time.Now().UTC().Format(rotatedTimeFormat)
	name := base
	for i := 1; ; i++ {
		if !fileExists(name) && !fileExists(name+".gz") {
			return name
		}
		name = fmt.Sprintf("%s.%d", base, i)
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// compressAndRemove gzips path next to itself and deletes the original
// once the compressed copy is fully written.
func compressAndRemove(path string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(path + ".gz")
	if err != nil {
		return err
	}

	gzw := gzip.NewWriter(dst)
	if _, err := io.Copy(gzw, src); err != nil {
		gzw.Close()
		dst.Close()
		return err
	}
	if err := gzw.Close(); err != nil {
		dst.Close()
		return err
	}
	if err := dst.Close(); err != nil {
		return err
	}

	return os.Remove(path)
}

// prune deletes rotated files older than the age cap. The active file
// never matches the glob because rotated names carry a suffix.
func (w *RotatingWriter) prune() {
	if w.maxAge <= 0 {
		return
	}

	matches, err := filepath.Glob(w.path + ".*")
	if err != nil {
		return
	}

	cutoff := time.Now().AddDate(0, 0, -w.maxAge)
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			os.Remove(m)
		}
	}
}
