// Package logging provides a size-rotating file writer for the gateway's
// structured log output. The access log of a busy audio proxy grows fast;
// rotation keeps disk usage bounded without an external logrotate setup.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// RotatingWriter is an io.WriteCloser that rotates its file by size.
// Rotated files are named <base>-<timestamp><ext>; at most maxBackups
// of them are kept and none older than maxAgeDays survives cleanup.
type RotatingWriter struct {
	mu         sync.Mutex
	file       *os.File
	path       string
	written    int64
	maxBytes   int64
	maxBackups int
	maxAge     time.Duration
}

// NewRotatingWriter opens path for appending, creating parent directories
// as needed.
func NewRotatingWriter(path string, maxSizeMB, maxBackups, maxAgeDays int) (*RotatingWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}

	rw := &RotatingWriter{
		path:       path,
		maxBytes:   int64(maxSizeMB) * 1024 * 1024,
		maxBackups: maxBackups,
		maxAge:     time.Duration(maxAgeDays) * 24 * time.Hour,
	}
	if err := rw.open(); err != nil {
		return nil, err
	}
	return rw, nil
}

func (rw *RotatingWriter) open() error {
	f, err := os.OpenFile(rw.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat log file: %w", err)
	}
	rw.file = f
	rw.written = info.Size()
	return nil
}

// Write appends p, rotating first when the write would push the file over
// the size limit. A single record larger than the limit is still written.
func (rw *RotatingWriter) Write(p []byte) (int, error) {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	if rw.written > 0 && rw.written+int64(len(p)) > rw.maxBytes {
		if err := rw.rotate(); err != nil {
			return 0, err
		}
	}

	n, err := rw.file.Write(p)
	rw.written += int64(n)
	return n, err
}

// Close closes the current log file.
func (rw *RotatingWriter) Close() error {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	if rw.file == nil {
		return nil
	}
	err := rw.file.Close()
	rw.file = nil
	return err
}

func (rw *RotatingWriter) rotate() error {
	rw.file.Close()

	os.Rename(rw.path, rw.backupName(time.Now())) //nolint:errcheck

	if err := rw.open(); err != nil {
		return err
	}

	// Prune off the write path.
	go rw.prune()
	return nil
}

func (rw *RotatingWriter) backupName(now time.Time) string {
	ext := filepath.Ext(rw.path)
	base := strings.TrimSuffix(rw.path, ext)
	if ext == "" {
		ext = ".log"
	}
	return fmt.Sprintf("%s-%s%s", base, now.Format("20060102-150405.000"), ext)
}

// prune removes rotated files beyond maxBackups and older than maxAge.
func (rw *RotatingWriter) prune() {
	dir := filepath.Dir(rw.path)
	current := filepath.Base(rw.path)
	ext := filepath.Ext(current)
	base := strings.TrimSuffix(current, ext)
	if ext == "" {
		ext = ".log"
	}
	prefix := base + "-"

	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}

	var backups []string
	for _, e := range entries {
		name := e.Name()
		if name != current && strings.HasPrefix(name, prefix) && strings.HasSuffix(name, ext) {
			backups = append(backups, name)
		}
	}

	// Timestamps sort lexically, so ascending order is oldest first.
	sort.Strings(backups)

	for len(backups) > rw.maxBackups {
		os.Remove(filepath.Join(dir, backups[0])) //nolint:errcheck
		backups = backups[1:]
	}

	cutoff := time.Now().Add(-rw.maxAge)
	for _, name := range backups {
		full := filepath.Join(dir, name)
		info, err := os.Stat(full)
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			os.Remove(full) //nolint:errcheck
		}
	}
}
