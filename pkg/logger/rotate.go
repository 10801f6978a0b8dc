package logger

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const backupTimeLayout = "20060102T150405"

// rotatingWriter appends to a single file and renames it to a timestamped
// backup once it grows past maxSize. Old backups are pruned by count and age.
type rotatingWriter struct {
	mu         sync.Mutex
	file       *os.File
	path       string
	maxSize    int64
	maxBackups int
	maxAge     time.Duration
	written    int64
}

func newRotatingWriter(path string, maxSizeMB, maxBackups, maxAgeDays int) (*rotatingWriter, error) {
	if path == "" {
		return nil, errors.New("path is required")
	}
	if maxSizeMB <= 0 {
		maxSizeMB = 100
	}
	if maxBackups <= 0 {
		maxBackups = 7
	}
	if maxAgeDays <= 0 {
		maxAgeDays = 30
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create audit log directory: %w", err)
	}
	return &rotatingWriter{
		path:       path,
		maxSize:    int64(maxSizeMB) * 1024 * 1024,
		maxBackups: maxBackups,
		maxAge:     time.Duration(maxAgeDays) * 24 * time.Hour,
	}, nil
}

func (w *rotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.open(); err != nil {
		return 0, err
	}
	if w.maxSize > 0 && w.written+int64(len(p)) > w.maxSize {
		if err := w.rotate(); err != nil {
			return 0, err
		}
		if err := w.open(); err != nil {
			return 0, err
		}
	}
	n, err := w.file.Write(p)
	w.written += int64(n)
	return n, err
}

func (w *rotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	w.written = 0
	return err
}

func (w *rotatingWriter) open() error {
	if w.file != nil {
		return nil
	}
	file, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("stat audit log: %w", err)
	}
	w.file = file
	w.written = info.Size()
	return nil
}

func (w *rotatingWriter) rotate() error {
	if w.file != nil {
		_ = w.file.Close()
		w.file = nil
	}
	w.written = 0

	backup := fmt.Sprintf("%s.%s", w.path, time.Now().Format(backupTimeLayout))
	if err := os.Rename(w.path, backup); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("rotate audit log: %w", err)
	}
	w.prune()
	return nil
}

// prune removes backups beyond maxBackups or older than maxAge.
func (w *rotatingWriter) prune() {
	backups := w.listBackups()
	cutoff := time.Now().Add(-w.maxAge)
	for i, backup := range backups {
		tooMany := w.maxBackups > 0 && i >= w.maxBackups
		tooOld := w.maxAge > 0 && backup.stamp.Before(cutoff)
		if tooMany || tooOld {
			_ = os.Remove(backup.path)
		}
	}
}

type backupFile struct {
	path  string
	stamp time.Time
}

// listBackups returns backups of this log file, newest first.
func (w *rotatingWriter) listBackups() []backupFile {
	matches, err := filepath.Glob(w.path + ".*")
	if err != nil {
		return nil
	}
	backups := make([]backupFile, 0, len(matches))
	for _, match := range matches {
		suffix := strings.TrimPrefix(match, w.path+".")
		stamp, err := time.ParseInLocation(backupTimeLayout, suffix, time.Local)
		if err != nil {
			continue
		}
		backups = append(backups, backupFile{path: match, stamp: stamp})
	}
	sort.Slice(backups, func(i, j int) bool {
		return backups[i].stamp.After(backups[j].stamp)
	})
	return backups
}
