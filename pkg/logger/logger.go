// Package logger wires the process-wide structured loggers. The default
// logger is for operational output; a separate audit logger records bid and
// job decisions to a rotating file so they survive log shipping gaps.
package logger

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Config describes how the process loggers should behave.
type Config struct {
	Service     string
	Level       string
	Format      string
	OutputPaths []string
	Audit       AuditConfig
}

// AuditConfig controls the audit trail output.
type AuditConfig struct {
	Enabled    bool
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

var (
	defaultLogger *slog.Logger
	auditLogger   *slog.Logger
	setupOnce     sync.Once
	closers       []io.Closer
	initErr       error
)

// Init configures the global logger instances. Repeated calls are no-ops.
func Init(cfg Config) error {
	setupOnce.Do(func() {
		service := cfg.Service
		if service == "" {
			service = "archived"
		}

		handler, err := newHandler(cfg.Format, cfg.OutputPaths, &slog.HandlerOptions{
			Level:     parseLevel(cfg.Level),
			AddSource: true,
		})
		if err != nil {
			initErr = err
			return
		}
		defaultLogger = slog.New(handler).With("service", service)

		auditLogger = defaultLogger
		if cfg.Audit.Enabled {
			audit, err := newAuditLogger(cfg.Audit)
			if err != nil {
				initErr = err
				return
			}
			auditLogger = audit.With("service", service, "audit", true)
		}
	})
	if initErr != nil {
		return initErr
	}
	if defaultLogger == nil {
		return errors.New("logger already initialised")
	}
	return nil
}

func newHandler(format string, outputs []string, opts *slog.HandlerOptions) (slog.Handler, error) {
	writer, err := resolveWriters(outputs)
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(format, "text") {
		return slog.NewTextHandler(writer, opts), nil
	}
	return slog.NewJSONHandler(writer, opts), nil
}

func resolveWriters(outputs []string) (io.Writer, error) {
	if len(outputs) == 0 {
		return os.Stdout, nil
	}
	writers := make([]io.Writer, 0, len(outputs))
	for _, out := range outputs {
		switch strings.ToLower(out) {
		case "stdout":
			writers = append(writers, os.Stdout)
		case "stderr":
			writers = append(writers, os.Stderr)
		default:
			if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
				return nil, fmt.Errorf("create log directory: %w", err)
			}
			file, err := os.OpenFile(out, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				return nil, fmt.Errorf("open log file %s: %w", out, err)
			}
			closers = append(closers, file)
			writers = append(writers, file)
		}
	}
	if len(writers) == 1 {
		return writers[0], nil
	}
	return io.MultiWriter(writers...), nil
}

func newAuditLogger(cfg AuditConfig) (*slog.Logger, error) {
	if cfg.Path == "" {
		return nil, errors.New("audit log path cannot be empty when enabled")
	}
	writer, err := newRotatingWriter(cfg.Path, cfg.MaxSizeMB, cfg.MaxBackups, cfg.MaxAgeDays)
	if err != nil {
		return nil, err
	}
	closers = append(closers, writer)
	// Audit entries are always recorded regardless of the main level.
	handler := slog.NewJSONHandler(writer, &slog.HandlerOptions{Level: slog.LevelInfo})
	return slog.New(handler), nil
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error", "fatal":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// L returns the operational logger, initialising defaults when needed.
func L() *slog.Logger {
	if defaultLogger == nil {
		_ = Init(Config{})
	}
	return defaultLogger
}

// Audit returns the audit trail logger.
func Audit() *slog.Logger {
	if auditLogger == nil {
		return L()
	}
	return auditLogger
}

// Named returns a child logger tagged with the component name.
func Named(name string) *slog.Logger {
	return L().With("component", name)
}

// Sync flushes and closes file-backed outputs. Call it on shutdown.
func Sync() error {
	var err error
	for _, closer := range closers {
		err = errors.Join(err, closer.Close())
	}
	closers = nil
	return err
}
