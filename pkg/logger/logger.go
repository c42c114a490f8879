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

// Config describes how the node loggers should behave.
type Config struct {
	Level       string
	Format      string
	OutputPaths []string
	// Audit receives committed transitions and flow outcomes.
	Audit SinkConfig
	// Security receives integrity and disclosure violations reported by
	// counterparties or the oracle. It is kept apart from the application log
	// so that operators can ship it to a separate review channel.
	Security SinkConfig
}

// SinkConfig controls a dedicated rotating log file.
type SinkConfig struct {
	Enabled    bool
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

var (
	mu             sync.RWMutex
	defaultLogger  *slog.Logger
	auditLogger    *slog.Logger
	securityLogger *slog.Logger
	closers        []io.Closer
	initialised    bool
)

// Init configures the global logger instances. Calling it twice returns an error.
func Init(cfg Config) error {
	mu.Lock()
	defer mu.Unlock()
	if initialised {
		return errors.New("logger already initialised")
	}

	level := parseLevel(cfg.Level)
	handler, err := buildHandler(cfg.Format, cfg.OutputPaths, &slog.HandlerOptions{Level: level, AddSource: true})
	if err != nil {
		return err
	}
	base := slog.New(handler)

	audit := base.With(slog.String("channel", "audit"))
	if cfg.Audit.Enabled {
		if audit, err = buildSinkLogger("audit", cfg.Audit); err != nil {
			return err
		}
	}
	security := base.With(slog.String("channel", "security"))
	if cfg.Security.Enabled {
		if security, err = buildSinkLogger("security", cfg.Security); err != nil {
			return err
		}
	}

	defaultLogger, auditLogger, securityLogger = base, audit, security
	initialised = true
	return nil
}

func buildHandler(format string, outputs []string, opts *slog.HandlerOptions) (slog.Handler, error) {
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}
	writers := make([]io.Writer, 0, len(outputs))
	for _, out := range outputs {
		writer, closer, err := openWriter(out)
		if err != nil {
			return nil, err
		}
		if closer != nil {
			closers = append(closers, closer)
		}
		writers = append(writers, writer)
	}

	writer := writers[0]
	if len(writers) > 1 {
		writer = io.MultiWriter(writers...)
	}
	if strings.EqualFold(format, "text") {
		return slog.NewTextHandler(writer, opts), nil
	}
	return slog.NewJSONHandler(writer, opts), nil
}

func buildSinkLogger(name string, cfg SinkConfig) (*slog.Logger, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("%s log path cannot be empty when enabled", name)
	}
	writer, err := newRotatingWriter(cfg.Path, cfg.MaxSizeMB, cfg.MaxBackups, cfg.MaxAgeDays)
	if err != nil {
		return nil, fmt.Errorf("%s log: %w", name, err)
	}
	closers = append(closers, writer)
	handler := slog.NewJSONHandler(writer, &slog.HandlerOptions{Level: slog.LevelInfo})
	return slog.New(handler).With(slog.String("channel", name)), nil
}

func openWriter(path string) (io.Writer, io.Closer, error) {
	switch strings.ToLower(path) {
	case "stdout":
		return os.Stdout, nil, nil
	case "stderr":
		return os.Stderr, nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, fmt.Errorf("create log directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file %s: %w", path, err)
	}
	return file, file, nil
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func ensure() {
	mu.RLock()
	ready := initialised
	mu.RUnlock()
	if !ready {
		_ = Init(Config{})
	}
}

// L returns the application logger.
func L() *slog.Logger {
	ensure()
	mu.RLock()
	defer mu.RUnlock()
	return defaultLogger
}

// Audit returns the audit logger.
func Audit() *slog.Logger {
	ensure()
	mu.RLock()
	defer mu.RUnlock()
	return auditLogger
}

// Security returns the logger for security-relevant events.
func Security() *slog.Logger {
	ensure()
	mu.RLock()
	defer mu.RUnlock()
	return securityLogger
}

// Sync closes file outputs so buffered entries reach disk.
func Sync() error {
	mu.Lock()
	defer mu.Unlock()
	var err error
	for _, closer := range closers {
		err = errors.Join(err, closer.Close())
	}
	closers = nil
	return err
}

// Named returns a child logger tagged with the provided component name.
func Named(name string) *slog.Logger {
	return L().With(slog.String("component", name))
}
