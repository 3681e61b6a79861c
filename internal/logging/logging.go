// Package logging configures slog to write to stdout and a log file.
package logging

import (
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Options selects where and how verbosely to log.
type Options struct {
	Folder string
	File   string
	Level  string
}

// Logger owns the slog logger and the file it writes to.
type Logger struct {
	*slog.Logger
	file *os.File
}

// Init creates a text logger duplicating output to stdout and Folder/File.
// When the file cannot be opened it falls back to stdout only.
func Init(opts Options) *Logger {
	level := ParseLevel(opts.Level)
	if opts.File == "" {
		return &Logger{Logger: New(os.Stdout, level)}
	}
	if opts.Folder != "" {
		_ = os.MkdirAll(opts.Folder, 0o755)
	}

	path := filepath.Join(opts.Folder, opts.File)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		logger := New(os.Stdout, level)
		logger.Error("failed to open log file; falling back to stdout only", "path", path, "error", err)
		return &Logger{Logger: logger}
	}

	mw := io.MultiWriter(f, os.Stdout)
	// keep stray stdlib log calls in the same stream
	log.SetOutput(mw)
	return &Logger{Logger: New(mw, level), file: f}
}

// New builds a text logger on w.
func New(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return New(io.Discard, slog.LevelError+1)
}

// Component tags a logger with the component attribute.
func Component(logger *slog.Logger, name string) *slog.Logger {
	if logger == nil {
		logger = Discard()
	}
	return logger.With("component", name)
}

// ParseLevel maps debug/info/warn/error to slog levels, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

// StdLog adapts logger to a *log.Logger tagged with the component name.
func StdLog(logger *slog.Logger, name string) *log.Logger {
	return slog.NewLogLogger(Component(logger, name).Handler(), slog.LevelInfo)
}

// Close closes the log file, if any.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("failed to close log file: %w", err)
	}
	return nil
}
