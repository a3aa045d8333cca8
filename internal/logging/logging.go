package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Config contains logging configuration.
type Config struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string
	// FilePath is the path to the log file. Empty means no file logging.
	FilePath string
	// MaxSizeMB is the size in MB that triggers rotation (default: 10).
	MaxSizeMB int
	// MaxFiles is the number of rotated files kept (default: 5).
	MaxFiles int
	// WriteToStderr also writes records to stderr.
	WriteToStderr bool
}

// DefaultConfig logs info and above to stderr only.
func DefaultConfig() Config {
	return Config{
		Level:         "info",
		MaxSizeMB:     10,
		MaxFiles:      5,
		WriteToStderr: true,
	}
}

// DebugConfig logs everything to stderr and the default log file.
func DebugConfig() Config {
	cfg := DefaultConfig()
	cfg.Level = "debug"
	cfg.FilePath = DefaultLogPath()
	return cfg
}

// Setup builds a JSON logger from cfg and returns it with a cleanup function
// that flushes and closes the log file, if any.
func Setup(cfg Config) (*slog.Logger, func(), error) {
	var sinks []io.Writer
	cleanup := func() {}

	if cfg.FilePath != "" {
		maxSize, maxFiles := cfg.MaxSizeMB, cfg.MaxFiles
		if maxSize <= 0 {
			maxSize = 10
		}
		if maxFiles <= 0 {
			maxFiles = 5
		}
		w, err := NewRotatingWriter(cfg.FilePath, maxSize, maxFiles)
		if err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, w)
		cleanup = func() {
			_ = w.Sync()
			_ = w.Close()
		}
	}
	if cfg.WriteToStderr {
		sinks = append(sinks, os.Stderr)
	}

	var out io.Writer
	switch len(sinks) {
	case 0:
		return Discard(), cleanup, nil
	case 1:
		out = sinks[0]
	default:
		out = io.MultiWriter(sinks...)
	}

	handler := slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: LevelFromString(cfg.Level),
	})
	return slog.New(handler), cleanup, nil
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// OrDefault returns l, or slog.Default() when l is nil.
func OrDefault(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}

// LevelFromString converts a level name to slog.Level. Unknown names map to info.
func LevelFromString(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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
