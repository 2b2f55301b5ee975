package logging

import (
	"io"
	"log/slog"
	"os"

	"github.com/cortexuvula/pagesync/internal/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Setup installs the global slog logger described by cfg.
// The returned lumberjack logger is non-nil only for file output and must be
// closed on shutdown.
func Setup(cfg config.LoggingConfig) *lumberjack.Logger {
	var w io.Writer = os.Stdout
	var lj *lumberjack.Logger

	if cfg.File != "" {
		lj = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		w = lj
	}

	slog.SetDefault(slog.New(NewHandler(w, cfg.Format, ParseLevel(cfg.Level))))
	return lj
}

// NewHandler builds a JSON handler, or a text handler when format is "text".
func NewHandler(w io.Writer, format string, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if format == "text" {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

// ParseLevel maps a config level name to a slog.Level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
