package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/mosys-billing/tvfleet/internal/infrastructure/config"
)

// ServiceName is attached to every log entry.
const ServiceName = "tvfleet"

// Logger is a slog.Logger whose level can be changed after creation.
// Loggers derived with With share the level.
type Logger struct {
	*slog.Logger
	level *slog.LevelVar
}

// New builds a Logger from the logging section of config.yaml. Output
// "stderr" writes to stderr; anything else writes to stdout.
func New(cfg config.LoggingConfig, version string) *Logger {
	w := io.Writer(os.Stdout)
	if strings.EqualFold(cfg.Output, "stderr") {
		w = os.Stderr
	}
	return newWithWriter(cfg, version, w)
}

func newWithWriter(cfg config.LoggingConfig, version string, w io.Writer) *Logger {
	level := new(slog.LevelVar)
	level.Set(parseLevel(cfg.Level))

	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}

	base := slog.New(h).With("service", ServiceName, "version", version)
	return &Logger{Logger: base, level: level}
}

// parseLevel reads debug, info, warn (or warning) and error in any case.
// Anything else is info.
func parseLevel(s string) slog.Level {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "warning") {
		return slog.LevelWarn
	}
	var l slog.Level
	if s == "" || l.UnmarshalText([]byte(s)) != nil {
		return slog.LevelInfo
	}
	return l
}

// SetLevel changes the level of this logger and every logger derived
// from it.
func (l *Logger) SetLevel(level string) {
	l.level.Set(parseLevel(level))
}

// Level returns the current level.
func (l *Logger) Level() slog.Level {
	return l.level.Level()
}

// With returns a Logger that adds args to every entry.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...), level: l.level}
}

// Default is the logger used until config.yaml has been read.
func Default() *Logger {
	return New(config.LoggingConfig{Level: "info", Format: "json"}, "dev")
}
