// Package logging builds the process-wide slog logger.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Options configures New.
type Options struct {
	// Level is one of debug, info, warn, error. Unknown values mean info.
	Level string
	// Format is "json" or "text" (default).
	Format string
	// Writer defaults to stderr so stdout stays clean for command output.
	Writer io.Writer
	// Service, when set, is attached to every record.
	Service string
}

// ParseLevel maps a level name onto slog's levels.
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

// New returns a logger writing to opt.Writer.
func New(opt Options) *slog.Logger {
	w := opt.Writer
	if w == nil {
		w = os.Stderr
	}
	ho := &slog.HandlerOptions{Level: ParseLevel(opt.Level)}
	var h slog.Handler
	if strings.EqualFold(opt.Format, "json") {
		h = slog.NewJSONHandler(w, ho)
	} else {
		h = slog.NewTextHandler(w, ho)
	}
	l := slog.New(h)
	if opt.Service != "" {
		l = l.With("service", opt.Service)
	}
	return l
}

// Setup builds a logger and installs it as slog's default.
func Setup(opt Options) *slog.Logger {
	l := New(opt)
	slog.SetDefault(l)
	return l
}
