// Package logging provides the structured logger shared by the novelt CLI
// and server. It is built on [log/slog], configured once at startup via [New]
// and handed to request-scoped code through [WithLogger] / [FromContext].
//
// Environment variables:
//
//	LOG_LEVEL       = debug | info | warn | error  (default: info)
//	LOG_FORMAT      = json | text                  (default: json)
//	LOG_FILE        = path to an additional rotated log file (optional)
//	LOG_FILE_MAX_MB = rotation size for LOG_FILE in megabytes (default: 20)
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

const defaultFileMaxMB = 20

type contextKey struct{}

// New constructs a [*slog.Logger] from environment variables.
// When LOG_FILE is set, records are written to stderr and to a
// size-rotated file.
func New() *slog.Logger {
	return newWithWriter(os.Stderr)
}

func newWithWriter(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(os.Getenv("LOG_LEVEL"))}

	if path := strings.TrimSpace(os.Getenv("LOG_FILE")); path != "" {
		w = io.MultiWriter(w, &lumberjack.Logger{
			Filename:   path,
			MaxSize:    parseMaxMB(os.Getenv("LOG_FILE_MAX_MB")),
			MaxBackups: 3,
			Compress:   true,
		})
	}

	var handler slog.Handler
	if strings.ToLower(os.Getenv("LOG_FORMAT")) == "text" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler)
}

// WithLogger returns a copy of ctx carrying logger.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, logger)
}

// FromContext returns the logger stored in ctx, or [slog.Default] when none
// is present. The result is never nil.
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(contextKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return slog.Default()
}

func parseLevel(s string) slog.Level {
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

func parseMaxMB(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n <= 0 {
		return defaultFileMaxMB
	}
	return n
}
