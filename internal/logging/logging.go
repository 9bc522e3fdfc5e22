package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Init installs the process-wide slog logger.
//
// LOG_LEVEL selects the level (default: errors only), LOG_FORMAT=json switches
// to the JSON handler and LOG_FILE redirects output away from stderr, which the
// terminal UI owns while a room is open.
func Init() {
	var out io.Writer = os.Stderr
	if path, ok := os.LookupEnv("LOG_FILE"); ok && path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err == nil {
			out = f
		}
	}

	slog.SetDefault(New(out, os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT")))
}

// New builds a logger writing to out.
func New(out io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}

	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}
	return slog.New(handler)
}

// ParseLevel maps LOG_LEVEL values onto slog levels.
func ParseLevel(l string) slog.Level {
	switch strings.ToLower(l) {
	case "dev", "development", "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// Err is the attribute every component uses for errors.
func Err(err error) slog.Attr {
	return slog.String("error", err.Error())
}
