package logging

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pion/logging"
)

// pionLevelTrace sits below slog's debug level; pion's trace output is very chatty.
const pionLevelTrace = slog.LevelDebug - 4

// PionFactory adapts an slog logger to pion's LoggerFactory so ICE, DTLS and
// SCTP internals log through the same handler as the rest of the process.
type PionFactory struct {
	Logger *slog.Logger
}

// NewPionFactory returns a LoggerFactory writing to log.
func NewPionFactory(log *slog.Logger) *PionFactory {
	if log == nil {
		log = slog.Default()
	}
	return &PionFactory{Logger: log}
}

func (f *PionFactory) NewLogger(scope string) logging.LeveledLogger {
	return &pionLogger{log: f.Logger.With("pion", scope)}
}

type pionLogger struct {
	log *slog.Logger
}

func (l *pionLogger) emit(level slog.Level, msg string) {
	l.log.Log(context.Background(), level, msg)
}

func (l *pionLogger) Trace(msg string) { l.emit(pionLevelTrace, msg) }
func (l *pionLogger) Tracef(format string, args ...any) {
	l.emit(pionLevelTrace, fmt.Sprintf(format, args...))
}
func (l *pionLogger) Debug(msg string) { l.emit(slog.LevelDebug, msg) }
func (l *pionLogger) Debugf(format string, args ...any) {
	l.emit(slog.LevelDebug, fmt.Sprintf(format, args...))
}
func (l *pionLogger) Info(msg string) { l.emit(slog.LevelInfo, msg) }
func (l *pionLogger) Infof(format string, args ...any) {
	l.emit(slog.LevelInfo, fmt.Sprintf(format, args...))
}
func (l *pionLogger) Warn(msg string) { l.emit(slog.LevelWarn, msg) }
func (l *pionLogger) Warnf(format string, args ...any) {
	l.emit(slog.LevelWarn, fmt.Sprintf(format, args...))
}
func (l *pionLogger) Error(msg string) { l.emit(slog.LevelError, msg) }
func (l *pionLogger) Errorf(format string, args ...any) {
	l.emit(slog.LevelError, fmt.Sprintf(format, args...))
}
