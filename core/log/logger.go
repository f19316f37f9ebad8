package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"
)

// Disabled is the level used until the CLI opts in with --verbose.
const Disabled = slog.Level(1000)

var logger *slog.Logger
var currentWriter io.Writer = os.Stderr
var currentLevel slog.Level = Disabled

func init() {
	rebuild()
}

func rebuild() {
	logger = slog.New(slog.NewTextHandler(currentWriter, &slog.HandlerOptions{
		Level: currentLevel,
	}))
}

func format(msg string, args []any) string {
	if len(args) > 0 {
		return fmt.Sprintf(msg, args...)
	}
	return msg
}

// Info logs a printf-style info message
// Usage: log.Info("message") or log.Info("removed %s", path)
func Info(msg string, args ...any) {
	logger.Info(format(msg, args))
}

// InfoWith logs an info message with structured key-value pairs
func InfoWith(msg string, attrs ...any) {
	logger.Info(msg, attrs...)
}

// Debug logs a printf-style debug message
func Debug(msg string, args ...any) {
	logger.Debug(format(msg, args))
}

// Warn logs a printf-style warning message
func Warn(msg string, args ...any) {
	logger.Warn(format(msg, args))
}

// Error logs a printf-style error message
func Error(msg string, args ...any) {
	logger.Error(format(msg, args))
}

func SetWriterWithLevel(writer io.Writer, level slog.Level) {
	currentWriter = writer
	currentLevel = level
	rebuild()
}

// Scoped carries a fixed set of attributes, e.g. the run id of one teardown.
type Scoped struct {
	attrs []any
}

// With returns a scoped logger that appends attrs to every record.
func With(attrs ...any) *Scoped {
	return &Scoped{attrs: attrs}
}

func (s *Scoped) merge(extra []any) []any {
	all := make([]any, 0, len(s.attrs)+len(extra))
	all = append(all, s.attrs...)
	return append(all, extra...)
}

func (s *Scoped) Info(msg string, attrs ...any)  { logger.Info(msg, s.merge(attrs)...) }
func (s *Scoped) Warn(msg string, attrs ...any)  { logger.Warn(msg, s.merge(attrs)...) }
func (s *Scoped) Error(msg string, attrs ...any) { logger.Error(msg, s.merge(attrs)...) }
func (s *Scoped) Debug(msg string, attrs ...any) { logger.Debug(msg, s.merge(attrs)...) }

// Timer tracks elapsed time for an operation
type Timer struct {
	start time.Time
	name  string
}

// StartTimer begins timing an operation
func StartTimer(name string) *Timer {
	return &Timer{
		start: time.Now(),
		name:  name,
	}
}

// LogElapsed logs the elapsed time for the operation
func (t *Timer) LogElapsed(attrs ...any) {
	elapsed := time.Since(t.start)
	allAttrs := append([]any{"operation", t.name, "elapsed_ms", elapsed.Milliseconds()}, attrs...)
	logger.Info("⏱️ Operation completed", allAttrs...)
}
