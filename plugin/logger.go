package plugin

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Logger is the logging contract the host supplies and plugins receive.
type Logger interface {
	Info(msg string)
	Warn(msg string)
	Error(msg string)
}

// DebugLogger is implemented by loggers that also support debug output.
// Plugins should type-assert for it rather than assume it exists.
type DebugLogger interface {
	Logger
	Debug(msg string)
}

// WrapLogger returns the plugin-facing view of a host logger.
//
// Each method value is bound to l when WrapLogger is called, so every call made
// through the wrapper runs on the original instance and sees its internal state.
// The returned logger implements DebugLogger only if l does.
func WrapLogger(l Logger) Logger {
	if l == nil {
		return nopLogger{}
	}
	base := boundLogger{
		info: l.Info,
		warn: l.Warn,
		err:  l.Error,
	}
	if d, ok := l.(DebugLogger); ok {
		return &boundDebugLogger{boundLogger: base, debug: d.Debug}
	}
	return &base
}

type boundLogger struct {
	info func(string)
	warn func(string)
	err  func(string)
}

func (b *boundLogger) Info(msg string)  { b.info(msg) }
func (b *boundLogger) Warn(msg string)  { b.warn(msg) }
func (b *boundLogger) Error(msg string) { b.err(msg) }

type boundDebugLogger struct {
	boundLogger
	debug func(string)
}

func (b *boundDebugLogger) Debug(msg string) { b.debug(msg) }

type nopLogger struct{}

func (nopLogger) Info(string)  {}
func (nopLogger) Warn(string)  {}
func (nopLogger) Error(string) {}

// debugf writes to l's Debug method when it has one.
func debugf(l Logger, msg string) {
	if d, ok := l.(DebugLogger); ok {
		d.Debug(msg)
	}
}

// ConsoleLogger is the default host logger. It keeps a prefix and a minimum
// level and writes through zerolog.
type ConsoleLogger struct {
	mu     sync.Mutex
	zl     zerolog.Logger
	prefix string
	level  zerolog.Level
	count  int
}

// ConsoleLoggerOption configures a ConsoleLogger.
type ConsoleLoggerOption func(*ConsoleLogger)

// WithPrefix sets a prefix prepended to every message.
func WithPrefix(prefix string) ConsoleLoggerOption {
	return func(l *ConsoleLogger) {
		l.prefix = prefix
	}
}

// WithLevel sets the minimum level ("debug", "info", "warn", "error").
func WithLevel(level string) ConsoleLoggerOption {
	return func(l *ConsoleLogger) {
		l.level = ParseLevel(level)
	}
}

// NewConsoleLogger creates a logger writing human-readable lines to w.
// A nil w writes to stderr.
func NewConsoleLogger(w io.Writer, opts ...ConsoleLoggerOption) *ConsoleLogger {
	if w == nil {
		w = os.Stderr
	}
	l := &ConsoleLogger{level: zerolog.InfoLevel}
	for _, opt := range opts {
		opt(l)
	}
	l.zl = zerolog.New(zerolog.ConsoleWriter{Out: w, NoColor: true, TimeFormat: "15:04:05"}).
		With().Timestamp().Logger()
	return l
}

// ParseLevel parses a level name, defaulting to info.
func ParseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func (l *ConsoleLogger) Debug(msg string) { l.write(zerolog.DebugLevel, msg) }
func (l *ConsoleLogger) Info(msg string)  { l.write(zerolog.InfoLevel, msg) }
func (l *ConsoleLogger) Warn(msg string)  { l.write(zerolog.WarnLevel, msg) }
func (l *ConsoleLogger) Error(msg string) { l.write(zerolog.ErrorLevel, msg) }

// Count returns how many messages passed the level filter.
func (l *ConsoleLogger) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

func (l *ConsoleLogger) write(level zerolog.Level, msg string) {
	if level < l.level {
		return
	}
	l.mu.Lock()
	l.count++
	l.mu.Unlock()
	l.zl.WithLevel(level).Msg(l.prefix + msg)
}
