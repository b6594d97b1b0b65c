// Package logging is the structured logging facade shared by NornicPGQ packages.
//
// Library packages accept a Logger and never import a logging backend directly.
// The default backend is logrus; tests use Nop.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Levels accepted by Logger.Log.
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Logger receives structured diagnostics.
//
// Implementations should treat fields as a stable machine-readable contract.
type Logger interface {
	Log(level string, msg string, fields map[string]any)
}

// Options configures the logrus-backed logger.
type Options struct {
	Level  string    `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string    `yaml:"format" validate:"omitempty,oneof=text json"`
	Output io.Writer `yaml:"-"`
}

type logrusLogger struct {
	entry *logrus.Entry
}

// New returns a logrus-backed Logger tagged with component.
func New(component string, opts Options) Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	if opts.Output != nil {
		l.SetOutput(opts.Output)
	}
	if strings.EqualFold(opts.Format, "json") {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	level, err := logrus.ParseLevel(opts.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)
	return &logrusLogger{entry: l.WithField("component", component)}
}

// Default returns an info-level text logger on stderr.
func Default(component string) Logger {
	return New(component, Options{})
}

func (l *logrusLogger) Log(level string, msg string, fields map[string]any) {
	entry := l.entry
	if len(fields) > 0 {
		entry = entry.WithFields(logrus.Fields(fields))
	}
	switch level {
	case LevelDebug:
		entry.Debug(msg)
	case LevelWarn:
		entry.Warn(msg)
	case LevelError:
		entry.Error(msg)
	default:
		entry.Info(msg)
	}
}

type nopLogger struct{}

func (nopLogger) Log(string, string, map[string]any) {}

// Nop discards everything.
func Nop() Logger { return nopLogger{} }

// OrNop returns l, or Nop when l is nil.
func OrNop(l Logger) Logger {
	if l == nil {
		return Nop()
	}
	return l
}

// Debug logs at debug level.
func Debug(l Logger, msg string, fields map[string]any) { OrNop(l).Log(LevelDebug, msg, fields) }

// Info logs at info level.
func Info(l Logger, msg string, fields map[string]any) { OrNop(l).Log(LevelInfo, msg, fields) }

// Warn logs at warn level.
func Warn(l Logger, msg string, fields map[string]any) { OrNop(l).Log(LevelWarn, msg, fields) }

// Error logs at error level.
func Error(l Logger, msg string, fields map[string]any) { OrNop(l).Log(LevelError, msg, fields) }

// Recorder keeps every entry in memory. Tests use it to assert log points.
type Recorder struct {
	Entries []Entry
}

// Entry is one recorded log call.
type Entry struct {
	Level  string
	Msg    string
	Fields map[string]any
}

// Log implements Logger. Recorder is not safe for concurrent use.
func (r *Recorder) Log(level string, msg string, fields map[string]any) {
	r.Entries = append(r.Entries, Entry{Level: level, Msg: msg, Fields: fields})
}

// Messages returns the recorded messages in order.
func (r *Recorder) Messages() []string {
	out := make([]string, len(r.Entries))
	for i, e := range r.Entries {
		out[i] = e.Msg
	}
	return out
}
