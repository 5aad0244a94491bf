// Package logging provides a small wrapper around zerolog so the rest of
// the daemon never imports zerolog directly.
package logging

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog.Logger.
type Logger struct {
	zl zerolog.Logger
}

// Event wraps zerolog.Event.
type Event struct {
	ze *zerolog.Event
}

// DefaultLogger backs the package-level logging functions.
var DefaultLogger = Logger{zl: zerolog.New(NewConsoleWriter()).With().Timestamp().Logger()}

// Level mirrors zerolog.Level without exposing the dependency.
type Level int8

// Log levels, ordered most to least verbose.
const (
	TraceLevel Level = Level(zerolog.TraceLevel)
	DebugLevel Level = Level(zerolog.DebugLevel)
	InfoLevel  Level = Level(zerolog.InfoLevel)
	WarnLevel  Level = Level(zerolog.WarnLevel)
	ErrorLevel Level = Level(zerolog.ErrorLevel)
	FatalLevel Level = Level(zerolog.FatalLevel)
	Disabled   Level = Level(zerolog.Disabled)
)

// ParseLevel parses a level string such as "debug" or "warn".
func ParseLevel(s string) (Level, error) {
	l, err := zerolog.ParseLevel(s)
	if err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return Level(l), nil
}

func (l Level) String() string {
	return zerolog.Level(l).String()
}

// SetGlobalLevel sets the minimum level accepted by DefaultLogger.
func SetGlobalLevel(level Level) {
	zerolog.SetGlobalLevel(zerolog.Level(level))
}

// NewConsoleWriter returns a human-readable console writer for foreground use.
func NewConsoleWriter() io.Writer {
	return zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
}

// New creates a Logger writing to w in JSON form, suitable for a log file.
func New(w io.Writer) Logger {
	return Logger{zl: zerolog.New(w).With().Timestamp().Logger()}
}

// SetDefault replaces DefaultLogger, e.g. to redirect to a log file.
func SetDefault(l Logger) {
	DefaultLogger = l
}

// Context is a wrapper around zerolog.Context.
type Context struct {
	zc zerolog.Context
}

func (l Logger) With() Context        { return Context{zc: l.zl.With()} }
func (c Context) Logger() Logger      { return Logger{zl: c.zc.Logger()} }
func (c Context) Str(k, v string) Context   { return Context{zc: c.zc.Str(k, v)} }
func (c Context) Uint64(k string, v uint64) Context { return Context{zc: c.zc.Uint64(k, v)} }

func (l Logger) Debug() Event { return Event{ze: l.zl.Debug()} }
func (l Logger) Info() Event  { return Event{ze: l.zl.Info()} }
func (l Logger) Warn() Event  { return Event{ze: l.zl.Warn()} }
func (l Logger) Error() Event { return Event{ze: l.zl.Error()} }
func (l Logger) Fatal() Event { return Event{ze: l.zl.Fatal()} }
func (l Logger) Trace() Event { return Event{ze: l.zl.Trace()} }

func (e Event) Str(key, val string) Event            { return Event{ze: e.ze.Str(key, val)} }
func (e Event) Int(key string, val int) Event        { return Event{ze: e.ze.Int(key, val)} }
func (e Event) Int64(key string, val int64) Event    { return Event{ze: e.ze.Int64(key, val)} }
func (e Event) Uint64(key string, val uint64) Event  { return Event{ze: e.ze.Uint64(key, val)} }
func (e Event) Bool(key string, val bool) Event      { return Event{ze: e.ze.Bool(key, val)} }
func (e Event) Err(err error) Event                  { return Event{ze: e.ze.Err(err)} }
func (e Event) Dur(key string, val time.Duration) Event { return Event{ze: e.ze.Dur(key, val)} }
func (e Event) Time(key string, val time.Time) Event { return Event{ze: e.ze.Time(key, val)} }
func (e Event) Interface(key string, val interface{}) Event {
	return Event{ze: e.ze.Interface(key, val)}
}
func (e Event) Msg(msg string)                       { e.ze.Msg(msg) }
func (e Event) Msgf(format string, v ...interface{}) { e.ze.Msgf(format, v...) }
func (e Event) Enabled() bool                        { return e.ze.Enabled() }

func Debug() Event { return DefaultLogger.Debug() }
func Info() Event  { return DefaultLogger.Info() }
func Warn() Event  { return DefaultLogger.Warn() }
func Error() Event { return DefaultLogger.Error() }
func Fatal() Event { return DefaultLogger.Fatal() }
func Trace() Event { return DefaultLogger.Trace() }

// IsDebugEnabled reports whether debug-level messages would be emitted.
func IsDebugEnabled() bool { return Debug().Enabled() }
